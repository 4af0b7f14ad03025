package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// TriggerKind names a TriggerEvent variant. The values double as the JSON
// tags of the trigger wire form.
type TriggerKind string

const (
	KindCommentAdded       TriggerKind = "CommentAdded"
	KindPatchStatusChanged TriggerKind = "PatchStatusChanged"
	KindReviewerAdded      TriggerKind = "ReviewerAdded"
)

// TriggerEvent is one normalized review hook event. The set of
// implementations is closed: CommentAdded, PatchStatusChanged and
// ReviewerAdded.
type TriggerEvent interface {
	Kind() TriggerKind
	// Addressee is the user the notification is for, with the display name
	// used to search for them on the chat backend.
	Addressee() (Username, string)

	trigger()
}

// BaseData is shared by every event addressed to a change owner.
type BaseData struct {
	ChangeOwner         string      `json:"change_owner"`
	ChangeOwnerUsername Username    `json:"change_owner_username"`
	ChangeURL           string      `json:"change_url"`
	Project             ProjectName `json:"project"`
}

type CommentAdded struct {
	Base           BaseData `json:"base"`
	Author         string   `json:"author"`
	AuthorUsername Username `json:"author_username"`
}

func (CommentAdded) Kind() TriggerKind { return KindCommentAdded }
func (e CommentAdded) Addressee() (Username, string) {
	return e.Base.ChangeOwnerUsername, e.Base.ChangeOwner
}
func (CommentAdded) trigger() {}

type PatchStatusChanged struct {
	Base           BaseData    `json:"base"`
	AuthorUsername Username    `json:"author_username"`
	PatchStatus    PatchStatus `json:"patch_status"`
}

func (PatchStatusChanged) Kind() TriggerKind { return KindPatchStatusChanged }
func (e PatchStatusChanged) Addressee() (Username, string) {
	return e.Base.ChangeOwnerUsername, e.Base.ChangeOwner
}
func (PatchStatusChanged) trigger() {}

// ReviewerAdded is addressed to the reviewer. ChangeURL holds the change
// number as reported by the hook.
type ReviewerAdded struct {
	ChangeOwner         string      `json:"change_owner"`
	ChangeOwnerUsername Username    `json:"change_owner_username"`
	Reviewer            string      `json:"reviewer"`
	ReviewerUsername    Username    `json:"reviewer_username"`
	ChangeURL           string      `json:"change_url"`
	Project             ProjectName `json:"project"`
}

func (ReviewerAdded) Kind() TriggerKind { return KindReviewerAdded }
func (e ReviewerAdded) Addressee() (Username, string) {
	return e.ReviewerUsername, e.Reviewer
}
func (ReviewerAdded) trigger() {}

var ErrMalformedTrigger = errors.New("malformed trigger")

// EncodeTrigger renders ev as a single-key object tagged with its kind,
// for example {"CommentAdded":{...}}.
func EncodeTrigger(ev TriggerEvent) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedTrigger)
	}
	return json.Marshal(map[TriggerKind]TriggerEvent{ev.Kind(): ev})
}

// DecodeTrigger parses the tagged form produced by EncodeTrigger.
// Unknown payload fields are rejected.
func DecodeTrigger(b []byte) (TriggerEvent, error) {
	var tagged map[TriggerKind]json.RawMessage
	if err := json.Unmarshal(b, &tagged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTrigger, err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one trigger kind, got %d", ErrMalformedTrigger, len(tagged))
	}
	for kind, raw := range tagged {
		var (
			ev  TriggerEvent
			err error
		)
		switch kind {
		case KindCommentAdded:
			var v CommentAdded
			err = decodeStrict(raw, &v)
			ev = v
		case KindPatchStatusChanged:
			var v PatchStatusChanged
			err = decodeStrict(raw, &v)
			ev = v
		case KindReviewerAdded:
			var v ReviewerAdded
			err = decodeStrict(raw, &v)
			ev = v
		default:
			return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedTrigger, kind)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTrigger, kind, err)
		}
		return ev, nil
	}
	return nil, fmt.Errorf("%w: empty", ErrMalformedTrigger)
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
