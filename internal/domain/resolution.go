package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ResolutionKind tags a ResolutionState.
type ResolutionKind uint8

const (
	// Unattempted: no lookup has been made for the username yet.
	KindUnattempted ResolutionKind = iota
	// Resolved: a unique chat profile was found.
	KindResolved
	// ConfirmedAbsent: a lookup ran and found no unique profile.
	KindConfirmedAbsent
)

func (k ResolutionKind) String() string {
	switch k {
	case KindResolved:
		return "resolved"
	case KindConfirmedAbsent:
		return "absent"
	default:
		return "unattempted"
	}
}

// ResolutionState records what is known about a username's chat profile.
//
// The zero value is Unattempted. Resolved and ConfirmedAbsent are terminal
// for the lifetime of a resolver; only those two are ever persisted.
type ResolutionState struct {
	kind ResolutionKind
	id   ProfileID
}

func Unattempted() ResolutionState { return ResolutionState{} }

func Resolved(id ProfileID) ResolutionState {
	return ResolutionState{kind: KindResolved, id: id}
}

func ConfirmedAbsent() ResolutionState {
	return ResolutionState{kind: KindConfirmedAbsent}
}

func (s ResolutionState) Kind() ResolutionKind { return s.kind }

// ProfileID returns the resolved id; ok is false for every other kind.
func (s ResolutionState) ProfileID() (ProfileID, bool) {
	if s.kind != KindResolved {
		return 0, false
	}
	return s.id, true
}

// Terminal reports whether a lookup has already produced a definitive answer.
func (s ResolutionState) Terminal() bool { return s.kind != KindUnattempted }

func (s ResolutionState) String() string {
	if s.kind == KindResolved {
		return "resolved(" + s.id.String() + ")"
	}
	return s.kind.String()
}

// ErrNotPersistable is returned when encoding an Unattempted state.
var ErrNotPersistable = errors.New("unattempted resolution state cannot be persisted")

type resolutionRecord struct {
	State     string     `json:"state"`
	ProfileID *ProfileID `json:"profile_id,omitempty"`
}

func (s ResolutionState) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case KindResolved:
		id := s.id
		return json.Marshal(resolutionRecord{State: KindResolved.String(), ProfileID: &id})
	case KindConfirmedAbsent:
		return json.Marshal(resolutionRecord{State: KindConfirmedAbsent.String()})
	default:
		return nil, ErrNotPersistable
	}
}

func (s *ResolutionState) UnmarshalJSON(b []byte) error {
	var rec resolutionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	switch rec.State {
	case "resolved":
		if rec.ProfileID == nil {
			return errors.New("resolution record: resolved state without profile_id")
		}
		*s = Resolved(*rec.ProfileID)
	case "absent":
		*s = ConfirmedAbsent()
	default:
		return fmt.Errorf("resolution record: unknown state %q", rec.State)
	}
	return nil
}
