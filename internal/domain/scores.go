package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CodeReviewStatus is a Code-Review label value (-2..+2). Zero means unset.
type CodeReviewStatus int8

const (
	CodeReviewMinusTwo CodeReviewStatus = -2
	CodeReviewMinusOne CodeReviewStatus = -1
	CodeReviewNone     CodeReviewStatus = 0
	CodeReviewPlusOne  CodeReviewStatus = 1
	CodeReviewPlusTwo  CodeReviewStatus = 2
)

// ParseCodeReviewStatus reads a hook argument such as "2" or " -1 ".
// Anything unrecognised is CodeReviewNone.
func ParseCodeReviewStatus(s string) CodeReviewStatus {
	switch strings.TrimSpace(s) {
	case "2", "+2":
		return CodeReviewPlusTwo
	case "1", "+1":
		return CodeReviewPlusOne
	case "-1":
		return CodeReviewMinusOne
	case "-2":
		return CodeReviewMinusTwo
	default:
		return CodeReviewNone
	}
}

func (c CodeReviewStatus) String() string {
	switch c {
	case CodeReviewPlusTwo:
		return "+2"
	case CodeReviewPlusOne:
		return "+1"
	case CodeReviewMinusOne:
		return "-1"
	case CodeReviewMinusTwo:
		return "-2"
	default:
		return "0"
	}
}

var codeReviewNames = map[CodeReviewStatus]string{
	CodeReviewPlusTwo:  "PlusTwo",
	CodeReviewPlusOne:  "PlusOne",
	CodeReviewNone:     "None",
	CodeReviewMinusOne: "MinusOne",
	CodeReviewMinusTwo: "MinusTwo",
}

func (c CodeReviewStatus) MarshalText() ([]byte, error) {
	name, ok := codeReviewNames[c]
	if !ok {
		return nil, fmt.Errorf("code review status %d out of range", int8(c))
	}
	return []byte(name), nil
}

func (c *CodeReviewStatus) UnmarshalText(b []byte) error {
	for v, name := range codeReviewNames {
		if name == string(b) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("unknown code review status %q", b)
}

// VerifiedStatus is a Verified label value (-1..+1). Zero means unset.
type VerifiedStatus int8

const (
	VerifiedMinusOne VerifiedStatus = -1
	VerifiedNone     VerifiedStatus = 0
	VerifiedPlusOne  VerifiedStatus = 1
)

// ParseVerifiedStatus reads a hook argument such as "1" or "-1".
// Anything unrecognised is VerifiedNone.
func ParseVerifiedStatus(s string) VerifiedStatus {
	switch strings.TrimSpace(s) {
	case "1", "+1":
		return VerifiedPlusOne
	case "-1":
		return VerifiedMinusOne
	default:
		return VerifiedNone
	}
}

func (v VerifiedStatus) String() string {
	switch v {
	case VerifiedPlusOne:
		return "+1"
	case VerifiedMinusOne:
		return "-1"
	default:
		return "0"
	}
}

func (v VerifiedStatus) MarshalText() ([]byte, error) {
	switch v {
	case VerifiedPlusOne:
		return []byte("PlusOne"), nil
	case VerifiedNone:
		return []byte("None"), nil
	case VerifiedMinusOne:
		return []byte("MinusOne"), nil
	default:
		return nil, fmt.Errorf("verified status %d out of range", int8(v))
	}
}

func (v *VerifiedStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "PlusOne":
		*v = VerifiedPlusOne
	case "None":
		*v = VerifiedNone
	case "MinusOne":
		*v = VerifiedMinusOne
	default:
		return fmt.Errorf("unknown verified status %q", b)
	}
	return nil
}

// PatchStatusKind tags a PatchStatus.
type PatchStatusKind uint8

const (
	PatchNone PatchStatusKind = iota
	PatchBoth
	PatchCodeReview
	PatchVerified
	PatchReadyForSubmit
)

var patchKindNames = [...]string{
	PatchNone:           "None",
	PatchBoth:           "Both",
	PatchCodeReview:     "CodeReview",
	PatchVerified:       "Verified",
	PatchReadyForSubmit: "ReadyForSubmit",
}

func (k PatchStatusKind) String() string {
	if int(k) < len(patchKindNames) {
		return patchKindNames[k]
	}
	return fmt.Sprintf("PatchStatusKind(%d)", uint8(k))
}

// PatchStatus classifies a score transition carried by a comment event.
// CodeReview is meaningful for Both and CodeReview, Verified for Both and
// Verified.
type PatchStatus struct {
	Kind       PatchStatusKind
	CodeReview CodeReviewStatus
	Verified   VerifiedStatus
}

func NoPatchStatus() PatchStatus        { return PatchStatus{Kind: PatchNone} }
func ReadyForSubmitStatus() PatchStatus { return PatchStatus{Kind: PatchReadyForSubmit} }

func BothStatus(cr CodeReviewStatus, v VerifiedStatus) PatchStatus {
	return PatchStatus{Kind: PatchBoth, CodeReview: cr, Verified: v}
}

func CodeReviewChanged(cr CodeReviewStatus) PatchStatus {
	return PatchStatus{Kind: PatchCodeReview, CodeReview: cr}
}

func VerifiedChanged(v VerifiedStatus) PatchStatus {
	return PatchStatus{Kind: PatchVerified, Verified: v}
}

func (p PatchStatus) String() string {
	switch p.Kind {
	case PatchBoth:
		return fmt.Sprintf("Both(%s, %s)", p.CodeReview, p.Verified)
	case PatchCodeReview:
		return fmt.Sprintf("CodeReview(%s)", p.CodeReview)
	case PatchVerified:
		return fmt.Sprintf("Verified(%s)", p.Verified)
	default:
		return p.Kind.String()
	}
}

// DerivePatchStatus classifies a score change from the new values and the
// optional previous values reported by the hook. A non-nil old value means
// the label changed with this event. A Verified change wins over a
// Code-Review change when both are reported.
func DerivePatchStatus(codeReview CodeReviewStatus, codeReviewOld *CodeReviewStatus, verified VerifiedStatus, verifiedOld *VerifiedStatus) PatchStatus {
	if codeReview == CodeReviewPlusTwo && verified == VerifiedPlusOne {
		return ReadyForSubmitStatus()
	}
	if verifiedOld != nil {
		return VerifiedChanged(verified)
	}
	if codeReviewOld != nil {
		return CodeReviewChanged(codeReview)
	}
	return NoPatchStatus()
}

// MarshalJSON uses the externally tagged form understood by the trigger
// endpoint: "ReadyForSubmit", {"Verified":"PlusOne"}, {"Both":["PlusTwo","PlusOne"]}.
func (p PatchStatus) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PatchNone, PatchReadyForSubmit:
		return json.Marshal(p.Kind.String())
	case PatchBoth:
		return json.Marshal(map[string][2]any{"Both": {p.CodeReview, p.Verified}})
	case PatchCodeReview:
		return json.Marshal(map[string]CodeReviewStatus{"CodeReview": p.CodeReview})
	case PatchVerified:
		return json.Marshal(map[string]VerifiedStatus{"Verified": p.Verified})
	default:
		return nil, fmt.Errorf("patch status: unknown kind %d", p.Kind)
	}
}

func (p *PatchStatus) UnmarshalJSON(b []byte) error {
	var unit string
	if err := json.Unmarshal(b, &unit); err == nil {
		switch unit {
		case "None":
			*p = NoPatchStatus()
		case "ReadyForSubmit":
			*p = ReadyForSubmitStatus()
		default:
			return fmt.Errorf("patch status: unknown variant %q", unit)
		}
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(b, &tagged); err != nil {
		return fmt.Errorf("patch status: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("patch status: expected exactly one variant, got %d", len(tagged))
	}
	for tag, raw := range tagged {
		switch tag {
		case "Verified":
			var v VerifiedStatus
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("patch status Verified: %w", err)
			}
			*p = VerifiedChanged(v)
		case "CodeReview":
			var cr CodeReviewStatus
			if err := json.Unmarshal(raw, &cr); err != nil {
				return fmt.Errorf("patch status CodeReview: %w", err)
			}
			*p = CodeReviewChanged(cr)
		case "Both":
			var pair []json.RawMessage
			if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
				return fmt.Errorf("patch status Both: expected [code_review, verified]")
			}
			var cr CodeReviewStatus
			var v VerifiedStatus
			if err := json.Unmarshal(pair[0], &cr); err != nil {
				return fmt.Errorf("patch status Both: %w", err)
			}
			if err := json.Unmarshal(pair[1], &v); err != nil {
				return fmt.Errorf("patch status Both: %w", err)
			}
			*p = BothStatus(cr, v)
		default:
			return fmt.Errorf("patch status: unknown variant %q", tag)
		}
	}
	return nil
}
