package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestProfileIDText(t *testing.T) {
	t.Parallel()
	if got := ProfileID(1234).String(); got != "PROFILE,1234" {
		t.Fatalf("String = %q", got)
	}
	id, err := ParseProfileID(" PROFILE,42 ")
	if err != nil {
		t.Fatalf("ParseProfileID error: %v", err)
	}
	if id != 42 {
		t.Fatalf("id = %d, want 42", id)
	}

	for _, bad := range []string{"42", "PROFILE,", "PROFILE,-1", "PROFILE,x", "PROFILE,4294967296"} {
		if _, err := ParseProfileID(bad); !errors.Is(err, ErrInvalidProfileID) {
			t.Fatalf("ParseProfileID(%q) err = %v, want ErrInvalidProfileID", bad, err)
		}
	}
}

func TestResolutionStateRecord(t *testing.T) {
	t.Parallel()
	for _, st := range []ResolutionState{Resolved(7), ConfirmedAbsent()} {
		b, err := json.Marshal(st)
		if err != nil {
			t.Fatalf("marshal %v: %v", st, err)
		}
		var back ResolutionState
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back != st {
			t.Fatalf("round trip = %v, want %v", back, st)
		}
	}

	b, _ := json.Marshal(Resolved(7))
	if string(b) != `{"state":"resolved","profile_id":"PROFILE,7"}` {
		t.Fatalf("resolved record = %s", b)
	}

	if _, err := json.Marshal(Unattempted()); err == nil {
		t.Fatal("expected error persisting unattempted state")
	}
	var st ResolutionState
	if err := json.Unmarshal([]byte(`{"state":"resolved"}`), &st); err == nil {
		t.Fatal("expected error for resolved record without id")
	}
	if err := json.Unmarshal([]byte(`{"state":"maybe"}`), &st); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestResolutionStateAccessors(t *testing.T) {
	t.Parallel()
	if Unattempted().Terminal() {
		t.Fatal("unattempted must not be terminal")
	}
	if _, ok := ConfirmedAbsent().ProfileID(); ok {
		t.Fatal("absent state must not carry an id")
	}
	id, ok := Resolved(9).ProfileID()
	if !ok || id != 9 {
		t.Fatalf("ProfileID = %d, %v", id, ok)
	}
}
