package domain

import (
	"encoding/json"
	"testing"
)

func TestParseScores(t *testing.T) {
	t.Parallel()
	cr := map[string]CodeReviewStatus{"2": CodeReviewPlusTwo, " 1 ": CodeReviewPlusOne, "-1": CodeReviewMinusOne, "-2": CodeReviewMinusTwo, "0": CodeReviewNone, "x": CodeReviewNone}
	for in, want := range cr {
		if got := ParseCodeReviewStatus(in); got != want {
			t.Fatalf("ParseCodeReviewStatus(%q) = %v, want %v", in, got, want)
		}
	}
	v := map[string]VerifiedStatus{"1": VerifiedPlusOne, "-1": VerifiedMinusOne, " 0": VerifiedNone, "": VerifiedNone}
	for in, want := range v {
		if got := ParseVerifiedStatus(in); got != want {
			t.Fatalf("ParseVerifiedStatus(%q) = %v, want %v", in, got, want)
		}
	}
	if CodeReviewPlusTwo.String() != "+2" || VerifiedMinusOne.String() != "-1" || VerifiedNone.String() != "0" {
		t.Fatal("unexpected score rendering")
	}
}

func TestDerivePatchStatus(t *testing.T) {
	t.Parallel()
	crNone := CodeReviewNone
	vNone := VerifiedNone
	tests := []struct {
		name  string
		cr    CodeReviewStatus
		crOld *CodeReviewStatus
		v     VerifiedStatus
		vOld  *VerifiedStatus
		want  PatchStatus
	}{
		{name: "ready without old values", cr: CodeReviewPlusTwo, v: VerifiedPlusOne, want: ReadyForSubmitStatus()},
		{name: "ready with old values", cr: CodeReviewPlusTwo, crOld: &crNone, v: VerifiedPlusOne, vOld: &vNone, want: ReadyForSubmitStatus()},
		{name: "verified changed", cr: CodeReviewPlusOne, v: VerifiedMinusOne, vOld: &vNone, want: VerifiedChanged(VerifiedMinusOne)},
		{name: "verified wins over code review", cr: CodeReviewPlusOne, crOld: &crNone, v: VerifiedPlusOne, vOld: &vNone, want: VerifiedChanged(VerifiedPlusOne)},
		{name: "code review changed", cr: CodeReviewMinusTwo, crOld: &crNone, v: VerifiedNone, want: CodeReviewChanged(CodeReviewMinusTwo)},
		{name: "nothing changed", cr: CodeReviewPlusOne, v: VerifiedMinusOne, want: NoPatchStatus()},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := DerivePatchStatus(tt.cr, tt.crOld, tt.v, tt.vOld); got != tt.want {
				t.Fatalf("DerivePatchStatus = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPatchStatusWireForm(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status PatchStatus
		wire   string
	}{
		{ReadyForSubmitStatus(), `"ReadyForSubmit"`},
		{NoPatchStatus(), `"None"`},
		{VerifiedChanged(VerifiedPlusOne), `{"Verified":"PlusOne"}`},
		{CodeReviewChanged(CodeReviewMinusTwo), `{"CodeReview":"MinusTwo"}`},
		{BothStatus(CodeReviewPlusTwo, VerifiedMinusOne), `{"Both":["PlusTwo","MinusOne"]}`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.status)
		if err != nil {
			t.Fatalf("marshal %v: %v", tt.status, err)
		}
		if string(b) != tt.wire {
			t.Fatalf("marshal %v = %s, want %s", tt.status, b, tt.wire)
		}
		var back PatchStatus
		if err := json.Unmarshal([]byte(tt.wire), &back); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.wire, err)
		}
		if back != tt.status {
			t.Fatalf("unmarshal %s = %v, want %v", tt.wire, back, tt.status)
		}
	}

	var p PatchStatus
	if err := json.Unmarshal([]byte(`{"Verified":"PlusOne","CodeReview":"PlusOne"}`), &p); err == nil {
		t.Fatal("expected error for two variants")
	}
}
