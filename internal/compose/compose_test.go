package compose

import (
	"errors"
	"strings"
	"testing"

	"chtbtr/internal/domain"
)

func base(url string) domain.BaseData {
	return domain.BaseData{ChangeOwner: "Olga", ChangeOwnerUsername: "olga", ChangeURL: url, Project: "prj"}
}

func TestCompose(t *testing.T) {
	t.Parallel()
	c := Composer{ReviewDomain: "gerrit.domain"}
	abs := "https://gerrit.domain/c/prj/+/2"

	tests := []struct {
		name string
		ev   domain.TriggerEvent
		want string
	}{
		{
			"comment",
			domain.CommentAdded{Base: base(abs), Author: "Ann A", AuthorUsername: "author"},
			"Comment was added by author. 💬 https://gerrit.domain/c/prj/+/2",
		},
		{
			"comment with change number",
			domain.CommentAdded{Base: base("2"), AuthorUsername: "author"},
			"Comment was added by author. 💬 https://gerrit.domain/c/prj/+/2",
		},
		{
			"verified minus one",
			domain.PatchStatusChanged{Base: base(abs), AuthorUsername: "ci", PatchStatus: domain.VerifiedChanged(domain.VerifiedMinusOne)},
			"-1 Verified for your patch 😰 https://gerrit.domain/c/prj/+/2.",
		},
		{
			"verified plus one",
			domain.PatchStatusChanged{Base: base(abs), AuthorUsername: "ci", PatchStatus: domain.VerifiedChanged(domain.VerifiedPlusOne)},
			"+1 Verified for your patch 🌈 https://gerrit.domain/c/prj/+/2.",
		},
		{
			"both uses verified",
			domain.PatchStatusChanged{Base: base(abs), AuthorUsername: "ci", PatchStatus: domain.BothStatus(domain.CodeReviewMinusOne, domain.VerifiedPlusOne)},
			"+1 Verified for your patch 🌈 https://gerrit.domain/c/prj/+/2.",
		},
		{
			"ready for submit",
			domain.PatchStatusChanged{Base: base(abs), AuthorUsername: "ci", PatchStatus: domain.ReadyForSubmitStatus()},
			"☑️ A patch is ready to submit! ✨ https://gerrit.domain/c/prj/+/2",
		},
		{
			"reviewer added",
			domain.ReviewerAdded{ChangeOwnerUsername: "olga", ReviewerUsername: "rita", ChangeURL: "42", Project: "prj"},
			"You were added as reviewer. https://gerrit.domain/c/prj/+/42",
		},
	}
	for _, tt := range tests {
		got, err := c.Compose(tt.ev)
		if err != nil {
			t.Fatalf("%s: Compose: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: Compose = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestComposeNeutralVerifiedIsDiagnosable(t *testing.T) {
	t.Parallel()
	c := Composer{ReviewDomain: "gerrit.domain"}
	got, err := c.Compose(domain.PatchStatusChanged{Base: base("2"), PatchStatus: domain.VerifiedChanged(domain.VerifiedNone)})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(got, "Unexpected verified status") || !strings.Contains(got, "https://gerrit.domain/c/prj/+/2") {
		t.Fatalf("Compose = %q", got)
	}
}

func TestComposeUnsupported(t *testing.T) {
	t.Parallel()
	c := Composer{ReviewDomain: "gerrit.domain"}
	for _, ps := range []domain.PatchStatus{domain.CodeReviewChanged(domain.CodeReviewPlusTwo), domain.NoPatchStatus()} {
		_, err := c.Compose(domain.PatchStatusChanged{Base: base("2"), PatchStatus: ps})
		if !errors.Is(err, ErrUnsupported) {
			t.Fatalf("%s: err = %v, want ErrUnsupported", ps, err)
		}
	}
}

func TestChangeURLNormalizesDomain(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"gerrit.domain", "https://gerrit.domain/", "http://gerrit.domain"} {
		c := Composer{ReviewDomain: d}
		if got := c.changeURL("prj", "7"); got != "https://gerrit.domain/c/prj/+/7" {
			t.Fatalf("changeURL with %q = %q", d, got)
		}
	}
}
