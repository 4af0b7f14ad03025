// Package compose renders notification texts for accepted triggers.
package compose

import (
	"errors"
	"fmt"
	"strings"

	"chtbtr/internal/domain"
)

// ErrUnsupported means there is no text for the trigger; the caller drops
// the notification.
var ErrUnsupported = errors.New("no message for trigger")

// Composer builds review links against ReviewDomain.
type Composer struct {
	ReviewDomain string
}

func (c Composer) Compose(ev domain.TriggerEvent) (string, error) {
	switch ev := ev.(type) {
	case domain.CommentAdded:
		return fmt.Sprintf("Comment was added by %s. 💬 %s", ev.AuthorUsername, c.patchURL(ev.Base.ChangeURL, ev.Base.Project)), nil
	case domain.PatchStatusChanged:
		url := c.patchURL(ev.Base.ChangeURL, ev.Base.Project)
		switch ev.PatchStatus.Kind {
		case domain.PatchBoth, domain.PatchVerified:
			return verifiedText(ev.PatchStatus.Verified, url), nil
		case domain.PatchReadyForSubmit:
			return "☑️ A patch is ready to submit! ✨ " + url, nil
		}
		return "", fmt.Errorf("%w: patch status %s", ErrUnsupported, ev.PatchStatus)
	case domain.ReviewerAdded:
		return "You were added as reviewer. " + c.changeURL(ev.Project, ev.ChangeURL), nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupported, ev)
}

func verifiedText(v domain.VerifiedStatus, url string) string {
	var emoji string
	switch v {
	case domain.VerifiedPlusOne:
		emoji = "🌈"
	case domain.VerifiedMinusOne:
		emoji = "😰"
	default:
		// The rules reject a neutral value before composing.
		return fmt.Sprintf("Unexpected verified status %s for %s; nothing to report.", v, url)
	}
	return fmt.Sprintf("%s Verified for your patch %s %s.", v, emoji, url)
}

// patchURL uses the hook's change URL when it is already absolute and
// otherwise treats it as a change number.
func (c Composer) patchURL(changeURL string, project domain.ProjectName) string {
	u := strings.TrimSpace(changeURL)
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return c.changeURL(project, u)
}

func (c Composer) changeURL(project domain.ProjectName, change string) string {
	host := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(c.ReviewDomain, "https://"), "http://"), "/")
	return fmt.Sprintf("https://%s/c/%s/+/%s", host, project, strings.TrimSpace(change))
}
