// Package hook builds triggers from review hook arguments and posts them to
// the relay server.
package hook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chtbtr/internal/domain"
)

const DefaultServer = "http://localhost:8088"

// CommentArgs are the comment-added hook arguments that matter. An old
// value being set means the label changed with this comment.
type CommentArgs struct {
	ChangeOwner         string
	ChangeOwnerUsername string
	ChangeURL           string
	Project             string
	Author              string
	AuthorUsername      string

	Verified      string
	VerifiedOld   *string
	CodeReview    string
	CodeReviewOld *string
}

// Trigger is a PatchStatusChanged when any old value is set, otherwise a
// CommentAdded.
func (a CommentArgs) Trigger() domain.TriggerEvent {
	base := domain.BaseData{
		ChangeOwner:         unquote(a.ChangeOwner),
		ChangeOwnerUsername: domain.Username(a.ChangeOwnerUsername),
		ChangeURL:           a.ChangeURL,
		Project:             domain.ProjectName(a.Project),
	}
	if a.VerifiedOld == nil && a.CodeReviewOld == nil {
		return domain.CommentAdded{
			Base:           base,
			Author:         unquote(a.Author),
			AuthorUsername: domain.Username(a.AuthorUsername),
		}
	}

	var (
		crOld *domain.CodeReviewStatus
		vOld  *domain.VerifiedStatus
	)
	if a.CodeReviewOld != nil {
		v := domain.ParseCodeReviewStatus(*a.CodeReviewOld)
		crOld = &v
	}
	if a.VerifiedOld != nil {
		v := domain.ParseVerifiedStatus(*a.VerifiedOld)
		vOld = &v
	}
	return domain.PatchStatusChanged{
		Base:           base,
		AuthorUsername: domain.Username(a.AuthorUsername),
		PatchStatus: domain.DerivePatchStatus(
			domain.ParseCodeReviewStatus(a.CodeReview), crOld,
			domain.ParseVerifiedStatus(a.Verified), vOld,
		),
	}
}

type ReviewerArgs struct {
	Reviewer            string
	ReviewerUsername    string
	ChangeOwner         string
	ChangeOwnerUsername string
	ChangeURL           string
	Project             string
}

func (a ReviewerArgs) Trigger() domain.TriggerEvent {
	return domain.ReviewerAdded{
		ChangeOwner:         unquote(a.ChangeOwner),
		ChangeOwnerUsername: domain.Username(a.ChangeOwnerUsername),
		Reviewer:            unquote(a.Reviewer),
		ReviewerUsername:    domain.Username(a.ReviewerUsername),
		ChangeURL:           a.ChangeURL,
		Project:             domain.ProjectName(a.Project),
	}
}

// Gerrit passes display names wrapped in literal quotes.
func unquote(s string) string { return strings.Trim(s, `"`) }

// ErrNetwork wraps transport failures reaching the relay server.
var ErrNetwork = errors.New("couldn't reach chtbtr server")

// BackendError is a non-2xx reply from the relay server.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("request to trigger message failed: %d %s", e.Status, e.Body)
}

type Client struct {
	Server string
	HTTP   *http.Client
}

func NewClient(server string, timeout time.Duration) *Client {
	if strings.TrimSpace(server) == "" {
		server = DefaultServer
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{Server: strings.TrimRight(server, "/"), HTTP: &http.Client{Timeout: timeout}}
}

// Path returns the endpoint that accepts ev.
func Path(ev domain.TriggerEvent) string {
	if ev.Kind() == domain.KindReviewerAdded {
		return "/trigger/reviewer_added"
	}
	return "/trigger/comment_added"
}

// Send posts ev and returns the server's reply text.
func (c *Client) Send(ctx context.Context, ev domain.TriggerEvent) (string, error) {
	body, err := domain.EncodeTrigger(ev)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Server+Path(ev), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w at %s: %v", ErrNetwork, c.Server, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	text := strings.TrimSpace(string(b))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &BackendError{Status: resp.StatusCode, Body: text}
	}
	return text, nil
}
