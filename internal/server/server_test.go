package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chtbtr/internal/domain"
	"chtbtr/internal/relay"
	"chtbtr/internal/rules"
	logx "chtbtr/pkg/logx"
)

type fakeRelay struct {
	err  error
	seen []domain.TriggerEvent
}

func (f *fakeRelay) Handle(_ context.Context, ev domain.TriggerEvent) error {
	f.seen = append(f.seen, ev)
	return f.err
}

func encode(t *testing.T, ev domain.TriggerEvent) string {
	t.Helper()
	b, err := domain.EncodeTrigger(ev)
	if err != nil {
		t.Fatalf("EncodeTrigger: %v", err)
	}
	return string(b)
}

var comment = domain.CommentAdded{
	Base:           domain.BaseData{ChangeOwner: "Owen", ChangeOwnerUsername: "owner", ChangeURL: "1", Project: "app"},
	Author:         "Ann",
	AuthorUsername: "ann",
}

var reviewer = domain.ReviewerAdded{ChangeOwnerUsername: "owner", ReviewerUsername: "rev", ChangeURL: "1", Project: "app"}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTriggerEndpoints(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		path   string
		body   string
		status int
		text   string
		seen   int
	}{
		{"comment", "/trigger/comment_added", encode(t, comment), http.StatusOK, SentText, 1},
		{"patch status", "/trigger/comment_added", encode(t, domain.PatchStatusChanged{Base: comment.Base, AuthorUsername: "ci", PatchStatus: domain.ReadyForSubmitStatus()}), http.StatusOK, SentText, 1},
		{"reviewer", "/trigger/reviewer_added", encode(t, reviewer), http.StatusOK, SentText, 1},
		{"wrong endpoint", "/trigger/reviewer_added", encode(t, comment), http.StatusBadRequest, "not accepted", 0},
		{"malformed", "/trigger/comment_added", `{"CommentAdded":`, http.StatusBadRequest, "malformed", 0},
		{"unknown field", "/trigger/comment_added", `{"CommentAdded":{"surprise":1}}`, http.StatusBadRequest, "malformed", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rl := &fakeRelay{}
			rec := post(t, NewHandler(rl, nil, 0, logx.Nop()).Router(), tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tc.status, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tc.text) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tc.text)
			}
			if len(rl.seen) != tc.seen {
				t.Fatalf("relay calls = %d, want %d", len(rl.seen), tc.seen)
			}
		})
	}
}

func TestTriggerErrorMapping(t *testing.T) {
	t.Parallel()
	lookup := &domain.RemoteLookupError{Query: "Owen", Err: errors.New("timeout")}
	store := &domain.PersistenceError{Op: "read settings", Username: "owner", Err: errors.New("corrupt")}
	cases := []struct {
		name   string
		err    error
		status int
		prefix string
	}{
		{"violation", &rules.Violation{Reason: rules.AuthorAndOwnerAreTheSame}, http.StatusOK, "Notification wasn't send due to settings: Author and owner are the same."},
		{"absent", &relay.UserMappingError{Username: "owner", Err: relay.ErrIdentityNotFound}, http.StatusUnprocessableEntity, "Couldn't retrieve user information for owner: no chat profile for user"},
		{"lookup", &relay.UserMappingError{Username: "owner", Err: lookup}, http.StatusBadGateway, "Couldn't retrieve user information for owner:"},
		{"persistence", &relay.UserMappingError{Username: "owner", Err: store}, http.StatusInternalServerError, "Couldn't retrieve user information for owner:"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "Error in controller: boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := post(t, NewHandler(&fakeRelay{err: tc.err}, nil, 0, logx.Nop()).Router(), "/trigger/comment_added", encode(t, comment))
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if !strings.HasPrefix(rec.Body.String(), tc.prefix) {
				t.Fatalf("body = %q, want prefix %q", rec.Body.String(), tc.prefix)
			}
			if n := strings.Count(strings.ToLower(rec.Body.String()), "retrieve user information"); n > 1 {
				t.Fatalf("body = %q repeats its prefix", rec.Body.String())
			}
		})
	}
}

func TestTriggerBodyLimit(t *testing.T) {
	t.Parallel()
	rl := &fakeRelay{}
	rec := post(t, NewHandler(rl, nil, 16, logx.Nop()).Router(), "/trigger/comment_added", encode(t, comment))
	if rec.Code != http.StatusBadRequest || len(rl.seen) != 0 {
		t.Fatalf("status = %d, relay calls = %d", rec.Code, len(rl.seen))
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := NewHandler(&fakeRelay{}, func(context.Context) any { return map[string]int{"resolved": 3} }, 0, logx.Nop())
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Status     string         `json:"status"`
		Components map[string]int `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "ok" || got.Components["resolved"] != 3 {
		t.Fatalf("health = %+v", got)
	}
}

func TestPprofAuth(t *testing.T) {
	t.Parallel()
	r := NewHandler(&fakeRelay{}, nil, 0, logx.Nop()).Router()
	mountPprof(r, PprofConfig{Enabled: true, Token: "s3cret"})

	cases := []struct {
		target string
		header string
		status int
	}{
		{"/debug/pprof/", "", http.StatusUnauthorized},
		{"/debug/pprof/?token=nope", "", http.StatusUnauthorized},
		{"/debug/pprof/?token=s3cret", "", http.StatusOK},
		{"/debug/pprof/cmdline", "Bearer s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.target, rec.Code, tc.status)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:8088": true,
		"localhost:8088": true,
		"[::1]:8088":     true,
		":8088":          false,
		"0.0.0.0:8088":   false,
		"10.1.2.3:8088":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestServiceStartStop(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := New(Config{Addr: "127.0.0.1:0"}, &fakeRelay{}, nil, logx.Nop())
	s.Start(ctx)
	s.Start(ctx)

	var addr string
	for addr == "" && ctx.Err() == nil {
		addr = s.Addr()
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server never bound")
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	s.Stop(ctx)
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatal("server still running after Stop")
	}
}
