package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chtbtr/internal/config"
	"chtbtr/internal/domain"
	"chtbtr/internal/eventbus"
	"chtbtr/internal/hook"
	"chtbtr/internal/server"
	logx "chtbtr/pkg/logx"
)

func baseConfig(chatURL, dataDir string) *config.Config {
	return &config.Config{
		Chat: config.ChatConfig{
			Domain:       chatURL,
			ReviewDomain: "gerrit.example.org",
			BotProfileID: "PROFILE,1",
			Username:     "bot",
			Password:     "secret",
			ClientID:     "cid",
		},
		Server:  config.ServerConfig{Addr: "127.0.0.1:0"},
		Storage: config.StorageConfig{Driver: "file", Path: dataDir},
		Logging: config.LoggingConfig{Level: "error"},
	}
}

func TestMapServerConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := baseConfig("chat.example.org", "/tmp/x")
	cfg.Server.Addr = ""
	sc, err := mapServerConfig(cfg)
	if err != nil {
		t.Fatalf("mapServerConfig: %v", err)
	}
	if sc.Addr != server.DefaultAddr {
		t.Fatalf("addr = %q, want %q", sc.Addr, server.DefaultAddr)
	}
	if sc.ReadTimeout != 10*time.Second || sc.WriteTimeout != 30*time.Second || sc.IdleTimeout != time.Minute {
		t.Fatalf("timeouts = %+v", sc)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig("chat.example.org", " /data ")
	cfg.Storage.Driver = ""
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatalf("mapStorageConfig: %v", err)
	}
	if sc.Driver != "file" || sc.Path != "/data" || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("storage = %+v", sc)
	}

	cfg.Storage.BusyTimeout = "soon"
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("expected error for bad busy_timeout")
	}
}

func TestMapChatConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig("chat.example.org", "/data")
	cfg.Chat.RatePerSec = 3
	cc, err := mapChatConfig(cfg)
	if err != nil {
		t.Fatalf("mapChatConfig: %v", err)
	}
	if cc.BotProfile != 1 || cc.RatePerSec != 3 || cc.Timeout != 10*time.Second {
		t.Fatalf("chat = %+v", cc)
	}
}

func TestMapAlertConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig("chat.example.org", "/data")
	if _, ok := mapAlertConfig(cfg); ok {
		t.Fatal("alerts without a token should be off")
	}
	cfg.Telegram = config.TelegramConfig{Token: "123:abc", AlertChatID: -100, ThreadID: 4}
	tc, ok := mapAlertConfig(cfg)
	if !ok || tc.ChatID != -100 || tc.ThreadID != 4 {
		t.Fatalf("alerts = %+v, %v", tc, ok)
	}
}

func TestValidateRejectsBadDispatch(t *testing.T) {
	t.Parallel()
	cfg := baseConfig("chat.example.org", "/data")
	if err := validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg.Dispatch.SendTimeout = "forever"
	if err := validate(cfg); err == nil {
		t.Fatal("expected error")
	}
}

type fakeAuth struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAuth) Authenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func TestTokenRefresherRun(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	auth := &fakeAuth{}
	r, err := newTokenRefresher("@every 30m", time.Second, auth, bus, logx.Nop())
	if err != nil {
		t.Fatalf("newTokenRefresher: %v", err)
	}
	r.run()

	select {
	case e := <-events:
		if e.Type != eventbus.TokenRefreshed {
			t.Fatalf("event = %q, want %q", e.Type, eventbus.TokenRefreshed)
		}
	case <-time.After(time.Second):
		t.Fatal("no refresh event")
	}

	auth.mu.Lock()
	auth.err = errors.New("backend down")
	auth.mu.Unlock()
	r.run()

	st := r.Stats()
	if st.Runs != 2 || st.Failures != 1 || st.LastErr != "backend down" || st.Schedule != "@every 30m" {
		t.Fatalf("stats = %+v", st)
	}
}

func TestTokenRefresherStartStop(t *testing.T) {
	t.Parallel()
	r, err := newTokenRefresher("@every 30m", time.Second, &fakeAuth{}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Start(ctx)
	r.Start(ctx)
	if st := r.Stats(); st.Next.IsZero() {
		t.Fatal("next run not scheduled")
	}
	r.Stop(ctx)
	r.Stop(ctx)
}

func TestTokenRefresherDisabled(t *testing.T) {
	t.Parallel()
	r, err := newTokenRefresher("", 0, &fakeAuth{}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	r.Start(context.Background())
	r.Stop(context.Background())
	if st := r.Stats(); st.Schedule != "" || !st.Next.IsZero() {
		t.Fatalf("stats = %+v", st)
	}
	if _, err := newTokenRefresher("every tuesday", 0, &fakeAuth{}, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for bad spec")
	}
}

type chatBackend struct {
	mu       sync.Mutex
	messages []map[string]any
	got      chan struct{}
}

func (b *chatBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /toro/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok"}`))
	})
	mux.HandleFunc("GET /toro/chat/api/v2/users", func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]string{}
		if strings.HasPrefix(r.URL.Query().Get("filter"), "Owner Name") {
			items = append(items, map[string]string{"id": "PROFILE,7", "name": "Owner Name"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	mux.HandleFunc("POST /toro/chat/api/v2/chats", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"c1"}`))
	})
	mux.HandleFunc("POST /toro/chat/api/v2/chats/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		_ = json.NewDecoder(r.Body).Decode(&m)
		b.mu.Lock()
		b.messages = append(b.messages, m)
		b.mu.Unlock()
		select {
		case b.got <- struct{}{}:
		default:
		}
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func TestAppRelaysComment(t *testing.T) {
	backend := &chatBackend{got: make(chan struct{}, 1)}
	chatSrv := httptest.NewServer(backend.handler())
	defer chatSrv.Close()

	dir := t.TempDir()
	doc := "version: v1\nas_reviewer:\n  subscribe: false\nas_owner:\n  subscribe_comment: true\n"
	if err := os.MkdirAll(filepath.Join(dir, "owner.name"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "owner.name", "settings.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := New(ctx, baseConfig(chatSrv.URL, dir), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	var addr string
	for addr == "" {
		select {
		case <-ctx.Done():
			t.Fatal("server never bound")
		case <-time.After(10 * time.Millisecond):
		}
		addr = a.Addr()
	}

	c := hook.NewClient("http://"+addr, 5*time.Second)
	ev := domain.CommentAdded{
		Base: domain.BaseData{
			ChangeOwner:         "Owner Name <owner@example.org>",
			ChangeOwnerUsername: "owner.name",
			ChangeURL:           "4242",
			Project:             "core",
		},
		Author:         "Someone Else <else@example.org>",
		AuthorUsername: "someone.else",
	}
	reply, err := c.Send(ctx, ev)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != server.SentText {
		t.Fatalf("reply = %q, want %q", reply, server.SentText)
	}

	select {
	case <-backend.got:
	case <-ctx.Done():
		t.Fatal("message never reached the chat backend")
	}
	backend.mu.Lock()
	m := backend.messages[0]
	backend.mu.Unlock()
	if m["authorId"] != "PROFILE,1" {
		t.Fatalf("authorId = %v", m["authorId"])
	}
	if text, _ := m["text"].(string); !strings.Contains(text, "4242") {
		t.Fatalf("text = %q, want the change link", text)
	}

	h, ok := a.health(ctx).(Health)
	if !ok || h.Relay.Accepted != 1 || h.Identity.Resolved != 1 {
		t.Fatalf("health = %+v", h)
	}

	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// The identity was written through to the data dir.
	if _, err := os.Stat(filepath.Join(dir, "owner.name", "mapping.json")); err != nil {
		t.Fatalf("mapping not persisted: %v", err)
	}
}

func TestNewFailsOnBadCredentials(t *testing.T) {
	backend := &chatBackend{got: make(chan struct{}, 1)}
	chatSrv := httptest.NewServer(backend.handler())
	defer chatSrv.Close()

	cfg := baseConfig(chatSrv.URL, t.TempDir())
	cfg.Chat.Password = "wrong"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected authentication error")
	}
	// The data dir lock was released.
	cfg.Chat.Password = "secret"
	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New after failure: %v", err)
	}
	_ = a.Stop(context.Background(), StopAppStop)
}
