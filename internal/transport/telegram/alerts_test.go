package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("split = %q", got)
	}

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(long, 10)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("split = %q", got)
	}

	got = splitText(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len([]rune(got[2])) != 5 {
		t.Fatalf("split = %q", got)
	}
}

func TestNewAlertSenderValidates(t *testing.T) {
	t.Parallel()
	if _, err := NewAlertSender(Config{ChatID: 1}); err == nil {
		t.Fatal("empty token accepted")
	}
	if _, err := NewAlertSender(Config{Token: "t"}); err == nil {
		t.Fatal("empty chat id accepted")
	}
}

func TestSendAlert(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		texts []string
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		if s, ok := body["text"].(string); ok {
			texts = append(texts, s)
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"group"}}}`))
	}))
	defer srv.Close()

	a, err := NewAlertSender(Config{Token: "123:abc", ChatID: 42, APIURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAlertSender: %v", err)
	}
	if err := a.SendAlert(context.Background(), "[ERROR] notification delivery failed"); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 || texts[0] != "[ERROR] notification delivery failed" {
		t.Fatalf("texts = %q", texts)
	}
	if paths[0] != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %s", paths[0])
	}
}
