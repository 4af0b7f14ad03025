// Package chat is the client for the chat backend's REST API: OAuth token,
// profile directory search and one-on-one messages.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"chtbtr/internal/domain"
	logx "chtbtr/pkg/logx"
)

const (
	tokenPath = "/toro/oauth/token"
	usersPath = "/toro/chat/api/v2/users"
	chatsPath = "/toro/chat/api/v2/chats"

	chatTitle = "Gerrit Notifications"
)

// ErrNoToken is returned by API calls made before Authenticate succeeded.
var ErrNoToken = errors.New("chat: no access token")

type Config struct {
	// Domain is the API host. A value with a scheme ("http://host:port") is
	// used as the base URL verbatim.
	Domain     string
	ClientID   string
	Username   string
	Password   string
	BotProfile domain.ProfileID

	RatePerSec float64       // 0 disables client-side limiting
	Timeout    time.Duration // per request; default 10s
}

type Client struct {
	cfg     Config
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	mu    sync.RWMutex
	token string
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:  cfg,
		base: baseURL(cfg.Domain),
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
	if cfg.RatePerSec > 0 {
		burst := max(1, int(cfg.RatePerSec))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return c
}

func baseURL(d string) string {
	d = strings.TrimRight(strings.TrimSpace(d), "/")
	if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
		return d
	}
	return "https://" + d
}

// BotProfile is the identity messages are sent from.
func (c *Client) BotProfile() domain.ProfileID { return c.cfg.BotProfile }

// APIError is a non-2xx reply from the backend.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("chat %s: status %d: %s", e.Op, e.Status, e.Message)
}

// Authenticate obtains a fresh access token with the password grant and
// replaces the current one. The old token stays in use if this fails.
func (c *Client) Authenticate(ctx context.Context) error {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("grant_type", "password")
	q.Set("username", c.cfg.Username)
	q.Set("password", c.cfg.Password)

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, "authenticate", http.MethodPost, tokenPath+"?"+q.Encode(), "", nil, &out); err != nil {
		return err
	}
	if out.AccessToken == "" {
		return errors.New("chat authenticate: empty access_token")
	}
	c.mu.Lock()
	c.token = out.AccessToken
	c.mu.Unlock()
	c.log.Info("chat access token acquired")
	return nil
}

func (c *Client) accessToken() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", ErrNoToken
	}
	return c.token, nil
}

// SearchProfile lists directory profiles matching query.
func (c *Client) SearchProfile(ctx context.Context, query string) ([]domain.ProfileCandidate, error) {
	tok, err := c.accessToken()
	if err != nil {
		return nil, err
	}
	var out struct {
		Items []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"items"`
	}
	path := usersPath + "?" + url.Values{"filter": {query}}.Encode()
	if err := c.do(ctx, "search users", http.MethodGet, path, tok, nil, &out); err != nil {
		return nil, err
	}

	hits := make([]domain.ProfileCandidate, 0, len(out.Items))
	for _, it := range out.Items {
		id, err := domain.ParseProfileID(it.ID)
		if err != nil {
			return nil, fmt.Errorf("chat search users: %w", err)
		}
		hits = append(hits, domain.ProfileCandidate{ID: id, DisplayName: it.Name})
	}
	return hits, nil
}

type createChatRequest struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Participants [2]string `json:"participants"`
}

type postMessageRequest struct {
	ID         uuid.UUID `json:"id"`
	ChatID     string    `json:"chatId"`
	Type       string    `json:"type"`
	CreateDate time.Time `json:"createDate"`
	AuthorID   string    `json:"authorId"`
	Text       string    `json:"text"`
}

// SendDirectMessage creates a one-on-one conversation between from and to
// and posts text into it. Every call creates a new conversation.
func (c *Client) SendDirectMessage(ctx context.Context, from, to domain.ProfileID, text string) error {
	tok, err := c.accessToken()
	if err != nil {
		return err
	}

	var chat struct {
		ID string `json:"id"`
	}
	req := createChatRequest{
		ID:           uuid.New(),
		Type:         "ONE_ON_ONE",
		Title:        chatTitle,
		Participants: [2]string{from.String(), to.String()},
	}
	if err := c.do(ctx, "create chat", http.MethodPost, chatsPath, tok, req, &chat); err != nil {
		return err
	}
	if chat.ID == "" {
		return errors.New("chat create chat: empty conversation id")
	}

	msg := postMessageRequest{
		ID:         uuid.New(),
		ChatID:     chat.ID,
		Type:       "TEXT",
		CreateDate: time.Now().UTC(),
		AuthorID:   from.String(),
		Text:       text,
	}
	return c.do(ctx, "post message", http.MethodPost, chatsPath+"/"+url.PathEscape(chat.ID)+"/messages", tok, msg, nil)
}

// Send delivers text from the bot profile.
func (c *Client) Send(ctx context.Context, to domain.ProfileID, text string) error {
	return c.SendDirectMessage(ctx, c.cfg.BotProfile, to, text)
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("chat %s: marshal: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("chat %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("chat %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &e)
		return &APIError{Op: op, Status: resp.StatusCode, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("chat %s: decode: %w", op, err)
	}
	return nil
}
