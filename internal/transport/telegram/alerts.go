// Package telegram sends operational alerts to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
)

const textLimit = 4000

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint; empty means the public one.
	APIURL  string
	Timeout time.Duration
}

// AlertSender posts plain text alerts. It never polls for updates.
type AlertSender struct {
	cfg Config
	bot *tele.Bot
	mu  sync.Mutex // keeps chunks of one alert together
}

func NewAlertSender(cfg Config) (*AlertSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram alert chat id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	return &AlertSender{cfg: cfg, bot: b}, nil
}

// SendAlert delivers text, split into several messages when it exceeds
// Telegram's size limit.
func (a *AlertSender) SendAlert(ctx context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	chat := &tele.Chat{ID: a.cfg.ChatID}
	opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: a.cfg.ThreadID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that leave a chunk at least a third full.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
