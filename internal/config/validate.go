package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"chtbtr/internal/domain"
	logx "chtbtr/pkg/logx"
)

// Validate checks everything the server needs before it can boot. It does
// not contact the chat backend.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	req := func(path, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", path))
		}
	}

	req("chat.domain", cfg.Chat.Domain)
	req("chat.review_domain", cfg.Chat.ReviewDomain)
	req("chat.username", cfg.Chat.Username)
	req("chat.password", cfg.Chat.Password)
	req("chat.client_id", cfg.Chat.ClientID)
	if _, err := domain.ParseProfileID(cfg.Chat.BotProfileID); err != nil {
		errs = append(errs, fmt.Errorf("chat.bot_profile_id: %w", err))
	}
	if spec := strings.TrimSpace(cfg.Chat.TokenRefresh); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("chat.token_refresh: %w", err))
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "file", "sqlite":
		req("storage.path", cfg.Storage.Path)
	case "postgres":
		req("storage.dsn", cfg.Storage.DSN)
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if cfg.Logging.Alerts.Enabled {
		if lv := strings.TrimSpace(cfg.Logging.Alerts.MinLevel); lv != "" && !logx.ValidLevel(lv) {
			errs = append(errs, fmt.Errorf("logging.alerts.min_level: unknown level %q", lv))
		}
		req("telegram.token", cfg.Telegram.Token)
		if cfg.Telegram.AlertChatID == 0 {
			errs = append(errs, errors.New("telegram.alert_chat_id is required when alerts are enabled"))
		}
	}

	errs = append(errs, cfg.durationErrors()...)
	if cfg.Dispatch.RetryMax < 0 {
		errs = append(errs, errors.New("dispatch.retry_max must be >= 0"))
	}
	return errors.Join(errs...)
}
