package app

import (
	"fmt"
	"strings"

	"chtbtr/internal/chat"
	"chtbtr/internal/config"
	"chtbtr/internal/dispatch"
	"chtbtr/internal/domain"
	"chtbtr/internal/server"
	"chtbtr/internal/storage"
	"chtbtr/internal/transport/telegram"
	logx "chtbtr/pkg/logx"
)

func mapChatConfig(cfg *config.Config) (chat.Config, error) {
	bot, err := domain.ParseProfileID(cfg.Chat.BotProfileID)
	if err != nil {
		return chat.Config{}, fmt.Errorf("chat.bot_profile_id: %w", err)
	}
	timeout, err := cfg.Duration("chat.timeout")
	if err != nil {
		return chat.Config{}, err
	}
	return chat.Config{
		Domain:     strings.TrimSpace(cfg.Chat.Domain),
		ClientID:   cfg.Chat.ClientID,
		Username:   cfg.Chat.Username,
		Password:   cfg.Chat.Password,
		BotProfile: bot,
		RatePerSec: float64(cfg.Chat.RatePerSec),
		Timeout:    timeout,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "file"
	}
	busy, err := cfg.Duration("storage.busy_timeout")
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		MaxConns:    sc.MaxConns,
		BusyTimeout: busy,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	out := dispatch.Config{
		Workers:         d.Workers,
		QueueSize:       d.QueueSize,
		RatePerSec:      d.RatePerSec,
		RetryMax:        d.RetryMax,
		DedupMaxEntries: d.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = cfg.Duration("dispatch.retry_base"); err != nil {
		return dispatch.Config{}, err
	}
	if out.RetryMaxDelay, err = cfg.Duration("dispatch.retry_max_delay"); err != nil {
		return dispatch.Config{}, err
	}
	if out.SendTimeout, err = cfg.Duration("dispatch.send_timeout"); err != nil {
		return dispatch.Config{}, err
	}
	if out.DedupWindow, err = cfg.Duration("dispatch.dedup_window"); err != nil {
		return dispatch.Config{}, err
	}
	return out, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	s := cfg.Server
	read, err := cfg.Duration("server.read_timeout")
	if err != nil {
		return server.Config{}, err
	}
	write, err := cfg.Duration("server.write_timeout")
	if err != nil {
		return server.Config{}, err
	}
	idle, err := cfg.Duration("server.idle_timeout")
	if err != nil {
		return server.Config{}, err
	}
	addr := strings.TrimSpace(s.Addr)
	if addr == "" {
		addr = server.DefaultAddr
	}
	return server.Config{
		Addr:         addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		MaxBodyBytes: s.MaxBodyBytes,
		Pprof: server.PprofConfig{
			Enabled:              s.Pprof.Enabled,
			Prefix:               s.Pprof.Prefix,
			Token:                s.Pprof.Token,
			AllowInsecure:        s.Pprof.AllowInsecure,
			MutexProfileFraction: s.Pprof.MutexProfileFraction,
			BlockProfileRate:     s.Pprof.BlockProfileRate,
		},
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

// mapAlertConfig reports false when no alert chat is configured.
func mapAlertConfig(cfg *config.Config) (telegram.Config, bool) {
	t := cfg.Telegram
	if strings.TrimSpace(t.Token) == "" || t.AlertChatID == 0 {
		return telegram.Config{}, false
	}
	return telegram.Config{Token: t.Token, ChatID: t.AlertChatID, ThreadID: t.ThreadID}, true
}

// validate is the reload gate: everything Validate checks plus what the
// component mappings reject.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapChatConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	_, err := mapServerConfig(cfg)
	return err
}
