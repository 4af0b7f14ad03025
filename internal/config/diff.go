package config

import (
	"reflect"
	"sort"
	"strings"

	logx "chtbtr/pkg/logx"
)

// LiveSections apply without a restart.
var LiveSections = map[string]bool{"logging": true, "dispatch": true}

// SummarizeConfigChange lists the sections that differ and safe attrs for
// logging them. Secrets are reported only as "set" flags. restart holds the
// changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	if !reflect.DeepEqual(oldCfg.Chat, newCfg.Chat) {
		changed = append(changed, "chat")
		attrs = append(attrs,
			logx.String("chat.domain", newCfg.Chat.Domain),
			logx.String("chat.bot_profile_id", newCfg.Chat.BotProfileID),
			logx.Bool("chat.password_changed", oldCfg.Chat.Password != newCfg.Chat.Password),
			logx.String("chat.token_refresh", newCfg.Chat.TokenRefresh),
		)
	}
	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.Addr),
			logx.Bool("server.pprof", newCfg.Server.Pprof.Enabled),
			logx.Bool("server.pprof_token_set", set(newCfg.Server.Pprof.Token)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", set(newCfg.Storage.Path)),
			logx.Bool("storage.dsn_set", set(newCfg.Storage.DSN)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
			logx.Int("dispatch.queue_size", newCfg.Dispatch.QueueSize),
			logx.Int("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
			logx.Int("dispatch.retry_max", newCfg.Dispatch.RetryMax),
			logx.String("dispatch.dedup_window", newCfg.Dispatch.DedupWindow),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts", newCfg.Logging.Alerts.Enabled),
		)
	}
	if oldCfg.Telegram.AlertChatID != newCfg.Telegram.AlertChatID ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.alert_chat_id", newCfg.Telegram.AlertChatID),
			logx.Bool("telegram.token_set", set(newCfg.Telegram.Token)),
		)
	}

	sort.Strings(changed)
	for _, s := range changed {
		if !LiveSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
