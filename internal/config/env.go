package config

import (
	"os"
	"strings"
)

// Environment variables that override secrets from the file.
const (
	EnvChatPassword  = "CHTBTR_CHAT_PASSWORD"
	EnvTelegramToken = "CHTBTR_TELEGRAM_TOKEN"
	EnvPostgresDSN   = "CHTBTR_POSTGRES_DSN"
)

// ApplyEnv overwrites secrets with non-empty environment values.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Chat.Password, EnvChatPassword)
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Storage.DSN, EnvPostgresDSN)
}
