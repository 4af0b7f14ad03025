package config

// Config is the chtbtr server configuration file.
//
// All durations are Go duration strings ("500ms", "10s", "1m"). Secrets may
// be left empty in the file and supplied through the environment; see
// ApplyEnv.
type Config struct {
	Chat     ChatConfig     `json:"chat"`
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch"`
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

// ChatConfig describes the chat backend and the bot account.
type ChatConfig struct {
	// Domain is the chat backend host, e.g. "chat.example.social".
	Domain string `json:"domain"`
	// ReviewDomain is the Gerrit host used to build review links.
	ReviewDomain string `json:"review_domain"`
	// BotProfileID is the bot's own profile, "PROFILE,<n>".
	BotProfileID string `json:"bot_profile_id"`

	Username string `json:"username"`
	Password string `json:"password,omitempty"` // do not log
	ClientID string `json:"client_id"`

	// TokenRefresh is a cron spec ("@every 30m") for renewing the OAuth
	// token. Empty disables refresh.
	TokenRefresh string `json:"token_refresh,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
}

type ServerConfig struct {
	Addr         string      `json:"addr,omitempty"` // default: "localhost:8088"
	ReadTimeout  string      `json:"read_timeout,omitempty"`
	WriteTimeout string      `json:"write_timeout,omitempty"`
	IdleTimeout  string      `json:"idle_timeout,omitempty"`
	MaxBodyBytes int64       `json:"max_body_bytes,omitempty"`
	Pprof        PprofConfig `json:"pprof,omitempty"`
}

// PprofConfig mounts net/http/pprof on the trigger server.
//
// Security note: a non-loopback server addr needs a token or an explicit
// allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// StorageConfig selects the durable store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "/var/lib/chtbtr" }
type StorageConfig struct {
	Driver      string `json:"driver"`         // file | sqlite | postgres
	Path        string `json:"path,omitempty"` // data dir (file) or db file (sqlite)
	DSN         string `json:"dsn,omitempty"`  // postgres; do not log
	MaxConns    int32  `json:"max_conns,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// DispatchConfig controls background delivery of accepted notifications.
type DispatchConfig struct {
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards log records at or above MinLevel to the Telegram
// alert chat.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig is the ops alert channel.
type TelegramConfig struct {
	Token       string `json:"token,omitempty"` // do not log
	AlertChatID int64  `json:"alert_chat_id,omitempty"`
	ThreadID    int    `json:"thread_id,omitempty"`
}
