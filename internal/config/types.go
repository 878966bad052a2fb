package config

type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	ReviewAPI   ReviewAPIConfig   `json:"review_api"`
	Poller      PollerConfig      `json:"poller"`
	Notifier    NotifierConfig    `json:"notifier"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Diagnostics DiagnosticsConfig `json:"diagnostics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID receives status messages and upstream alerts: a numeric chat
	// id or "@username" of a public channel or group.
	ChatID   string `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// Timeout is a Go duration string bounding each Bot API call.
	Timeout string `json:"timeout,omitempty"`
}

type ReviewAPIConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	Token    string `json:"token"`
	Timeout  string `json:"timeout,omitempty"`
}

// PollerConfig controls the polling schedule.
//
// Interval accepts a Go duration ("10m"), HH:MM ("00:10") or a cron
// expression ("*/10 * * * *", "@every 10m"). Defaults to "600s".
// Lookback is how far before startup the first cursor points. Defaults to "168h".
type PollerConfig struct {
	Interval string `json:"interval,omitempty"`
	Lookback string `json:"lookback,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls delivery of messages to the chat.
//
// Defaults (when omitted/zero):
//   - rate_per_sec: 1
//   - retry_max: 2 (an explicit 0 disables retries)
//   - retry_base: "1s"
//   - retry_max_delay: "10s"
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// DefaultRetryMax is used when retry_max is omitted.
const DefaultRetryMax = 2

// Retries returns retry_max, or DefaultRetryMax when it is omitted.
func (n NotifierConfig) Retries() int {
	if n.RetryMax == nil {
		return DefaultRetryMax
	}
	return *n.RetryMax
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional delivery journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./reviewbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DiagnosticsConfig controls the optional HTTP server exposing
// /healthz, /metrics and /debug/pprof/. Prefer a loopback Addr; a
// non-loopback Addr requires Token.
type DiagnosticsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	Token   string `json:"token,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "INFO", Console: true},
	}
}
