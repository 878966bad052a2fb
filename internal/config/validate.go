package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	logx "reviewbot/pkg/logx"
)

// Chat parses telegram.chat_id: either a numeric chat id or the "@name"
// of a public channel or group. Exactly one of id and username is set.
func (c *Config) Chat() (id int64, username string, err error) {
	s := strings.TrimSpace(c.Telegram.ChatID)
	if name, ok := strings.CutPrefix(s, "@"); ok {
		if !validChatUsername(name) {
			return 0, "", fmt.Errorf("telegram.chat_id: invalid chat username %q", s)
		}
		return 0, s, nil
	}
	id, err = strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, "", fmt.Errorf("telegram.chat_id: invalid chat id %q", s)
	}
	return id, "", nil
}

// validChatUsername follows Telegram's rules: 5-32 characters of letters,
// digits and underscores, starting with a letter.
func validChatUsername(s string) bool {
	if len(s) < 5 || len(s) > 32 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '_'):
		default:
			return false
		}
	}
	return true
}

// Validate checks value formats. It does not check required keys; see
// ValidateRequired.
func Validate(c *Config) error {
	if strings.TrimSpace(c.Telegram.ChatID) != "" {
		if _, _, err := c.Chat(); err != nil {
			return err
		}
	}
	if c.Telegram.ThreadID < 0 {
		return fmt.Errorf("telegram.thread_id must be >= 0")
	}
	durations := []struct{ path, raw string }{
		{"telegram.timeout", c.Telegram.Timeout},
		{"review_api.timeout", c.ReviewAPI.Timeout},
		{"poller.lookback", c.Poller.Lookback},
		{"notifier.retry_base", c.Notifier.RetryBase},
		{"notifier.retry_max_delay", c.Notifier.RetryMaxDelay},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(c.Poller.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("poller.timezone: invalid %q: %w", tz, err)
		}
	}
	if c.Notifier.RatePerSec < 0 {
		return fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if c.Notifier.Retries() < 0 {
		return fmt.Errorf("notifier.retry_max must be >= 0")
	}
	if !logx.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(c.Storage.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=%s", c.Storage.Driver)
			}
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Diagnostics.Enabled && c.Diagnostics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Diagnostics.Addr); err != nil {
			return fmt.Errorf("diagnostics.addr: %w", err)
		}
	}
	return nil
}
