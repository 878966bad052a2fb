package app

import (
	"fmt"
	"strings"
	"time"

	"reviewbot/internal/config"
	"reviewbot/internal/notifier"
	"reviewbot/internal/observability/diag"
	"reviewbot/internal/poller"
	"reviewbot/internal/reviewapi"
	"reviewbot/internal/storage"
	"reviewbot/internal/transport"
	"reviewbot/internal/transport/telegram"
	logx "reviewbot/pkg/logx"
)

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

func mapTarget(cfg *config.Config) (transport.ChatTarget, error) {
	id, username, err := cfg.Chat()
	if err != nil {
		return transport.ChatTarget{}, err
	}
	return transport.ChatTarget{ChatID: id, Username: username, ThreadID: cfg.Telegram.ThreadID}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := parseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 15*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, Timeout: timeout}, nil
}

func mapReviewAPIConfig(cfg *config.Config) (reviewapi.Config, error) {
	timeout, err := parseDurationOrDefault("review_api.timeout", cfg.ReviewAPI.Timeout, 30*time.Second)
	if err != nil {
		return reviewapi.Config{}, err
	}
	endpoint := strings.TrimSpace(cfg.ReviewAPI.Endpoint)
	if endpoint == "" {
		endpoint = reviewapi.DefaultEndpoint
	}
	return reviewapi.Config{Endpoint: endpoint, Token: cfg.ReviewAPI.Token, Timeout: timeout}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	target, err := mapTarget(cfg)
	if err != nil {
		return notifier.Config{}, err
	}
	n := cfg.Notifier
	if n.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	base, err := parseDurationOrDefault("notifier.retry_base", n.RetryBase, time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := parseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := parseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 15*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Target:        target,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.Retries(),
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	return diag.Config{
		Enabled: cfg.Diagnostics.Enabled,
		Addr:    cfg.Diagnostics.Addr,
		Token:   cfg.Diagnostics.Token,
	}
}

// mapSchedule builds the poll schedule and a human description of it.
func mapSchedule(cfg *config.Config) (poller.Schedule, string, error) {
	ps, err := poller.ParseSchedule(cfg.Poller.Interval)
	if err != nil {
		return nil, "", fmt.Errorf("poller.interval: %w", err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Poller.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, "", fmt.Errorf("poller.timezone: invalid %q: %w", tz, err)
		}
	}
	s, err := ps.Schedule(loc)
	if err != nil {
		return nil, "", fmt.Errorf("poller.interval: %w", err)
	}
	return s, ps.String(), nil
}

func mapLookback(cfg *config.Config) (time.Duration, error) {
	return parseDurationOrDefault("poller.lookback", cfg.Poller.Lookback, poller.DefaultLookback)
}

// validateRuntime checks everything the app derives from cfg. It runs at
// startup and before every hot reload is committed.
func validateRuntime(cfg *config.Config) error {
	if err := config.ValidateRequired(cfg.RequiredValues(), config.RequiredKeys); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapSchedule(cfg); err != nil {
		return err
	}
	if _, err := mapLookback(cfg); err != nil {
		return err
	}
	if _, err := mapReviewAPIConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
