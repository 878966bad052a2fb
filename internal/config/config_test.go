package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	logx "reviewbot/pkg/logx"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestValidateRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		values  map[string]string
		missing []string
	}{
		{
			name: "all present",
			values: map[string]string{
				KeyReviewToken: "r", KeyTelegramToken: "t", KeyTelegramChatID: "1",
			},
		},
		{
			name:    "one missing",
			values:  map[string]string{KeyReviewToken: "r", KeyTelegramToken: "t"},
			missing: []string{KeyTelegramChatID},
		},
		{
			name:    "blank counts as missing",
			values:  map[string]string{KeyReviewToken: "  ", KeyTelegramToken: "t", KeyTelegramChatID: "1"},
			missing: []string{KeyReviewToken},
		},
		{
			name:    "all missing sorted",
			values:  map[string]string{},
			missing: []string{KeyReviewToken, KeyTelegramChatID, KeyTelegramToken},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateRequired(tt.values, RequiredKeys)
			if len(tt.missing) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if !reflect.DeepEqual(ce.Missing, tt.missing) {
				t.Fatalf("Missing = %v, want %v", ce.Missing, tt.missing)
			}
		})
	}
}

func TestParseJSONWithEnvFallback(t *testing.T) {
	t.Setenv(EnvReviewToken, "review-secret")
	t.Setenv(EnvTelegramToken, "")
	t.Setenv("REVIEWBOT_CHAT", "42")

	p := writeFile(t, "config.json", `{
		"telegram": {"token": "bot-token", "chat_id": "${REVIEWBOT_CHAT}"},
		"review_api": {"token": ""},
		"poller": {"interval": "10m"},
		"logging": {"level": "debug", "console": false}
	}`)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ReviewAPI.Token != "review-secret" {
		t.Fatalf("review token = %q, want env fallback", cfg.ReviewAPI.Token)
	}
	if cfg.Telegram.Token != "bot-token" {
		t.Fatalf("file value should win over env, got %q", cfg.Telegram.Token)
	}
	id, username, err := cfg.Chat()
	if err != nil || id != 42 || username != "" {
		t.Fatalf("Chat = %d, %q, %v", id, username, err)
	}
	if err := ValidateRequired(cfg.RequiredValues(), RequiredKeys); err != nil {
		t.Fatalf("ValidateRequired: %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	t.Setenv(EnvReviewToken, "")
	p := writeFile(t, "config.yaml", `
telegram:
  token: abc
  chat_id: "-100123"
  thread_id: 7
poller:
  interval: "*/10 * * * *"
  lookback: 24h
storage:
  driver: file
  path: ./journal.jsonl
`)
	cfg, err := NewManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Telegram.ThreadID != 7 || cfg.Poller.Lookback != "24h" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	err = ValidateRequired(cfg.RequiredValues(), RequiredKeys)
	var ce *ConfigError
	if !errors.As(err, &ce) || !reflect.DeepEqual(ce.Missing, []string{KeyReviewToken}) {
		t.Fatalf("err = %v, want missing %s", err, KeyReviewToken)
	}
}

func TestChatAcceptsChannelUsername(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"telegram": {"chat_id": " @review_feed "}}`)
	cfg, err := NewManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	id, username, err := cfg.Chat()
	if err != nil || id != 0 || username != "@review_feed" {
		t.Fatalf("Chat = %d, %q, %v", id, username, err)
	}
}

func TestNotifierRetries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want int
	}{
		{"omitted", `{}`, DefaultRetryMax},
		{"zero disables", `{"notifier": {"retry_max": 0}}`, 0},
		{"explicit", `{"notifier": {"retry_max": 5}}`, 5},
	}
	for _, tt := range tests {
		p := writeFile(t, "config.json", tt.body)
		cfg, err := NewManager(p).Parse()
		if err != nil {
			t.Fatalf("%s: Parse error: %v", tt.name, err)
		}
		if got := cfg.Notifier.Retries(); got != tt.want {
			t.Fatalf("%s: Retries() = %d, want %d", tt.name, got, tt.want)
		}
	}

	p := writeFile(t, "config.json", `{"notifier": {"retry_max": -1}}`)
	if _, err := NewManager(p).Parse(); err == nil || !strings.Contains(err.Error(), "notifier.retry_max") {
		t.Fatalf("negative retry_max err = %v", err)
	}
}

func TestSummarizeChangeComparesRetryValues(t *testing.T) {
	t.Parallel()
	one, sameOne, zero := 1, 1, 0
	oldCfg, newCfg := Default(), Default()
	oldCfg.Notifier.RetryMax, newCfg.Notifier.RetryMax = &one, &sameOne
	if changed, _ := SummarizeChange(oldCfg, newCfg); len(changed) != 0 {
		t.Fatalf("equal retry_max reported as change: %v", changed)
	}
	newCfg.Notifier.RetryMax = &zero
	if changed, _ := SummarizeChange(oldCfg, newCfg); !reflect.DeepEqual(changed, []string{"notifier"}) {
		t.Fatalf("changed = %v, want [notifier]", changed)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown field", body: `{"telegram": {"tokn": "x"}}`, want: "unknown field"},
		{name: "trailing data", body: `{} {}`, want: "trailing data"},
		{name: "bad duration", body: `{"poller": {"lookback": "soon"}}`, want: "poller.lookback"},
		{name: "negative duration", body: `{"review_api": {"timeout": "-1s"}}`, want: "review_api.timeout"},
		{name: "bad chat id", body: `{"telegram": {"chat_id": "chan"}}`, want: "telegram.chat_id"},
		{name: "zero chat id", body: `{"telegram": {"chat_id": "0"}}`, want: "telegram.chat_id"},
		{name: "short chat username", body: `{"telegram": {"chat_id": "@chan"}}`, want: "telegram.chat_id"},
		{name: "bad chat username", body: `{"telegram": {"chat_id": "@1reviews"}}`, want: "telegram.chat_id"},
		{name: "bad level", body: `{"logging": {"level": "loud"}}`, want: "logging.level"},
		{name: "storage without path", body: `{"storage": {"driver": "sqlite"}}`, want: "storage.path"},
		{name: "unknown driver", body: `{"storage": {"driver": "redis", "path": "x"}}`, want: "storage.driver"},
		{name: "bad timezone", body: `{"poller": {"timezone": "Mars/Base"}}`, want: "poller.timezone"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, "config.json", tt.body)
			_, err := NewManager(p).Parse()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("REVIEWBOT_SET", "value")
	tests := []struct {
		in   string
		want string
	}{
		{in: "${REVIEWBOT_SET}", want: "value"},
		{in: "${REVIEWBOT_UNSET_XYZ}", want: ""},
		{in: "${REVIEWBOT_UNSET_XYZ:-fallback}", want: "fallback"},
		{in: "prefix-${REVIEWBOT_SET}-suffix", want: "prefix-value-suffix"},
		{in: "$REVIEWBOT_SET", want: "$REVIEWBOT_SET"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Fatalf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	newCfg.Telegram.Token = "super-secret"
	newCfg.Poller.Interval = "5m"

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	if !reflect.DeepEqual(changed, []string{"poller", "telegram"}) {
		t.Fatalf("changed = %v", changed)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config reloaded", attrs...)
	if strings.Contains(buf.String(), "super-secret") {
		t.Fatalf("attrs leak secret: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"telegram.token_set":true`) {
		t.Fatalf("missing token_set attr: %s", buf.String())
	}

	if changed, _ := SummarizeChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

func TestManagerReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"poller": {"interval": "10m"}}`)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	m.reload(t.Context())
	select {
	case <-ch:
		t.Fatal("unchanged file should not publish")
	default:
	}

	if err := os.WriteFile(p, []byte(`{"poller": {"interval": "5m"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(t.Context())
	select {
	case cfg := <-ch:
		if cfg.Poller.Interval != "5m" {
			t.Fatalf("published interval = %q", cfg.Poller.Interval)
		}
	default:
		t.Fatal("changed file should publish")
	}
	if m.Get().Poller.Interval != "5m" {
		t.Fatalf("Get not updated: %q", m.Get().Poller.Interval)
	}

	// invalid content keeps the last good config
	if err := os.WriteFile(p, []byte(`{"poller": {"lookback": "x"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(t.Context())
	if m.Get().Poller.Interval != "5m" {
		t.Fatal("invalid reload replaced config")
	}
}
