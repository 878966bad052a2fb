package config

import (
	"os"
	"sort"
	"strings"
)

// Environment variables that fill empty secrets.
const (
	EnvReviewToken    = "PRACTICUM_TOKEN"
	EnvTelegramToken  = "TELEGRAM_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
)

// Keys that must be set before the poller starts.
const (
	KeyReviewToken    = "review_api.token"
	KeyTelegramToken  = "telegram.token"
	KeyTelegramChatID = "telegram.chat_id"
)

// RequiredKeys lists the settings the poller cannot run without.
var RequiredKeys = []string{KeyReviewToken, KeyTelegramToken, KeyTelegramChatID}

var keyEnv = map[string]string{
	KeyReviewToken:    EnvReviewToken,
	KeyTelegramToken:  EnvTelegramToken,
	KeyTelegramChatID: EnvTelegramChatID,
}

// EnvFor returns the environment variable that can supply key, or "".
func EnvFor(key string) string { return keyEnv[key] }

// ConfigError reports required settings that are missing. It is fatal:
// the poller never starts with an incomplete configuration.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

// ValidateRequired checks that every key in required has a non-blank
// value. Missing keys are reported sorted.
func ValidateRequired(values map[string]string, required []string) error {
	var missing []string
	for _, k := range required {
		if strings.TrimSpace(values[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &ConfigError{Missing: missing}
}

// RequiredValues returns the values of RequiredKeys for ValidateRequired.
func (c *Config) RequiredValues() map[string]string {
	return map[string]string{
		KeyReviewToken:    c.ReviewAPI.Token,
		KeyTelegramToken:  c.Telegram.Token,
		KeyTelegramChatID: c.Telegram.ChatID,
	}
}

// applyEnv fills empty secrets from the environment.
func applyEnv(c *Config) {
	fill := func(dst *string, env string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		if v, ok := os.LookupEnv(env); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	fill(&c.ReviewAPI.Token, EnvReviewToken)
	fill(&c.Telegram.Token, EnvTelegramToken)
	fill(&c.Telegram.ChatID, EnvTelegramChatID)
}
