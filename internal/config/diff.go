package config

import (
	"sort"
	"strings"

	logx "reviewbot/pkg/logx"
)

// SummarizeChange returns the changed sections and safe attrs for logging.
// Secrets are reported only as "<key>_set" booleans.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID ||
		strings.TrimSpace(ot.Timeout) != strings.TrimSpace(nt.Timeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Bool("telegram.chat_id_set", strings.TrimSpace(nt.ChatID) != ""),
			logx.Int("telegram.thread_id", nt.ThreadID),
			logx.String("telegram.timeout", strings.TrimSpace(nt.Timeout)),
		)
	}

	oa, na := oldCfg.ReviewAPI, newCfg.ReviewAPI
	if oa != na {
		changed = append(changed, "review_api")
		attrs = append(attrs,
			logx.String("review_api.endpoint", strings.TrimSpace(na.Endpoint)),
			logx.Bool("review_api.token_set", strings.TrimSpace(na.Token) != ""),
			logx.String("review_api.timeout", strings.TrimSpace(na.Timeout)),
		)
	}

	if oldCfg.Poller != newCfg.Poller {
		changed = append(changed, "poller")
		attrs = append(attrs,
			logx.String("poller.interval", strings.TrimSpace(newCfg.Poller.Interval)),
			logx.String("poller.lookback", strings.TrimSpace(newCfg.Poller.Lookback)),
			logx.String("poller.timezone", strings.TrimSpace(newCfg.Poller.Timezone)),
		)
	}

	on, nn := oldCfg.Notifier, newCfg.Notifier
	if on.RatePerSec != nn.RatePerSec || on.Retries() != nn.Retries() ||
		on.RetryBase != nn.RetryBase || on.RetryMaxDelay != nn.RetryMaxDelay {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.Retries()),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	od, nd := oldCfg.Diagnostics, newCfg.Diagnostics
	if od.Enabled != nd.Enabled || od.Addr != nd.Addr || od.Token != nd.Token {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", nd.Enabled),
			logx.String("diagnostics.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("diagnostics.token_set", strings.TrimSpace(nd.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
