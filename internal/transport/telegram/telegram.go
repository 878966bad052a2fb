package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"reviewbot/internal/transport"
	logx "reviewbot/pkg/logx"
)

const telegramTextLimit = 4000

type Config struct {
	Token string
	// Offline skips the getMe handshake (tests, dry runs).
	Offline bool
	// Timeout bounds each Bot API call made by telebot's HTTP client.
	Timeout time.Duration
}

// botAPI is the subset of *tele.Bot the adapter uses.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Adapter is a send-only Telegram transport.
type Adapter struct {
	log logx.Logger
	bot botAPI
}

var _ transport.Sender = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Client:  newHTTPClient(timeout),
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if !cfg.Offline && b.Me != nil {
		log.Info("telegram bot ready", logx.String("username", b.Me.Username))
	}
	return &Adapter{log: log, bot: b}, nil
}

// splitTelegramText splits long messages into chunks Telegram accepts,
// preferring newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

type usernameRecipient string

func (u usernameRecipient) Recipient() string { return string(u) }

func recipient(to transport.ChatTarget) tele.Recipient {
	if to.ChatID == 0 && to.Username != "" {
		return usernameRecipient(to.Username)
	}
	return tele.ChatID(to.ChatID)
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := recipient(to)

	var first transport.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 && msg != nil {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	a.log.Debug("message sent", logx.Int64("chat_id", to.ChatID), logx.String("username", to.Username), logx.Int("len", len(text)))
	return first, nil
}
