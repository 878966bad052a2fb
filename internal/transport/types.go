package transport

import "context"

type ChatTarget struct {
	ChatID int64
	// Username addresses a public channel or group as "@name" when ChatID is 0.
	Username string
	ThreadID int // telegram forum topic thread id (0 if none)
}

// IsZero reports whether the target names no chat.
func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers text to a chat. Implementations must honor ctx.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
