package notifier

import (
	"errors"
	"fmt"
	"time"

	"reviewbot/internal/transport"
)

// Config controls delivery. Zero values mean defaults.
type Config struct {
	Target        transport.ChatTarget
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	HistorySize   int
}

// Message kinds.
const (
	KindStatus = "status"
	KindAlert  = "alert"
)

type HistoryItem struct {
	At   time.Time `json:"at"`
	Kind string    `json:"kind"`
	Text string    `json:"text"`
}

// NotificationEvent is published on the event bus after every delivery.
type NotificationEvent struct {
	Kind     string    `json:"kind"`
	ChatID   int64     `json:"chat_id"`
	Username string    `json:"username,omitempty"`
	ThreadID int       `json:"thread_id,omitempty"`
	CycleID  string    `json:"cycle_id,omitempty"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// DeliveryError is the diagnostic for a message that could not be
// delivered after all retries. It is logged, never returned.
type DeliveryError struct {
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notification delivery failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

var errNoSender = errors.New("notifier: no sender configured")
