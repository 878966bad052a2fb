package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery kinds.
const (
	KindStatus = "status"
	KindAlert  = "alert"
)

// DeliveryRecord is one attempt to deliver a message to the chat,
// including all retries.
type DeliveryRecord struct {
	At       time.Time `json:"at"`
	CycleID  string    `json:"cycle_id,omitempty"`
	Kind     string    `json:"kind"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Text     string    `json:"text"`
	OK       bool      `json:"ok"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}

// CycleRecord summarizes one poll cycle.
type CycleRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	Cursor     int64     `json:"cursor"`
	NextCursor int64     `json:"next_cursor"`
	Advanced   bool      `json:"advanced"`
	Messages   int       `json:"messages"`
	Errors     int       `json:"errors"`
	TookMS     int64     `json:"took_ms"`
}
