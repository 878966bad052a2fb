// Package storage is the append-only delivery journal.
//
// It records every poll cycle and every delivery attempt for audit. The
// poller never reads it back; restart behaviour does not depend on it.
package storage
