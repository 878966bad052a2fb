// Package poller runs the review status loop: fetch changes since the
// cursor, validate them, render status messages, notify the chat, then
// report any upstream problems as one alert each.
//
// A Loop owns all cross-iteration state (cursor, last notified message,
// pending errors). One iteration runs to completion before the next
// starts; the sleep between iterations is the only place it waits.
package poller
