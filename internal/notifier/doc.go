// Package notifier delivers status messages and upstream alerts to the
// configured chat.
//
// Delivery is synchronous so messages reach the chat in the order they are
// produced. Each message is rate limited, retried with exponential backoff
// and jitter, and finally logged and dropped if it still cannot be sent: the
// caller never sees delivery errors.
//
// # History
//
// The service keeps a small in-memory ring of recently delivered messages
// for the diagnostics endpoint. When a journal is configured every attempt,
// successful or not, is appended to it.
package notifier
