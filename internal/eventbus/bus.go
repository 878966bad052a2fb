package eventbus

import (
	"sync"
	"time"
)

// Event types published by the bot.
const (
	CycleCompleted   = "poller.cycle_completed"
	CursorAdvanced   = "poller.cursor_advanced"
	ErrorsFlushed    = "poller.errors_flushed"
	NotificationSent = "notifier.sent"
	NotificationFail = "notifier.failed"
	ConfigReloaded   = "config.reloaded"
)

// Event is a small in-memory signal. Data should be JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers.
//
//   - Publish never blocks.
//   - Subscribers get buffered channels; a slow subscriber drops events.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock while sending so unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
