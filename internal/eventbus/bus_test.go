package eventbus

import "testing"

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(2)

	b.Publish(Event{Type: CycleCompleted})
	e := <-ch
	if e.Type != CycleCompleted {
		t.Fatalf("Type = %q", e.Type)
	}
	if e.Time.IsZero() {
		t.Fatal("Publish should stamp Time")
	}

	unsub()
	unsub() // idempotent
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: CycleCompleted}) // must not panic
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if e := <-ch; e.Type != "a" {
		t.Fatalf("first event = %q, want a", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}
