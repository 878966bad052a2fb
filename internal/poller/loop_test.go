package poller

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"reviewbot/internal/eventbus"
	"reviewbot/internal/storage"
	logx "reviewbot/pkg/logx"
)

func nopLog() logx.Logger { return logx.Nop() }

type recordingSink struct {
	mu       sync.Mutex
	notified []string
	alerts   []string
	cycleIDs []string
}

func (s *recordingSink) Notify(ctx context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = append(s.notified, text)
	s.cycleIDs = append(s.cycleIDs, storage.CycleIDFrom(ctx))
}

func (s *recordingSink) Alert(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, text)
}

// notifyOnly has no Alert method; alerts go through Notify.
type notifyOnly struct{ got []string }

func (s *notifyOnly) Notify(_ context.Context, text string) { s.got = append(s.got, text) }

type memJournal struct{ cycles []storage.CycleRecord }

func (j *memJournal) AppendCycle(_ context.Context, r storage.CycleRecord) error {
	j.cycles = append(j.cycles, r)
	return nil
}

func newLoop(f Fetcher, sink Sink, opts ...Option) *Loop {
	opts = append([]Option{WithStartCursor(0)}, opts...)
	return New(NewCycle(f, nopLog()), sink, opts...)
}

func TestLoopScenarios(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("A empty batch", func(t *testing.T) {
		t.Parallel()
		sink := &recordingSink{}
		l := newLoop(&scriptFetcher{steps: []step{{raw: `{"homeworks": [], "current_date": 100}`}}}, sink)
		l.Iterate(ctx)
		if len(sink.notified)+len(sink.alerts) != 0 {
			t.Fatalf("unexpected messages: %v %v", sink.notified, sink.alerts)
		}
		if l.Cursor() != 100 {
			t.Fatalf("cursor = %d, want 100", l.Cursor())
		}
	})

	t.Run("B approved item", func(t *testing.T) {
		t.Parallel()
		sink := &recordingSink{}
		l := newLoop(&scriptFetcher{steps: []step{{raw: `{"homeworks": [{"homework_name": "X", "status": "approved"}], "current_date": 101}`}}}, sink)
		l.Iterate(ctx)
		want := `Status changed for item "X". Work reviewed: reviewer liked everything. Hooray!`
		if len(sink.notified) != 1 || sink.notified[0] != want {
			t.Fatalf("notified = %q", sink.notified)
		}
		if l.Cursor() != 101 || l.LastNotified() != want {
			t.Fatalf("cursor = %d last = %q", l.Cursor(), l.LastNotified())
		}
		if sink.cycleIDs[0] == "" {
			t.Fatal("notify ctx should carry the cycle id")
		}
	})

	t.Run("C unknown status", func(t *testing.T) {
		t.Parallel()
		sink := &recordingSink{}
		l := newLoop(&scriptFetcher{steps: []step{{raw: `{"homeworks": [{"homework_name": "Y", "status": "unknown"}], "current_date": 102}`}}}, sink)
		l.Iterate(ctx)
		if len(sink.notified) != 0 {
			t.Fatalf("notified = %q", sink.notified)
		}
		if len(sink.alerts) != 1 || !strings.HasPrefix(sink.alerts[0], AlertPrefix) || !strings.Contains(sink.alerts[0], `"unknown"`) {
			t.Fatalf("alerts = %q", sink.alerts)
		}
		if l.Cursor() != 102 {
			t.Fatalf("cursor = %d, want 102", l.Cursor())
		}
	})

	t.Run("D transport error", func(t *testing.T) {
		t.Parallel()
		sink := &recordingSink{}
		l := newLoop(&scriptFetcher{steps: []step{{err: errors.New("dial tcp: timeout")}}}, sink, WithStartCursor(55))
		l.Iterate(ctx)
		if len(sink.notified) != 0 {
			t.Fatalf("notified = %q", sink.notified)
		}
		if len(sink.alerts) != 1 || sink.alerts[0] != "Upstream problem: dial tcp: timeout" {
			t.Fatalf("alerts = %q", sink.alerts)
		}
		if l.Cursor() != 55 {
			t.Fatalf("cursor = %d, want 55", l.Cursor())
		}
	})
}

func TestLoopCursorMonotonic(t *testing.T) {
	t.Parallel()
	f := &scriptFetcher{steps: []step{
		{raw: `{"homeworks": [], "current_date": 100}`},
		{err: errors.New("down")},
		{raw: `{"homeworks": [], "current_date": 90}`},
		{raw: `{"bad": true}`},
		{raw: `{"homeworks": [], "current_date": 150}`},
	}}
	l := newLoop(f, &recordingSink{})
	want := []int64{100, 100, 100, 100, 150}
	for i, w := range want {
		l.Iterate(context.Background())
		if got := l.Cursor(); got != w {
			t.Fatalf("after cycle %d cursor = %d, want %d", i+1, got, w)
		}
	}
	// a failed fetch is retried from the same cursor
	if f.cursors[2] != 100 {
		t.Fatalf("cursors = %v", f.cursors)
	}
}

func TestLoopErrorBatching(t *testing.T) {
	t.Parallel()
	raw := `{"homeworks": [
		{"homework_name": "a", "status": "s1"},
		{"homework_name": "b", "status": "s2"},
		{"homework_name": "c", "status": "s3"},
		{"homework_name": "d", "status": "s1"}
	], "current_date": 10}`
	sink := &recordingSink{}
	l := newLoop(&scriptFetcher{steps: []step{{raw: raw}}}, sink)

	l.Iterate(context.Background())
	if len(sink.alerts) != 3 {
		t.Fatalf("first flush alerts = %d (%q), want 3", len(sink.alerts), sink.alerts)
	}
	l.Iterate(context.Background())
	if len(sink.alerts) != 6 {
		t.Fatalf("alerts after two flushes = %d, want 3 per cycle", len(sink.alerts))
	}

	// a clean cycle flushes nothing
	l2 := newLoop(&scriptFetcher{steps: []step{{raw: `{"homeworks": [], "current_date": 1}`}}}, sink)
	l2.Iterate(context.Background())
	if len(sink.alerts) != 6 {
		t.Fatalf("clean cycle produced alerts: %q", sink.alerts[6:])
	}
}

func TestLoopFlushesEachErrorKind(t *testing.T) {
	t.Parallel()
	f := &scriptFetcher{steps: []step{
		{err: errors.New("connection refused")},
		{raw: `{"homeworks": []}`},
		{raw: `{"homeworks": [{"homework_name": "a", "status": "lost"}, {"status": "approved"}], "current_date": 30}`},
		{err: errors.New("connection refused")},
	}}
	sink := &recordingSink{}
	j := &memJournal{}
	l := newLoop(f, sink, WithStartCursor(20), WithJournal(j))

	want := [][]string{
		{AlertPrefix + "connection refused"},
		{AlertPrefix + `response is missing field "current_date"`},
		{AlertPrefix + `unexpected status "lost"`, AlertPrefix + "item has no homework_name"},
		{AlertPrefix + "connection refused"},
	}
	seen := 0
	for i, batch := range want {
		l.Iterate(context.Background())
		got := sink.alerts[seen:]
		if strings.Join(got, "|") != strings.Join(batch, "|") {
			t.Fatalf("flush %d = %q, want %q", i+1, got, batch)
		}
		seen = len(sink.alerts)
	}
	if l.Cursor() != 30 {
		t.Fatalf("cursor = %d, want 30", l.Cursor())
	}
	if len(j.cycles) != 4 || j.cycles[2].Errors != 2 || !j.cycles[2].Advanced {
		t.Fatalf("journal = %+v", j.cycles)
	}
}

func TestLoopMalformedItemDoesNotBlockBatch(t *testing.T) {
	t.Parallel()
	raw := `{"homeworks": [
		{"homework_name": "A", "status": null},
		{"homework_name": "B", "status": "approved"}
	], "current_date": 200}`
	f := &scriptFetcher{steps: []step{{raw: raw}}}
	sink := &recordingSink{}
	l := newLoop(f, sink, WithStartCursor(50))
	for i := 0; i < 3; i++ {
		l.Iterate(context.Background())
	}

	wantB := `Status changed for item "B". Work reviewed: reviewer liked everything. Hooray!`
	if len(sink.notified) != 1 || sink.notified[0] != wantB {
		t.Fatalf("notified = %q, want only B once", sink.notified)
	}
	if l.Cursor() != 200 {
		t.Fatalf("cursor = %d, want 200", l.Cursor())
	}
	if f.cursors[0] != 50 || f.cursors[1] != 200 {
		t.Fatalf("fetch cursors = %v", f.cursors)
	}
	for _, a := range sink.alerts {
		if a != AlertPrefix+`unexpected status "null"` {
			t.Fatalf("alert = %q", a)
		}
	}
}

func TestLoopDedupAcrossCycles(t *testing.T) {
	t.Parallel()
	raw := `{"homeworks": [{"homework_name": "X", "status": "reviewing"}], "current_date": 10}`
	sink := &recordingSink{}
	l := newLoop(&scriptFetcher{steps: []step{{raw: raw}}}, sink)
	for i := 0; i < 3; i++ {
		l.Iterate(context.Background())
	}
	if len(sink.notified) != 1 {
		t.Fatalf("notified = %q, want exactly one", sink.notified)
	}
}

func TestLoopLogsIterationCount(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	raw := `{"homeworks": [], "current_date": 10}`
	l := newLoop(&scriptFetcher{steps: []step{{raw: raw}}}, &recordingSink{},
		WithLogger(logx.NewWriter(&buf, "info")))
	l.Iterate(context.Background())
	l.Iterate(context.Background())
	out := buf.String()
	if !strings.Contains(out, `"iteration":1`) || !strings.Contains(out, `"iteration":2`) {
		t.Fatalf("cycle log lacks iteration counter: %s", out)
	}
}

func TestLoopAlertsFallBackToNotify(t *testing.T) {
	t.Parallel()
	sink := &notifyOnly{}
	l := newLoop(&scriptFetcher{steps: []step{{err: errors.New("x")}}}, sink)
	l.Iterate(context.Background())
	if len(sink.got) != 1 || sink.got[0] != AlertPrefix+"x" {
		t.Fatalf("got = %q", sink.got)
	}
}

func TestLoopInitialCursorFromLookback(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)
	l := New(NewCycle(&scriptFetcher{}, nopLog()), &recordingSink{},
		WithClock(func() time.Time { return now }))
	if want := now.Add(-DefaultLookback).Unix(); l.Cursor() != want {
		t.Fatalf("cursor = %d, want %d", l.Cursor(), want)
	}
	if l.State() != Idle {
		t.Fatalf("state = %v, want idle", l.State())
	}
}

func TestLoopJournalAndEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	j := &memJournal{}
	l := newLoop(&scriptFetcher{steps: []step{{raw: `{"homeworks": [], "current_date": 100}`}}}, &recordingSink{},
		WithBus(bus), WithJournal(j))
	l.Iterate(context.Background())

	if len(j.cycles) != 1 {
		t.Fatalf("journal = %+v", j.cycles)
	}
	rec := j.cycles[0]
	if rec.Cursor != 0 || rec.NextCursor != 100 || !rec.Advanced || rec.ID == "" {
		t.Fatalf("record = %+v", rec)
	}
	seen := map[string]bool{}
	for len(events) > 0 {
		seen[(<-events).Type] = true
	}
	if !seen[eventbus.CursorAdvanced] || !seen[eventbus.CycleCompleted] {
		t.Fatalf("events = %v", seen)
	}
	snap := l.Snapshot()
	if snap.Iterations != 1 || snap.LastCycleID != rec.ID || snap.State != "idle" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	beats := 0
	l := newLoop(&scriptFetcher{steps: []step{{raw: `{"homeworks": [], "current_date": 1}`}}}, &recordingSink{},
		WithSchedule(Interval(time.Hour)),
		WithHeartbeat(func() { beats++; cancel() }))

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if beats != 1 || l.State() != Terminated {
		t.Fatalf("beats = %d state = %v", beats, l.State())
	}
}

func TestLoopSetScheduleWakesSleeper(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &scriptFetcher{steps: []step{{raw: `{"homeworks": [], "current_date": 1}`}}}
	f.onFetch = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	l := newLoop(f, &recordingSink{}, WithSchedule(Interval(time.Hour)))

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for l.State() != Sleeping {
		if time.Now().After(deadline) {
			t.Fatal("loop never slept")
		}
		time.Sleep(time.Millisecond)
	}
	l.SetSchedule(Interval(time.Millisecond))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("schedule change did not wake the loop")
	}
	if len(f.cursors) != 2 {
		t.Fatalf("fetches = %d, want 2", len(f.cursors))
	}
}
