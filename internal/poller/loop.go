package poller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"reviewbot/internal/eventbus"
	"reviewbot/internal/metrics"
	"reviewbot/internal/storage"
	logx "reviewbot/pkg/logx"
)

const (
	// DefaultLookback is how far before startup the first cursor points.
	DefaultLookback = 7 * 24 * time.Hour

	AlertPrefix = "Upstream problem: "
)

type State int32

const (
	Idle State = iota
	Running
	Sleeping
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Sink delivers a message. It never reports failure.
type Sink interface {
	Notify(ctx context.Context, text string)
}

// Alerter is implemented by sinks that tag upstream alerts separately
// from status messages.
type Alerter interface {
	Alert(ctx context.Context, text string)
}

// Journal records finished cycles.
type Journal interface {
	AppendCycle(ctx context.Context, r storage.CycleRecord) error
}

// Loop drives Cycle forever on a schedule.
type Loop struct {
	cycle *Cycle
	sink  Sink

	log       logx.Logger
	bus       eventbus.Bus
	journal   Journal
	metrics   *metrics.Metrics
	now       func() time.Time
	heartbeat func()
	lookback  time.Duration

	// schedMu guards schedule; wake tells a sleeping Run to re-read it.
	schedMu  sync.Mutex
	schedule Schedule
	wake     chan struct{}

	// mu guards everything below for Snapshot. Only the loop goroutine writes.
	mu           sync.Mutex
	state        State
	cursor       int64
	lastNotified string
	pending      ErrorSet
	iterations   uint64
	lastCycleAt  time.Time
	lastCycleID  string
	nextRunAt    time.Time
}

type Option func(*Loop)

func WithSchedule(s Schedule) Option        { return func(l *Loop) { l.schedule = s } }
func WithLookback(d time.Duration) Option   { return func(l *Loop) { l.lookback = d } }
func WithLogger(log logx.Logger) Option     { return func(l *Loop) { l.log = log } }
func WithBus(b eventbus.Bus) Option         { return func(l *Loop) { l.bus = b } }
func WithJournal(j Journal) Option          { return func(l *Loop) { l.journal = j } }
func WithMetrics(m *metrics.Metrics) Option { return func(l *Loop) { l.metrics = m } }
func WithClock(now func() time.Time) Option { return func(l *Loop) { l.now = now } }

// WithHeartbeat registers fn to run after every iteration.
func WithHeartbeat(fn func()) Option { return func(l *Loop) { l.heartbeat = fn } }

// WithStartCursor overrides the initial now-minus-lookback cursor.
func WithStartCursor(c int64) Option {
	return func(l *Loop) {
		l.cursor = c
		l.lookback = -1
	}
}

func New(cycle *Cycle, sink Sink, opts ...Option) *Loop {
	l := &Loop{
		cycle:    cycle,
		sink:     sink,
		log:      logx.Nop(),
		now:      time.Now,
		lookback: DefaultLookback,
		schedule: Interval(DefaultInterval),
		wake:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		if o != nil {
			o(l)
		}
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	l.log = l.log.With(logx.String("comp", "poller"))
	if l.lookback >= 0 {
		l.cursor = l.now().Add(-l.lookback).Unix()
		if l.cursor < 0 {
			l.cursor = 0
		}
	}
	l.metrics.SetCursor(l.cursor)
	return l
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Cursor returns the current cursor.
func (l *Loop) Cursor() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// LastNotified returns the last message handed to the sink.
func (l *Loop) LastNotified() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastNotified
}

// SetSchedule replaces the schedule. A sleeping loop re-plans its wake-up
// from the end of the last iteration.
func (l *Loop) SetSchedule(s Schedule) {
	if s == nil {
		return
	}
	l.schedMu.Lock()
	l.schedule = s
	l.schedMu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) currentSchedule() Schedule {
	l.schedMu.Lock()
	defer l.schedMu.Unlock()
	return l.schedule
}

// Iterate runs one iteration: cycle, notify, advance cursor, flush alerts.
// It does not return errors; failures become alerts.
func (l *Loop) Iterate(ctx context.Context) {
	l.setState(Running)
	defer l.setState(Idle)

	start := l.now()
	id := uuid.NewString()
	ctx = storage.WithCycleID(ctx, id)
	log := l.log.With(logx.String("cycle", id))

	l.mu.Lock()
	cursor := l.cursor
	last := l.lastNotified
	l.mu.Unlock()

	log.Debug("cycle started", logx.Int64("cursor", cursor))
	res := l.cycle.Run(ctx, cursor, last)
	if ctx.Err() != nil {
		log.Info("cycle interrupted", logx.Err(ctx.Err()))
		return
	}

	for _, d := range res.Errors {
		l.metrics.CycleError(d.Kind)
		if l.pending.Add(d) {
			log.Warn("upstream problem", logx.String("kind", d.Kind), logx.String("error", d.Message))
		}
	}

	for _, msg := range res.Messages {
		l.sink.Notify(ctx, msg)
		l.mu.Lock()
		l.lastNotified = msg
		l.mu.Unlock()
	}

	advanced := false
	if res.HasCursor {
		switch {
		case res.NextCursor > cursor:
			advanced = true
			l.mu.Lock()
			l.cursor = res.NextCursor
			l.mu.Unlock()
			l.metrics.SetCursor(res.NextCursor)
			l.publish(eventbus.CursorAdvanced, map[string]any{"from": cursor, "to": res.NextCursor, "cycle": id})
		case res.NextCursor < cursor:
			log.Warn("response cursor behind current; keeping current",
				logx.Int64("cursor", cursor), logx.Int64("response_cursor", res.NextCursor))
		}
	}

	flushed := l.flush(ctx)

	took := l.now().Sub(start)
	l.mu.Lock()
	l.iterations++
	n := l.iterations
	l.lastCycleAt = start
	l.lastCycleID = id
	next := l.cursor
	l.mu.Unlock()

	l.metrics.ObserveCycle(took)
	log.Info("cycle completed",
		logx.Uint64("iteration", n),
		logx.Int64("cursor", next),
		logx.Bool("advanced", advanced),
		logx.Int("messages", len(res.Messages)),
		logx.Int("errors", len(res.Errors)),
		logx.Int("alerts", flushed),
		logx.Duration("took", took),
	)
	rec := storage.CycleRecord{
		ID: id, StartedAt: start, Cursor: cursor, NextCursor: next, Advanced: advanced,
		Messages: len(res.Messages), Errors: len(res.Errors), TookMS: took.Milliseconds(),
	}
	l.publish(eventbus.CycleCompleted, rec)
	if l.journal != nil {
		if err := l.journal.AppendCycle(ctx, rec); err != nil {
			log.Warn("journal append failed", logx.Err(err))
		}
	}
}

// flush sends one alert per pending error and clears the set.
func (l *Loop) flush(ctx context.Context) int {
	items := l.pending.Items()
	l.pending.Clear()
	if len(items) == 0 {
		return 0
	}
	alert := l.sink.Notify
	if a, ok := l.sink.(Alerter); ok {
		alert = a.Alert
	}
	for _, d := range items {
		alert(ctx, AlertPrefix+d.Message)
	}
	l.publish(eventbus.ErrorsFlushed, items)
	return len(items)
}

func (l *Loop) publish(typ string, data any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Run iterates until ctx is done and then returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("poller started",
		logx.Int64("cursor", l.Cursor()),
		logx.String("first_cursor_at", time.Unix(l.Cursor(), 0).UTC().Format(time.RFC3339)),
	)
	for {
		if ctx.Err() != nil {
			break
		}
		l.Iterate(ctx)
		if l.heartbeat != nil {
			l.heartbeat()
		}
		if err := l.sleep(ctx); err != nil {
			break
		}
	}
	l.setState(Terminated)
	l.log.Info("poller stopped")
	return ctx.Err()
}

// sleep waits for the next activation. A schedule change re-plans the
// wake-up relative to the same end time.
func (l *Loop) sleep(ctx context.Context) error {
	l.setState(Sleeping)
	ended := l.now()
	for {
		next := l.currentSchedule().Next(ended)
		l.mu.Lock()
		l.nextRunAt = next
		l.mu.Unlock()

		d := next.Sub(l.now())
		if d < 0 {
			d = 0
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-l.wake:
			t.Stop()
			l.log.Debug("schedule changed; replanning sleep")
			continue
		case <-t.C:
			return nil
		}
	}
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	State        string    `json:"state"`
	Cursor       int64     `json:"cursor"`
	LastNotified string    `json:"last_notified,omitempty"`
	Iterations   uint64    `json:"iterations"`
	LastCycleAt  time.Time `json:"last_cycle_at,omitempty"`
	LastCycleID  string    `json:"last_cycle_id,omitempty"`
	NextRunAt    time.Time `json:"next_run_at,omitempty"`
}

func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		State:        l.state.String(),
		Cursor:       l.cursor,
		LastNotified: l.lastNotified,
		Iterations:   l.iterations,
		LastCycleAt:  l.lastCycleAt,
		LastCycleID:  l.lastCycleID,
		NextRunAt:    l.nextRunAt,
	}
}
