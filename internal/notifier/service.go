package notifier

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"reviewbot/internal/eventbus"
	"reviewbot/internal/metrics"
	"reviewbot/internal/storage"
	"reviewbot/internal/transport"
	logx "reviewbot/pkg/logx"
)

const (
	defaultRatePerSec    = 1
	defaultRetryBase     = time.Second
	defaultRetryMaxDelay = 10 * time.Second
	defaultSendTimeout   = 15 * time.Second
	defaultHistorySize   = 100
)

// Service delivers messages through a transport.Sender.
//
// It is safe for concurrent use; concurrent callers are serialized by the
// rate limiter, not by a lock, so a slow send does not block Apply.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log     logx.Logger
	sender  transport.Sender
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics

	hmu     sync.Mutex
	history []HistoryItem

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes optional collaborators.
type Option func(*Service)

func WithBus(b eventbus.Bus) Option         { return func(s *Service) { s.bus = b } }
func WithStore(st storage.Store) Option     { return func(s *Service) { s.store = st } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(log logx.Logger) Option     { return func(s *Service) { s.log = log } }

func New(cfg Config, sender transport.Sender, opts ...Option) *Service {
	s := &Service{
		sender: sender,
		log:    logx.Nop(),
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "notifier"))
	s.applyLocked(cfg)
	return s
}

// Apply swaps the delivery settings. In-flight sends keep the old ones.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	// Keep the limiter if only other fields changed so its tokens survive.
	if s.limiter == nil || s.cfg.RatePerSec != cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Notify delivers a status message. Failures are logged and dropped.
func (s *Service) Notify(ctx context.Context, text string) {
	s.deliver(ctx, KindStatus, text)
}

// Alert delivers an upstream-problem message. Failures are logged and dropped.
func (s *Service) Alert(ctx context.Context, text string) {
	s.deliver(ctx, KindAlert, text)
}

func (s *Service) deliver(ctx context.Context, kind, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	start := time.Now()
	attempts, err := s.sendWithRetry(ctx, cfg, lim, text)
	took := time.Since(start)
	cycleID := storage.CycleIDFrom(ctx)

	log := s.log.With(
		logx.String("kind", kind),
		logx.Int("attempts", attempts),
		logx.Duration("took", took),
	)
	if cycleID != "" {
		log = log.With(logx.String("cycle_id", cycleID))
	}

	ev := NotificationEvent{
		Kind: kind, ChatID: cfg.Target.ChatID, Username: cfg.Target.Username, ThreadID: cfg.Target.ThreadID,
		CycleID: cycleID, Attempts: attempts, At: time.Now(),
	}
	rec := storage.DeliveryRecord{
		At: start, CycleID: cycleID, Kind: kind, ChatID: cfg.Target.ChatID, ThreadID: cfg.Target.ThreadID,
		Text: text, OK: err == nil, Attempts: attempts, TookMS: took.Milliseconds(),
	}

	if err == nil {
		s.appendHistory(kind, text, cfg.HistorySize)
		log.Info("notification sent")
		s.publish(eventbus.NotificationSent, ev)
	} else {
		derr := &DeliveryError{Attempts: attempts, Err: err}
		ev.Error = derr.Error()
		rec.Error = err.Error()
		log.Error("notification dropped", logx.Err(derr))
		s.publish(eventbus.NotificationFail, ev)
	}
	s.metrics.Notification(kind, err == nil, attempts)
	s.journal(ctx, rec)
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, text string) (int, error) {
	if s.sender == nil {
		return 0, errNoSender
	}
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return attempt - 1, firstErr(lastErr, err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.sender.SendText(callCtx, cfg.Target, text, nil)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		if err := s.sleep(ctx, retryDelay(cfg, attempt)); err != nil {
			break
		}
	}
	return attempt, lastErr
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// journal appends best-effort; a cancelled ctx still gets a short window
// so shutdown does not lose the record of the last attempt.
func (s *Service) journal(ctx context.Context, rec storage.DeliveryRecord) {
	if s.store == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.store.AppendDelivery(jctx, rec); err != nil {
		s.log.Warn("journal append failed", logx.Err(err))
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(kind, text string, limit int) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Kind: kind, Text: text})
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1) with
// 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = defaultRetryMaxDelay
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
