package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reviewbot/internal/config"
	"reviewbot/internal/eventbus"
	"reviewbot/internal/metrics"
	"reviewbot/internal/notifier"
	"reviewbot/internal/observability/diag"
	"reviewbot/internal/poller"
	"reviewbot/internal/reviewapi"
	rtsup "reviewbot/internal/runtime/supervisor"
	"reviewbot/internal/storage"
	"reviewbot/internal/transport"
	"reviewbot/internal/transport/telegram"
	logx "reviewbot/pkg/logx"
	"reviewbot/pkg/systemd"
)

type App struct {
	cfgPath string
	started time.Time

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics
	sd      *systemd.Notifier

	notif *notifier.Service
	loop  *poller.Loop
	diag  *diag.Service
}

type options struct {
	sender  transport.Sender
	fetcher poller.Fetcher
	sd      *systemd.Notifier
	bootLog logx.Logger
}

// Option overrides a dependency NewApp would otherwise build from config.
type Option func(*options)

// WithSender replaces the Telegram adapter.
func WithSender(s transport.Sender) Option { return func(o *options) { o.sender = s } }

// WithFetcher replaces the review API client.
func WithFetcher(f poller.Fetcher) Option { return func(o *options) { o.fetcher = f } }

// WithSystemd replaces the sd_notify client.
func WithSystemd(n *systemd.Notifier) Option { return func(o *options) { o.sd = n } }

// WithBootLogger sets the logger used before the logging service exists.
func WithBootLogger(log logx.Logger) Option { return func(o *options) { o.bootLog = log } }

// NewApp loads the config and wires every component. A missing required
// setting is logged at critical level and returned as *config.ConfigError.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := o.bootLog
	if bootLog.IsZero() {
		bootLog = logx.NewConsole(cfg.Logging.Level)
	}
	bootLog = bootLog.With(logx.String("comp", "app"))

	if err := config.ValidateRequired(cfg.RequiredValues(), config.RequiredKeys); err != nil {
		var ce *config.ConfigError
		if errors.As(err, &ce) {
			for _, k := range ce.Missing {
				bootLog.Critical("missing required configuration", logx.String("key", k), logx.String("env", config.EnvFor(k)))
			}
		}
		return nil, err
	}

	target, err := mapTarget(cfg)
	if err != nil {
		return nil, err
	}

	sender := o.sender
	if sender == nil {
		tcfg, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(tcfg, bootLog.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		sender = ad
	}

	// Bootstrap with Telegram mirroring off, set the target, then apply the
	// final config so Apply never sees an enabled sink without a chat.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, sender)
	logSvc.SetTelegramTarget(target)
	logSvc.Apply(logCfg)

	bus := eventbus.New()
	m := metrics.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	closeOnErr := func(err error) (*App, error) {
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	nopts := []notifier.Option{
		notifier.WithBus(bus),
		notifier.WithMetrics(m),
		notifier.WithLogger(log.With(logx.String("comp", "notifier"))),
	}
	if store != nil {
		nopts = append(nopts, notifier.WithStore(store))
	}
	notif := notifier.New(ncfg, sender, nopts...)

	fetcher := o.fetcher
	if fetcher == nil {
		rcfg, err := mapReviewAPIConfig(cfg)
		if err != nil {
			return closeOnErr(err)
		}
		client, err := reviewapi.New(rcfg)
		if err != nil {
			return closeOnErr(err)
		}
		fetcher = client
	}

	sched, schedDesc, err := mapSchedule(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	lookback, err := mapLookback(cfg)
	if err != nil {
		return closeOnErr(err)
	}

	sd := o.sd
	if sd == nil {
		sd = systemd.New()
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		metrics: m,
		sd:      sd,
		notif:   notif,
	}

	popts := []poller.Option{
		poller.WithSchedule(sched),
		poller.WithLookback(lookback),
		poller.WithLogger(log.With(logx.String("comp", "poller"))),
		poller.WithBus(bus),
		poller.WithMetrics(m),
		poller.WithHeartbeat(a.heartbeat),
	}
	if store != nil {
		popts = append(popts, poller.WithJournal(store))
	}
	a.loop = poller.New(poller.NewCycle(fetcher, log.With(logx.String("comp", "cycle"))), notif, popts...)
	a.diag = diag.New(mapDiagConfig(cfg), a.health, m.Handler(), log)

	a.log.Info("app configured",
		logx.String("schedule", schedDesc),
		logx.Duration("lookback", lookback),
		logx.Int64("chat_id", target.ChatID),
		logx.String("chat_username", target.Username),
	)
	return a, nil
}

// heartbeat runs after every poll iteration.
func (a *App) heartbeat() {
	_, _ = a.sd.Watchdog()
	snap := a.loop.Snapshot()
	_, _ = a.sd.Status(fmt.Sprintf("cursor=%d iterations=%d", snap.Cursor, snap.Iterations))
}

type health struct {
	Status     string                 `json:"status"`
	Uptime     string                 `json:"uptime"`
	Poller     poller.Snapshot        `json:"poller"`
	Notifier   []notifier.HistoryItem `json:"notifier_history"`
	Goroutines rtsup.Counters         `json:"goroutines"`
}

func (a *App) health() any {
	h := health{
		Status:   "ok",
		Uptime:   time.Since(a.started).Truncate(time.Second).String(),
		Poller:   a.loop.Snapshot(),
		Notifier: a.notif.Snapshot(),
	}
	if a.sup != nil {
		h.Goroutines = a.sup.Counters()
		if a.sup.Err() != nil {
			h.Status = "degraded"
		}
	}
	return h
}

// Loop exposes the poll loop for status reporting.
func (a *App) Loop() *poller.Loop { return a.loop }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	if a.diag != nil {
		a.diag.Start(a.sup.Context())
	}

	a.sup.GoRestart("poller.loop", func(c context.Context) error {
		if err := a.loop.Run(c); err != nil && c.Err() == nil {
			return err
		}
		return nil
	}, rtsup.WithRestartBackoff(time.Second, time.Minute))

	// Debug-level event log for observability.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := a.sd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready", logx.Duration("watchdog", systemd.WatchdogInterval()))
	}
	a.log.Info("app started")
	return nil
}

// applyConfig pushes a committed config to the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "storage", "review_api":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if oldCfg != nil && oldCfg.Telegram.Token != newCfg.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	if target, err := mapTarget(newCfg); err == nil {
		a.logs.SetTelegramTarget(target)
	}
	a.logs.Apply(mapLoggingConfig(newCfg))

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if sched, desc, err := mapSchedule(newCfg); err != nil {
		a.log.Warn("invalid poller schedule; keeping previous", logx.Err(err))
	} else if oldCfg == nil || oldCfg.Poller.Interval != newCfg.Poller.Interval || oldCfg.Poller.Timezone != newCfg.Poller.Timezone {
		a.loop.SetSchedule(sched)
		a.log.Info("poller schedule updated", logx.String("schedule", desc))
	}

	a.diag.Reconfigure(ctx, mapDiagConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping()

	// Cancel first so the poll loop stops before the next cycle.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	// Wait for the loop to finish an in-flight delivery before closing the journal.
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Int64("cursor", a.loop.Cursor()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
