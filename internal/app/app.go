package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mangadexbot/internal/config"
	"mangadexbot/internal/eventbus"
	"mangadexbot/internal/mangadex"
	"mangadexbot/internal/notifier"
	rtsup "mangadexbot/internal/runtime/supervisor"
	"mangadexbot/internal/scan"
	"mangadexbot/internal/storage"
	"mangadexbot/internal/track"
	kit "mangadexbot/internal/transport"
	"mangadexbot/internal/transport/telegram/adapter"
	"mangadexbot/internal/transport/telegram/router"
	"mangadexbot/pkg/logx"
)

// App owns every long-running component and their shutdown order.
type App struct {
	opts *config.Options

	logs *logx.Service
	log  logx.Logger

	adapter kit.Adapter
	cfgm    *config.Manager
	store   storage.Store
	bus     eventbus.Bus

	sched   *scan.Scheduler
	notif   *notifier.Service
	tracker *track.Handler
	cmdm    *router.CommandManager
	menu    []kit.BotCommand

	updates    chan kit.Update
	queue      chan scan.UpdateEvent
	closeQueue func()

	sup *rtsup.Supervisor
}

func NewApp(ctx context.Context, opts *config.Options) (*App, error) {
	logs, log := logx.New(opts.Logging(), nil)

	ad, err := adapter.New(adapter.Config{
		Token:       opts.Token,
		PollTimeout: opts.PollTimeout,
		CommandChat: opts.CommandChat,
	}, log.Component("telegram"))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logs.SetSender(ad)

	a, err := build(ctx, opts, logs, log, ad)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

// build wires everything behind the chat adapter.
func build(ctx context.Context, opts *config.Options, logs *logx.Service, log logx.Logger, ad kit.Adapter) (*App, error) {
	a := &App{
		opts:    opts,
		logs:    logs,
		log:     log.Component("app"),
		adapter: ad,
		bus:     eventbus.New(),
		updates: make(chan kit.Update, 256),
		queue:   make(chan scan.UpdateEvent, opts.QueueSize),
	}
	var once sync.Once
	a.closeQueue = func() { once.Do(func() { close(a.queue) }) }

	notifCfg := opts.Notifier()
	if path := strings.TrimSpace(opts.RuntimeConfig); path != "" {
		a.cfgm = config.NewManager(path, log.Component("config"))
		rt, err := a.cfgm.Load()
		if err != nil {
			return nil, err
		}
		if rt.Logging != nil {
			logs.Apply(*rt.Logging)
		}
		if notifCfg, err = rt.ApplyNotifier(notifCfg); err != nil {
			return nil, err
		}
	}

	schedule, err := scan.ParseSchedule(opts.Scan())
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, opts.Storage(), log.Component("storage"))
	if err != nil {
		return nil, err
	}
	a.store = store

	upstream := mangadex.New(opts.Upstream(), log.Component("mangadex"))
	detector := scan.NewDetector(store, upstream, a.bus, log.Component("detector"))
	a.sched = scan.NewScheduler(store, detector, a.queue, schedule, opts.Scan().Pacing, a.bus, log.Component("scan"))
	a.notif = notifier.New(notifCfg, ad, a.queue, a.bus, log.Component("notifier"))
	a.tracker = track.NewHandler(store, upstream, a.bus, log.Component("track"))

	a.cmdm = router.NewCommandManager(log.Component("commands"), ad, router.Options{
		Workers: opts.Workers,
		Timeout: opts.RequestTimeout * 3,
	})
	a.menu = a.cmdm.SetRegistry([]router.Command{{
		Name:        "track",
		Description: "Track a manga",
		Usage:       "/track <manga id or url>",
		Handle:      a.handleTrack,
	}})
	return a, nil
}

func (a *App) handleTrack(ctx context.Context, req *router.Request) error {
	res, err := a.tracker.Track(ctx, req.Chat.Key(), strings.Join(req.Args, " "))
	if err != nil && !errors.Is(err, track.ErrInvalidReference) {
		req.Logger.Warn("track failed", logx.Err(err))
	}
	return req.Reply(ctx, track.ReplyText(res, err))
}

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
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Delivery outlives the intake context so Stop can drain what was detected.
	a.notif.Start(context.WithoutCancel(ctx))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		if err := a.cmdm.PublishMenu(c, a.menu); err != nil {
			a.log.Warn("command menu not published", logx.Err(err))
		}
	})
	a.sup.Go("scan.scheduler", func(c context.Context) error {
		// The scheduler is the only producer, so the queue closes once it returns.
		defer a.closeQueue()
		return a.sched.Run(c)
	})

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

	if a.cfgm != nil {
		a.startConfigReload()
	}

	a.log.Info("app started",
		logx.String("storage", a.opts.StorageDriver),
		logx.Int("queue_size", cap(a.queue)),
	)
	return nil
}

func (a *App) startConfigReload() {
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Runtime) error {
		_, err := cfg.ApplyNotifier(a.opts.Notifier())
		return err
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
				a.applyRuntime(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

func (a *App) applyRuntime(prev, next *config.Runtime) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	// A removed section falls back to the command line values.
	if next.Logging != nil {
		a.logs.Apply(*next.Logging)
	} else {
		a.logs.Apply(a.opts.Logging())
	}
	ncfg, err := next.ApplyNotifier(a.opts.Notifier())
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	fields := append([]logx.Field{logx.Strings("changed", sections)}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts down intake first, then drains queued notifications within
// the configured drain timeout, then releases storage and logging.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Stop taking commands and starting scan cycles.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) error {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
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
			return err
		case <-stepCtx.Done():
			elapsed := time.Since(start)
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
			return stepCtx.Err()
		}
	}

	_ = step("adapter", 5*time.Second, a.adapter.Stop)
	var intakeDone atomic.Bool
	_ = step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if c.Err() == nil {
			intakeDone.Store(true)
		}
		return err
	})
	if intakeDone.Load() {
		// Every producer has returned; closing lets the fanout finish the backlog.
		a.closeQueue()
	} else {
		a.log.Warn("intake still running; queue left open", logx.Int64("goroutines", a.sup.Active()))
	}
	_ = step("notifier", a.opts.DrainTimeout, a.notif.Stop)
	_ = step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return a.Err()
}
