package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"badgewatch/internal/commands"
	"badgewatch/internal/config"
	"badgewatch/internal/eventbus"
	"badgewatch/internal/metrics"
	"badgewatch/internal/notifier"
	"badgewatch/internal/observability"
	"badgewatch/internal/portal"
	rtsup "badgewatch/internal/runtime/supervisor"
	"badgewatch/internal/storage"
	"badgewatch/internal/subscriber"
	"badgewatch/internal/task/scheduler"
	"badgewatch/internal/transport"
	telegram "badgewatch/internal/transport/telegram/adapter"
	"badgewatch/internal/transport/telegram/router"
	"badgewatch/internal/watch"
	logx "badgewatch/pkg/logx"
	"badgewatch/pkg/systemd"
)

var errStopping = errors.New("app is stopping")

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter

	sched   *scheduler.Service
	portal  *portal.Client
	notif   *notifier.Service
	watch   *watch.Service
	cmdm    *router.CommandManager
	metrics *metrics.Metrics
	obs     *observability.Service
	sd      *systemd.Notifier

	updates chan transport.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	tg, err := cfg.Telegram.Settings()
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: tg.Token, PollTimeout: tg.PollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// The adapter doubles as the sender for the Telegram log sink.
	logSvc, root := logx.New(mapLogConfig(cfg), ad)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	pcfg, err := mapPortalConfig(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	wcfg, err := mapWatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	ocfg, err := mapObservabilityConfig(cfg)
	if err != nil {
		return nil, err
	}

	schedSvc := scheduler.New(scheduler.Config{}, root.With(logx.String("comp", "scheduler")), bus)
	portalClient := portal.New(pcfg, root.With(logx.String("comp", "portal")))
	notifSvc := notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")), bus)

	reg := subscriber.NewRegistry()
	watchSvc := watch.New(wcfg, watch.Deps{
		Registry: reg,
		Tasks:    schedSvc,
		Fetcher:  portalClient,
		Notifier: notifSvc.Subscribers(),
		Bus:      bus,
	}, root.With(logx.String("comp", "watch")))

	handler := commands.New(watchSvc, store, root.With(logx.String("comp", "commands")))
	cmdm := router.NewCommandManager(root.With(logx.String("comp", "router")), ad, router.Options{
		Workers:        tg.Workers,
		DefaultTimeout: tg.CommandTimeout,
		AllowedUserIDs: tg.AllowedUserIDs,
	})
	cmdm.SetRegistry(handler.Commands())

	m := metrics.New(reg.Len, root.With(logx.String("comp", "metrics")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		sched:   schedSvc,
		portal:  portalClient,
		notif:   notifSvc,
		watch:   watchSvc,
		cmdm:    cmdm,
		metrics: m,
		sd:      systemd.New(root.With(logx.String("comp", "systemd"))),
		updates: make(chan transport.Update, 256),
	}
	a.obs = observability.New(ocfg, observability.Deps{
		Metrics: m.Handler(),
		Health:  a.health,
	}, root.With(logx.String("comp", "observability")))
	return a, nil
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

func (a *App) health() error {
	if a.sup == nil {
		return errors.New("app not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if a.sup.Context().Err() != nil {
		return errStopping
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		err := config.Validate(cfg)
		if err == nil {
			_, _, err = mapStorageConfig(cfg)
		}
		if err != nil {
			a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloadFail, Time: time.Now(), Data: err.Error()})
		}
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	a.sched.Start(a.sup.Context())
	a.obs.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("metrics.events", func(c context.Context) {
		a.metrics.Run(c, a.bus)
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
				// Checks fire every interval per subscriber; keep this at debug.
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

	a.sd.Ready()
	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			a.sd.RunWatchdog(c, iv, func() bool { return a.health() == nil })
		})
	}

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	changed := func(name string) bool { return slices.Contains(sections, name) }
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if changed("telegram") {
		if tg, err := newCfg.Telegram.Settings(); err != nil {
			a.log.Warn("invalid telegram config; keeping previous", logx.Err(err))
		} else {
			a.cmdm.Apply(tg.AllowedUserIDs, tg.CommandTimeout)
			if oldCfg == nil || oldCfg.Telegram.Token != newCfg.Telegram.Token ||
				strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
				oldCfg.Telegram.Workers != newCfg.Telegram.Workers {
				a.log.Warn("telegram connection settings changed; restart required for changes to take effect")
			}
		}
	}

	if changed("portal") {
		if pcfg, err := mapPortalConfig(newCfg); err != nil {
			a.log.Warn("invalid portal config; keeping previous", logx.Err(err))
		} else {
			a.portal.Apply(pcfg)
		}
	}

	if changed("watch") {
		if wcfg, err := mapWatchConfig(newCfg); err != nil {
			a.log.Warn("invalid watch config; keeping previous", logx.Err(err))
		} else {
			a.watch.Apply(ctx, wcfg)
		}
	}

	if changed("notifier") {
		prevEnabled := a.notif.Enabled()
		if ncfg, err := mapNotifierConfig(newCfg); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
			switch {
			case prevEnabled && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !prevEnabled && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if changed("observability") {
		if ocfg, err := mapObservabilityConfig(newCfg); err != nil {
			a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
		} else {
			a.obs.Reconfigure(ctx, ocfg)
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Each step is bounded so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
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
		case <-stepCtx.Done():
			// fn must honor stepCtx; a late return is a leak worth logging.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
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
		}
	}

	// Scheduler first: it cancels in-flight checks, which may still want to notify.
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("observability", 1*time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
