package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cmdtimer/internal/admin"
	"cmdtimer/internal/config"
	"cmdtimer/internal/engine"
	"cmdtimer/internal/eventbus"
	"cmdtimer/internal/executor"
	"cmdtimer/internal/notifier"
	rtsup "cmdtimer/internal/runtime/supervisor"
	"cmdtimer/internal/storage"
	logx "cmdtimer/pkg/logx"
	"cmdtimer/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	exec   *executor.Service
	notif  *notifier.Service
	engine *engine.Engine
	admin  *admin.Server
}

// New loads the config and wires every component without starting any.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	// transactional config reload: validate before commit/publish
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ec, err := mapExecutorConfig(cfg)
	if err != nil {
		return nil, err
	}
	execSvc := executor.New(ec, nil, log.With(logx.String("comp", "executor")), bus)
	notifSvc := notifier.New(mapNotifierConfig(cfg), log.With(logx.String("comp", "notifier")), bus)
	eng := engine.New(execSvc, notifSvc,
		engine.WithLogger(log.With(logx.String("comp", "engine"))),
		engine.WithBus(bus),
	)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		exec:    execSvc,
		notif:   notifSvc,
		engine:  eng,
	}

	ac, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.admin = admin.New(ac, a, log.With(logx.String("comp", "admin")))
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.exec.Start(a.sup.Context())
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.store != nil {
		a.startAudit()
	}

	cfg := a.cfgm.Get()
	a.startEngine(cfg)

	if err := a.admin.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("admin: %w", err)
	}

	a.startEventLog()
	a.startReloadLoop()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status(fmt.Sprintf("%d entries scheduled", len(a.engine.EntryIDs())))
	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.String("executor", a.exec.Mode()),
		logx.Bool("webhook", a.notif.Enabled()),
	)
	return nil
}

// startEngine builds entries from cfg and (re)starts the engine. Invalid
// rules and entries are logged and skipped.
func (a *App) startEngine(cfg *config.Config) {
	loc, err := cfg.Location()
	if err != nil {
		a.log.Warn("invalid timezone; using UTC", logx.Err(err))
	}
	entries, errs := cfg.BuildEntries()
	for _, e := range errs {
		a.log.Warn("schedule entry skipped", logx.Err(e))
	}
	a.engine.Start(loc, entries)
}

// startEventLog logs bus events at debug level.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
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
}

// applyConfig applies a reloaded config. The engine always restarts with a
// fresh ledger, even when nothing changed.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	for _, s := range sections {
		switch s {
		case "executor", "storage":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))

	prevNotif := a.notif.Enabled()
	ncfg := mapNotifierConfig(newCfg)
	a.notif.Apply(ncfg)
	switch {
	case prevNotif && !ncfg.Enabled:
		a.log.Info("webhook disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prevNotif && ncfg.Enabled:
		a.log.Info("webhook enabled via config")
		a.notif.Start(ctx)
	}

	if ac, err := mapAdminConfig(newCfg); err != nil {
		a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
	} else {
		a.admin.Reconfigure(ctx, ac)
	}

	a.startEngine(newCfg)

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step bounds one shutdown step so a single component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Engine first so no new work is dispatched while the sinks wind down.
	step("engine", time.Second, func(context.Context) error { a.engine.Stop(); return nil })
	step("admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("executor", 3*time.Second, func(c context.Context) error { a.exec.Stop(c); return nil })
	step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	// Supervised loops (audit included) must exit before the store closes.
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// ---- admin.Backend ----

// Reload re-reads the config file and publishes it even when unchanged, so
// the engine restarts with a cleared ledger.
func (a *App) Reload(ctx context.Context) error {
	_, err := a.cfgm.Reload(ctx, true)
	return err
}

func (a *App) TriggerNow(id string) bool { return a.engine.TriggerNow(id) }

func (a *App) EntryIDs() []string { return a.engine.EntryIDs() }

func (a *App) RecentFirings(ctx context.Context, limit int) ([]storage.FiringRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentFirings(ctx, limit)
}

// Status aggregates the component snapshots served by GET /status.
type Status struct {
	Engine      engine.Snapshot           `json:"engine"`
	Executor    executor.Snapshot         `json:"executor"`
	Webhook     []notifier.HistoryItem    `json:"webhook"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors"`
	BusDropped  uint64                    `json:"bus_dropped"`
	// Problems holds the latest warn and error log entries.
	Problems []json.RawMessage `json:"problems"`
}

func (a *App) Status() any {
	st := Status{
		Engine:      a.engine.Snapshot(),
		Executor:    a.exec.Snapshot(),
		Webhook:     a.notif.History(),
		Supervisors: map[string]rtsup.Snapshot{},
		BusDropped:  a.bus.Dropped(),
		Problems:    a.logs.Recent(),
	}
	if a.sup != nil {
		st.Supervisors["app"] = a.sup.Snapshot()
	}
	if sup := a.notif.Supervisor(); sup != nil {
		st.Supervisors["webhook"] = sup.Snapshot()
	}
	if sup := a.exec.Supervisor(); sup != nil {
		st.Supervisors["executor"] = sup.Snapshot()
	}
	return st
}
