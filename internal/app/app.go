package app

import (
	"context"
	"fmt"

	"crosspub/internal/alert"
	"crosspub/internal/archive"
	"crosspub/internal/config"
	"crosspub/internal/runtime/supervisor"
	"crosspub/pkg/eventbus"
	"crosspub/pkg/pubqueue"
	logx "crosspub/pkg/logx"
)

// App wires the config manager, queue engine, archive and alert services into
// one process. NewApp builds everything from the config file; Start launches
// the dispatcher, the config watcher and the reload loop.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus    eventbus.Bus
	engine *pubqueue.Engine
	arch   *archive.Service
	alerts *alert.Service

	sup *supervisor.Supervisor

	// recurIDs maps content-calendar names to engine definition ids so a
	// reload can reconcile the set.
	recurIDs map[string]string

	// lastCfg is the config most recently applied, kept for reload diffs.
	// The manager's Get() already holds the new one when updates arrive.
	lastCfg *config.Config
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validateMapping(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:     cfgm,
		logs:     logs,
		log:      log,
		bus:      eventbus.New(),
		recurIDs: make(map[string]string),
		lastCfg:  cfg,
	}

	acfg, err := mapArchiveConfig(cfg.Archive)
	if err != nil {
		return nil, err
	}
	store, err := archive.Open(acfg, log.With(logx.String("comp", "archive")))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if store != nil {
		a.arch = archive.NewService(store, log.With(logx.String("comp", "archive")))
	}

	ecfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	ecfg.Adapter = logAdapter{log: log.With(logx.String("comp", "publish"))}
	ecfg.Logger = log
	ecfg.Bus = a.bus
	if a.arch != nil {
		ecfg.Archiver = a.arch
	}
	engine, err := pubqueue.New(ecfg)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	a.engine = engine

	for _, def := range recurringDefs(cfg) {
		id, err := engine.AddRecurring(def)
		if err != nil {
			return nil, fmt.Errorf("recurring %q: %w", def.Name, err)
		}
		a.recurIDs[def.Name] = id
	}

	alcfg, err := mapAlertConfig(cfg.Alerts)
	if err != nil {
		return nil, err
	}
	if alcfg.Enabled {
		a.alerts, err = alert.New(alcfg, a.bus, engine.Statistics, log.With(logx.String("comp", "alert")))
		if err != nil {
			return nil, fmt.Errorf("alert channel: %w", err)
		}
	}

	return a, nil
}

// Engine exposes the queue engine for embedding callers.
func (a *App) Engine() *pubqueue.Engine { return a.engine }

// Start launches all services under a supervisor derived from ctx.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return validateMapping(cfg)
	})

	if a.arch != nil {
		a.arch.Start()
	}
	if a.alerts != nil {
		a.alerts.Start()
	}
	a.engine.Start(a.sup.Context())

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.reload", a.reloadLoop)

	a.log.Info("crosspub started",
		logx.Int("recurring", len(a.recurIDs)),
		logx.Bool("archive", a.arch != nil),
		logx.Bool("alerts", a.alerts != nil),
	)
	return nil
}

// reloadLoop applies validated config reloads to the running services.
func (a *App) reloadLoop(ctx context.Context) {
	updates := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(updates)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok || cfg == nil {
				return
			}
			a.applyConfig(cfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	sections, attrs, platforms := config.SummarizeConfigChange(a.lastCfg, cfg)
	a.lastCfg = cfg
	fields := append([]logx.Field{
		logx.Any("sections", sections),
		logx.Any("platforms", platforms),
	}, attrs...)
	a.log.Info("config reloaded", fields...)

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if policies, err := mapPolicies(cfg.Platforms); err == nil {
		a.engine.ApplyPolicies(policies)
	} else {
		a.log.Warn("platform policies not applied", logx.Err(err))
	}
	if cfg.Engine.Retention != nil {
		if ret, err := mapRetention(cfg.Engine.Retention); err == nil {
			a.engine.ApplyRetention(ret)
		} else {
			a.log.Warn("retention not applied", logx.Err(err))
		}
	}

	a.reconcileRecurring(cfg)

	if a.alerts != nil {
		if alcfg, err := mapAlertConfig(cfg.Alerts); err == nil {
			a.alerts.Apply(alcfg)
		} else {
			a.log.Warn("alerts not applied", logx.Err(err))
		}
	}
}

// reconcileRecurring replaces the registered content calendar with the
// config's. Validation already ran, so per-entry errors are logged and
// skipped rather than failing the reload.
func (a *App) reconcileRecurring(cfg *config.Config) {
	for name, id := range a.recurIDs {
		a.engine.RemoveRecurring(id)
		delete(a.recurIDs, name)
	}
	for _, def := range recurringDefs(cfg) {
		id, err := a.engine.AddRecurring(def)
		if err != nil {
			a.log.Warn("recurring skipped", logx.String("name", def.Name), logx.Err(err))
			continue
		}
		a.recurIDs[def.Name] = id
	}
}

// Stop shuts everything down in dependency order: dispatcher first so no new
// publishes start, then the event consumers, then the archive writer.
func (a *App) Stop(ctx context.Context) error {
	a.engine.Stop(ctx)
	if a.alerts != nil {
		a.alerts.Stop(ctx)
	}
	if a.arch != nil {
		a.arch.Stop(ctx)
	}

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if cerr := a.logs.Close(); err == nil {
		err = cerr
	}
	return err
}

// Done reports supervisor completion; nil before Start.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}
