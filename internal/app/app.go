// Package app wires the process together: config, logging, storage, the
// repost engine, the Telegram adapter, tenant notices and the janitor. It
// owns the start/stop order and applies safe config changes live.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"reposter/internal/adapters/telegram"
	"reposter/internal/config"
	"reposter/internal/engine"
	"reposter/internal/eventbus"
	"reposter/internal/janitor"
	"reposter/internal/notify"
	"reposter/internal/store"
	"reposter/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	bus     eventbus.Bus
	store   store.Store
	eng     *engine.Engine
	adapter *telegram.Adapter
	notif   *notify.Service
	jan     *janitor.Service

	runCancel context.CancelFunc
	bg        []chan struct{} // background loop done markers
}

// loadConfig parses and validates the boot config, and arms the manager's
// reload validator so hot reloads face the same checks.
func loadConfig(path string) (*config.Manager, *config.Config, error) {
	cfgm := config.NewManager(path)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return cfgm, cfg, nil
}

func New(cfgPath string) (*App, error) {
	cfgm, cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	storeCfg, err := mapStoreConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	st, err := store.Open(storeCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	eng := engine.New(engCfg, st, ad, bus, log.With(logx.String("comp", "engine")))
	ad.Bind(eng)

	notif := notify.New(notify.Config{RatePerMinute: cfg.Notify.RatePerMinute},
		ad, bus, log.With(logx.String("comp", "notify")))

	jan := janitor.New(janitor.Config{Sweep: cfg.Janitor.Sweep, Stats: cfg.Janitor.Stats},
		eng, log.With(logx.String("comp", "janitor")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   st,
		eng:     eng,
		adapter: ad,
		notif:   notif,
		jan:     jan,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := a.eng.Start(runCtx); err != nil {
		cancel()
		return err
	}
	a.notif.Start(runCtx)
	if err := a.jan.Start(); err != nil {
		cancel()
		return err
	}

	a.spawn(func(done chan struct{}) {
		defer close(done)
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("config watch stopped", logx.Err(err))
		}
	})
	a.spawn(func(done chan struct{}) {
		defer close(done)
		a.applyLoop(runCtx)
	})
	a.spawn(func(done chan struct{}) {
		defer close(done)
		watchdogLoop(runCtx, a.log)
	})

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify skipped", logx.Err(err))
	}
	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.runCancel != nil {
		a.runCancel()
	}
	a.jan.Stop()
	a.notif.Stop()

	var firstErr error
	if err := a.eng.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.adapter.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	for _, done := range a.bg {
		select {
		case <-done:
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
		}
	}

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return firstErr
}

func (a *App) spawn(fn func(done chan struct{})) {
	done := make(chan struct{})
	a.bg = append(a.bg, done)
	go fn(done)
}

// applyLoop applies the safe subset of a reloaded config in place: log
// level/sinks and the notice rate. Engine knobs and the bot token need a
// restart and are logged as such.
func (a *App) applyLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(mapLoggingConfig(cfg))
			a.notif.Apply(notify.Config{RatePerMinute: cfg.Notify.RatePerMinute})
			a.log.Info("config applied",
				logx.String("level", cfg.Logging.Level),
				logx.Int("notify_rate", cfg.Notify.RatePerMinute))
		}
	}
}

// watchdogLoop pings the systemd watchdog at half the configured interval.
// Outside systemd (or without WatchdogSec) it exits immediately.
func watchdogLoop(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
