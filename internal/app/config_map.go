package app

import (
	"fmt"
	"time"

	"reposter/internal/config"
	"reposter/internal/engine"
	"reposter/internal/store"
	"reposter/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return store.Config{}, err
	}
	path := cfg.Storage.Path
	if path == "" {
		path = "./reposter.db"
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	album, err := config.ParseDurationOrDefault("engine.album_window", cfg.Engine.AlbumWindow, time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	settle, err := config.ParseDurationOrDefault("engine.backfill_settle", cfg.Engine.BackfillSettle, 5*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	floodCap, err := config.ParseDurationOrDefault("engine.flood_wait_cap", cfg.Engine.FloodWaitCap, 5*time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	maxAge, err := config.ParseDurationOrDefault("engine.bundle_max_age", cfg.Engine.BundleMaxAge, 24*time.Hour)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		AlbumWindow:       album,
		BackfillSettle:    settle,
		DedupCapacity:     cfg.Engine.DedupCapacity,
		RetryMax:          cfg.Engine.RetryMax,
		FloodWaitCap:      floodCap,
		WarnThreshold:     cfg.Engine.WarnThreshold,
		DisableThreshold:  cfg.Engine.DisableThreshold,
		MaxRulesPerTenant: cfg.Engine.MaxRulesPerTenant,
		BundleMaxAge:      maxAge,
	}, nil
}

// validate rejects a config before it is committed or hot-reloaded.
func validate(cfg *config.Config) error {
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapStoreConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	for path, n := range map[string]int{
		"engine.dedup_capacity":       cfg.Engine.DedupCapacity,
		"engine.retry_max":            cfg.Engine.RetryMax,
		"engine.warn_threshold":       cfg.Engine.WarnThreshold,
		"engine.disable_threshold":    cfg.Engine.DisableThreshold,
		"engine.max_rules_per_tenant": cfg.Engine.MaxRulesPerTenant,
		"notify.rate_per_minute":      cfg.Notify.RatePerMinute,
	} {
		if n < 0 {
			return fmt.Errorf("%s must be >= 0", path)
		}
	}
	if cfg.Engine.WarnThreshold > 0 && cfg.Engine.DisableThreshold > 0 &&
		cfg.Engine.WarnThreshold >= cfg.Engine.DisableThreshold {
		return fmt.Errorf("engine.warn_threshold must be below engine.disable_threshold")
	}
	return nil
}
