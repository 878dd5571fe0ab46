package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`

	// Engine controls the repost pipeline knobs.
	// All durations are Go duration strings (e.g. "1s", "5m").
	Engine EngineConfig `json:"engine"`

	Notify  NotifyConfig  `json:"notify,omitempty"`
	Janitor JanitorConfig `json:"janitor,omitempty"`
}

type TelegramConfig struct {
	// Token is the tenant-facing bot token (notices + flat commands).
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"`
	File    struct {
		Enabled bool   `json:"enabled,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "memory"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// EngineConfig mirrors engine.Config with wire-friendly types.
//
// Defaults (when fields are omitted/zero):
//   - album_window: "1s"
//   - backfill_settle: "5s"
//   - dedup_capacity: 500
//   - retry_max: 3
//   - flood_wait_cap: "5m"
//   - warn_threshold: 3
//   - disable_threshold: 5
//   - max_rules_per_tenant: 10
//   - bundle_max_age: "24h"
type EngineConfig struct {
	AlbumWindow       string `json:"album_window,omitempty"`
	BackfillSettle    string `json:"backfill_settle,omitempty"`
	DedupCapacity     int    `json:"dedup_capacity,omitempty"`
	RetryMax          int    `json:"retry_max,omitempty"`
	FloodWaitCap      string `json:"flood_wait_cap,omitempty"`
	WarnThreshold     int    `json:"warn_threshold,omitempty"`
	DisableThreshold  int    `json:"disable_threshold,omitempty"`
	MaxRulesPerTenant int    `json:"max_rules_per_tenant,omitempty"`
	BundleMaxAge      string `json:"bundle_max_age,omitempty"`
}

type NotifyConfig struct {
	// RatePerMinute caps tenant notices per tenant. Default 20.
	RatePerMinute int `json:"rate_per_minute,omitempty"`
}

type JanitorConfig struct {
	// Sweep and Stats are cron specs ("@every 1m", "0 * * * *").
	Sweep string `json:"sweep,omitempty"`
	Stats string `json:"stats,omitempty"`
}

func (c *LoggingConfig) ConsoleEnabled() bool {
	if c.Console == nil {
		return true
	}
	return *c.Console
}

// ParseDurationField parses a duration string from config, rejecting
// negatives. Empty input yields 0 so callers can apply defaults.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// omitted/zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
