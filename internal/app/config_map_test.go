package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"reposter/internal/config"
)

func TestMapEngineConfigDefaults(t *testing.T) {
	t.Parallel()
	got, err := mapEngineConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapEngineConfig: %v", err)
	}
	if got.AlbumWindow != time.Second {
		t.Fatalf("album window default = %s", got.AlbumWindow)
	}
	if got.FloodWaitCap != 5*time.Minute {
		t.Fatalf("flood wait cap default = %s", got.FloodWaitCap)
	}
	if got.BundleMaxAge != 24*time.Hour {
		t.Fatalf("bundle max age default = %s", got.BundleMaxAge)
	}
}

func TestLoadConfigValidatesBoot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		return path
	}

	bad := write("bad.json",
		`{"telegram":{"token":"x"},"engine":{"warn_threshold":5,"disable_threshold":3}}`)
	if _, _, err := loadConfig(bad); err == nil {
		t.Fatal("boot accepted a config the reload validator rejects")
	}

	good := write("good.json", `{"telegram":{"token":"x"}}`)
	_, cfg, err := loadConfig(good)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Telegram.Token != "x" {
		t.Fatalf("loaded token = %q", cfg.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "empty is fine", mutate: func(*config.Config) {}},
		{name: "bad duration", mutate: func(c *config.Config) { c.Engine.AlbumWindow = "soon" }, wantErr: true},
		{name: "negative count", mutate: func(c *config.Config) { c.Engine.RetryMax = -1 }, wantErr: true},
		{name: "warn above disable", mutate: func(c *config.Config) {
			c.Engine.WarnThreshold = 5
			c.Engine.DisableThreshold = 3
		}, wantErr: true},
		{name: "explicit thresholds", mutate: func(c *config.Config) {
			c.Engine.WarnThreshold = 2
			c.Engine.DisableThreshold = 4
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{}
			tc.mutate(cfg)
			err := validate(cfg)
			if tc.wantErr && err == nil {
				t.Fatal("validate accepted a bad config")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("validate: %v", err)
			}
		})
	}
}
