package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{
		"telegram": {"token": "123:abc", "poll_timeout": "15s"},
		"engine": {"album_window": "2s", "dedup_capacity": 100},
		"notify": {"rate_per_minute": 5}
	}`)
	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Engine.DedupCapacity != 100 || cfg.Notify.RatePerMinute != 5 {
		t.Fatalf("parsed %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadYAMLCoercion(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
engine:
  album_window: 500ms
  retry_max: 2
storage:
  driver: memory
`)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Engine.AlbumWindow != "500ms" || cfg.Engine.RetryMax != 2 || cfg.Storage.Driver != "memory" {
		t.Fatalf("parsed %+v", cfg)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"telegram": {"tokn": "typo"}}`)
	if _, err := NewManager(p).Load(); err == nil {
		t.Fatal("misspelled field accepted")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"telegram": {"token": "a"}} {"extra": true}`)
	if _, err := NewManager(p).Load(); err == nil {
		t.Fatal("trailing JSON accepted")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "1s", want: time.Second},
		{raw: " 5m ", want: 5 * time.Minute},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if tc.wantErr != (err != nil) {
			t.Fatalf("ParseDurationField(%q): err = %v", tc.raw, err)
		}
		if err == nil && got != tc.want {
			t.Fatalf("ParseDurationField(%q) = %s", tc.raw, got)
		}
	}

	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default not applied: %s %v", d, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := NewManager(filepath.Join(t.TempDir(), "absent.json")).Load()
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want ErrNotExist, got %v", err)
	}
}
