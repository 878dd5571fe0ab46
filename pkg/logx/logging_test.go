package logx

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nope", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Fatalf("parseLevel(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	t.Parallel()
	log := Nop()
	if log.IsZero() {
		t.Fatal("Nop must not be the zero Logger")
	}
	log.With(String("comp", "test"), Err(errors.New("x"))).Info("discarded")
}

func TestFileSinkWritesJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{
		Level:   "debug",
		Console: false,
		File:    FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.Info("hello", String("k", "v"), Int("n", 3))
	log.Trace("below level, dropped")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	got := string(b)
	if !strings.Contains(got, `"message":"hello"`) || !strings.Contains(got, `"k":"v"`) {
		t.Fatalf("file sink content: %s", got)
	}
	if strings.Contains(got, "below level") {
		t.Fatal("trace line written despite debug level")
	}
}

func TestApplySwapsLevelLive(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "error", Console: false, File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Info("hidden")
	svc.Apply(Config{Level: "info", Console: false, File: FileConfig{Enabled: true, Path: path}})
	log.Info("visible")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	if strings.Contains(got, "hidden") {
		t.Fatal("line below level leaked")
	}
	if !strings.Contains(got, "visible") {
		t.Fatalf("line after Apply missing: %s", got)
	}
}
