package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicepool/internal/config"
	"github.com/MrWong99/voicepool/pkg/voice"
)

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: "127.0.0.1:9000"
  log_level: debug
pool:
  max_voices: 32
  tie_break: evict
  src_ratio:
    min: 0.25
    max: 4
render:
  interval: 5ms
  frames_per_pass: 160
notify:
  mode: render
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Pool.MaxVoices != 32 {
		t.Errorf("max_voices: got %d, want 32", cfg.Pool.MaxVoices)
	}
	if cfg.Pool.TieBreak.Policy() != voice.EvictOnEqual {
		t.Errorf("tie_break: got %q", cfg.Pool.TieBreak)
	}
	if want := (voice.RatioBounds{Min: 0.25, Max: 4}); cfg.Pool.SrcRatio.Bounds() != want {
		t.Errorf("src_ratio: got %+v, want %+v", cfg.Pool.SrcRatio.Bounds(), want)
	}
	if cfg.Render.Interval != 5*time.Millisecond {
		t.Errorf("render.interval: got %s", cfg.Render.Interval)
	}
	if cfg.Render.FramesPerPass != 160 {
		t.Errorf("frames_per_pass: got %d", cfg.Render.FramesPerPass)
	}
	if cfg.Notify.Mode != config.NotifyRender {
		t.Errorf("notify.mode: got %q", cfg.Notify.Mode)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{"", "server:\n  log_level: warn\n"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("LoadFromReader(%q): %v", doc, err)
		}
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
		}
		if cfg.Pool.MaxVoices != config.DefaultMaxVoices {
			t.Errorf("max_voices: got %d", cfg.Pool.MaxVoices)
		}
		if cfg.Pool.TieBreak != config.TieBreakRefuse {
			t.Errorf("tie_break: got %q", cfg.Pool.TieBreak)
		}
		if cfg.Pool.SrcRatio.Max != config.DefaultMaxSrcRatio {
			t.Errorf("src_ratio.max: got %g", cfg.Pool.SrcRatio.Max)
		}
		if cfg.Render.Interval != config.DefaultRenderPeriod {
			t.Errorf("render.interval: got %s", cfg.Render.Interval)
		}
		if cfg.Notify.Mode != config.NotifyAsync {
			t.Errorf("notify.mode: got %q", cfg.Notify.Mode)
		}
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"bad tie break", "pool:\n  tie_break: coin_flip\n", "pool.tie_break"},
		{"too many voices", "pool:\n  max_voices: 100000\n", "pool.max_voices"},
		{"inverted ratio", "pool:\n  src_ratio:\n    min: 2\n    max: 1\n", "pool.src_ratio"},
		{"negative ratio", "pool:\n  src_ratio:\n    min: -1\n", "pool.src_ratio"},
		{"nan ratio min", "pool:\n  src_ratio:\n    min: .nan\n    max: 8\n", "pool.src_ratio"},
		{"nan ratio max", "pool:\n  src_ratio:\n    max: .nan\n", "pool.src_ratio"},
		{"infinite ratio", "pool:\n  src_ratio:\n    max: .inf\n", "pool.src_ratio"},
		{"render too fast", "render:\n  interval: 10us\n", "render.interval"},
		{"bad notify mode", "notify:\n  mode: carrier_pigeon\n", "notify.mode"},
		{"unknown field", "pool:\n  voices: 3\n", "voices"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
pool:
  tie_break: maybe
notify:
  mode: never
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "pool.tie_break", "notify.mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error misses %q: %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voicepool.yaml")
	if err := os.WriteFile(path, []byte("pool:\n  max_voices: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MaxVoices != 4 {
		t.Errorf("max_voices: got %d, want 4", cfg.Pool.MaxVoices)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: got %v", err)
	}
}
