package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicepool/pkg/voice"
)

// minRenderInterval is the shortest render period accepted by [Validate].
const minRenderInterval = 500 * time.Microsecond

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Pool
	if cfg.Pool.MaxVoices > voice.MaxCapacity {
		errs = append(errs, fmt.Errorf("pool.max_voices %d exceeds the maximum of %d", cfg.Pool.MaxVoices, voice.MaxCapacity))
	}
	if cfg.Pool.TieBreak != "" && !cfg.Pool.TieBreak.IsValid() {
		errs = append(errs, fmt.Errorf("pool.tie_break %q is invalid; valid values: refuse, evict", cfg.Pool.TieBreak))
	}
	if r := cfg.Pool.SrcRatio; !r.Bounds().Valid() {
		errs = append(errs, fmt.Errorf("pool.src_ratio (%g, %g] is empty, negative or not finite", r.Min, r.Max))
	}
	if cfg.Pool.SrcRatio.Min > 1 || cfg.Pool.SrcRatio.Max < 1 {
		slog.Warn("pool.src_ratio excludes 1.0; freshly acquired voices start outside the accepted range",
			"min", cfg.Pool.SrcRatio.Min,
			"max", cfg.Pool.SrcRatio.Max,
		)
	}

	// Render
	if cfg.Render.Interval != 0 && cfg.Render.Interval < minRenderInterval {
		errs = append(errs, fmt.Errorf("render.interval %s is below the minimum of %s", cfg.Render.Interval, minRenderInterval))
	}

	// Notify
	if cfg.Notify.Mode != "" && !cfg.Notify.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("notify.mode %q is invalid; valid values: async, render", cfg.Notify.Mode))
	}

	return errors.Join(errs...)
}
