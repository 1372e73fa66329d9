// Package config provides the configuration schema, loader, and file watcher
// for the voicepool server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voicepool/pkg/voice"
)

// LogLevel controls log verbosity for the voicepool server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l into an [slog.Level]. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TieBreak selects what happens when an acquisition meets an incumbent of
// equal priority on a full pool.
type TieBreak string

const (
	// TieBreakRefuse leaves the incumbent in place.
	TieBreakRefuse TieBreak = "refuse"

	// TieBreakEvict evicts the oldest incumbent of equal priority.
	TieBreakEvict TieBreak = "evict"
)

// IsValid reports whether t is a recognised policy.
func (t TieBreak) IsValid() bool {
	return t == TieBreakRefuse || t == TieBreakEvict
}

// Policy converts t into the pool's [voice.TieBreak].
func (t TieBreak) Policy() voice.TieBreak {
	if t == TieBreakEvict {
		return voice.EvictOnEqual
	}
	return voice.RefuseOnEqual
}

// NotifyMode selects which goroutine delivers eviction notifications.
type NotifyMode string

const (
	// NotifyAsync delivers from a dedicated dispatcher goroutine.
	NotifyAsync NotifyMode = "async"

	// NotifyRender delivers after every render pass.
	NotifyRender NotifyMode = "render"
)

// IsValid reports whether m is a recognised mode.
func (m NotifyMode) IsValid() bool {
	return m == NotifyAsync || m == NotifyRender
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultMaxVoices     = 96
	DefaultRenderPeriod  = 3 * time.Millisecond
	DefaultFramesPerPass = 96
	DefaultMaxSrcRatio   = 8
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Pool   PoolConfig   `yaml:"pool"`
	Render RenderConfig `yaml:"render"`
	Notify NotifyConfig `yaml:"notify"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP control plane (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// PoolConfig sizes the voice pool and sets its policies.
type PoolConfig struct {
	// MaxVoices is the fixed number of voices. Changing it requires a restart.
	MaxVoices uint32 `yaml:"max_voices"`

	// TieBreak is the equal-priority eviction policy.
	TieBreak TieBreak `yaml:"tie_break"`

	// SrcRatio bounds the per-voice sample-rate conversion ratio.
	SrcRatio RatioConfig `yaml:"src_ratio"`
}

// RatioConfig is the accepted ratio range: Min exclusive, Max inclusive.
type RatioConfig struct {
	Min float32 `yaml:"min"`
	Max float32 `yaml:"max"`
}

// Bounds converts r into [voice.RatioBounds].
func (r RatioConfig) Bounds() voice.RatioBounds {
	return voice.RatioBounds{Min: r.Min, Max: r.Max}
}

// RenderConfig drives the periodic render pass.
type RenderConfig struct {
	// Interval is the period between passes (e.g., "3ms").
	Interval time.Duration `yaml:"interval"`

	// FramesPerPass is the number of output frames produced per pass. Each
	// Playing voice advances by FramesPerPass × its ratio.
	FramesPerPass uint32 `yaml:"frames_per_pass"`
}

// NotifyConfig controls eviction notification delivery.
type NotifyConfig struct {
	Mode NotifyMode `yaml:"mode"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Pool.MaxVoices == 0 {
		cfg.Pool.MaxVoices = DefaultMaxVoices
	}
	if cfg.Pool.TieBreak == "" {
		cfg.Pool.TieBreak = TieBreakRefuse
	}
	if cfg.Pool.SrcRatio.Max == 0 {
		cfg.Pool.SrcRatio.Max = DefaultMaxSrcRatio
	}
	if cfg.Render.Interval == 0 {
		cfg.Render.Interval = DefaultRenderPeriod
	}
	if cfg.Render.FramesPerPass == 0 {
		cfg.Render.FramesPerPass = DefaultFramesPerPass
	}
	if cfg.Notify.Mode == "" {
		cfg.Notify.Mode = NotifyAsync
	}
}
