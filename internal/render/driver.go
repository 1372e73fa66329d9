// Package render drives periodic render passes over a [voice.Pool].
//
// Each pass visits every Playing voice, hands it to an optional [Mixer], and
// advances its playback position by round(frames × srcRatio) samples. In
// "render" notify mode the driver also drains the pool's eviction notifier
// after each pass, so owner callbacks run on the render goroutine.
package render

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voicepool/internal/observe"
	"github.com/MrWong99/voicepool/pkg/voice"
)

const (
	defaultInterval      = 3 * time.Millisecond
	defaultFramesPerPass = 96

	// overrunLogEvery limits how often slow passes are logged.
	overrunLogEvery = time.Second
)

// Mixer consumes voice state during a render pass. MixVoice runs while the
// voice's lock is held and must not call back into the pool.
type Mixer interface {
	BeginPass(frames uint32)
	MixVoice(v voice.View, frames uint32)
	EndPass()
}

// Config configures a [Driver].
type Config struct {
	// Interval is the period between passes. Defaults to 3ms.
	Interval time.Duration

	// FramesPerPass is the number of output frames produced per pass.
	// Defaults to 96.
	FramesPerPass uint32

	// DrainNotifier delivers pending eviction notifications after each pass.
	DrainNotifier bool

	Mixer   Mixer
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Driver runs render passes on a fixed period. Pass and Run may be used
// concurrently; passes are serialised.
type Driver struct {
	pool *voice.Pool
	cfg  Config
	log  *slog.Logger

	passMu      sync.Mutex
	overruns    int
	lastOverrun time.Time

	lastPass atomic.Int64 // unix nanos of the last completed pass
	passes   atomic.Uint64
}

// New creates a [Driver] for pool.
func New(pool *voice.Pool, cfg Config) *Driver {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.FramesPerPass == 0 {
		cfg.FramesPerPass = defaultFramesPerPass
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Driver{pool: pool, cfg: cfg, log: log}
}

// Run executes passes until ctx is cancelled. It returns nil on cancellation.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.log.Info("render driver started",
		"interval", d.cfg.Interval,
		"frames_per_pass", d.cfg.FramesPerPass,
		"drain_notifier", d.cfg.DrainNotifier,
	)
	for {
		select {
		case <-ctx.Done():
			d.log.Info("render driver stopped", "passes", d.passes.Load())
			return nil
		case <-ticker.C:
			d.Pass(ctx)
		}
	}
}

// Pass runs one render pass immediately and returns its statistics.
func (d *Driver) Pass(ctx context.Context) voice.RenderStats {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	ctx, span := observe.StartSpan(ctx, "render.pass")
	defer span.End()

	frames := d.cfg.FramesPerPass
	start := time.Now()

	if d.cfg.Mixer != nil {
		d.cfg.Mixer.BeginPass(frames)
	}
	stats := d.pool.Render(func(v voice.View) uint32 {
		if d.cfg.Mixer != nil {
			d.cfg.Mixer.MixVoice(v, frames)
		}
		return v.Step(frames)
	})
	if d.cfg.Mixer != nil {
		d.cfg.Mixer.EndPass()
	}

	delivered := 0
	if d.cfg.DrainNotifier {
		delivered = d.pool.Notifier().Drain()
	}

	elapsed := time.Since(start)
	overrun := elapsed > d.cfg.Interval
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.RecordRenderPass(ctx, elapsed.Seconds(), stats.Rendered, stats.Stopped, overrun)
	}
	span.SetAttributes(
		attribute.Int("voices.rendered", stats.Rendered),
		attribute.Int("voices.ended", stats.Stopped),
		attribute.Int("notifications.delivered", delivered),
	)
	if overrun {
		d.noteOverrun(ctx, start, elapsed)
	}

	d.passes.Add(1)
	d.lastPass.Store(time.Now().UnixNano())
	return stats
}

// noteOverrun logs slow passes at most once per overrunLogEvery. Must be
// called with d.passMu held.
func (d *Driver) noteOverrun(ctx context.Context, now time.Time, elapsed time.Duration) {
	d.overruns++
	if now.Sub(d.lastOverrun) < overrunLogEvery {
		return
	}
	observe.Logger(ctx, d.log).Warn("render pass overran its interval",
		"elapsed", elapsed,
		"interval", d.cfg.Interval,
		"overruns", d.overruns,
	)
	d.overruns = 0
	d.lastOverrun = now
}

// LastPass returns when the most recent pass completed, or the zero time if
// none has.
func (d *Driver) LastPass() time.Time {
	n := d.lastPass.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Passes returns the number of completed passes.
func (d *Driver) Passes() uint64 {
	return d.passes.Load()
}

// Interval returns the configured pass period.
func (d *Driver) Interval() time.Duration {
	return d.cfg.Interval
}
