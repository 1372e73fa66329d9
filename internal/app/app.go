// Package app wires the voicepool subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects the pool,
// render driver, event feed, and HTTP control plane; Run serves until its
// context is cancelled; Shutdown tears everything down in order.
//
// For testing, inject a logger, metrics, or a listener via functional options.
// [App.Handler] exposes the complete HTTP surface for use with httptest.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicepool/internal/api"
	"github.com/MrWong99/voicepool/internal/config"
	"github.com/MrWong99/voicepool/internal/eventfeed"
	"github.com/MrWong99/voicepool/internal/health"
	"github.com/MrWong99/voicepool/internal/observe"
	"github.com/MrWong99/voicepool/internal/render"
	"github.com/MrWong99/voicepool/pkg/voice"
)

const (
	// minRenderStaleness is the lower bound of how long the render driver
	// may go without a pass before /readyz fails.
	minRenderStaleness = 500 * time.Millisecond

	readHeaderTimeout = 5 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	configPath string
	watchOpts  []config.WatcherOption
	log        *slog.Logger
	level      *slog.LevelVar
	metrics    *observe.Metrics
	metricsH   http.Handler
	listener   net.Listener

	// Subsystems, initialised in New and torn down in Shutdown.
	pool    *voice.Pool
	meter   *render.Meter
	driver  *render.Driver
	hub     *eventfeed.Hub
	api     *api.Server
	health  *health.Handler
	handler http.Handler
	server  *http.Server
	watcher *config.Watcher

	mu   sync.Mutex
	addr net.Addr

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the application logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics injects the metric instruments. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithConfigPath enables hot reload by watching path while Run is active.
func WithConfigPath(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.configPath = path
		a.watchOpts = opts
	}
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing runs until
// [App.Run] is called.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Event feed ────────────────────────────────────────────────────
	a.hub = eventfeed.NewHub(
		eventfeed.WithLogger(a.log),
		eventfeed.WithMetrics(a.metrics),
	)

	// ── 2. Pool ──────────────────────────────────────────────────────────
	notifier := voice.NewNotifier(
		voice.WithNotifierLogger(a.log),
		voice.OnDelivered(func(voice.Eviction) {
			a.metrics.NotificationsDelivered.Add(context.Background(), 1)
		}),
	)
	pool, err := voice.New(cfg.Pool.MaxVoices,
		voice.WithTieBreak(cfg.Pool.TieBreak.Policy()),
		voice.WithRatioBounds(cfg.Pool.SrcRatio.Bounds()),
		voice.WithLogger(a.log),
		voice.WithNotifier(notifier),
		voice.WithHooks(a.hooks()),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init pool: %w", err)
	}
	a.pool = pool

	// ── 3. Render driver ─────────────────────────────────────────────────
	a.meter = render.NewMeter()
	a.driver = render.New(pool, render.Config{
		Interval:      cfg.Render.Interval,
		FramesPerPass: cfg.Render.FramesPerPass,
		DrainNotifier: cfg.Notify.Mode == config.NotifyRender,
		Mixer:         a.meter,
		Metrics:       a.metrics,
		Logger:        a.log,
	})

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.api = api.New(pool,
		api.WithPublisher(a.hub),
		api.WithLevels(a.meter),
		api.WithLogger(a.log),
	)
	a.health = health.New(
		health.Invariants("pool", pool.Check),
		health.Freshness("render", a.driver.LastPass, renderStaleness(a.driver.Interval())),
	)

	mux := http.NewServeMux()
	a.health.Register(mux)
	a.api.Register(mux)
	mux.Handle("GET /events", a.hub)
	if a.metricsH != nil {
		mux.Handle("GET /metrics", a.metricsH)
	}
	a.handler = observe.Middleware(a.metrics, a.log)(mux)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return a, nil
}

// renderStaleness returns how long the driver may be silent before the
// render readiness check fails.
func renderStaleness(interval time.Duration) time.Duration {
	return max(50*interval, minRenderStaleness)
}

// hooks translates pool activity into metrics and feed events.
func (a *App) hooks() voice.Hooks {
	ctx := context.Background()
	return voice.Hooks{
		Acquired: func(h voice.Handle, priority uint32, evicted bool) {
			outcome := observe.OutcomeFree
			if evicted {
				outcome = observe.OutcomeEvicted
			}
			a.metrics.RecordAcquisition(ctx, outcome, priority)
			a.hub.Publish(eventfeed.Event{Kind: eventfeed.KindAcquired, Voice: h.String(), Priority: priority})
		},
		Evicted: func(ev voice.Eviction, by voice.Handle) {
			a.hub.Publish(eventfeed.Event{
				Kind:     eventfeed.KindEvicted,
				Voice:    ev.Voice.String(),
				Priority: ev.Priority,
				Owner:    api.OwnerOf(ev.Context),
				By:       by.String(),
				Aux:      ev.Aux,
			})
		},
		Refused: func(priority uint32) {
			a.metrics.RecordAcquisition(ctx, observe.OutcomeRefused, priority)
			a.hub.Publish(eventfeed.Event{Kind: eventfeed.KindRefused, Priority: priority})
		},
		Freed: func(h voice.Handle) {
			a.metrics.RecordFree(ctx)
			a.hub.Publish(eventfeed.Event{Kind: eventfeed.KindFreed, Voice: h.String()})
		},
		StateChanged: func(h voice.Handle, s voice.State) {
			a.hub.Publish(eventfeed.Event{Kind: eventfeed.KindState, Voice: h.String(), State: s.String()})
		},
	}
}

// Pool returns the application's voice pool.
func (a *App) Pool() *voice.Pool { return a.pool }

// Driver returns the render driver.
func (a *App) Driver() *render.Driver { return a.driver }

// Hub returns the event feed.
func (a *App) Hub() *eventfeed.Hub { return a.hub }

// Handler returns the complete HTTP handler, middleware included.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the address the server listens on, or nil before Run has
// bound it.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, drives render passes, and delivers eviction notifications
// until ctx is cancelled or one of them fails. It returns nil after a clean
// shutdown.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr); err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyReload, a.watchOpts...)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("app: watch config: %w", err)
		}
		a.mu.Lock()
		a.watcher = w
		a.mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.driver.Run(gctx)
	})
	if a.cfg.Notify.Mode == config.NotifyAsync {
		g.Go(func() error {
			if err := a.pool.Notifier().Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.mu.Lock()
		if a.watcher != nil {
			a.watcher.Stop()
		}
		a.mu.Unlock()
		sctx, cancel := context.WithTimeout(context.Background(), readHeaderTimeout)
		defer cancel()
		// Feed subscribers hold connections open; close them first so
		// Shutdown does not wait on them.
		a.hub.Close()
		return a.server.Shutdown(sctx)
	})

	a.log.Info("voicepool running",
		"addr", ln.Addr().String(),
		"max_voices", a.pool.MaxVoices(),
		"tie_break", a.pool.TieBreak(),
		"notify_mode", a.cfg.Notify.Mode,
	)
	return g.Wait()
}

// applyReload applies hot-reloadable settings and reports the rest.
func (a *App) applyReload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Level())
		}
		a.log.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.SrcRatioChanged {
		if err := a.pool.SetRatioBounds(d.NewSrcRatio.Bounds()); err != nil {
			a.log.Warn("config reload: src ratio bounds rejected", "err", err)
		} else {
			a.log.Info("config reload: src ratio bounds changed", "min", d.NewSrcRatio.Min, "max", d.NewSrcRatio.Max)
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config reload: some changes need a restart", "keys", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the config watcher, disconnects feed subscribers, stops the
// HTTP server, and delivers any notifications still queued. It respects the
// context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		a.mu.Lock()
		w := a.watcher
		a.mu.Unlock()
		if w != nil {
			w.Stop()
		}

		a.hub.Close()
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		if n := a.pool.Notifier().Drain(); n > 0 {
			a.log.Info("delivered pending eviction notifications", "count", n)
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
