// Package observe provides the observability primitives for voicepool:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping via [InitProvider]. Tests should build their own
// [Metrics] with [NewMetrics] and a [sdkmetric.ManualReader]-backed provider to
// avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicepool metrics.
const meterName = "github.com/MrWong99/voicepool"

// Acquisition outcomes used as the "outcome" attribute of
// [Metrics.Acquisitions].
const (
	OutcomeFree    = "free"
	OutcomeEvicted = "evicted"
	OutcomeRefused = "refused"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Pool ---

	// Acquisitions counts acquisition attempts. Use with attribute:
	//   attribute.String("outcome", OutcomeFree|OutcomeEvicted|OutcomeRefused)
	Acquisitions metric.Int64Counter

	// Frees counts voluntary frees.
	Frees metric.Int64Counter

	// NotificationsDelivered counts eviction callbacks that ran to completion.
	NotificationsDelivered metric.Int64Counter

	// ActiveVoices tracks the number of acquired voices.
	ActiveVoices metric.Int64UpDownCounter

	// AcquiredPriority records the priority of successful acquisitions.
	AcquiredPriority metric.Int64Histogram

	// --- Render ---

	// RenderDuration tracks the wall time of one render pass.
	RenderDuration metric.Float64Histogram

	// VoicesRendered counts Playing voices visited by render passes.
	VoicesRendered metric.Int64Counter

	// VoicesEnded counts voices that stopped at their end offset.
	VoicesEnded metric.Int64Counter

	// RenderOverruns counts passes that took longer than their interval.
	RenderOverruns metric.Int64Counter

	// --- Event feed ---

	// FeedSubscribers tracks connected event feed clients.
	FeedSubscribers metric.Int64UpDownCounter

	// FeedDropped counts events dropped for slow subscribers.
	FeedDropped metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// renderBuckets are histogram boundaries (in seconds) around typical
// millisecond-scale render periods.
var renderBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.003, 0.005, 0.01, 0.025,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Pool.
	if met.Acquisitions, err = m.Int64Counter("voicepool.acquisitions",
		metric.WithDescription("Voice acquisition attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Frees, err = m.Int64Counter("voicepool.frees",
		metric.WithDescription("Voices returned to the pool by their owner."),
	); err != nil {
		return nil, err
	}
	if met.NotificationsDelivered, err = m.Int64Counter("voicepool.notifications.delivered",
		metric.WithDescription("Eviction notifications delivered to dispossessed owners."),
	); err != nil {
		return nil, err
	}
	if met.ActiveVoices, err = m.Int64UpDownCounter("voicepool.active_voices",
		metric.WithDescription("Number of acquired voices."),
	); err != nil {
		return nil, err
	}
	if met.AcquiredPriority, err = m.Int64Histogram("voicepool.acquired_priority",
		metric.WithDescription("Priority of successful acquisitions."),
	); err != nil {
		return nil, err
	}

	// Render.
	if met.RenderDuration, err = m.Float64Histogram("voicepool.render.duration",
		metric.WithDescription("Wall time of one render pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(renderBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VoicesRendered, err = m.Int64Counter("voicepool.render.voices",
		metric.WithDescription("Playing voices visited by render passes."),
	); err != nil {
		return nil, err
	}
	if met.VoicesEnded, err = m.Int64Counter("voicepool.render.ended",
		metric.WithDescription("Voices that stopped at their end offset."),
	); err != nil {
		return nil, err
	}
	if met.RenderOverruns, err = m.Int64Counter("voicepool.render.overruns",
		metric.WithDescription("Render passes that exceeded their interval."),
	); err != nil {
		return nil, err
	}

	// Event feed.
	if met.FeedSubscribers, err = m.Int64UpDownCounter("voicepool.feed.subscribers",
		metric.WithDescription("Connected event feed clients."),
	); err != nil {
		return nil, err
	}
	if met.FeedDropped, err = m.Int64Counter("voicepool.feed.dropped",
		metric.WithDescription("Events dropped because a subscriber fell behind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicepool.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordAcquisition records one acquisition attempt.
func (m *Metrics) RecordAcquisition(ctx context.Context, outcome string, priority uint32) {
	m.Acquisitions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == OutcomeRefused {
		return
	}
	m.AcquiredPriority.Record(ctx, int64(priority))
	if outcome == OutcomeFree {
		m.ActiveVoices.Add(ctx, 1)
	}
}

// RecordFree records a voluntary free.
func (m *Metrics) RecordFree(ctx context.Context) {
	m.Frees.Add(ctx, 1)
	m.ActiveVoices.Add(ctx, -1)
}

// RecordRenderPass records the outcome of one render pass.
func (m *Metrics) RecordRenderPass(ctx context.Context, seconds float64, rendered, ended int, overrun bool) {
	m.RenderDuration.Record(ctx, seconds)
	if rendered > 0 {
		m.VoicesRendered.Add(ctx, int64(rendered))
	}
	if ended > 0 {
		m.VoicesEnded.Add(ctx, int64(ended))
	}
	if overrun {
		m.RenderOverruns.Add(ctx, 1)
	}
}
