package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

// sumByAttr returns the int64 sum data point whose attribute key equals val.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, val string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == val {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, val)
	return 0
}

func TestRecordAcquisition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAcquisition(ctx, OutcomeFree, 3)
	m.RecordAcquisition(ctx, OutcomeFree, 5)
	m.RecordAcquisition(ctx, OutcomeEvicted, 9)
	m.RecordAcquisition(ctx, OutcomeRefused, 1)
	m.RecordFree(ctx)

	rm := collect(t, reader)

	tests := []struct {
		outcome string
		want    int64
	}{
		{OutcomeFree, 2},
		{OutcomeEvicted, 1},
		{OutcomeRefused, 1},
	}
	for _, tc := range tests {
		t.Run(tc.outcome, func(t *testing.T) {
			if got := sumByAttr(t, rm, "voicepool.acquisitions", "outcome", tc.outcome); got != tc.want {
				t.Errorf("acquisitions{outcome=%s} = %d, want %d", tc.outcome, got, tc.want)
			}
		})
	}

	// Evictions reuse a slot, so only free-slot acquisitions move the gauge.
	if got := sumByAttr(t, rm, "voicepool.active_voices", "", ""); got != 1 {
		t.Errorf("active_voices = %d, want 1", got)
	}
	if got := sumByAttr(t, rm, "voicepool.frees", "", ""); got != 1 {
		t.Errorf("frees = %d, want 1", got)
	}

	met := findMetric(rm, "voicepool.acquired_priority")
	if met == nil {
		t.Fatal("acquired_priority not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("acquired_priority is not an int64 histogram")
	}
	if got := hist.DataPoints[0].Count; got != 3 {
		t.Errorf("acquired_priority count = %d, want 3 (refusals excluded)", got)
	}
}

func TestRecordRenderPass(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRenderPass(ctx, 0.0007, 4, 1, false)
	m.RecordRenderPass(ctx, 0.004, 6, 0, true)
	m.RecordRenderPass(ctx, 0.0001, 0, 0, false)

	rm := collect(t, reader)

	met := findMetric(rm, "voicepool.render.duration")
	if met == nil {
		t.Fatal("render.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("render.duration is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 3 {
		t.Errorf("render.duration count = %d, want 3", got)
	}
	if got := len(hist.DataPoints[0].Bounds); got != len(renderBuckets) {
		t.Errorf("render.duration bucket count = %d, want %d", got, len(renderBuckets))
	}

	checks := []struct {
		name string
		want int64
	}{
		{"voicepool.render.voices", 10},
		{"voicepool.render.ended", 1},
		{"voicepool.render.overruns", 1},
	}
	for _, tc := range checks {
		if got := sumByAttr(t, rm, tc.name, "", ""); got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestFeedInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FeedSubscribers.Add(ctx, 2)
	m.FeedSubscribers.Add(ctx, -1)
	m.FeedDropped.Add(ctx, 7)
	m.NotificationsDelivered.Add(ctx, 3)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "voicepool.feed.subscribers", "", ""); got != 1 {
		t.Errorf("feed.subscribers = %d, want 1", got)
	}
	if got := sumByAttr(t, rm, "voicepool.feed.dropped", "", ""); got != 7 {
		t.Errorf("feed.dropped = %d, want 7", got)
	}
	if got := sumByAttr(t, rm, "voicepool.notifications.delivered", "", ""); got != 3 {
		t.Errorf("notifications.delivered = %d, want 3", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
