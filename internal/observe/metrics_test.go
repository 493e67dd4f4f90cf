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

// sumByAttr returns the value of the sum data point carrying key=value, or
// the first data point when key is empty.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
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
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%q", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestCaptureCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesCaptured.Add(ctx, 3)
	m.RecordFrameDropped(ctx, "consumer_slow")
	m.RecordFrameDropped(ctx, "consumer_slow")
	m.RecordFrameDropped(ctx, "circuit_open")
	m.RecordCaptureInitFailure(ctx, "permission_denied")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "voxlink.capture.frames", "", ""); got != 3 {
		t.Errorf("frames = %d, want 3", got)
	}
	if got := sumByAttr(t, rm, "voxlink.capture.frames_dropped", "reason", "consumer_slow"); got != 2 {
		t.Errorf("dropped(consumer_slow) = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "voxlink.capture.frames_dropped", "reason", "circuit_open"); got != 1 {
		t.Errorf("dropped(circuit_open) = %d, want 1", got)
	}
	if got := sumByAttr(t, rm, "voxlink.capture.init_failures", "kind", "permission_denied"); got != 1 {
		t.Errorf("init failures = %d, want 1", got)
	}
}

func TestTransportCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChunkSent(ctx, "raw")
	m.RecordChunkSent(ctx, "raw")
	m.RecordChunkSent(ctx, "opus")
	m.SendErrors.Add(ctx, 1)
	m.RecordReconnect(ctx, "ok")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "voxlink.transport.chunks_sent", "encoding", "raw"); got != 2 {
		t.Errorf("chunks_sent(raw) = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "voxlink.transport.send_errors", "", ""); got != 1 {
		t.Errorf("send_errors = %d, want 1", got)
	}
	if got := sumByAttr(t, rm, "voxlink.transport.reconnects", "status", "ok"); got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
}

func TestPlaybackInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PacketsEnqueued.Add(ctx, 4)
	m.PacketsPlayed.Add(ctx, 2)
	m.PacketsFailed.Add(ctx, 1)
	m.PacketsDropped.Add(ctx, 1)
	m.PendingPackets.Record(ctx, 7)
	m.PendingPackets.Record(ctx, 3)
	m.DecodeDuration.Record(ctx, 0.002)
	m.DecodeDuration.Record(ctx, 0.004)

	rm := collect(t, reader)
	counters := []struct {
		name string
		want int64
	}{
		{"voxlink.playback.packets_enqueued", 4},
		{"voxlink.playback.packets_played", 2},
		{"voxlink.playback.packets_failed", 1},
		{"voxlink.playback.packets_dropped", 1},
	}
	for _, tc := range counters {
		if got := sumByAttr(t, rm, tc.name, "", ""); got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, got, tc.want)
		}
	}

	met := findMetric(rm, "voxlink.playback.pending")
	if met == nil {
		t.Fatal("pending gauge not found")
	}
	gauge, ok := met.Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) == 0 {
		t.Fatal("pending is not a populated gauge")
	}
	if got := gauge.DataPoints[0].Value; got != 3 {
		t.Errorf("pending = %d, want last recorded value 3", got)
	}

	met = findMetric(rm, "voxlink.playback.decode.duration")
	if met == nil {
		t.Fatal("decode histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("decode duration is not a populated histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "voxlink.active_sessions", "", ""); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05)

	rm := collect(t, reader)
	met := findMetric(rm, "voxlink.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
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
