// Package observe provides application-wide observability primitives for
// voxlink: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxlink metrics.
const meterName = "github.com/MrWong99/voxlink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// FramesCaptured counts frames delivered by capture engines.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames dropped because the consumer fell behind
	// or the transport circuit was open. Use with attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// CaptureInitFailures counts failed capture initialisations. Use with attribute:
	//   attribute.String("kind", ...) (see audio.KindName)
	CaptureInitFailures metric.Int64Counter

	// --- Transport ---

	// ChunksSent counts audio chunks written to the transport. Use with attribute:
	//   attribute.String("encoding", ...)
	ChunksSent metric.Int64Counter

	// SendErrors counts failed transport writes.
	SendErrors metric.Int64Counter

	// Reconnects counts transport redial attempts. Use with attribute:
	//   attribute.String("status", ...)
	Reconnects metric.Int64Counter

	// --- Playback ---

	// PacketsEnqueued counts packets accepted by playback queues.
	PacketsEnqueued metric.Int64Counter

	// PacketsPlayed counts packets that finished playing.
	PacketsPlayed metric.Int64Counter

	// PacketsFailed counts packets skipped after a decode or playback failure.
	PacketsFailed metric.Int64Counter

	// PacketsDropped counts packets discarded by the pending-depth bound.
	PacketsDropped metric.Int64Counter

	// PendingPackets records the most recent playback queue depth.
	PendingPackets metric.Int64Gauge

	// DecodeDuration tracks playback decode latency.
	DecodeDuration metric.Float64Histogram

	// --- Sessions ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// ConnectionDuration tracks how long upgraded (websocket) connections
	// stayed open. Use with attribute:
	//   attribute.String("path", ...)
	ConnectionDuration metric.Float64Histogram
}

// decodeBuckets defines histogram bucket boundaries (in seconds) for
// per-packet decode latency, which is expected to stay well below a frame.
var decodeBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture.
	if met.FramesCaptured, err = m.Int64Counter("voxlink.capture.frames",
		metric.WithDescription("Total frames delivered by capture engines."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxlink.capture.frames_dropped",
		metric.WithDescription("Total captured frames dropped, by reason."),
	); err != nil {
		return nil, err
	}
	if met.CaptureInitFailures, err = m.Int64Counter("voxlink.capture.init_failures",
		metric.WithDescription("Total failed capture initialisations by error kind."),
	); err != nil {
		return nil, err
	}

	// Transport.
	if met.ChunksSent, err = m.Int64Counter("voxlink.transport.chunks_sent",
		metric.WithDescription("Total audio chunks written to the transport by encoding."),
	); err != nil {
		return nil, err
	}
	if met.SendErrors, err = m.Int64Counter("voxlink.transport.send_errors",
		metric.WithDescription("Total failed transport writes."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("voxlink.transport.reconnects",
		metric.WithDescription("Total transport redial attempts by status."),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.PacketsEnqueued, err = m.Int64Counter("voxlink.playback.packets_enqueued",
		metric.WithDescription("Total packets accepted by playback queues."),
	); err != nil {
		return nil, err
	}
	if met.PacketsPlayed, err = m.Int64Counter("voxlink.playback.packets_played",
		metric.WithDescription("Total packets that finished playing."),
	); err != nil {
		return nil, err
	}
	if met.PacketsFailed, err = m.Int64Counter("voxlink.playback.packets_failed",
		metric.WithDescription("Total packets skipped after a decode or playback failure."),
	); err != nil {
		return nil, err
	}
	if met.PacketsDropped, err = m.Int64Counter("voxlink.playback.packets_dropped",
		metric.WithDescription("Total packets discarded because the pending queue was full."),
	); err != nil {
		return nil, err
	}
	if met.PendingPackets, err = m.Int64Gauge("voxlink.playback.pending",
		metric.WithDescription("Packets waiting in the playback queue."),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("voxlink.playback.decode.duration",
		metric.WithDescription("Latency of decoding one playback packet."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(decodeBuckets...),
	); err != nil {
		return nil, err
	}

	// Sessions.
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxlink.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxlink.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ConnectionDuration, err = m.Float64Histogram("voxlink.http.connection.duration",
		metric.WithDescription("Lifetime of upgraded websocket connections."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 300, 900, 1800, 3600, 7200),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameDropped records a dropped capture frame with its reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCaptureInitFailure records a failed capture initialisation.
func (m *Metrics) RecordCaptureInitFailure(ctx context.Context, kind string) {
	m.CaptureInitFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordChunkSent records one successfully written chunk.
func (m *Metrics) RecordChunkSent(ctx context.Context, encoding string) {
	m.ChunksSent.Add(ctx, 1, metric.WithAttributes(attribute.String("encoding", encoding)))
}

// RecordReconnect records one redial attempt with its outcome.
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
