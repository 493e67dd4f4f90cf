package observe

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys describing how this process streams audio.
const (
	AttrAudioBackend      = attribute.Key("voxlink.audio.backend")
	AttrTransportMode     = attribute.Key("voxlink.transport.mode")
	AttrTransportEncoding = attribute.Key("voxlink.transport.encoding")
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "voxlink".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// AudioBackend, TransportMode and TransportEncoding are attached to the
	// resource, so every exported series and span can be split by them.
	// Empty values are omitted.
	AudioBackend      string
	TransportMode     string
	TransportEncoding string

	// TraceSampleRatio is the fraction of root spans kept. Values outside
	// (0, 1) sample everything.
	TraceSampleRatio float64

	// Registerer receives the Prometheus collector. Nil means
	// [prometheus.DefaultRegisterer], which promhttp.Handler serves.
	Registerer prometheus.Registerer

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter
}

func (c ProviderConfig) resource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
	}
	for _, kv := range []attribute.KeyValue{
		AttrAudioBackend.String(c.AudioBackend),
		AttrTransportMode.String(c.TransportMode),
		AttrTransportEncoding.String(c.TransportEncoding),
	} {
		if kv.Value.AsString() != "" {
			attrs = append(attrs, kv)
		}
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

func (c ProviderConfig) sampler() sdktrace.Sampler {
	if c.TraceSampleRatio > 0 && c.TraceSampleRatio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.TraceSampleRatio))
	}
	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

// InitProvider installs global meter and tracer providers described by cfg.
// Metrics go to a Prometheus collector registered with cfg.Registerer; spans
// go to cfg.TraceExporter when one is set.
//
// The returned function flushes and closes both providers. Call it in a
// defer from main().
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "voxlink"
	}
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
