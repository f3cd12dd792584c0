package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is reported in telemetry. Default: "phonemix".
	ServiceName    string
	ServiceVersion string

	// TraceExporter receives finished spans. When nil, spans are recorded
	// for log correlation but not exported.
	TraceExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of root traces sampled. Zero or values
	// above one sample everything.
	SampleRatio float64
}

// Telemetry is the installed SDK state returned by [InitProvider].
type Telemetry struct {
	// Metrics holds the instruments bound to the SDK meter provider.
	Metrics *Metrics

	// Handler serves the Prometheus exposition of every instrument. It
	// scrapes a registry private to this Telemetry, so two instances never
	// collide.
	Handler http.Handler

	shutdown []func(context.Context) error
}

// Shutdown flushes and closes the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InitProvider installs an SDK meter provider exporting to a dedicated
// Prometheus registry and an SDK tracer provider, registers both globally
// and creates the phonemix instruments on them.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "phonemix"
	}

	// No schema URL is set on our attributes: the SDK detectors carry their
	// own, and two different URLs cannot be merged.
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	reg := prometheus.NewRegistry()
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		tpOpts = append(tpOpts, sdktrace.WithSampler(
			sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
		))
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	m, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(ctx)
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	return &Telemetry{
		Metrics:  m,
		Handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		shutdown: []func(context.Context) error{mp.Shutdown, tp.Shutdown},
	}, nil
}
