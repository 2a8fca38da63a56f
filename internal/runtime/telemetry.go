package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/lecternlabs/lectern-core/internal/config"
)

// telemetry owns the daemon's trace and metric providers and decides
// where the prometheus scrape endpoint lives: on a dedicated listener
// when telemetry.prometheus_bind is set, riding the API mux otherwise.
type telemetry struct {
	scrape   http.Handler
	bind     string
	shutdown func(context.Context) error
}

func newTelemetry(cfg config.Config, logger *slog.Logger) (*telemetry, error) {
	ctx := context.Background()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tracer, err := buildTracer(ctx, cfg.Telemetry, res, logger)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tracer)

	meter, scrape := buildMeter(res, logger)
	otel.SetMeterProvider(meter)

	return &telemetry{
		scrape: scrape,
		bind:   cfg.Telemetry.PrometheusBind,
		shutdown: func(ctx context.Context) error {
			return errors.Join(meter.Shutdown(ctx), tracer.Shutdown(ctx))
		},
	}, nil
}

// mount attaches /metrics. With a dedicated bind it returns a server the
// caller runs and shuts down; otherwise the endpoint is registered on
// apiMux and the returned server is nil.
func (t *telemetry) mount(apiMux *http.ServeMux) *http.Server {
	if t.scrape == nil {
		return nil
	}
	if t.bind == "" {
		apiMux.Handle("/metrics", t.scrape)
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.scrape)
	return &http.Server{
		Addr:              t.bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func buildTracer(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		logger.Info("trace exporter configured", slog.String("exporter", "otlp"), slog.String("endpoint", endpoint))
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		logger.Info("trace exporter configured", slog.String("exporter", "stdout"))
	}
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// buildMeter degrades to a reader-less provider when the prometheus
// exporter cannot be constructed; metrics then record nowhere but the
// instrumented code paths stay valid.
func buildMeter(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	promExporter, err := prometheus.New()
	if err != nil {
		logger.Warn("prometheus exporter unavailable", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	meter := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	return meter, promhttp.Handler()
}
