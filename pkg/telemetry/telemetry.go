// Package telemetry sets up OpenTelemetry tracing and metrics export and
// provides trace-aware logging helpers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/climatetwin/pkg/config"
)

// Providers holds the installed tracer and meter providers. Either may be
// nil when its signal is disabled.
type Providers struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
	logger         *zap.Logger
}

// target is where one signal is exported
type target struct {
	endpoint string
	insecure bool
	headers  map[string]string
}

func resolveTarget(endpoint string, signalHeaders, general map[string]string, headersEnv string) target {
	host, insecure := splitEndpoint(endpoint)
	return target{
		endpoint: host,
		insecure: insecure,
		headers:  resolveHeaders(signalHeaders, general, headersEnv),
	}
}

// InitProviders installs the global tracer and meter providers. It returns
// nil when telemetry is disabled; Shutdown is safe on nil.
func InitProviders(ctx context.Context, cfg *config.OpenTelemetryConfig, logger *zap.Logger) (*Providers, error) {
	if !cfg.Enabled {
		logger.Info("OpenTelemetry is disabled")
		return nil, nil
	}

	res := newResource(cfg)
	p := &Providers{logger: logger}

	if cfg.Traces.Enabled {
		t := resolveTarget(cfg.TracesEndpoint(), cfg.Traces.Headers, cfg.Headers, "OTEL_EXPORTER_OTLP_TRACES_HEADERS")
		tp, err := newTracerProvider(ctx, t, cfg.Traces, res)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		p.TracerProvider = tp
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		logger.Info("exporting traces", zap.String("endpoint", t.endpoint), zap.Float64("sampling_ratio", cfg.Traces.SamplingRatio))
	}

	if cfg.Metrics.Enabled {
		t := resolveTarget(cfg.MetricsEndpoint(), cfg.Metrics.Headers, cfg.Headers, "OTEL_EXPORTER_OTLP_METRICS_HEADERS")
		mp, err := newMeterProvider(ctx, t, cfg.Metrics, res)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("metrics: %w", err)
		}
		p.MeterProvider = mp
		otel.SetMeterProvider(mp)
		logger.Info("exporting metrics", zap.String("endpoint", t.endpoint), zap.Int("interval_ms", cfg.Metrics.IntervalMillis))

		if cfg.Metrics.EnableRuntimeMetrics {
			if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
				logger.Warn("runtime metrics unavailable", zap.Error(err))
			}
		}
	}

	return p, nil
}

// Shutdown flushes pending spans and metrics
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	var errs []error
	if p.TracerProvider != nil {
		errs = append(errs, p.TracerProvider.Shutdown(ctx))
	}
	if p.MeterProvider != nil {
		errs = append(errs, p.MeterProvider.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	p.logger.Info("OpenTelemetry providers flushed")
	return nil
}

func newResource(cfg *config.OpenTelemetryConfig) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostNameKey.String(hostname))
	}
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func newTracerProvider(ctx context.Context, t target, cfg config.OTelTracesConfig, res *resource.Resource) (*trace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(t.endpoint)}
	if t.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(t.headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(t.headers))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SamplingRatio))),
		trace.WithBatcher(exporter, trace.WithBatchTimeout(time.Duration(cfg.BatchDelayMs)*time.Millisecond)),
	), nil
}

func newMeterProvider(ctx context.Context, t target, cfg config.OTelMetricsConfig, res *resource.Resource) (*metric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(t.endpoint)}
	if t.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(t.headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(t.headers))
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter,
			metric.WithInterval(time.Duration(cfg.IntervalMillis)*time.Millisecond))),
	), nil
}

// splitEndpoint strips the scheme. http:// and bare localhost endpoints are
// exported without TLS.
func splitEndpoint(endpoint string) (string, bool) {
	if rest, ok := strings.CutPrefix(endpoint, "http://"); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
		return rest, false
	}
	return endpoint, strings.HasPrefix(endpoint, "localhost:")
}

// resolveHeaders picks the first non-empty of: signal config, shared config,
// the signal env var, OTEL_EXPORTER_OTLP_HEADERS
func resolveHeaders(signal, general map[string]string, signalEnv string) map[string]string {
	switch {
	case len(signal) > 0:
		return signal
	case len(general) > 0:
		return general
	}
	raw := os.Getenv(signalEnv)
	if raw == "" {
		raw = os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")
	}
	return parseHeaders(raw)
}

// parseHeaders parses "key1=value1,key2=value2"
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for pair := range strings.SplitSeq(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && key != "" {
			headers[key] = value
		}
	}
	return headers
}
