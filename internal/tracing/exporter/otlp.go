package exporter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/sigprobe/sigprobe/internal/config"
)

const tracerName = "sigprobe"

// OTLPExporter owns the tracer provider that worker spans are recorded on.
type OTLPExporter struct {
	tp         *sdktrace.TracerProvider
	tracer     trace.Tracer
	endpoint   string
	sampleRate float64
}

func NewOTLPExporter(endpoint string, sampleRate float64) (*OTLPExporter, error) {
	if endpoint == "" {
		endpoint = config.DefaultOTLPEndpoint
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultTracingExporterTimeout)
	defer cancel()
	otlpExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithHeaders(map[string]string{"User-Agent": config.GetUserAgent()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	e, err := newExporter(ctx, sdktrace.WithBatcher(otlpExporter), sampleRate)
	if err != nil {
		return nil, err
	}
	e.endpoint = endpoint
	return e, nil
}

// NewWithSpanExporter records spans synchronously on exp. Used with
// in-memory exporters.
func NewWithSpanExporter(exp sdktrace.SpanExporter, sampleRate float64) (*OTLPExporter, error) {
	return newExporter(context.Background(), sdktrace.WithSyncer(exp), sampleRate)
}

func newExporter(ctx context.Context, processor sdktrace.TracerProviderOption, sampleRate float64) (*OTLPExporter, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tracerName),
			semconv.ServiceVersionKey.String(config.GetVersion()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(sampleRate)),
	)
	return &OTLPExporter{
		tp:         tp,
		tracer:     tp.Tracer(tracerName),
		sampleRate: sampleRate,
	}, nil
}

// Sampler maps a sample rate onto a trace ID ratio sampler, clamping it to
// [0, 1].
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func (e *OTLPExporter) Tracer() trace.Tracer {
	return e.tracer
}

func (e *OTLPExporter) Endpoint() string {
	return e.endpoint
}

func (e *OTLPExporter) SampleRate() float64 {
	return e.sampleRate
}

func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	if e.tp != nil {
		return e.tp.Shutdown(ctx)
	}
	return nil
}
