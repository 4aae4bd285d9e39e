package exporter

import (
	"context"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestSampler(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{"always", 1.0, sdktrace.AlwaysSample().Description()},
		{"above one", 2.5, sdktrace.AlwaysSample().Description()},
		{"never", 0.0, sdktrace.NeverSample().Description()},
		{"negative", -1, sdktrace.NeverSample().Description()},
		{"ratio", 0.5, sdktrace.TraceIDRatioBased(0.5).Description()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sampler(tt.rate).Description(); got != tt.want {
				t.Errorf("Sampler(%v) = %q, want %q", tt.rate, got, tt.want)
			}
		})
	}
}

func TestNewWithSpanExporter(t *testing.T) {
	mem := tracetest.NewInMemoryExporter()
	e, err := NewWithSpanExporter(mem, 1.0)
	if err != nil {
		t.Fatalf("NewWithSpanExporter() error = %v", err)
	}
	_, span := e.Tracer().Start(context.Background(), "worker")
	span.End()

	spans := mem.GetSpans()
	if len(spans) != 1 || spans[0].Name != "worker" {
		t.Fatalf("unexpected spans %v", spans)
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewWithSpanExporter_ServiceResource(t *testing.T) {
	mem := tracetest.NewInMemoryExporter()
	e, err := NewWithSpanExporter(mem, 1.0)
	if err != nil {
		t.Fatalf("NewWithSpanExporter() error = %v", err)
	}
	defer func() { _ = e.Shutdown(context.Background()) }()

	_, span := e.Tracer().Start(context.Background(), "worker")
	span.End()

	spans := mem.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	name, ok := spans[0].Resource.Set().Value(semconv.ServiceNameKey)
	if !ok || name.AsString() != tracerName {
		t.Errorf("service.name = %q, want %q", name.AsString(), tracerName)
	}
	if _, ok := spans[0].Resource.Set().Value(semconv.ServiceVersionKey); !ok {
		t.Error("expected service.version on the resource")
	}
}

func TestNewWithSpanExporter_NeverSample(t *testing.T) {
	mem := tracetest.NewInMemoryExporter()
	e, err := NewWithSpanExporter(mem, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, span := e.Tracer().Start(context.Background(), "worker")
	span.End()
	if n := len(mem.GetSpans()); n != 0 {
		t.Errorf("expected no spans, got %d", n)
	}
}

func TestOTLPExporter_Shutdown(t *testing.T) {
	exporter := &OTLPExporter{}
	if err := exporter.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestOTLPExporter_Shutdown_WithTracerProvider(t *testing.T) {
	exporter, err := NewOTLPExporter("localhost:4318", 1.0)
	if err != nil {
		t.Fatalf("NewOTLPExporter() error = %v", err)
	}
	if exporter.Endpoint() != "localhost:4318" {
		t.Errorf("unexpected endpoint %q", exporter.Endpoint())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := exporter.Shutdown(ctx); err != nil {
		t.Logf("Shutdown() error (expected for test): %v", err)
	}
}
