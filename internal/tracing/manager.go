package tracing

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sigprobe/sigprobe/internal/config"
	"github.com/sigprobe/sigprobe/internal/events"
	"github.com/sigprobe/sigprobe/internal/logger"
	"github.com/sigprobe/sigprobe/internal/tracing/exporter"
)

// Manager turns the harness event stream into one span per worker run. The
// span opens on spawn, collects every later event of the same run and ends
// on the terminal event.
type Manager struct {
	enabled  bool
	exporter *exporter.OTLPExporter
	tracer   trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

func NewManager() (*Manager, error) {
	if !config.TracingEnabled {
		return &Manager{enabled: false}, nil
	}
	exp, err := exporter.NewOTLPExporter(config.OTLPEndpoint, config.TracingSampleRate)
	if err != nil {
		return nil, err
	}
	return NewManagerWithExporter(exp), nil
}

func NewManagerWithExporter(exp *exporter.OTLPExporter) *Manager {
	if exp == nil {
		return &Manager{enabled: false}
	}
	return &Manager{
		enabled:  true,
		exporter: exp,
		tracer:   exp.Tracer(),
		spans:    make(map[string]trace.Span),
	}
}

func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Manager) HandleEvents(ch <-chan *events.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in tracing event handler", zap.Any("panic", r))
		}
	}()
	for e := range ch {
		m.ProcessEvent(e)
	}
}

func (m *Manager) ProcessEvent(e *events.Event) {
	if !m.Enabled() || e == nil || e.RunID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	span, ok := m.spans[e.RunID]
	if e.Type == events.EventSpawn || !ok {
		if ok {
			span.End()
		}
		_, span = m.tracer.Start(context.Background(), e.Scenario+"/"+e.Worker,
			trace.WithTimestamp(e.TimestampTime()),
			trace.WithAttributes(
				attribute.String("sigprobe.scenario", e.Scenario),
				attribute.String("sigprobe.worker", e.Worker),
				attribute.String("sigprobe.run_id", e.RunID),
			),
		)
		m.spans[e.RunID] = span
	}

	attrs := []attribute.KeyValue{}
	if e.TID != 0 {
		attrs = append(attrs, attribute.Int("tid", int(e.TID)))
	}
	if e.Signal != 0 {
		attrs = append(attrs, attribute.Int("signal", int(e.Signal)))
	}
	if e.Target != "" {
		attrs = append(attrs, attribute.String("target", e.Target))
	}
	if e.LatencyNS != 0 {
		attrs = append(attrs, attribute.Int64("latency_ns", int64(e.LatencyNS)))
	}
	span.AddEvent(e.TypeString(), trace.WithTimestamp(e.TimestampTime()), trace.WithAttributes(attrs...))

	if !e.Terminal() {
		return
	}
	span.SetAttributes(attribute.String("sigprobe.outcome", e.TypeString()))
	if e.Type == events.EventSetupFailed {
		span.RecordError(errors.New(e.Error))
		span.SetStatus(codes.Error, e.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.TimestampTime()))
	delete(m.spans, e.RunID)
}

// OpenSpans is the number of runs still waiting for a terminal event.
func (m *Manager) OpenSpans() int {
	if !m.Enabled() {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spans)
}

// Shutdown ends any span whose run never finished and flushes the exporter.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}

	m.mu.Lock()
	for id, span := range m.spans {
		span.SetStatus(codes.Error, "run did not finish")
		span.End()
		delete(m.spans, id)
	}
	m.mu.Unlock()

	if err := m.exporter.Shutdown(ctx); err != nil {
		logger.Warn("Failed to shutdown OTLP exporter", zap.Error(err))
		return err
	}
	return nil
}
