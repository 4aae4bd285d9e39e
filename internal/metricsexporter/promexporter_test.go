package metricsexporter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sigprobe/sigprobe/internal/events"
)

func TestHandleEvent(t *testing.T) {
	done := events.New(events.EventInterrupted, "sleep", "nanosleep")
	done.LatencyNS = uint64(time.Millisecond)
	before := testutil.ToFloat64(workerRunsCounter.WithLabelValues("sleep", "interrupted"))
	HandleEvent(done)
	if got := testutil.ToFloat64(workerRunsCounter.WithLabelValues("sleep", "interrupted")); got != before+1 {
		t.Errorf("expected runs counter %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(workerLatencyGauge.WithLabelValues("sleep", "nanosleep")); got != 0.001 {
		t.Errorf("expected latest latency 0.001, got %v", got)
	}

	sent := events.New(events.EventSignalSent, "pause", "worker")
	sent.Signal = 12
	HandleEvent(sent)
	if got := testutil.ToFloat64(signalsSentCounter.WithLabelValues("pause", "12")); got < 1 {
		t.Errorf("expected signal counter to increase, got %v", got)
	}

	HandleEvent(events.New(events.EventPaused, "pause", "worker"))
	HandleEvent(events.New(events.EventReleased, "cancel", "worker 3"))
	HandleEvent(events.New(events.EventSetupFailed, "mask", "nanosleep"))
	if got := testutil.ToFloat64(setupFailuresCounter.WithLabelValues("mask")); got < 1 {
		t.Errorf("expected setup failure counter to increase, got %v", got)
	}
	HandleEvent(nil)
}

func TestHandleEvents(t *testing.T) {
	ch := make(chan *events.Event, 2)
	ch <- events.New(events.EventCanceled, "cancel", "worker 1")
	ch <- nil
	close(ch)
	HandleEvents(ch)
}

func TestExportKernelSignalCount(t *testing.T) {
	ExportKernelSignalCount("sleep", "select", 37, 3)
	if got := testutil.ToFloat64(kernelSignalsGauge.WithLabelValues("sleep", "select", "37")); got != 3 {
		t.Errorf("expected 3, got %v", got)
	}
}

func TestSecurityAndRateLimitMiddleware(t *testing.T) {
	hit := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	})

	handler := securityHeadersMiddleware(rateLimitMiddleware(next))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !hit {
		t.Fatalf("expected inner handler to be called")
	}
	if w.Result().Header.Get("X-Content-Type-Options") == "" {
		t.Fatalf("expected security headers to be set")
	}
}

func TestResolveAddr(t *testing.T) {
	t.Setenv("SIGPROBE_METRICS_ADDR", "10.0.0.1:9000")
	t.Setenv("SIGPROBE_METRICS_INSECURE_ALLOW_ANY_ADDR", "")
	if got := resolveAddr(); got != "127.0.0.1:3000" {
		t.Errorf("expected loopback fallback, got %q", got)
	}

	t.Setenv("SIGPROBE_METRICS_INSECURE_ALLOW_ANY_ADDR", "1")
	if got := resolveAddr(); got != "10.0.0.1:9000" {
		t.Errorf("expected requested address, got %q", got)
	}
}

func TestStartServerAndShutdown(t *testing.T) {
	t.Setenv("SIGPROBE_METRICS_ADDR", "127.0.0.1:0")

	srv := StartServer()
	if srv == nil {
		t.Fatalf("expected non-nil server")
	}
	if srv.Addr() != "127.0.0.1:0" {
		t.Errorf("unexpected addr %q", srv.Addr())
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		srv.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not shut down in time")
	}
}
