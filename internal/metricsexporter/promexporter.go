package metricsexporter

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sigprobe/sigprobe/internal/config"
	"github.com/sigprobe/sigprobe/internal/events"
	"github.com/sigprobe/sigprobe/internal/logger"
)

var (
	workerRunsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigprobe_worker_runs_total",
			Help: "Worker interactions by terminal state.",
		},
		[]string{"scenario", "state"},
	)

	workerLatencyHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sigprobe_worker_latency_seconds",
			Help:    "Time from trigger to worker completion.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 24),
		},
		[]string{"scenario", "worker", "state"},
	)

	workerLatencyGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sigprobe_worker_latency_latest_seconds",
			Help: "Most recent time from trigger to worker completion.",
		},
		[]string{"scenario", "worker"},
	)

	signalsSentCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigprobe_signals_sent_total",
			Help: "Thread-directed signals sent to workers.",
		},
		[]string{"scenario", "signal"},
	)

	kernelSignalsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sigprobe_kernel_signals_generated",
			Help: "Signals the kernel generated for a worker thread, as counted by the eBPF audit.",
		},
		[]string{"scenario", "worker", "signal"},
	)

	pausesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigprobe_worker_pauses_total",
			Help: "Times a worker paused on a suspend signal.",
		},
		[]string{"scenario"},
	)

	resourcesReleasedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigprobe_resources_released_total",
			Help: "Scoped resources released by workers.",
		},
		[]string{"scenario"},
	)

	setupFailuresCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigprobe_setup_failures_total",
			Help: "Workers that failed before becoming ready.",
		},
		[]string{"scenario"},
	)

	droppedEventsCounter = prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "sigprobe_events_dropped_total",
			Help: "Harness events dropped because the event channel was full.",
		},
		func() float64 { return float64(events.Dropped()) },
	)

	eventProcessingLatencyHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sigprobe_event_processing_latency_seconds",
			Help:    "Time from an event being stamped to the exporter handling it.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20),
		},
	)
)

func init() {
	prometheus.MustRegister(workerRunsCounter)
	prometheus.MustRegister(workerLatencyHistogram)
	prometheus.MustRegister(workerLatencyGauge)
	prometheus.MustRegister(signalsSentCounter)
	prometheus.MustRegister(kernelSignalsGauge)
	prometheus.MustRegister(pausesCounter)
	prometheus.MustRegister(resourcesReleasedCounter)
	prometheus.MustRegister(setupFailuresCounter)
	prometheus.MustRegister(droppedEventsCounter)
	prometheus.MustRegister(eventProcessingLatencyHistogram)
}

func HandleEvents(ch <-chan *events.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in metrics event handler", zap.Any("panic", r))
		}
	}()
	for e := range ch {
		if e == nil {
			continue
		}
		HandleEvent(e)
	}
}

func HandleEvent(e *events.Event) {
	if e == nil {
		return
	}
	eventProcessingLatencyHistogram.Observe(time.Since(e.TimestampTime()).Seconds())

	switch e.Type {
	case events.EventInterrupted, events.EventCompleted, events.EventCanceled:
		ExportWorkerMetric(e)
	case events.EventSetupFailed:
		setupFailuresCounter.WithLabelValues(e.Scenario).Inc()
		workerRunsCounter.WithLabelValues(e.Scenario, "failed").Inc()
	case events.EventSignalSent:
		signalsSentCounter.WithLabelValues(e.Scenario, strconv.Itoa(int(e.Signal))).Inc()
	case events.EventPaused:
		pausesCounter.WithLabelValues(e.Scenario).Inc()
	case events.EventReleased:
		resourcesReleasedCounter.WithLabelValues(e.Scenario).Inc()
	}
}

func ExportWorkerMetric(e *events.Event) {
	state := stateLabel(e.Type)
	latencySec := e.Latency().Seconds()
	workerRunsCounter.WithLabelValues(e.Scenario, state).Inc()
	workerLatencyHistogram.WithLabelValues(e.Scenario, e.Worker, state).Observe(latencySec)
	workerLatencyGauge.WithLabelValues(e.Scenario, e.Worker).Set(latencySec)
}

// ExportKernelSignalCount publishes an audited kernel signal count.
func ExportKernelSignalCount(scenario, worker string, sig int, count uint64) {
	kernelSignalsGauge.WithLabelValues(scenario, worker, strconv.Itoa(sig)).Set(float64(count))
}

func stateLabel(t events.EventType) string {
	switch t {
	case events.EventInterrupted:
		return "interrupted"
	case events.EventCanceled:
		return "canceled"
	default:
		return "completed"
	}
}

var (
	limiter        = rate.NewLimiter(rate.Every(time.Second/time.Duration(config.RateLimitPerSec)), config.RateLimitBurst)
	maxRequestSize = int64(config.MaxRequestSize)
)

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxRequestSize {
			http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type Server struct {
	server *http.Server
}

// resolveAddr keeps the metrics endpoint on loopback unless explicitly
// allowed otherwise.
func resolveAddr() string {
	addr := config.GetMetricsAddress()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() && !config.AllowNonLoopbackMetrics() {
			fallback := net.JoinHostPort(config.DefaultMetricsHost, strconv.Itoa(config.DefaultMetricsPort))
			logger.Warn("Rejecting non-loopback metrics address, falling back to default",
				zap.String("requested_addr", addr),
				zap.String("fallback", fallback))
			return fallback
		}
	}
	return addr
}

func StartServer() *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", securityHeadersMiddleware(rateLimitMiddleware(promhttp.Handler())))

	server := &http.Server{
		Addr:         resolveAddr(),
		Handler:      mux,
		ReadTimeout:  config.DefaultMetricsReadTimeout,
		WriteTimeout: config.DefaultMetricsWriteTimeout,
	}
	srv := &Server{server: server}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in metrics server", zap.Any("panic", r))
			}
		}()
		logger.Info("Serving metrics", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	return srv
}

func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

func (s *Server) Shutdown() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), config.DefaultMetricsShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(fmt.Errorf("shutdown %s: %w", s.server.Addr, err)))
		}
	}
}
