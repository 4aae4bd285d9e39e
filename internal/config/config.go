package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DefaultLogLevel           = "info"
	DefaultSleepPeriod        = 5 * time.Second
	DefaultTriggerSignal      = 37 // SIGRTMIN+3 in glibc numbering
	DefaultSuspendSignal      = 12 // SIGUSR2
	DefaultResumeSignal       = 10 // SIGUSR1
	DefaultRendezvousTimeout  = 30 * time.Second
	DefaultEventBufferSize    = 1024
	DefaultLoopTick           = 1 * time.Second
	DefaultProgressRate       = 20
	DefaultPollInterval       = 1 * time.Millisecond
	DefaultMutedObservation   = 100 * time.Millisecond
	DefaultStallObservation   = 20 * time.Millisecond
	DefaultMetricsPort        = 3000
	DefaultMetricsHost        = "127.0.0.1"
	DefaultTracingEnabled     = false
	DefaultTracingSampleRate  = 1.0
	DefaultOTLPEndpoint       = "localhost:4318"
	DefaultExportFormat       = "text"
	DefaultCancelWorkers      = 4
	DefaultMaskedJitterBudget = 500 * time.Millisecond
	DefaultVersion            = "v0.1.0"
)

const (
	MaxSleepPeriod        = 10 * time.Minute
	MinSleepPeriod        = 1 * time.Millisecond
	MaxRendezvousTimeout  = 1 * time.Hour
	MaxSignalNumber       = 64
	MaxPrimitiveListLen   = 200
	MaxEventFilterLength  = 200
	MaxExportFormatLength = 10
)

const (
	DefaultMetricsReadTimeout     = 5 * time.Second
	DefaultMetricsWriteTimeout    = 10 * time.Second
	DefaultMetricsShutdownTimeout = 5 * time.Second
	DefaultTracingExporterTimeout = 10 * time.Second
	DefaultShutdownTimeout        = 5 * time.Second
)

const (
	MaxRequestSize         = 1024 * 1024
	DefaultRateLimitPerSec = 10
	DefaultRateLimitBurst  = 20
)

const (
	AuditMapMaxEntries   = 4096
	MinAuditKernelMajor  = 4
	MinAuditKernelMinor  = 7
	SignalGenerateGroup  = "signal"
	SignalGenerateEvent  = "signal_generate"
	SignalGenerateSigOff = 8
	SignalGeneratePIDOff = 36
)

var (
	SleepPeriod       = getDurationEnvOrDefault("SIGPROBE_SLEEP_PERIOD", DefaultSleepPeriod)
	TriggerSignal     = getIntEnvOrDefault("SIGPROBE_TRIGGER_SIGNAL", DefaultTriggerSignal)
	SuspendSignal     = getIntEnvOrDefault("SIGPROBE_SUSPEND_SIGNAL", DefaultSuspendSignal)
	ResumeSignal      = getIntEnvOrDefault("SIGPROBE_RESUME_SIGNAL", DefaultResumeSignal)
	RendezvousTimeout = getDurationEnvOrDefault("SIGPROBE_RENDEZVOUS_TIMEOUT", DefaultRendezvousTimeout)
	EventBufferSize   = getIntEnvOrDefault("SIGPROBE_EVENT_BUFFER_SIZE", DefaultEventBufferSize)
	LoopTick          = getDurationEnvOrDefault("SIGPROBE_LOOP_TICK", DefaultLoopTick)
	ProgressRate      = getIntEnvOrDefault("SIGPROBE_PROGRESS_RATE", DefaultProgressRate)
	TracingEnabled    = getEnvOrDefault("SIGPROBE_TRACING_ENABLED", "false") == "true"
	TracingSampleRate = getFloatEnvOrDefault("SIGPROBE_TRACING_SAMPLE_RATE", DefaultTracingSampleRate)
	OTLPEndpoint      = getEnvOrDefault("SIGPROBE_OTLP_ENDPOINT", DefaultOTLPEndpoint)
	RateLimitPerSec   = getIntEnvOrDefault("SIGPROBE_RATE_LIMIT_PER_SEC", DefaultRateLimitPerSec)
	RateLimitBurst    = getIntEnvOrDefault("SIGPROBE_RATE_LIMIT_BURST", DefaultRateLimitBurst)
	Version           = getEnvOrDefault("SIGPROBE_VERSION", DefaultVersion)
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getFloatEnvOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil && i > 0 {
			return i
		}
	}
	return defaultValue
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func GetLogLevel() string {
	return getEnvOrDefault("SIGPROBE_LOG_LEVEL", DefaultLogLevel)
}

func GetMetricsAddress() string {
	addr := os.Getenv("SIGPROBE_METRICS_ADDR")
	if addr == "" {
		addr = DefaultMetricsHost + ":" + strconv.Itoa(DefaultMetricsPort)
	}
	return addr
}

func AllowNonLoopbackMetrics() bool {
	return os.Getenv("SIGPROBE_METRICS_INSECURE_ALLOW_ANY_ADDR") == "1"
}

// MaskedWindow returns the elapsed-time range a blocked trigger signal is
// expected to leave untouched: the nominal period minus 2% up to the nominal
// period plus the scheduling jitter budget.
func MaskedWindow(nominal time.Duration) (time.Duration, time.Duration) {
	return nominal - nominal/50, nominal + DefaultMaskedJitterBudget
}

func GetVersion() string {
	return Version
}

func GetUserAgent() string {
	return fmt.Sprintf("sigprobe/%s", Version)
}
