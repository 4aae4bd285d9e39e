package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/sigprobe/sigprobe/internal/audit"
	"github.com/sigprobe/sigprobe/internal/config"
	"github.com/sigprobe/sigprobe/internal/events"
	"github.com/sigprobe/sigprobe/internal/logger"
	"github.com/sigprobe/sigprobe/internal/metricsexporter"
	"github.com/sigprobe/sigprobe/internal/report"
	"github.com/sigprobe/sigprobe/internal/scenario"
	"github.com/sigprobe/sigprobe/internal/system"
	"github.com/sigprobe/sigprobe/internal/tracing"
	"github.com/sigprobe/sigprobe/internal/validation"
)

// Auditor counts kernel-generated signals and owns kernel resources.
type Auditor interface {
	scenario.SignalCounter
	Close() error
}

var (
	sleepPeriod         time.Duration
	triggerSignal       int
	suspendSignal       int
	resumeSignal        int
	rendezvousTimeout   time.Duration
	exportFormat        string
	eventFilter         string
	logLevel            string
	enableMetrics       bool
	metricsHold         time.Duration
	enableTracing       bool
	tracingOTLPEndpoint string
	tracingSampleRate   float64
	enableAudit         bool
	sleepPrimitives     string
	maskPrimitives      string
	maskedOnly          bool

	auditorFactory func() (Auditor, error)
	tracingFactory func() (*tracing.Manager, error)
	exitFunc       func(int)
	stdout         io.Writer
	stderr         io.Writer
)

func init() {
	auditorFactory = func() (Auditor, error) {
		if err := system.CheckAuditRequirements(); err != nil {
			return nil, err
		}
		system.CheckSELinux()
		return audit.Open()
	}
	tracingFactory = tracing.NewManager
	exitFunc = os.Exit
	stdout = os.Stdout
	stderr = os.Stderr
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", zap.Error(err))
		logger.Sync()
		exitFunc(1)
	}
	logger.Sync()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sigprobe",
		Short: "Observe how blocking calls react to signals, cancellation and pauses",
		Long: `sigprobe runs scripted controller/worker experiments: a worker reaches a
blocking call, the controller fires one signal, cancellation or flag flip at
it, and the report shows what the worker observed and how long it took.`,
		SilenceUsage:      true,
		PersistentPreRunE: prepare,
	}

	flags := rootCmd.PersistentFlags()
	flags.DurationVar(&sleepPeriod, "sleep", config.SleepPeriod, "Nominal blocking period")
	flags.IntVar(&triggerSignal, "signal", config.TriggerSignal, "Trigger signal number")
	flags.DurationVar(&rendezvousTimeout, "timeout", config.RendezvousTimeout, "Upper bound on every rendezvous wait")
	flags.StringVar(&exportFormat, "export", config.DefaultExportFormat, "Report format (text, json, csv)")
	flags.StringVar(&eventFilter, "filter", "", "Debug-log harness events by category ("+strings.Join(events.Categories(), ",")+")")
	flags.StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error, fatal). Overrides SIGPROBE_LOG_LEVEL environment variable")
	flags.BoolVar(&enableMetrics, "metrics", false, "Serve Prometheus metrics on SIGPROBE_METRICS_ADDR")
	flags.DurationVar(&metricsHold, "metrics-hold", 0, "Keep serving metrics this long after the run")
	flags.BoolVar(&enableTracing, "tracing", config.TracingEnabled, "Export one span per worker interaction over OTLP")
	flags.StringVar(&tracingOTLPEndpoint, "tracing-otlp-endpoint", config.OTLPEndpoint, "OpenTelemetry OTLP/HTTP endpoint")
	flags.Float64Var(&tracingSampleRate, "tracing-sample-rate", config.TracingSampleRate, "Tracing sample rate (0.0-1.0)")
	flags.BoolVar(&enableAudit, "audit", false, "Count kernel signal_generate events with eBPF (needs root)")

	rootCmd.AddCommand(newSleepCmd(), newMaskCmd(), newCancelCmd(), newPauseCmd(), newAllCmd())
	return rootCmd
}

func newSleepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sleep",
		Short: "Interrupt blocking sleeps with a thread-directed signal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prims, err := validation.ParsePrimitives(sleepPrimitives)
			if err != nil {
				return fmt.Errorf("invalid primitive list: %w", err)
			}
			return runScenarios(cmd.Context(), func(env scenario.Env) []scenario.Scenario {
				return []scenario.Scenario{sleepScenario(env, prims, maskedOnly)}
			})
		},
	}
	cmd.Flags().StringVar(&sleepPrimitives, "primitive", "", "Comma-separated primitives to exercise (default: all)")
	cmd.Flags().BoolVar(&maskedOnly, "masked", false, "Block the trigger signal on the worker thread first")
	return cmd
}

func newMaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mask",
		Short: "Run the same sleep with the trigger unmasked, then masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prims, err := validation.ParsePrimitives(maskPrimitives)
			if err != nil {
				return fmt.Errorf("invalid primitive list: %w", err)
			}
			return runScenarios(cmd.Context(), func(env scenario.Env) []scenario.Scenario {
				return []scenario.Scenario{maskScenario(env, prims)}
			})
		},
	}
	cmd.Flags().StringVar(&maskPrimitives, "primitive", "nanosleep", "Comma-separated primitives to exercise")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel four blocked workers, one behind a critical section",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScenarios(cmd.Context(), func(env scenario.Env) []scenario.Scenario {
				return []scenario.Scenario{cancelScenario(env)}
			})
		},
	}
}

func newPauseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Suspend and resume a worker with two signals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validation.ValidateSignalPair(suspendSignal, resumeSignal); err != nil {
				return err
			}
			return runScenarios(cmd.Context(), func(env scenario.Env) []scenario.Scenario {
				return []scenario.Scenario{pauseScenario(env)}
			})
		},
	}
	cmd.Flags().IntVar(&suspendSignal, "suspend-signal", config.SuspendSignal, "Signal that pauses the worker")
	cmd.Flags().IntVar(&resumeSignal, "resume-signal", config.ResumeSignal, "Signal that resumes the worker")
	return cmd
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run sleep, mask, cancel and pause in sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validation.ValidateSignalPair(suspendSignal, resumeSignal); err != nil {
				return err
			}
			return runScenarios(cmd.Context(), func(env scenario.Env) []scenario.Scenario {
				return []scenario.Scenario{
					sleepScenario(env, allPrimitives(), false),
					maskScenario(env, []string{"nanosleep"}),
					cancelScenario(env),
					pauseScenario(env),
				}
			})
		},
	}
}

// prepare validates the persistent flags and pushes them into config.
func prepare(cmd *cobra.Command, _ []string) error {
	if logLevel != "" {
		logger.SetLevel(logLevel)
	}
	if err := validation.ValidateSleepPeriod(sleepPeriod); err != nil {
		return fmt.Errorf("invalid sleep period: %w", err)
	}
	if err := validation.ValidateSignal(triggerSignal); err != nil {
		return fmt.Errorf("invalid trigger signal: %w", err)
	}
	if err := validation.ValidateRendezvousTimeout(rendezvousTimeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if err := validation.ValidateExportFormat(exportFormat); err != nil {
		return fmt.Errorf("invalid export format: %w", err)
	}
	if err := validation.ValidateEventFilter(eventFilter); err != nil {
		return fmt.Errorf("invalid event filter: %w", err)
	}
	if err := validation.ValidateSampleRate(tracingSampleRate); err != nil {
		return fmt.Errorf("invalid tracing sample rate: %w", err)
	}
	if metricsHold < 0 {
		return fmt.Errorf("invalid metrics hold: must not be negative")
	}

	config.SleepPeriod = sleepPeriod
	config.TriggerSignal = triggerSignal
	config.RendezvousTimeout = rendezvousTimeout
	if enableTracing {
		config.TracingEnabled = true
		if tracingOTLPEndpoint != "" {
			config.OTLPEndpoint = tracingOTLPEndpoint
		}
		config.TracingSampleRate = tracingSampleRate
	}
	return nil
}

func allPrimitives() []string {
	prims, _ := validation.ParsePrimitives("")
	return prims
}

func sleepScenario(env scenario.Env, prims []string, masked bool) scenario.Scenario {
	s := &scenario.Interruption{
		Title:      "sleep",
		Primitives: prims,
		Period:     sleepPeriod,
		Signal:     unix.Signal(triggerSignal),
		Env:        env,
	}
	if masked {
		s.Masks = []bool{true}
		s.ShowMask = true
	}
	return s
}

func maskScenario(env scenario.Env, prims []string) scenario.Scenario {
	return &scenario.Interruption{
		Title:      "mask",
		Primitives: prims,
		Masks:      []bool{false, true},
		ShowMask:   true,
		Period:     sleepPeriod,
		Signal:     unix.Signal(triggerSignal),
		Env:        env,
	}
}

func cancelScenario(env scenario.Env) scenario.Scenario {
	return &scenario.Cancellation{Period: sleepPeriod, Tick: config.LoopTick, Env: env}
}

func pauseScenario(env scenario.Env) scenario.Scenario {
	return &scenario.Pause{
		Suspend:      unix.Signal(suspendSignal),
		Resume:       unix.Signal(resumeSignal),
		ProgressRate: config.ProgressRate,
		Env:          env,
	}
}

func runScenarios(parent context.Context, build func(scenario.Env) []scenario.Scenario) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, unix.SIGTERM)
	defer stop()

	var metricsServer *metricsexporter.Server
	if enableMetrics {
		metricsServer = metricsexporter.StartServer()
		defer metricsServer.Shutdown()
	}

	tracingManager, err := tracingFactory()
	if err != nil {
		logger.Warn("Failed to create tracing manager", zap.Error(err))
		tracingManager = nil
	}
	if tracingManager.Enabled() {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
			defer cancel()
			_ = tracingManager.Shutdown(shutdownCtx)
		}()
	}

	env := scenario.Env{Timeout: rendezvousTimeout}
	if exportFormat == "" || strings.EqualFold(exportFormat, "text") {
		env.Progress = stderr
	}

	if enableAudit {
		aud, err := auditorFactory()
		if err != nil {
			return fmt.Errorf("failed to start signal audit: %w", err)
		}
		defer func() {
			if err := aud.Close(); err != nil {
				logger.Warn("Failed to close signal audit", zap.Error(err))
			}
		}()
		env.Auditor = aud
	}

	sink := make(chan *events.Event, config.EventBufferSize)
	env.Sink = sink
	pipelineDone := startEventPipeline(sink, tracingManager)

	reports, runErr := runAll(ctx, build(env))

	close(sink)
	<-pipelineDone
	if dropped := events.Dropped(); dropped > 0 {
		logger.Warn("Harness events dropped", zap.Uint64("count", dropped))
	}
	if runErr != nil {
		return runErr
	}

	if err := report.Export(stdout, exportFormat, reports); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if enableMetrics && metricsHold > 0 {
		logger.Info("Holding metrics endpoint open", zap.String("addr", metricsServer.Addr()), zap.Duration("hold", metricsHold))
		select {
		case <-time.After(metricsHold):
		case <-ctx.Done():
		}
	}
	return nil
}

func runAll(ctx context.Context, scenarios []scenario.Scenario) ([]*scenario.Report, error) {
	reports := make([]*scenario.Report, 0, len(scenarios))
	for _, s := range scenarios {
		logger.Debug("Running scenario", zap.String("scenario", s.Name()))
		r, err := s.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name(), err)
		}
		if enableMetrics {
			for _, res := range r.Results {
				if res.KernelSignals != nil {
					metricsexporter.ExportKernelSignalCount(r.Scenario, res.Worker, res.Signal, *res.KernelSignals)
				}
			}
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// startEventPipeline fans harness events out to metrics, tracing and the
// debug log. The returned channel closes once sink is closed and drained.
func startEventPipeline(sink <-chan *events.Event, tm *tracing.Manager) <-chan struct{} {
	done := make(chan struct{})
	logCh := make(chan *events.Event, config.EventBufferSize)

	var logIn <-chan *events.Event = logCh
	if eventFilter != "" {
		filtered := make(chan *events.Event, config.EventBufferSize)
		go filterEvents(logCh, filtered, eventFilter)
		logIn = filtered
	}

	go func() {
		defer close(done)
		logEvents(logIn)
	}()

	go func() {
		defer close(logCh)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in event dispatcher", zap.Any("panic", r))
			}
		}()
		for e := range sink {
			if e == nil {
				continue
			}
			if enableMetrics {
				metricsexporter.HandleEvent(e)
			}
			if tm.Enabled() {
				tm.ProcessEvent(e)
			}
			logCh <- e
		}
	}()
	return done
}

func logEvents(in <-chan *events.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in event logger", zap.Any("panic", r))
		}
	}()
	for e := range in {
		logger.Debug(e.FormatMessage(),
			zap.String("run_id", e.RunID),
			zap.String("category", e.Category()))
	}
}

func filterEvents(in <-chan *events.Event, out chan<- *events.Event, filter string) {
	defer close(out)
	filterMap := make(map[string]bool)
	for _, f := range strings.Split(strings.ToLower(filter), ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			filterMap[f] = true
		}
	}

	for event := range in {
		if event == nil {
			continue
		}
		if filterMap[event.Category()] {
			out <- event
		}
	}
}
