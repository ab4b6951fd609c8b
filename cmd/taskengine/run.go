package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/compozy/taskengine/engine/collab"
	"github.com/compozy/taskengine/engine/execctx"
	"github.com/compozy/taskengine/engine/metrics"
	"github.com/compozy/taskengine/engine/progress"
	"github.com/compozy/taskengine/engine/recovery"
	"github.com/compozy/taskengine/engine/statestore"
	"github.com/compozy/taskengine/engine/strategy"
	"github.com/compozy/taskengine/engine/task"
	"github.com/compozy/taskengine/engine/telemetry"
	"github.com/compozy/taskengine/pkg/errs"
	"github.com/compozy/taskengine/pkg/idgen"
	"github.com/compozy/taskengine/pkg/logger"
)

// runCmd implements `taskengine run <task-json>` (spec §6): exit 0 on
// success, 1 on a recoverable failure, 2 on a non-recoverable one, 130 on
// SIGINT cancellation.
func runCmd(log logger.Logger) *cobra.Command {
	var maxDepth int
	var concurrency int
	var stateRoot string
	var metricsAddr string
	var resumeFrom string
	var checkpointPath string

	cmd := &cobra.Command{
		Use:   "run <task-json>",
		Short: "Execute a task definition through the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadTaskDefinition(args[0])
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			if concurrency > 0 {
				def["maxConcurrency"] = concurrency
			}

			goCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rootOpts, err := task.DecodeOptions(asMapAny(def["options"]))
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			tracer := buildTracer()
			metricsBundle, stopMetrics := buildMetrics(log, metricsAddr)
			defer stopMetrics()
			progressStream := progress.NewBroadcaster()

			var store *statestore.Store
			if stateRoot != "" {
				store, err = statestore.New(stateRoot)
				if err != nil {
					return &exitError{code: 2, err: err}
				}
			}
			if checkpointPath == "" && stateRoot != "" {
				checkpointPath = filepath.Join(stateRoot, "checkpoint.json")
			}
			if resumeFrom != "" {
				if err := resumeProgress(resumeFrom, progressStream); err != nil {
					log.Warn("could not resume checkpoint", "path", resumeFrom, "error", err)
				}
			}

			mgr := buildEngine(tracer, metricsBundle, progressStream)
			rootTask, err := mgr.CreateTask("root", nil, def, rootOpts)
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			if store != nil {
				if err := runWithStateStore(goCtx, store, rootTask); err != nil {
					log.Warn("state store unavailable for this run", "error", err)
					store = nil
				}
			}

			ectx := newExecutionContext(maxDepth)
			msgResult := rootTask.ReceiveMessage(goCtx, ectx, task.Message{Type: task.MessageStart})

			writeCheckpoint(log, checkpointPath, rootTask, progressStream)
			if store != nil {
				finalizeStateStore(goCtx, store, msgResult)
			}

			if goCtx.Err() != nil {
				return &exitError{code: 130, err: goCtx.Err()}
			}
			if !msgResult.Success {
				log.Error("task execution failed", "result", msgResult.Result)
				failureErr := fmt.Errorf("%v", msgResult.Result)
				if errs.IsFatal(failureErr) {
					return &exitError{code: 2, err: failureErr}
				}
				return &exitError{code: 1, err: failureErr}
			}

			encoded, err := json.MarshalIndent(msgResult.Result, "", "  ")
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}

	cmd.Flags().IntVar(&maxDepth, "max-depth", 5, "Maximum recursion depth for nested task decomposition")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Override maxConcurrency for parallel task definitions")
	cmd.Flags().StringVar(&stateRoot, "state-root", "", "Directory for the persistent project StateStore (disabled if empty)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (disabled if empty)")
	cmd.Flags().StringVar(&resumeFrom, "resume", "", "Checkpoint file written by a prior --checkpoint run to replay progress history from")
	cmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "Where to write a resumable checkpoint after the run (defaults under --state-root)")
	return cmd
}

// loadTaskDefinition parses path as YAML when it has a .yaml/.yml
// extension, JSON otherwise.
func loadTaskDefinition(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task definition: %w", err)
	}
	var def map[string]any
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("parse task definition: %w", err)
		}
		return def, nil
	}
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse task definition: %w", err)
	}
	return def, nil
}

func asMapAny(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

// buildTracer wires a real OTel SDK TracerProvider (no exporter attached)
// so Strategy.Execute/queue attempts produce real spans even when nothing
// downstream collects them; attaching a concrete exporter is an operator
// deployment concern, not this reference runner's.
func buildTracer() *telemetry.Tracer {
	tp := sdktrace.NewTracerProvider()
	return telemetry.New(tp.Tracer("taskengine"))
}

// buildMetrics constructs a Prometheus-backed instrument set when addr is
// non-empty, serving /metrics in the background; otherwise it returns a
// nil-safe no-op Metrics. The returned stop func tears down the listener.
func buildMetrics(log logger.Logger, addr string) (*metrics.Metrics, func()) {
	if addr == "" {
		m, _ := metrics.New(nil)
		return m, func() {}
	}
	exporter, err := otelprometheus.New()
	if err != nil {
		log.Warn("prometheus exporter unavailable, metrics disabled", "error", err)
		m, _ := metrics.New(nil)
		return m, func() {}
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	m, err := metrics.New(mp.Meter("taskengine"))
	if err != nil {
		log.Warn("metrics instrument creation failed, metrics disabled", "error", err)
		m, _ = metrics.New(nil)
		return m, func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", "error", err)
		}
	}()
	return m, func() { _ = srv.Close() }
}

// checkpointFile is the on-disk shape recovery.Checkpoint round-trips
// through; QueueState is intentionally omitted because Parallel's internal
// queues are per-node and ephemeral (spec §4.4 notes the taskQueue export
// hook; this reference runner exercises it at the progressStream level,
// where a process-lifetime history is meaningful to resume).
type checkpointFile struct {
	ID            string           `json:"id"`
	Timestamp     time.Time        `json:"timestamp"`
	ProgressState []progress.Event `json:"progressState"`
}

// writeCheckpoint exercises recovery.CreateStateSnapshot against the
// progress broadcaster and persists the result, if a path was given.
func writeCheckpoint(log logger.Logger, path string, rootTask *task.Task, progressStream *progress.Broadcaster) {
	if path == "" {
		return
	}
	cp, err := recovery.CreateStateSnapshot(string(rootTask.ID()), nil, progressStream)
	if err != nil {
		log.Warn("create state snapshot failed", "error", err)
		return
	}
	events, _ := cp.ProgressState.([]progress.Event)
	out := checkpointFile{ID: cp.ID, Timestamp: cp.Timestamp, ProgressState: events}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Warn("encode checkpoint failed", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn("create checkpoint dir failed", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn("write checkpoint failed", "error", err)
	}
}

// resumeProgress exercises recovery.RollbackState, replaying a prior run's
// progress history onto a fresh broadcaster before execution starts.
func resumeProgress(path string, progressStream *progress.Broadcaster) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	var in checkpointFile
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	cp := recovery.Checkpoint{ID: in.ID, Timestamp: in.Timestamp, ProgressState: in.ProgressState}
	return recovery.RollbackState(cp, nil, progressStream)
}

// runWithStateStore loads (or creates) the root project's persisted state
// and, under the write lock (spec §5 locking discipline), marks it
// executing and saves it. The lock is released when this function returns,
// so it does not cover the task run itself or finalizeStateStore's writes.
// The returned error means the store could not be engaged at all; the
// caller falls back to running without one.
func runWithStateStore(ctx context.Context, store *statestore.Store, rootTask *task.Task) error {
	if _, err := store.LoadOrCreate(ctx, string(rootTask.ID())); err != nil {
		return fmt.Errorf("load project state: %w", err)
	}
	lock, err := store.Lock(ctx, 30_000)
	if err != nil {
		return fmt.Errorf("acquire state lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	if err := store.Update(ctx, map[string]any{"status": collab.StatusExecuting}); err != nil {
		return fmt.Errorf("update project state: %w", err)
	}
	return store.Save(ctx)
}

// finalizeStateStore persists the run's outcome; failures here are
// ignored: they are neither logged nor surfaced as a process exit code.
func finalizeStateStore(ctx context.Context, store *statestore.Store, msgResult task.MessageResult) {
	if msgResult.Success {
		_ = store.MarkComplete(ctx, msgResult.Result)
	} else {
		_ = store.Update(ctx, map[string]any{"status": collab.StatusCancelled})
	}
	_ = store.Save(ctx)
}

func buildEngine(tracer *telemetry.Tracer, metricsBundle *metrics.Metrics, progressStream collab.ProgressStream) *task.Manager {
	atomicStrategy := strategy.NewAtomic(nil)
	atomicStrategy.Telemetry = tracer
	atomicStrategy.Progress = progressStream

	sequentialStrategy := strategy.NewSequential(nil)
	sequentialStrategy.Telemetry = tracer
	sequentialStrategy.Progress = progressStream

	parallelStrategy := strategy.NewParallel(nil)
	parallelStrategy.Telemetry = tracer
	parallelStrategy.Metrics = metricsBundle
	parallelStrategy.Progress = progressStream

	recursiveStrategy := strategy.NewRecursive(nil, nil, 0.6, 256)
	recursiveStrategy.Telemetry = tracer
	recursiveStrategy.Progress = progressStream

	resolver := strategy.NewResolver(recursiveStrategy, parallelStrategy, sequentialStrategy, atomicStrategy)

	mgr := task.NewManager(resolver.AsTaskResolver())
	sequentialStrategy.Manager = mgr
	parallelStrategy.Manager = mgr
	recursiveStrategy.Manager = mgr
	recursiveStrategy.Sequential = sequentialStrategy
	recursiveStrategy.Parallel = parallelStrategy
	return mgr
}

func newExecutionContext(maxDepth int) *execctx.Context {
	taskID := idgen.MustNew()
	sessionID := idgen.MustNew()
	return execctx.New(taskID, sessionID, maxDepth, nil)
}

// exitError carries the process exit code a failure should produce
// (spec §6: 0/1/2/130), surfaced through cobra's error path.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if ee, ok := err.(*exitError); ok {
		return ee.code
	}
	return 1
}
