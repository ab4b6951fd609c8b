// Package recovery implements ErrorRecovery (spec §4.4): the error taxonomy
// is in pkg/errs; this package adds the per-class recovery strategy
// registry, state snapshot/rollback, the strategy fallback table, and
// partial-result salvage.
package recovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/compozy/taskengine/pkg/errs"
)

// fallbackTable is the data-driven strategyName -> fallbackName map (spec
// §4.4), preferred over a switch statement per §9's re-architecture notes.
var fallbackTable = map[string]string{
	"recursive": "atomic",
	"parallel":  "sequential",
	"sequential": "atomic",
	"optimized": "recursive",
}

// FallbackStrategy returns the next strategy to try for strategyName, or ""
// if none is configured.
func FallbackStrategy(strategyName string) string {
	return fallbackTable[strategyName]
}

// FallbackResult is the outcome of a fallback decision.
type FallbackResult struct {
	Success          bool
	Action           string
	FallbackStrategy string
	DelayMs          int64
}

// FallbackStrategyFor decides the fallback action after N consecutive
// failures of strategyName on one task.
func FallbackStrategyFor(strategyName string, _ error) FallbackResult {
	next := FallbackStrategy(strategyName)
	if next == "" {
		return FallbackResult{Success: false, Action: "none"}
	}
	return FallbackResult{Success: true, Action: "fallback", FallbackStrategy: next, DelayMs: 0}
}

// AttemptRecord is one entry in the bounded recovery history (spec §3).
type AttemptRecord struct {
	Key          string
	Timestamp    time.Time
	ErrorClass   errs.Class
	Success      bool
	StrategyUsed string
}

// RecoveryStrategy runs domain-specific remediation for one error class.
type RecoveryStrategy func(err error, ctxTaskID string) (any, error)

// SubtaskLister exposes the completed/pending/failed views recoverPartialResults
// needs; ExecutionContext-like collaborators implement this.
type SubtaskLister interface {
	GetCompletedSubtasks() []string
	GetPendingSubtasks() []string
	GetFailedSubtasks() []string
}

// Exporter/Importer back createStateSnapshot/rollbackState (spec §4.4): the
// taskQueue and progressStream collaborators expose export/import hooks.
type Exporter interface {
	Export() (any, error)
}
type Importer interface {
	Import(snapshot any) error
}

// Checkpoint is a serializable snapshot of queue, progress, and context
// (spec §3).
type Checkpoint struct {
	ID              string
	Timestamp       time.Time
	QueueState      any
	ProgressState   any
	ContextSnapshot any
}

// maxRecoveryAttempts is the default cap per (errorClass, taskID) (spec §7).
const maxRecoveryAttempts = 3

// historyRetention is how long attempt records are retained (spec §3).
const historyRetention = 24 * time.Hour

// Recovery tracks recovery attempt history and a registry of per-class
// recovery strategies.
type Recovery struct {
	mu                   sync.Mutex
	history              []AttemptRecord
	strategies           map[errs.Class]RecoveryStrategy
	maxRecoveryAttempts  int
}

// New constructs a Recovery with the spec's default attempt cap.
func New() *Recovery {
	return &Recovery{
		strategies:          map[errs.Class]RecoveryStrategy{},
		maxRecoveryAttempts: maxRecoveryAttempts,
	}
}

// Register binds a recovery strategy to an error class.
func (r *Recovery) Register(class errs.Class, strategy RecoveryStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[class] = strategy
}

func (r *Recovery) pruneLocked() {
	cutoff := time.Now().Add(-historyRetention)
	kept := r.history[:0]
	for _, rec := range r.history {
		if rec.Timestamp.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	r.history = kept
}

func historyKey(class errs.Class, taskID string) string {
	return fmt.Sprintf("%s:%s", class, taskID)
}

// Result is the outcome of Recover.
type Result struct {
	Success bool
	Action  string
	Data    any
	Reason  string
}

// Recover attempts to recover from err for the given taskID, following
// spec §4.4's recover() algorithm.
func (r *Recovery) Recover(err error, taskID string) Result {
	class := errs.Classify(err)
	key := historyKey(class, taskID)

	r.mu.Lock()
	r.pruneLocked()
	count := 0
	for _, rec := range r.history {
		if rec.Key == key {
			count++
		}
	}
	if count >= r.maxRecoveryAttempts {
		r.mu.Unlock()
		return Result{Success: false, Action: "fail", Reason: "Maximum recovery attempts exceeded"}
	}
	strategy, ok := r.strategies[class]
	r.mu.Unlock()

	if !ok {
		return Result{Success: false, Action: "fail", Reason: "No recovery strategy available"}
	}

	data, strategyErr := strategy(err, taskID)
	success := strategyErr == nil

	r.mu.Lock()
	r.history = append(r.history, AttemptRecord{
		Key: key, Timestamp: time.Now(), ErrorClass: class,
		Success: success, StrategyUsed: string(class),
	})
	r.mu.Unlock()

	if !success {
		return Result{Success: false, Action: "fail", Reason: strategyErr.Error()}
	}
	return Result{Success: true, Action: "recovered", Data: data}
}

// PartialResult is recoverPartialResults' output (spec §4.4).
type PartialResult struct {
	Partial             bool
	Completed           []string
	Pending             []string
	Failed              []string
	CompletionPercentage float64
	ErrorClass           errs.Class
	CanResume            bool
	ResumeStrategy       string
	Recoverable          bool
}

// RecoverPartialResults computes a resume suggestion from the subtask
// completion snapshot exposed by lister.
func RecoverPartialResults(lister SubtaskLister, err error) PartialResult {
	completed := lister.GetCompletedSubtasks()
	pending := lister.GetPendingSubtasks()
	failed := lister.GetFailedSubtasks()
	total := len(completed) + len(pending) + len(failed)
	pct := 0.0
	if total > 0 {
		pct = float64(len(completed)) / float64(total) * 100
	}

	var resumeStrategy string
	switch {
	case pct >= 80:
		resumeStrategy = "atomic:skipCompleted"
	case len(failed) >= 3:
		resumeStrategy = "sequential:retryFailed"
	default:
		resumeStrategy = "recursive:continueFromCheckpoint"
	}

	return PartialResult{
		Partial:              true,
		Completed:            completed,
		Pending:              pending,
		Failed:               failed,
		CompletionPercentage: pct,
		ErrorClass:           errs.Classify(err),
		CanResume:            true,
		ResumeStrategy:       resumeStrategy,
		Recoverable:          errs.IsRecoverable(err),
	}
}

// CreateStateSnapshot serializes the given collaborators' exportable state
// into a Checkpoint.
func CreateStateSnapshot(id string, taskQueue, progressStream Exporter) (Checkpoint, error) {
	var queueState, progressState any
	var err error
	if taskQueue != nil {
		if queueState, err = taskQueue.Export(); err != nil {
			return Checkpoint{}, fmt.Errorf("export queue state: %w", err)
		}
	}
	if progressStream != nil {
		if progressState, err = progressStream.Export(); err != nil {
			return Checkpoint{}, fmt.Errorf("export progress state: %w", err)
		}
	}
	return Checkpoint{
		ID:            id,
		Timestamp:     time.Now(),
		QueueState:    queueState,
		ProgressState: progressState,
	}, nil
}

// RollbackState restores the given collaborators from a Checkpoint.
func RollbackState(cp Checkpoint, taskQueue, progressStream Importer) error {
	if taskQueue != nil && cp.QueueState != nil {
		if err := taskQueue.Import(cp.QueueState); err != nil {
			return fmt.Errorf("import queue state: %w", err)
		}
	}
	if progressStream != nil && cp.ProgressState != nil {
		if err := progressStream.Import(cp.ProgressState); err != nil {
			return fmt.Errorf("import progress state: %w", err)
		}
	}
	return nil
}
