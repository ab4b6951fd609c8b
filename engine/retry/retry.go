// Package retry centralizes the delay/attempt policy for operations that are
// not themselves TaskQueue items (spec §4.3), such as a strategy's internal
// LLM call. It drives github.com/sethvargo/go-retry, classifying failures
// via pkg/errs the same way engine/auth/org/service.go in the teacher drove
// provisionTemporalNamespaceWithRetry.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/compozy/taskengine/pkg/errs"
	"github.com/sethvargo/go-retry"
)

// BackoffPolicy configures the default and per-class delay/attempt caps.
type BackoffPolicy struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	MaxAttempts   int
	PerClassCaps  map[errs.Class]int
}

// DefaultBackoffPolicy mirrors spec §4.2/§4.3 defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
		MaxAttempts:   3,
		PerClassCaps:  map[errs.Class]int{},
	}
}

// maxAttemptsFor returns the per-class attempt cap, falling back to the
// policy default.
func (p BackoffPolicy) maxAttemptsFor(class errs.Class) int {
	if cap, ok := p.PerClassCaps[class]; ok && cap > 0 {
		return cap
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 1
}

// backoff builds the sethvargo/go-retry backoff sequence for this policy.
func (p BackoffPolicy) backoff(class errs.Class) retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithJitter(100*time.Millisecond, b)
	// The sequence must allow the largest per-class cap; ExecuteWithRetry
	// stops each class at its own cap.
	maxAttempts := p.maxAttemptsFor(class)
	for _, classCap := range p.PerClassCaps {
		if classCap > maxAttempts {
			maxAttempts = classCap
		}
	}
	if maxAttempts > 0 {
		b = retry.WithMaxRetries(uint64(maxAttempts-1), b)
	}
	return b
}

// Outcome is the result of ExecuteWithRetry.
type Outcome struct {
	Success  bool
	Data     any
	Err      error
	Attempts int
}

// AttemptFunc is one retry attempt; it receives the 1-based attempt number
// and the errors accumulated from prior attempts.
type AttemptFunc func(ctx context.Context, attempt int, previousErrors []error) (any, error)

// Handler drives AttemptFunc against a BackoffPolicy, classifying failures
// and retrying only recoverable classes up to their per-class cap.
type Handler struct {
	Policy BackoffPolicy
}

// NewHandler constructs a Handler with the given policy.
func NewHandler(policy BackoffPolicy) *Handler {
	return &Handler{Policy: policy}
}

// ExecuteWithRetry invokes fn, classifying any error via pkg/errs and
// retrying recoverable classes per the configured BackoffPolicy.
func (h *Handler) ExecuteWithRetry(ctx context.Context, fn AttemptFunc) Outcome {
	attempt := 0
	var previousErrors []error
	var class errs.Class
	var data any

	retryErr := retry.Do(ctx, h.Policy.backoff(errs.ClassUnknown), func(ctx context.Context) error {
		attempt++
		result, err := fn(ctx, attempt, append([]error(nil), previousErrors...))
		if err == nil {
			data = result
			return nil
		}
		previousErrors = append(previousErrors, err)
		class = errs.Classify(err)
		if !errs.IsRecoverable(err) {
			return err
		}
		if attempt >= h.Policy.maxAttemptsFor(class) {
			return err
		}
		return retry.RetryableError(err)
	})

	if retryErr != nil {
		return Outcome{Success: false, Err: retryErr, Attempts: attempt}
	}
	return Outcome{Success: true, Data: data, Attempts: attempt}
}

// GenerateErrorFeedback amends priorPrompt with accumulated error context so
// a strategy's next attempt can steer an LLM away from the same mistake.
func GenerateErrorFeedback(errorsSeen []error, priorPrompt string) string {
	if len(errorsSeen) == 0 {
		return priorPrompt
	}
	feedback := "Previous attempts failed with the following errors:\n"
	for i, err := range errorsSeen {
		feedback += fmt.Sprintf("%d. %s\n", i+1, errs.RedactError(err))
	}
	return feedback + "\n" + priorPrompt
}
