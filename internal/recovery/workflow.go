// Package recovery runs remediation workflows for failing backends. A
// workflow is an ordered list of steps; each step can retry with exponential
// backoff, and optional steps may exhaust their attempts without failing the
// workflow.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Trigger asks the coordinator to remediate one target.
type Trigger struct {
	// Target is the failing service, usually a provider id.
	Target string

	// ErrorKind selects the workflow. Unknown kinds run the default.
	ErrorKind string
}

// StepFunc performs one remediation action.
type StepFunc func(ctx context.Context, t Trigger) error

// Step is one action inside a workflow.
type Step struct {
	Name string
	Run  StepFunc

	// Retryable steps back off and re-run on failure.
	Retryable   bool
	MaxAttempts int

	// Optional steps log exhaustion and let the workflow continue.
	Optional bool

	// Confirm, when set, verifies the step's effect after Run succeeds.
	// A failed confirmation counts as a step failure.
	Confirm StepFunc
}

// Workflow is a named ordered remediation sequence.
type Workflow struct {
	Name  string
	Steps []Step

	// BackoffBase seeds the per-step exponential backoff.
	BackoffBase time.Duration
}

// Execute runs the steps in order and reports the total step attempts made.
// The first required-step failure aborts.
func (w *Workflow) Execute(ctx context.Context, t Trigger, log *slog.Logger) (int, error) {
	base := w.BackoffBase
	if base <= 0 {
		base = time.Second
	}

	total := 0
	for _, step := range w.Steps {
		n, err := w.runStep(ctx, step, t, base)
		total += n
		if err == nil {
			log.Debug("recovery step done", "workflow", w.Name, "step", step.Name, "attempts", n)
			continue
		}
		if step.Optional {
			log.Warn("optional recovery step exhausted, continuing",
				"workflow", w.Name, "step", step.Name, "error", err)
			continue
		}
		return total, fmt.Errorf("step %s: %w", step.Name, err)
	}
	return total, nil
}

func (w *Workflow) runStep(ctx context.Context, step Step, t Trigger, base time.Duration) (int, error) {
	attempts := 0
	attempt := func(ctx context.Context) error {
		attempts++
		if err := step.Run(ctx, t); err != nil {
			if step.Retryable {
				return retry.RetryableError(err)
			}
			return err
		}
		if step.Confirm != nil {
			if err := step.Confirm(ctx, t); err != nil {
				if step.Retryable {
					return retry.RetryableError(fmt.Errorf("confirm: %w", err))
				}
				return fmt.Errorf("confirm: %w", err)
			}
		}
		return nil
	}

	if !step.Retryable {
		return 1, attempt(ctx)
	}

	maxAttempts := step.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(base))
	err := retry.Do(ctx, backoff, attempt)
	return attempts, err
}
