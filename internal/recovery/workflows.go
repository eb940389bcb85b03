package recovery

import (
	"context"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// StandardWorkflows builds the remediation set keyed by error kind. probe
// performs a cheap live call against the target provider; it is both the
// recovery action and the confirmation that the backend answers again.
func StandardWorkflows(probe StepFunc) (map[string]*Workflow, *Workflow) {
	cooldown := func(d time.Duration) StepFunc {
		return func(ctx context.Context, t Trigger) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}

	unavailable := &Workflow{
		Name:        "provider-unavailable",
		BackoffBase: 2 * time.Second,
		Steps: []Step{
			{Name: "cooldown", Run: cooldown(5 * time.Second)},
			{Name: "probe", Run: probe, Retryable: true, MaxAttempts: 5},
		},
	}

	timeoutWF := &Workflow{
		Name:        "timeout",
		BackoffBase: time.Second,
		Steps: []Step{
			{Name: "probe", Run: probe, Retryable: true, MaxAttempts: 3},
		},
	}

	rateLimit := &Workflow{
		Name:        "rate-limit",
		BackoffBase: time.Second,
		Steps: []Step{
			// The window clears on its own; just wait it out and verify.
			{Name: "cooldown", Run: cooldown(30 * time.Second)},
			{Name: "probe", Run: probe, Retryable: true, MaxAttempts: 2, Optional: true},
		},
	}

	workflows := map[string]*Workflow{
		string(domain.KindProviderUnavailable): unavailable,
		string(domain.KindTimeout):             timeoutWF,
		string(domain.KindRateLimit):           rateLimit,
	}
	return workflows, timeoutWF
}
