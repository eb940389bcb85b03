package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind buckets every error the gateway can surface. The gateway is the
// taxonomy boundary: transport errors are converted before they reach the
// pipeline.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindRateLimit           ErrorKind = "rate_limit"
	KindTimeout             ErrorKind = "timeout"
	KindCircuitOpen         ErrorKind = "circuit_open"
	KindUnknown             ErrorKind = "unknown"
)

// ValidationError is a caller fault. Never retried, never counted toward a
// circuit breaker.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ProviderUnavailableError indicates a backend that could not serve the call.
type ProviderUnavailableError struct {
	Provider ProviderID
	Cause    error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Cause)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Cause
}

// RateLimitError carries a wait hint. Not immediately retried; the executor
// honors the hint instead of its backoff curve.
type RateLimitError struct {
	Provider ProviderID
	Wait     time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %v", e.Provider, e.Wait)
}

// TimeoutError marks a call that exceeded its budget. Retried up to the
// bound, then treated as ProviderUnavailable.
type TimeoutError struct {
	Operation string
	Budget    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s exceeded budget %v", e.Operation, e.Budget)
}

// CircuitOpenError fails fast and immediately triggers fallback.
type CircuitOpenError struct {
	Provider   ProviderID
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %v", e.Provider, e.RetryAfter)
}

// ErrNoProvidersAvailable is the single terminal error the caller sees once
// live calls, fallback providers, and the degraded cache read are exhausted.
var ErrNoProvidersAvailable = errors.New("no providers available")

// Classify maps any error to its taxonomy kind.
func Classify(err error) ErrorKind {
	var (
		validation  *ValidationError
		unavailable *ProviderUnavailableError
		rateLimit   *RateLimitError
		timeout     *TimeoutError
		circuitOpen *CircuitOpenError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &timeout):
		return KindTimeout
	case errors.As(err, &rateLimit):
		return KindRateLimit
	case errors.As(err, &circuitOpen):
		return KindCircuitOpen
	case errors.As(err, &unavailable):
		return KindProviderUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether the retry executor may re-invoke after err.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindValidation, KindCircuitOpen:
		return false
	case KindRateLimit:
		// Retried, but on the wait hint rather than the backoff curve.
		return true
	default:
		return true
	}
}

// CountsTowardBreaker reports whether err should advance the failure count
// of a circuit breaker. Caller faults must never open a circuit.
func CountsTowardBreaker(err error) bool {
	switch Classify(err) {
	case KindValidation, KindCircuitOpen, KindRateLimit:
		return false
	default:
		return true
	}
}
