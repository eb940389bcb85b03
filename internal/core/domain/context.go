package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallContext carries per-invocation metadata through the gateway.
// It is created per call and discarded on completion, never persisted.
type CallContext struct {
	Provider  ProviderID
	Operation string
	ClientID  string
	RequestID string
	Attempt   int
	StartedAt time.Time
}

// NewCallContext creates a context for a single provider invocation.
func NewCallContext(provider ProviderID, operation, clientID string) CallContext {
	return CallContext{
		Provider:  provider,
		Operation: operation,
		ClientID:  clientID,
		RequestID: uuid.New().String(),
		StartedAt: time.Now(),
	}
}

// WithProvider returns a copy of the context retargeted at another backend,
// keeping the request id so fallback attempts stay correlated in logs.
func (c CallContext) WithProvider(provider ProviderID) CallContext {
	c.Provider = provider
	c.Attempt = 0
	return c
}
