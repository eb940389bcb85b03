// Package llm implements completion clients for the external backends.
//
// This package contains:
//   - ProviderClient: capability interface for one backend
//   - one HTTP implementation per backend (openai, anthropic, gemini)
//   - Registry: static construction from configuration
package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// CompletionRequest is one prompt sent to a backend.
type CompletionRequest struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// ProviderClient is the capability interface the gateway dispatches
// through. One implementation per backend, selected through the static
// registry rather than string-keyed lookup.
type ProviderClient interface {
	// Name returns the provider identifier.
	Name() domain.ProviderID

	// Call sends the prompt to the completion endpoint and returns the
	// response text. Transport failures are already mapped to the domain
	// error taxonomy.
	Call(ctx context.Context, req CompletionRequest) (string, error)

	// Close releases idle connections.
	Close() error
}

// ClientConfig holds the per-provider connection settings.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
