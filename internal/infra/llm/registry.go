package llm

import (
	"fmt"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// Registry holds the constructed clients for this build's backends.
type Registry struct {
	clients map[domain.ProviderID]ProviderClient
	order   []domain.ProviderID
}

// NewRegistry constructs one client per configured provider. Unknown
// identifiers are rejected at construction, not at dispatch time.
func NewRegistry(configs map[domain.ProviderID]ClientConfig) (*Registry, error) {
	r := &Registry{clients: make(map[domain.ProviderID]ProviderClient)}

	for _, id := range domain.KnownProviders {
		cfg, ok := configs[id]
		if !ok {
			continue
		}
		var client ProviderClient
		switch id {
		case domain.ProviderOpenAI:
			client = NewOpenAIClient(cfg)
		case domain.ProviderAnthropic:
			client = NewAnthropicClient(cfg)
		case domain.ProviderGemini:
			client = NewGeminiClient(cfg)
		}
		r.clients[id] = client
		r.order = append(r.order, id)
	}

	for id := range configs {
		if !id.IsKnown() {
			return nil, fmt.Errorf("unknown provider %q in configuration", id)
		}
	}
	if len(r.clients) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	return r, nil
}

// Get returns the client for a provider.
func (r *Registry) Get(id domain.ProviderID) (ProviderClient, bool) {
	c, ok := r.clients[id]
	return c, ok
}

// Providers lists the configured backends in canonical order.
func (r *Registry) Providers() []domain.ProviderID {
	out := make([]domain.ProviderID, len(r.order))
	copy(out, r.order)
	return out
}

// Close releases every client's idle connections.
func (r *Registry) Close() error {
	var firstErr error
	for _, c := range r.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
