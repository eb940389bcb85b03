package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// =============================================================================
// Error mapping
// =============================================================================

func TestPostJSON_RateLimitWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Call(context.Background(), CompletionRequest{Prompt: "p"})

	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.Wait != 17*time.Second {
		t.Errorf("wait hint = %v, want 17s", rl.Wait)
	}
	if rl.Provider != domain.ProviderOpenAI {
		t.Errorf("provider = %s", rl.Provider)
	}
}

func TestPostJSON_BadRequestIsValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewAnthropicClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Call(context.Background(), CompletionRequest{Prompt: "p"})

	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if domain.IsRetryable(err) {
		t.Error("validation errors must not be retryable")
	}
}

func TestPostJSON_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewGeminiClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Call(context.Background(), CompletionRequest{Prompt: "p"})

	var pu *domain.ProviderUnavailableError
	if !errors.As(err, &pu) {
		t.Fatalf("expected ProviderUnavailableError, got %v", err)
	}
}

func TestPostJSON_ThrottleBodyInServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Resource quota exceeded for project"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOpenAIClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Call(context.Background(), CompletionRequest{Prompt: "p"})

	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("throttle body should map to RateLimitError, got %v", err)
	}
}

func TestPostJSON_ConnectionRefusedIsUnavailable(t *testing.T) {
	c := NewOpenAIClient(ClientConfig{BaseURL: "http://127.0.0.1:1", APIKey: "k", Timeout: time.Second})
	_, err := c.Call(context.Background(), CompletionRequest{Prompt: "p"})

	var pu *domain.ProviderUnavailableError
	if !errors.As(err, &pu) {
		t.Fatalf("expected ProviderUnavailableError, got %v", err)
	}
}

// =============================================================================
// Response decoding
// =============================================================================

func TestOpenAI_DecodesChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("authorization header = %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"Paris"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(ClientConfig{BaseURL: srv.URL, APIKey: "key-1"})
	got, err := c.Call(context.Background(), CompletionRequest{Prompt: "capital of France"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != "Paris" {
		t.Errorf("got %q", got)
	}
}

func TestAnthropic_DecodesTextBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "key-2" {
			t.Errorf("api key header = %q", got)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"Paris"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(ClientConfig{BaseURL: srv.URL, APIKey: "key-2"})
	got, err := c.Call(context.Background(), CompletionRequest{Prompt: "capital of France"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != "Paris" {
		t.Errorf("got %q", got)
	}
}

func TestGemini_DecodesCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.URL.Query().Get("key"); key != "key-3" {
			t.Errorf("query key = %q", key)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Paris"}]}}]}`))
	}))
	defer srv.Close()

	c := NewGeminiClient(ClientConfig{BaseURL: srv.URL, APIKey: "key-3"})
	got, err := c.Call(context.Background(), CompletionRequest{Prompt: "capital of France"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != "Paris" {
		t.Errorf("got %q", got)
	}
}

func TestOpenAI_EmptyChoicesIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Call(context.Background(), CompletionRequest{Prompt: "p"})

	var pu *domain.ProviderUnavailableError
	if !errors.As(err, &pu) {
		t.Fatalf("expected ProviderUnavailableError, got %v", err)
	}
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_BuildsConfiguredProviders(t *testing.T) {
	r, err := NewRegistry(map[domain.ProviderID]ClientConfig{
		domain.ProviderOpenAI: {APIKey: "a"},
		domain.ProviderGemini: {APIKey: "b"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	defer r.Close()

	if _, ok := r.Get(domain.ProviderOpenAI); !ok {
		t.Error("openai missing")
	}
	if _, ok := r.Get(domain.ProviderAnthropic); ok {
		t.Error("anthropic should not be built")
	}

	providers := r.Providers()
	if len(providers) != 2 || providers[0] != domain.ProviderOpenAI || providers[1] != domain.ProviderGemini {
		t.Errorf("providers = %v", providers)
	}
}

func TestRegistry_RejectsUnknownProvider(t *testing.T) {
	_, err := NewRegistry(map[domain.ProviderID]ClientConfig{
		domain.ProviderOpenAI: {APIKey: "a"},
		"mistral":             {APIKey: "b"},
	})
	if err == nil {
		t.Fatal("unknown provider must be rejected")
	}
}

func TestRegistry_RejectsEmpty(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("empty configuration must be rejected")
	}
}
