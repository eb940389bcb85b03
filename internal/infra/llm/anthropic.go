package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

const (
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultMaxToks = 4096
)

// AnthropicClient speaks the messages endpoint.
type AnthropicClient struct {
	cfg  ClientConfig
	http *http.Client
}

func NewAnthropicClient(cfg ClientConfig) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	return &AnthropicClient{cfg: cfg, http: newHTTPClient(cfg.Timeout)}
}

func (c *AnthropicClient) Name() domain.ProviderID {
	return domain.ProviderAnthropic
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *AnthropicClient) Call(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxToks
	}

	payload := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
	}
	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": anthropicAPIVersion,
	}

	body, err := postJSON(ctx, c.http, c.Name(), c.cfg.BaseURL+"/messages", headers, payload)
	if err != nil {
		return "", err
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &domain.ProviderUnavailableError{Provider: c.Name(), Cause: fmt.Errorf("decode response: %w", err)}
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", &domain.ProviderUnavailableError{Provider: c.Name(), Cause: fmt.Errorf("no text block in response")}
}

func (c *AnthropicClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
