package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIClient speaks the chat completions endpoint.
type OpenAIClient struct {
	cfg  ClientConfig
	http *http.Client
}

func NewOpenAIClient(cfg ClientConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	return &OpenAIClient{cfg: cfg, http: newHTTPClient(cfg.Timeout)}
}

func (c *OpenAIClient) Name() domain.ProviderID {
	return domain.ProviderOpenAI
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) Call(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	payload := openAIRequest{
		Model:       model,
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
	}

	body, err := postJSON(ctx, c.http, c.Name(), c.cfg.BaseURL+"/chat/completions", headers, payload)
	if err != nil {
		return "", err
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &domain.ProviderUnavailableError{Provider: c.Name(), Cause: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &domain.ProviderUnavailableError{Provider: c.Name(), Cause: fmt.Errorf("empty choices")}
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
