package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClient speaks the generateContent endpoint.
type GeminiClient struct {
	cfg  ClientConfig
	http *http.Client
}

func NewGeminiClient(cfg ClientConfig) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	return &GeminiClient{cfg: cfg, http: newHTTPClient(cfg.Timeout)}
}

func (c *GeminiClient) Name() domain.ProviderID {
	return domain.ProviderGemini
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (c *GeminiClient) Call(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		payload.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, model, c.cfg.APIKey)
	body, err := postJSON(ctx, c.http, c.Name(), url, nil, payload)
	if err != nil {
		return "", err
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &domain.ProviderUnavailableError{Provider: c.Name(), Cause: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", &domain.ProviderUnavailableError{Provider: c.Name(), Cause: fmt.Errorf("empty candidates")}
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func (c *GeminiClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
