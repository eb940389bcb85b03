package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// throttlePatterns flag rate limiting hidden inside error bodies that come
// back with a non-429 status.
var throttlePatterns = []string{
	"rate limit exceeded",
	"too many requests",
	"quota exceeded",
	"overloaded",
}

// postJSON issues one POST and maps transport failures onto the domain
// error taxonomy. The caller decodes the body on success.
func postJSON(ctx context.Context, client *http.Client, provider domain.ProviderID, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, &domain.ProviderUnavailableError{Provider: provider, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderUnavailableError{Provider: provider, Cause: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.RateLimitError{
			Provider: provider,
			Wait:     parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, &domain.ValidationError{Reason: truncate(string(respBody), 200)}

	default:
		msg := truncate(string(respBody), 200)
		if detectThrottle(msg) {
			return nil, &domain.RateLimitError{Provider: provider, Wait: 30 * time.Second}
		}
		return nil, &domain.ProviderUnavailableError{
			Provider: provider,
			Cause:    fmt.Errorf("http %d: %s", resp.StatusCode, msg),
		}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 60 * time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 60 * time.Second
}

func detectThrottle(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range throttlePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
