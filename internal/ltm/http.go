package ltm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mnemos/internal/logging"
	"mnemos/internal/types"
)

// HTTPService queries a remote recall endpoint over JSON. Transient
// failures (network errors, 5xx) are retried under the backoff policy;
// a 4xx is permanent and fails immediately.
type HTTPService struct {
	baseURL string
	client  *http.Client
	backoff BackoffPolicy
}

// NewHTTPService creates a client for the recall service at baseURL.
func NewHTTPService(baseURL string, timeout time.Duration, backoff BackoffPolicy) *HTTPService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if backoff.MaxAttempts <= 0 {
		backoff = DefaultBackoff()
	}
	return &HTTPService{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		backoff: backoff,
	}
}

type recallRequest struct {
	PersonaID string `json:"persona_id"`
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
}

type recallResponse struct {
	Hits []types.MemoryHit `json:"hits"`
}

// Query asks the remote service for long-term hits.
func (s *HTTPService) Query(ctx context.Context, personaID, text string, limit int) ([]types.MemoryHit, error) {
	body, err := json.Marshal(recallRequest{PersonaID: personaID, Query: text, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("ltm: encode request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.backoff.MaxAttempts; attempt++ {
		if err := sleep(ctx, s.backoff.Delay(attempt)); err != nil {
			return nil, err
		}

		hits, retryable, err := s.post(ctx, body)
		if err == nil {
			return hits, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		logging.LTMWarn("recall attempt %d/%d for %s failed: %v",
			attempt, s.backoff.MaxAttempts, personaID, err)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// post performs one request. The second return reports whether the
// failure is worth retrying.
func (s *HTTPService) post(ctx context.Context, body []byte) ([]types.MemoryHit, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/recall", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("ltm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("ltm: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("ltm: server error %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("ltm: unexpected status %d", resp.StatusCode)
	}

	var out recallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("ltm: decode response: %w", err)
	}
	return out.Hits, false, nil
}
