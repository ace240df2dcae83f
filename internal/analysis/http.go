package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aathul-raj/hermes/internal/reliability"
)

const (
	analyzeAttempts  = 3
	analyzeRetryBase = 500 * time.Millisecond
	analyzeRetryCap  = 5 * time.Second
)

// HTTPAnalyzer forwards transcripts to an external analysis endpoint.
// Transient failures are retried with capped backoff; the call being
// analyzed is already finished, so there is no hurry.
type HTTPAnalyzer struct {
	url    string
	client *http.Client
}

func NewHTTPAnalyzer(url string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, transcript string) (Result, error) {
	if a.url == "" {
		return Result{}, errors.New("analyzer url not configured")
	}

	payload, err := json.Marshal(struct {
		Transcript string `json:"transcript"`
	}{Transcript: transcript})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < analyzeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, analyzeRetryBase, analyzeRetryCap)):
			}
		}

		res, retryable, err := a.post(ctx, payload)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable {
			return Result{}, err
		}
	}
	return Result{}, lastErr
}

// post performs one request. The second return says whether the failure
// is worth another attempt.
func (a *HTTPAnalyzer) post(ctx context.Context, payload []byte) (Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		return Result{}, ctx.Err() == nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Result{}, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("analyzer status %d: %s", res.StatusCode, string(body))
	}

	var out Result
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Result{}, false, fmt.Errorf("decode response: %w", err)
	}
	return out, false, nil
}
