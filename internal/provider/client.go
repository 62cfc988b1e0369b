// Package provider wraps the messaging provider's HTTP API behind a
// retrying, session-aware transport client.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/outreachhq/outreach-backend/internal/config"
	"github.com/outreachhq/outreach-backend/internal/metrics"
)

const (
	backoffBase   = 1 * time.Second
	backoffFactor = 2
	backoffCap    = 30 * time.Second
	jitterSpread  = 0.3
)

// Body markers the provider uses for accounts that need human attention.
var sessionErrorMarkers = []string{"checkpoint", "disconnected", "action_required"}

// APIError is a non-2xx provider response. IsSessionError and
// RequiresReconnect flag failures that no retry will fix without the user
// reconnecting the account.
type APIError struct {
	Status            int
	Body              string
	CorrelationID     string
	IsSessionError    bool
	RequiresReconnect bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error %d (correlation %s): %s", e.Status, e.CorrelationID, e.Body)
}

func newAPIError(status int, body []byte, correlationID string) *APIError {
	e := &APIError{Status: status, Body: string(body), CorrelationID: correlationID}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		e.IsSessionError = true
	}
	lower := strings.ToLower(e.Body)
	for _, marker := range sessionErrorMarkers {
		if strings.Contains(lower, marker) {
			e.IsSessionError = true
		}
	}
	e.RequiresReconnect = e.IsSessionError
	return e
}

// RequestOptions shape one logical provider request.
type RequestOptions struct {
	Method    string
	Body      any
	Query     url.Values
	Timeout   time.Duration // per attempt; zero means the client default
	SkipRetry bool
}

// Response is the decoded transport result of a successful request.
type Response struct {
	Status int
	Data   json.RawMessage
	Header http.Header
}

// Client is the resilient transport client. Retries cover 429, 5xx and
// per-attempt timeouts; 401/403 and other 4xx are surfaced immediately.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	timeout    time.Duration
	logger     zerolog.Logger

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

func NewClient(cfg *config.ProviderConfig, logger zerolog.Logger) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		maxRetries: maxRetries,
		timeout:    timeout,
		logger:     logger.With().Str("component", "provider_client").Logger(),
		sleep:      time.Sleep,
	}
}

// Do performs one logical request, retrying transient failures under
// exponential backoff. Every attempt of the same logical request carries the
// same correlation id.
func (c *Client) Do(ctx context.Context, path string, opts RequestOptions) (*Response, error) {
	correlationID := uuid.NewString()
	attempts := c.maxRetries
	if opts.SkipRetry {
		attempts = 1
	}

	var lastErr error
	var retryAfter string
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, retryAfter)
			c.logger.Debug().
				Str("correlation_id", correlationID).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("retrying provider request")
			c.sleep(delay)
		}
		retryAfter = ""

		resp, err := c.attempt(ctx, path, opts, correlationID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !isTimeout(err) {
				return nil, err
			}
			metrics.TransportRetries.WithLabelValues("timeout").Inc()
			lastErr = err
			continue
		}

		if resp.Status >= 200 && resp.Status < 300 {
			return resp, nil
		}

		apiErr := newAPIError(resp.Status, resp.Data, correlationID)
		if resp.Status == http.StatusTooManyRequests || resp.Status >= 500 {
			reason := "server_error"
			if resp.Status == http.StatusTooManyRequests {
				reason = "rate_limited"
				retryAfter = resp.Header.Get("Retry-After")
			}
			metrics.TransportRetries.WithLabelValues(reason).Inc()
			lastErr = apiErr
			continue
		}

		// Permanent: 401/403 and remaining 4xx are never retried.
		return nil, apiErr
	}

	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, path string, opts RequestOptions, correlationID string) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullURL := c.baseURL + path
	if len(opts.Query) > 0 {
		fullURL += "?" + opts.Query.Encode()
	}

	var bodyReader io.Reader
	if opts.Body != nil {
		encoded, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Correlation-Id", correlationID)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	return &Response{Status: httpResp.StatusCode, Data: data, Header: httpResp.Header}, nil
}

// backoffDelay computes the wait before the (attempt+2)th try. Without a
// Retry-After hint the delay is base*2^attempt stretched by a jitter
// multiplier in [1.0, 1.3), capped at 30s. Retry-After (seconds or HTTP
// date) wins when present, under the same cap.
func backoffDelay(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
			return capDelay(time.Duration(secs) * time.Second)
		}
		if at, err := http.ParseTime(retryAfter); err == nil {
			if wait := time.Until(at); wait > 0 {
				return capDelay(wait)
			}
		}
	}

	delay := backoffBase
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
	}
	jittered := time.Duration(float64(delay) * (1 + rand.Float64()*jitterSpread))
	return capDelay(jittered)
}

func capDelay(d time.Duration) time.Duration {
	if d > backoffCap {
		return backoffCap
	}
	return d
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	return false
}
