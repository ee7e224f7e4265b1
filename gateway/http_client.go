package gateway

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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 8 << 20
	requestIDHeader  = "X-Request-ID"
)

var _ Caller = (*HTTPClient)(nil)

// HTTPClient is the JSON-over-HTTP Caller for the coaching API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	timeout    time.Duration
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	metrics    MetricsRecorder
	logger     zerolog.Logger
	userAgent  string
}

// HTTPClientOption configures an HTTPClient
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client (tests pass httptest clients)
func WithHTTPClient(c *http.Client) HTTPClientOption {
	return func(h *HTTPClient) {
		h.httpClient = c
	}
}

// WithTimeout bounds every single attempt; a timed out attempt is a network failure
func WithTimeout(d time.Duration) HTTPClientOption {
	return func(h *HTTPClient) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithRateLimit throttles outbound calls to perSecond with the given burst
func WithRateLimit(perSecond float64, burst int) HTTPClientOption {
	return func(h *HTTPClient) {
		if perSecond > 0 {
			h.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithRetries retries idempotent calls that failed with a server or network error
func WithRetries(maxRetries int, backoff time.Duration) HTTPClientOption {
	return func(h *HTTPClient) {
		h.maxRetries = max(maxRetries, 0)
		h.backoff = backoff
	}
}

func WithMetrics(m MetricsRecorder) HTTPClientOption {
	return func(h *HTTPClient) {
		if m != nil {
			h.metrics = m
		}
	}
}

func WithLogger(logger zerolog.Logger) HTTPClientOption {
	return func(h *HTTPClient) {
		h.logger = logger
	}
}

func WithUserAgent(ua string) HTTPClientOption {
	return func(h *HTTPClient) {
		h.userAgent = ua
	}
}

// NewHTTPClient creates a client rooted at baseURL (for example "https://host/api").
// tokens may be nil for unauthenticated use.
func NewHTTPClient(baseURL string, tokens TokenSource, options ...HTTPClientOption) *HTTPClient {
	h := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		tokens:     tokens,
		timeout:    defaultTimeout,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		metrics:    nopMetrics{},
		logger:     zerolog.Nop(),
		userAgent:  "go-coach-engine/1.0",
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// Call performs the request, retrying GETs on transient failures.
func (h *HTTPClient) Call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("[HTTPClient Call] failed to marshal request body: %w", err)
		}
	}

	start := time.Now()
	var err error
	for attempt := 0; ; attempt++ {
		err = h.attempt(ctx, method, path, payload, out)
		kind := KindOf(err)
		if err == nil || !kind.Retryable() || method != http.MethodGet || attempt >= h.maxRetries {
			break
		}
		delay := h.backoff << attempt
		h.logger.Debug().Str("method", method).Str("path", path).Int("attempt", attempt+1).
			Dur("delay", delay).Str("kind", string(kind)).Msg("Retrying gateway call")
		if waitErr := sleepCtx(ctx, delay); waitErr != nil {
			break
		}
	}

	h.metrics.ObserveCall(method, KindOf(err), time.Since(start))
	return err
}

func (h *HTTPClient) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindNetwork, Detail: "rate limiter: " + err.Error(), Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, h.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("[HTTPClient Call] failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set(requestIDHeader, uuid.New().String())
	if h.tokens != nil {
		if token, ok := h.tokens.Load(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		detail := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			detail = "request timed out"
		}
		return &Error{Kind: KindNetwork, Detail: detail, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Kind: KindNetwork, Status: resp.StatusCode, Detail: "read response: " + err.Error(), Err: err}
	}

	if gwErr := ClassifyResponse(resp.StatusCode, respBody); gwErr != nil {
		h.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).
			Str("kind", string(gwErr.Kind)).Msg("Gateway call failed")
		return gwErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Kind: KindServer, Status: resp.StatusCode, Detail: "malformed response: " + err.Error(), Err: err}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
