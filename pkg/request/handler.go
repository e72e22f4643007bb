// Package request provides the top-level request handler for a remote
// API: it attaches authorization headers, sends requests through a cached
// or plain session, classifies error responses, and recovers from
// transient failures with exponential backoff and Retry-After compliance.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundmirror/soundmirror/pkg/auth"
	"github.com/soundmirror/soundmirror/pkg/logging"
)

// Doer sends a single HTTP request. Satisfied by *http.Client and
// *cache.CachedSession.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the handler configuration.
type Config struct {
	// Session sends requests; a cached session makes the handler
	// cache-aware with no further changes. Defaults to an *http.Client
	// with a 30 second timeout.
	Session Doer

	// Authorizer supplies authorization headers. Optional.
	Authorizer auth.Authorizer

	// BackoffStart is the initial backoff wait for failed requests.
	BackoffStart time.Duration

	// BackoffFactor multiplies the backoff wait after each failed
	// attempt.
	BackoffFactor float64

	// BackoffCount is the maximum number of backoff retries before
	// giving up.
	BackoffCount int

	// WaitIncrement is added to the inter-request wait each time the
	// remote service reports a 429.
	WaitIncrement time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BackoffStart:  200 * time.Millisecond,
		BackoffFactor: 1.932,
		BackoffCount:  10,
		WaitIncrement: 100 * time.Millisecond,
	}
}

// Handler is the façade every remote-API interaction goes through.
type Handler struct {
	session    Doer
	authorizer auth.Authorizer
	logger     zerolog.Logger

	backoffStart  time.Duration
	backoffFactor float64
	backoffCount  int

	mu            sync.Mutex
	headers       http.Header
	waitTime      time.Duration
	waitIncrement time.Duration
}

// New creates a handler from the given configuration.
func New(cfg Config) (*Handler, error) {
	if cfg.BackoffStart <= 0 {
		return nil, fmt.Errorf("backoff start must be positive")
	}
	if cfg.BackoffFactor <= 1 {
		return nil, fmt.Errorf("backoff factor must be greater than 1")
	}
	if cfg.BackoffCount < 1 {
		return nil, fmt.Errorf("backoff count must be at least 1")
	}

	session := cfg.Session
	if session == nil {
		session = &http.Client{Timeout: 30 * time.Second}
	}

	return &Handler{
		session:       session,
		authorizer:    cfg.Authorizer,
		logger:        logging.NewLogger("request-handler"),
		backoffStart:  cfg.BackoffStart,
		backoffFactor: cfg.BackoffFactor,
		backoffCount:  cfg.BackoffCount,
		headers:       make(http.Header),
		waitIncrement: cfg.WaitIncrement,
	}, nil
}

// BackoffFinal returns the largest single backoff wait the handler will
// apply before giving up.
func (h *Handler) BackoffFinal() time.Duration {
	return time.Duration(float64(h.backoffStart) * math.Pow(h.backoffFactor, float64(h.backoffCount)))
}

// Timeout returns the handler's total wait budget: the sum of the full
// geometric backoff series. A Retry-After wait beyond this budget fails
// fast instead of sleeping.
func (h *Handler) Timeout() time.Duration {
	total := time.Duration(0)
	for i := 0; i <= h.backoffCount; i++ {
		total += time.Duration(float64(h.backoffStart) * math.Pow(h.backoffFactor, float64(i)))
	}
	return total
}

// Authorize refreshes the authorization headers attached to every
// outbound request. See auth.Authorizer for the force flags.
func (h *Handler) Authorize(ctx context.Context, forceLoad, forceNew bool) (http.Header, error) {
	if h.authorizer == nil {
		return nil, nil
	}

	headers, err := h.authorizer.Authorize(ctx, forceLoad, forceNew)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}

	h.mu.Lock()
	for name, values := range headers {
		h.headers[name] = append([]string(nil), values...)
	}
	h.mu.Unlock()

	return headers, nil
}

// Request sends a request and returns the decoded JSON object from the
// response body, or an empty map when the body is not a JSON object.
// Transient failures are retried invisibly within the configured limits;
// unrecoverable outcomes surface as a single *APIError.
func (h *Handler) Request(ctx context.Context, method, url string, body any) (map[string]any, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	backoff := h.backoffStart
	attempt := 0
	reauthorized := false

	for {
		resp, err := h.send(ctx, method, url, body)
		if err != nil {
			// Transport-level failures carry no response and are
			// retryable through the normal backoff path.
			h.logger.Debug().Err(err).Str("method", method).Str("url", url).Msg("Request transport error")
			retriesTotal.WithLabelValues("transport").Inc()
		} else if resp.StatusCode < 400 {
			data := decodeJSONObject(resp.Body)
			resp.Body.Close()
			requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

			// The response is already in hand; a cancelled wait does not
			// invalidate it.
			_ = h.waitBetweenRequests(ctx)
			return data, nil
		} else {
			message, hasMessage := errorMessage(resp)
			requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
			h.logger.Warn().
				Str("method", method).
				Str("url", url).
				Int("status", resp.StatusCode).
				Str("message", message).
				Msg("Request error response")

			handled, err := h.handleBadResponse(ctx, resp, &reauthorized)
			if err != nil {
				resp.Body.Close()
				return nil, err
			}

			// A Retry-After header is authoritative: honor it exactly,
			// without consuming a backoff step, unless it exceeds the
			// timeout budget.
			if wait, ok := retryAfter(resp); ok {
				resp.Body.Close()
				if wait > h.Timeout() {
					return nil, &APIError{
						StatusCode: resp.StatusCode,
						Message:    fmt.Sprintf("wait of %s requested, budget is %s", wait, h.Timeout()),
						Err:        ErrRateLimitTimeout,
					}
				}

				h.logger.Info().Dur("wait", wait).Msg("Rate limited, waiting as instructed")
				rateLimitWaitsTotal.Inc()
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			resp.Body.Close()

			if handled {
				continue
			}

			// Client errors below 408 with an extractable message will
			// not succeed on retry.
			if resp.StatusCode < http.StatusRequestTimeout && hasMessage {
				return nil, &APIError{StatusCode: resp.StatusCode, Message: message}
			}
		}

		if attempt >= h.backoffCount {
			retriesExhaustedTotal.Inc()
			return nil, &APIError{
				Message: fmt.Sprintf("request failed after %d attempts", attempt+1),
				Err:     ErrRetriesExhausted,
			}
		}

		h.logger.Debug().
			Str("method", method).
			Str("url", url).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Request failed, retrying after backoff")
		retriesTotal.WithLabelValues("backoff").Inc()
		retryBackoffSeconds.Observe(backoff.Seconds())

		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = time.Duration(float64(backoff) * h.backoffFactor)
		attempt++
	}
}

// send builds and dispatches a single attempt.
func (h *Handler) send(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	h.mu.Lock()
	for name, values := range h.headers {
		req.Header[name] = append([]string(nil), values...)
	}
	h.mu.Unlock()

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	h.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Str("query", req.URL.RawQuery).
		Msg("Sending request")

	return h.session.Do(req)
}

// handleBadResponse applies the status-specific recoveries: 401 triggers
// reauthorization and repeats the attempt immediately, 429 stretches the
// inter-request wait and throttles by it before the normal retry path.
// The returned bool reports whether the attempt should repeat without
// consuming a backoff step.
func (h *Handler) handleBadResponse(ctx context.Context, resp *http.Response, reauthorized *bool) (bool, error) {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		// One reauthorization per logical request; a second 401 falls
		// through to the terminal error paths.
		if h.authorizer == nil || *reauthorized {
			return false, nil
		}
		*reauthorized = true
		h.logger.Debug().Msg("Unauthorized, reauthorizing")
		if _, err := h.Authorize(ctx, true, false); err != nil {
			return false, &APIError{StatusCode: resp.StatusCode, Message: "reauthorization failed", Err: err}
		}
		retriesTotal.WithLabelValues("reauthorized").Inc()
		return true, nil

	case http.StatusTooManyRequests:
		h.mu.Lock()
		h.waitTime += h.waitIncrement
		wait := h.waitTime
		h.mu.Unlock()
		h.logger.Debug().Dur("wait", wait).Msg("Rate limit hit, increasing inter-request wait")
		retriesTotal.WithLabelValues("rate_limit").Inc()

		// Without Retry-After guidance, throttle by the accumulated wait
		// and let the capped backoff path bound the retries. A Retry-After
		// header is honored by the request loop instead.
		if resp.Header.Get("Retry-After") == "" {
			if err := sleep(ctx, wait); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	return false, nil
}

// waitBetweenRequests applies the inter-request wait accumulated from 429
// responses.
func (h *Handler) waitBetweenRequests(ctx context.Context) error {
	h.mu.Lock()
	wait := h.waitTime
	h.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return sleep(ctx, wait)
}

// Get sends a GET request.
func (h *Handler) Get(ctx context.Context, url string) (map[string]any, error) {
	return h.Request(ctx, http.MethodGet, url, nil)
}

// Post sends a POST request with a JSON body.
func (h *Handler) Post(ctx context.Context, url string, body any) (map[string]any, error) {
	return h.Request(ctx, http.MethodPost, url, body)
}

// Put sends a PUT request with a JSON body.
func (h *Handler) Put(ctx context.Context, url string, body any) (map[string]any, error) {
	return h.Request(ctx, http.MethodPut, url, body)
}

// Delete sends a DELETE request.
func (h *Handler) Delete(ctx context.Context, url string) (map[string]any, error) {
	return h.Request(ctx, http.MethodDelete, url, nil)
}

// Patch sends a PATCH request with a JSON body.
func (h *Handler) Patch(ctx context.Context, url string, body any) (map[string]any, error) {
	return h.Request(ctx, http.MethodPatch, url, body)
}

// Head sends a HEAD request.
func (h *Handler) Head(ctx context.Context, url string) (map[string]any, error) {
	return h.Request(ctx, http.MethodHead, url, nil)
}

// Options sends an OPTIONS request.
func (h *Handler) Options(ctx context.Context, url string) (map[string]any, error) {
	return h.Request(ctx, http.MethodOptions, url, nil)
}

// Close releases the underlying session when it holds resources, e.g. a
// cached session's backend connection.
func (h *Handler) Close() error {
	if closer, ok := h.session.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// decodeJSONObject decodes a response body as a JSON object, returning an
// empty map for anything else.
func decodeJSONObject(body io.Reader) map[string]any {
	var data map[string]any
	if err := json.NewDecoder(body).Decode(&data); err != nil || data == nil {
		return map[string]any{}
	}
	return data
}

// errorMessage extracts the explicit error message from a JSON error
// body of the form {"error": {"message": ...}} or {"error": ...}. The
// bool reports whether a message was extractable; the returned string
// falls back to the HTTP status text either way.
func errorMessage(resp *http.Response) (string, bool) {
	body, err := io.ReadAll(resp.Body)
	if err == nil {
		resp.Body = io.NopCloser(bytes.NewReader(body))

		var payload struct {
			Error json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(body, &payload); err == nil && len(payload.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
				return nested.Message, true
			}

			var plain string
			if err := json.Unmarshal(payload.Error, &plain); err == nil && plain != "" {
				return plain, true
			}
		}
	}

	return http.StatusText(resp.StatusCode), false
}

// retryAfter parses the Retry-After header as delay seconds or an HTTP
// date.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		return time.Until(at), true
	}
	return 0, false
}

// sleep waits for the given duration, interruptible by context
// cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-time.After(d):
		return nil
	}
}
