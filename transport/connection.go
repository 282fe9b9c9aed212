package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
	"golang.org/x/time/rate"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

const (
	// DefaultTimeout bounds one non-streaming attempt, and the wait for
	// response headers of a streaming attempt.
	DefaultTimeout = 60 * time.Second

	maxErrorBodyBytes = 1 << 20
)

// Connection executes HTTP requests against LLM provider APIs with circuit
// breaking, bounded retries and typed errors. A Connection is safe for
// concurrent use.
type Connection struct {
	httpClient *http.Client
	timeout    time.Duration
	policy     RetryPolicy
	breaker    *CircuitBreaker
	limiter    *rate.Limiter
	headers    http.Header
	metrics    *Metrics
	logger     zerolog.Logger
	newTimer   func() backoff.Timer
	now        func() time.Time

	breakerConfig *BreakerConfig
}

// Option configures a Connection.
type Option func(*Connection)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connection) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Connection) {
		c.timeout = timeout
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Connection) {
		c.policy = policy
	}
}

// WithBreaker shares an existing breaker with this connection.
func WithBreaker(breaker *CircuitBreaker) Option {
	return func(c *Connection) {
		c.breaker = breaker
	}
}

// WithBreakerConfig gives the connection its own breaker with cfg.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(c *Connection) {
		c.breakerConfig = &cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connection) {
		c.logger = logger.With().Str("component", "transport").Logger()
	}
}

// WithMetrics records prometheus metrics for every request.
func WithMetrics(metrics *Metrics) Option {
	return func(c *Connection) {
		c.metrics = metrics
	}
}

// WithRateLimit paces attempts client-side to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Connection) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHeaders sets headers sent with every request. Per-call headers win.
func WithHeaders(headers map[string]string) Option {
	return func(c *Connection) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// WithTimer replaces the backoff timer, for tests.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Connection) {
		c.newTimer = newTimer
	}
}

// NewConnection creates a Connection. Without WithBreaker or
// WithBreakerConfig it owns a breaker with default thresholds.
func NewConnection(opts ...Option) *Connection {
	c := &Connection{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		policy:     DefaultRetryPolicy(),
		headers:    make(http.Header),
		logger:     zerolog.Nop(),
		newTimer:   func() backoff.Timer { return &realTimer{} },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		cfg := DefaultBreakerConfig()
		if c.breakerConfig != nil {
			cfg = *c.breakerConfig
		}
		c.breaker = NewCircuitBreaker(cfg, WithBreakerLogger(c.logger))
	}
	c.metrics.ObserveBreaker(c.breaker)
	return c
}

// Breaker returns the connection's circuit breaker.
func (c *Connection) Breaker() *CircuitBreaker {
	return c.breaker
}

// Get performs a GET request and returns the validated JSON body.
func (c *Connection) Get(ctx context.Context, url string, headers map[string]string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, url, headers, nil)
}

// Post performs a POST request with a JSON body and returns the validated JSON body.
func (c *Connection) Post(ctx context.Context, url string, headers map[string]string, body any) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, url, headers, body)
}

// Request performs one logical request. body may be nil, []byte,
// json.RawMessage, string, or any JSON-serializable value.
func (c *Connection) Request(ctx context.Context, method, url string, headers map[string]string, body any) (json.RawMessage, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	var result json.RawMessage
	err = c.execute(ctx, method, url, headers, payload, false, func(key EndpointKey, resp *http.Response, cancel context.CancelFunc) error {
		defer cancel()
		defer resp.Body.Close() //nolint:errcheck // Body fully read below

		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}
		c.breaker.RecordSuccess(key)

		if resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return backoff.Permanent(llm.NewJSONDecodeError(data, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Stream opens an SSE stream. The JSON payload always carries "stream": true.
func (c *Connection) Stream(ctx context.Context, url string, headers map[string]string, body any) (*EventStream, error) {
	return c.stream(ctx, url, headers, body, FramingSSE, "text/event-stream")
}

// StreamNDJSON opens a newline-delimited JSON stream, as served by Ollama.
func (c *Connection) StreamNDJSON(ctx context.Context, url string, headers map[string]string, body any) (*EventStream, error) {
	return c.stream(ctx, url, headers, body, FramingNDJSON, "application/x-ndjson")
}

func (c *Connection) stream(ctx context.Context, url string, headers map[string]string, body any, framing Framing, accept string) (*EventStream, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		payload = []byte("{}")
	}
	payload, err = sjson.SetBytes(payload, "stream", true)
	if err != nil {
		return nil, fmt.Errorf("failed to set stream flag: %w", err)
	}

	merged := map[string]string{"Accept": accept}
	for k, v := range headers {
		merged[k] = v
	}

	var stream *EventStream
	err = c.execute(ctx, http.MethodPost, url, merged, payload, true, func(key EndpointKey, resp *http.Response, cancel context.CancelFunc) error {
		c.breaker.RecordSuccess(key)
		stream = newEventStream(resp.Body, framing, cancel, key, c.metrics)
		return nil
	})
	if err != nil {
		// Typed rejections pass through; only exhausted retries become stream errors
		var llmErr *llm.Error
		if errors.As(err, &llmErr) && llmErr.Attempts == 0 {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, llm.NewStreamError("failed to open stream", err)
	}
	return stream, nil
}

// successFunc consumes a 2xx response. It owns resp.Body and cancel.
// Returning a non-permanent error counts as a connection failure.
type successFunc func(key EndpointKey, resp *http.Response, cancel context.CancelFunc) error

func (c *Connection) execute(ctx context.Context, method, url string, headers map[string]string, payload []byte, streaming bool, onSuccess successFunc) error {
	key, err := EndpointKeyFromURL(url)
	if err != nil {
		return llm.NewProviderError("invalid request url", err)
	}

	start := c.now()
	log := c.logger.With().Str("endpoint", key.String()).Str("method", method).Logger()

	attempts := 0
	var lastErr error
	var permanent bool

	operation := func() error {
		attempts++

		if err := c.breaker.AllowRequest(key); err != nil {
			c.metrics.recordRejection(key)
			permanent = true
			return backoff.Permanent(err)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				permanent = true
				return backoff.Permanent(err)
			}
		}

		c.metrics.recordAttempt(key, method)
		err := c.attempt(ctx, key, method, url, headers, payload, streaming, onSuccess)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}
		if err != nil && !permanent {
			lastErr = err
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		log.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("max_attempts", c.policy.Attempts()).
			Dur("next_delay", next).
			Msg("Request failed, retrying after backoff")
	}

	err = backoff.RetryNotifyWithTimer(operation, c.policy.NewBackOff(ctx), notify, c.newTimer())
	if err == nil {
		c.metrics.recordRequest(key, method, OutcomeSuccess, c.now().Sub(start))
		log.Debug().Int("attempts", attempts).Msg("Request succeeded")
		return nil
	}

	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.metrics.recordRequest(key, method, OutcomeCanceled, c.now().Sub(start))
			return ctxErr
		}
	case permanent:
		c.metrics.recordRequest(key, method, permanentOutcome(err), c.now().Sub(start))
		return err
	}

	if lastErr == nil {
		lastErr = err
	}
	log.Error().Err(lastErr).Int("attempts", attempts).Msg("Request failed after all attempts")
	c.metrics.recordRequest(key, method, OutcomeExhausted, c.now().Sub(start))
	return llm.NewRetriesExhaustedError(key.String(), attempts, lastErr)
}

func permanentOutcome(err error) string {
	switch {
	case llm.IsCircuitOpenError(err):
		return OutcomeCircuitOpen
	case llm.IsJSONDecodeError(err):
		return OutcomeDecodeError
	default:
		return OutcomeClientError
	}
}

// attempt performs one HTTP exchange. Client errors come back wrapped in
// backoff.Permanent; connection and server failures are recorded against
// the breaker and returned for retry.
func (c *Connection) attempt(ctx context.Context, key EndpointKey, method, url string, headers map[string]string, payload []byte, streaming bool, onSuccess successFunc) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	// Non-streaming attempts are bounded end to end; streams only until headers arrive.
	timer := time.AfterFunc(c.timeout, cancel)

	req, err := c.newRequest(attemptCtx, method, url, headers, payload)
	if err != nil {
		timer.Stop()
		cancel()
		return backoff.Permanent(err)
	}

	resp, err := c.httpClient.Do(req)
	if streaming {
		timer.Stop()
	}
	if err != nil {
		timer.Stop()
		cancel()
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		c.breaker.RecordFailure(key)
		c.metrics.recordFailure(key, "connection")
		return fmt.Errorf("request to %s failed: %w", key, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		release := func() {
			timer.Stop()
			cancel()
		}
		err := onSuccess(key, resp, release)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		c.breaker.RecordFailure(key)
		c.metrics.recordFailure(key, "read")
		return fmt.Errorf("failed to read response from %s: %w", key, err)
	}

	defer func() {
		timer.Stop()
		cancel()
	}()
	defer resp.Body.Close() //nolint:errcheck // Error body is best-effort

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure(key)
		c.metrics.recordFailure(key, "server_error")
		return serverError(resp.StatusCode, body)
	}

	// A well-formed client error is a valid protocol response, not a transport failure.
	return backoff.Permanent(classifyClientError(resp, body, c.now()))
}

func (c *Connection) newRequest(ctx context.Context, method, url string, headers map[string]string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, llm.NewProviderError("failed to build request", err)
	}

	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, llm.NewProviderError("failed to encode request body", err)
		}
		return data, nil
	}
}
