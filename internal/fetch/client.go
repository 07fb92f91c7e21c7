// Package fetch is the shared JSON-over-HTTP client used by the market and
// forecast sources. Each Client carries its own retry policy, rate limiter and
// circuit breaker.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/thientran01/weather-bot/internal/logger"
)

// DefaultUserAgent identifies the bot to upstream APIs. api.weather.gov
// rejects requests without one.
const DefaultUserAgent = "weather-bot/1.0 (github.com/thientran01/weather-bot)"

// APIError represents a non-2xx response from an upstream API.
type APIError struct {
	Source     string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Source, e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client performs GET requests against one upstream API.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	userAgent  string
	accept     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker

	maxRetries   int
	retryBackoff time.Duration
	tripAfter    uint32
	openTimeout  time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client named after its upstream. The name appears in
// errors, logs and the breaker state.
func NewClient(name, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		name:      name,
		baseURL:   baseURL,
		userAgent: DefaultUserAgent,
		accept:    "application/json",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:      rate.NewLimiter(rate.Limit(5), 5),
		maxRetries:   3,
		retryBackoff: time.Second,
		tripAfter:    5,
		openTimeout:  time.Minute,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: c.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.tripAfter
		},
		IsSuccessful: func(err error) bool {
			// 4xx responses do not count against the breaker.
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.IsRetryable()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("%s circuit breaker: %s -> %s", name, from, to)
		},
	})

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithRateLimit caps outbound requests per second with the given burst.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open.
func WithBreaker(consecutiveFailures uint32, openFor time.Duration) ClientOption {
	return func(c *Client) {
		if consecutiveFailures > 0 {
			c.tripAfter = consecutiveFailures
		}
		if openFor > 0 {
			c.openTimeout = openFor
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithAccept overrides the Accept header.
func WithAccept(accept string) ClientOption {
	return func(c *Client) {
		if accept != "" {
			c.accept = accept
		}
	}
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Name returns the upstream name.
func (c *Client) Name() string {
	return c.name
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// GetJSON fetches path (relative to the base URL, or absolute) and decodes
// the JSON body into result.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doWithRetry(ctx, path, query)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		return err
	}

	if err := json.Unmarshal(body.([]byte), result); err != nil {
		return fmt.Errorf("%s: unmarshal response: %w", c.name, err)
	}
	return nil
}

func (c *Client) resolve(path string, query url.Values) string {
	full := path
	if u, err := url.Parse(path); err != nil || !u.IsAbs() {
		full = c.baseURL + path
	}
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}

// doRequest performs a single GET.
func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}

	req.Header.Set("Accept", c.accept)
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: do request: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.name, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			Source:     c.name,
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.resolve(path, query)
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// backoff * (0.5 to 1.5)
			wait := backoff / 2
			if backoff > 0 {
				wait += time.Duration(rand.Int64N(int64(backoff)))
			}
			logger.Debug("%s: retrying %s (attempt %d, backoff %v)", c.name, path, attempt, wait)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, fullURL)
		if err == nil {
			return body, nil
		}

		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%s: max retries exceeded: %w", c.name, lastErr)
}
