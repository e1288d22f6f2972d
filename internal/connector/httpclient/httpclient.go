package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
	maxErrorBody      = 512
)

// Client is an HTTP client for JSON APIs with bounded retry on 429 and 5xx.
type Client struct {
	httpClient      *http.Client
	maxRetries      int
	initialInterval time.Duration
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string      // first 512 bytes
	Header     http.Header // response headers, for rate-limit reporting
	retryAfter string      // Retry-After header value for 429s
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxRetries sets how many times a 429 or 5xx response is retried. 0 fails fast.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBackoff sets the first retry delay. Later delays grow exponentially.
func WithBackoff(initial time.Duration) Option {
	return func(c *Client) {
		c.initialInterval = initial
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get sends a GET request with the given headers.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, header, nil)
}

// Post sends a POST request with the given headers and body.
func (c *Client) Post(ctx context.Context, url string, header http.Header, body []byte) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, header, body)
}

// do sends the request and returns the response for 2xx statuses.
// Returns *APIError for other statuses. Retries 429 (honoring Retry-After)
// and 5xx with exponential backoff, up to maxRetries times. Network errors
// are returned immediately.
func (c *Client) do(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.Reset()

	var lastErr *APIError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(retryDelay(b, lastErr))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rdr)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
		}

		bodyStr := string(data)
		if len(bodyStr) > maxErrorBody {
			bodyStr = bodyStr[:maxErrorBody]
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: bodyStr, Header: resp.Header}

		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.retryAfter = resp.Header.Get("Retry-After")
			lastErr = apiErr
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = apiErr
			continue
		}
		return nil, apiErr
	}

	return nil, lastErr
}

// retryDelay returns the wait before the next attempt: Retry-After when a 429
// carried one, otherwise the next exponential backoff interval.
func retryDelay(b *backoff.ExponentialBackOff, lastErr *APIError) time.Duration {
	if lastErr != nil && lastErr.StatusCode == http.StatusTooManyRequests && lastErr.retryAfter != "" {
		if secs, err := strconv.Atoi(lastErr.retryAfter); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return b.NextBackOff()
}
