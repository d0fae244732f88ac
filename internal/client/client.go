// Package client fetches the raw station feeds from the Velib open data API.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/julienvalera/velib-harvester/internal/circuitbreaker"
	"github.com/julienvalera/velib-harvester/internal/observability"
)

// DefaultBaseURL is the Velib Metropole open data root.
const DefaultBaseURL = "https://velib-metropole-opendata.smoove.pro/opendata/Velib_Metropole"

// Feed names one upstream document. Values are also metric labels.
type Feed string

const (
	FeedStationInformation Feed = "station_information"
	FeedStationStatus      Feed = "station_status"
)

// FeedClient returns raw feed bodies. Validation is the caller's job.
type FeedClient interface {
	FetchStationInformation(ctx context.Context) ([]byte, error)
	FetchStationStatus(ctx context.Context) ([]byte, error)
}

var (
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrNotFound         = errors.New("feed not found")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrResponseTooLarge = errors.New("response too large")
	// ErrTransport wraps failures below HTTP: dial, TLS, connection reset, body read.
	ErrTransport = errors.New("http request failed")
	ErrCircuitOpen      = circuitbreaker.ErrOpen
)

// FetchError is a failed feed retrieval. StatusCode is 0 when no response was received.
type FetchError struct {
	Feed       Feed
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (%s): HTTP %d after %d attempt(s): %v", e.Feed, e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s) after %d attempt(s): %v", e.Feed, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options tunes VelibClient. Zero values take the defaults noted per field.
type Options struct {
	// Timeout bounds one attempt (default 10s).
	Timeout time.Duration
	// RetryAttempts is the total number of attempts (default 3).
	RetryAttempts  int
	RetryBaseDelay time.Duration // default 200ms
	RetryMaxDelay  time.Duration // default 5s
	// MaxBodyBytes caps a feed body (default 16 MiB).
	MaxBodyBytes int64
	UserAgent    string
	// Breaker, when set, guards every attempt.
	Breaker    *circuitbreaker.CircuitBreaker
	HTTPClient *http.Client
}

// VelibClient implements FeedClient over HTTP with retries, backoff and an optional
// circuit breaker.
type VelibClient struct {
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	maxBodyBytes   int64
	userAgent      string
	breaker        *circuitbreaker.CircuitBreaker
}

// NewVelibClient creates a client for the feeds under baseURL.
func NewVelibClient(baseURL string, opts Options) (*VelibClient, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("feed base URL %q must be http or https", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 200 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 5 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 16 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = observability.ServiceName
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &VelibClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		timeout:        opts.Timeout,
		client:         httpClient,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		maxBodyBytes:   opts.MaxBodyBytes,
		userAgent:      opts.UserAgent,
		breaker:        opts.Breaker,
	}, nil
}

// FetchStationInformation implements FeedClient.
func (c *VelibClient) FetchStationInformation(ctx context.Context) ([]byte, error) {
	return c.fetch(ctx, FeedStationInformation)
}

// FetchStationStatus implements FeedClient.
func (c *VelibClient) FetchStationStatus(ctx context.Context) ([]byte, error) {
	return c.fetch(ctx, FeedStationStatus)
}

func (c *VelibClient) feedURL(feed Feed) string {
	return c.baseURL + "/" + string(feed) + ".json"
}

func (c *VelibClient) fetch(ctx context.Context, feed Feed) ([]byte, error) {
	url := c.feedURL(feed)
	var lastErr error
	var lastStatus int
	attempts := 0

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.FeedRetriesTotal.WithLabelValues(string(feed)).Inc()
			select {
			case <-ctx.Done():
				return nil, c.fail(feed, url, lastStatus, attempts, ctx.Err())
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		attempts++
		var body []byte
		var status int
		call := func() error {
			var err error
			body, status, err = c.callFeed(ctx, feed, url)
			return err
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			return body, nil
		}

		lastErr = err
		lastStatus = status
		if ctx.Err() != nil || !c.isRetryable(err) {
			break
		}
	}

	if attempts > 1 {
		lastErr = fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return nil, c.fail(feed, url, lastStatus, attempts, lastErr)
}

func (c *VelibClient) fail(feed Feed, url string, status, attempts int, err error) error {
	observability.FeedErrorsTotal.WithLabelValues(string(feed), string(CategorizeError(err))).Inc()
	return &FetchError{Feed: feed, URL: url, StatusCode: status, Attempts: attempts, Err: err}
}

func (c *VelibClient) callFeed(ctx context.Context, feed Feed, url string) ([]byte, int, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		observability.FeedCallsTotal.WithLabelValues(string(feed), "error").Inc()
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.FeedCallsTotal.WithLabelValues(string(feed), "error").Inc()
		observability.FeedDuration.WithLabelValues(string(feed), "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, 0, fmt.Errorf("request timeout: %w", err)
		}
		return nil, 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	if err := handleErrorResponse(resp); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		observability.FeedCallsTotal.WithLabelValues(string(feed), status).Inc()
		observability.FeedDuration.WithLabelValues(string(feed), status).Observe(time.Since(start).Seconds())
		return nil, resp.StatusCode, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	observability.FeedCallsTotal.WithLabelValues(string(feed), status).Inc()
	observability.FeedDuration.WithLabelValues(string(feed), status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response body: %w", ErrTransport, err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, resp.StatusCode, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxBodyBytes)
	}
	return body, resp.StatusCode, nil
}

func (c *VelibClient) isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCircuitOpen):
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUpstreamFailure), errors.Is(err, ErrTransport):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *VelibClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, resp.StatusCode)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
