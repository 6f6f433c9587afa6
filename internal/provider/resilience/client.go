package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned while a provider's circuit breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StatusError is a response status worth retrying (5xx or 429).
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "upstream responded " + http.StatusText(e.StatusCode)
}

// Config holds configuration for a resilient provider client.
type Config struct {
	// Name identifies the provider in logs, metrics and status output.
	Name string

	// Timeout bounds each HTTP attempt (default: 10s).
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt (default: 3).
	MaxRetries uint64

	// InitialInterval and MaxInterval bound the exponential backoff (defaults: 200ms, 5s).
	InitialInterval time.Duration
	MaxInterval     time.Duration

	Breaker BreakerConfig

	// Transport overrides the underlying round tripper.
	Transport http.RoundTripper

	Logger zerolog.Logger
}

// Client executes HTTP requests with retries behind a circuit breaker.
type Client struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	cfg     Config

	mu          sync.Mutex
	lastSuccess *time.Time
	lastFailure *time.Time
	lastError   string
}

// NewClient creates a resilient client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	return &Client{
		name:    cfg.Name,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		breaker: newBreaker[*http.Response](cfg.Name, cfg.Breaker, cfg.Logger),
		cfg:     cfg,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// Do sends req, retrying network errors, 5xx and 429 responses with
// exponential backoff. When retries run out on an error status, the last
// response is returned so callers can inspect it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0

	var last *http.Response
	attempt := func() error {
		if last != nil {
			last.Body.Close()
			last = nil
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // returned to caller
			r, err := c.http.Do(req.Clone(ctx))
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, &StatusError{StatusCode: r.StatusCode}
			}
			return r, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		last = resp
		return err
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx))
	if err != nil {
		c.recordFailure(err)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && last != nil {
			return last, nil
		}
		if last != nil {
			last.Body.Close()
		}
		return nil, err
	}

	c.recordSuccess()
	return last, nil
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.lastSuccess = &now
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.lastFailure = &now
	c.lastError = err.Error()
}

// Status reports the client's breaker state and recent outcomes.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := c.breaker.Counts()
	return Status{
		Name:          c.name,
		State:         c.breaker.State(),
		Requests:      counts.Requests,
		Failures:      counts.TotalFailures,
		LastSuccessAt: c.lastSuccess,
		LastFailureAt: c.lastFailure,
		LastError:     c.lastError,
	}
}
