// Package waqi provides a client for the World Air Quality Index feed API.
package waqi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwatch/airwatch/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the base URL for the feed API.
	DefaultBaseURL = "https://api.waqi.info/feed"

	// ProviderName identifies this provider.
	ProviderName = "waqi"

	maxBodyBytes = 1 << 20
)

// ErrAPI is returned when the API answers with status "error".
var ErrAPI = errors.New("waqi api error")

// ClientConfig holds configuration for the WAQI client.
type ClientConfig struct {
	// BaseURL is the feed endpoint (defaults to DefaultBaseURL).
	BaseURL string

	// Token is the API access token.
	Token string

	// HTTPClient executes requests. If nil, a resilient client is created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 10s).
	Timeout time.Duration

	Logger zerolog.Logger
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches station feeds.
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPDoer
}

// NewClient creates a new WAQI client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = resilience.NewClient(resilience.Config{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Logger:          cfg.Logger,
		})
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
	}
}

// HTTPClient returns the underlying request executor.
func (c *Client) HTTPClient() HTTPDoer {
	return c.httpClient
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// FetchFeed retrieves, validates and decodes the feed of one station.
func (c *Client) FetchFeed(ctx context.Context, externalID int64) (*Feed, error) {
	endpoint := fmt.Sprintf("%s/@%d/?token=%s", c.baseURL, externalID, url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed for station %d: %w", externalID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from feed endpoint for station %d", resp.StatusCode, externalID)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read feed for station %d: %w", externalID, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode feed for station %d: %w", externalID, err)
	}

	if env.Status != "ok" {
		msg := env.Message
		if msg == "" {
			// Errors usually carry their message as the data string.
			_ = json.Unmarshal(env.Data, &msg)
		}
		return nil, fmt.Errorf("%w for station %d: %q", ErrAPI, externalID, msg)
	}

	feed, err := decodeFeed(env.Data)
	if err != nil {
		return nil, fmt.Errorf("station %d: %w", externalID, err)
	}

	return feed, nil
}
