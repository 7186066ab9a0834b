package target

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ClientConfig holds the settings of target HTTP clients.
type ClientConfig struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultClientConfig returns the default client settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:      10 * time.Second,
		RetryMax:     2,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: unexpected status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Client talks to one target over HTTP, retrying transient failures.
type Client struct {
	BaseURL *url.URL
	http    *retryablehttp.Client
}

// NewClient creates a client bound to base.
func NewClient(base *url.URL, cfg ClientConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.HTTPClient.Timeout = cfg.Timeout
	// Hand the last response back after retries so callers see the status.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = slog.Default().With("component", "target-client", "target", base.String())

	return &Client{BaseURL: base, http: rc}
}

// URL resolves path against the target's base URL.
func (c *Client) URL(path string) string {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return c.BaseURL.String()
	}
	base := *c.BaseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref).String()
}

// Get issues a GET request for path relative to the base URL.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// GetJSON fetches path and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", resp.Request.URL, err)
	}
	return nil
}

// StandardClient returns a *http.Client backed by the retrying client.
func (c *Client) StandardClient() *http.Client {
	return c.http.StandardClient()
}
