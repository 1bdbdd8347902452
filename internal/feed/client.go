package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxBodySize caps how much of a response body is read
const DefaultMaxBodySize = 32 << 20

// Client fetches raw GTFS-RT payloads over HTTP. It never retries.
type Client struct {
	httpClient  *http.Client
	userAgent   string
	maxBodySize int64
}

// NewClient creates a feed client whose requests are bounded by timeout
func NewClient(timeout time.Duration, userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgent:   userAgent,
		maxBodySize: DefaultMaxBodySize,
	}
}

// Fetch performs a single GET against url and returns the response body.
// Every failure is reported as *NetworkError.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/x-protobuf, application/octet-stream")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(data)) > c.maxBodySize {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("body exceeds %d bytes", c.maxBodySize)}
	}

	return data, nil
}
