package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "research-agent/1.0"

// DocumentFetcher retrieves the raw body of one URL.
type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

type HTTPFetcher struct {
	httpClient *http.Client
	maxBody    int64
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBody: 2 << 20,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create fetch request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch of %s returned status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read body of %s: %w", rawURL, err)
	}

	return string(body), nil
}
