package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/research-agent/backend/pkg/logger"
)

type SearchResult struct {
	URL     string
	Title   string
	Snippet string
}

// SearchProvider returns ranked candidate URLs for a query.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// GoogleSearchClient talks to the Custom Search JSON API.
type GoogleSearchClient struct {
	apiKey     string
	engineID   string
	endpoint   string
	httpClient *http.Client
}

func NewGoogleSearchClient(apiKey, engineID, endpoint string) *GoogleSearchClient {
	if endpoint == "" {
		endpoint = "https://www.googleapis.com/customsearch/v1"
	}
	return &GoogleSearchClient{
		apiKey:   apiKey,
		engineID: engineID,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *GoogleSearchClient) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	params := url.Values{}
	params.Add("key", c.apiKey)
	params.Add("cx", c.engineID)
	params.Add("q", query)
	params.Add("num", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s?%s", c.endpoint, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var searchResp struct {
		Items []struct {
			Link    string `json:"link"`
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}

	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	results := make([]SearchResult, 0, len(searchResp.Items))
	for _, item := range searchResp.Items {
		if item.Link == "" {
			continue
		}
		results = append(results, SearchResult{
			URL:     item.Link,
			Title:   item.Title,
			Snippet: item.Snippet,
		})
	}

	logger.Debug("Web search completed",
		zap.String("query", query),
		zap.Int("results", len(results)),
	)

	return results, nil
}
