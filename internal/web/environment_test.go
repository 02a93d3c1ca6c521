package web

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeSearch struct {
	results []SearchResult
	err     error
	calls   int
}

func (f *fakeSearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeFetcher struct {
	pages map[string]string
	fail  map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if f.fail[rawURL] {
		return "", errors.New("connection refused")
	}
	page, ok := f.pages[rawURL]
	if !ok {
		return "", errors.New("not found")
	}
	return page, nil
}

func page(body string) string {
	return fmt.Sprintf(`<html><head><title>Test Page</title></head>
<body><nav>menu</nav><p>%s</p><footer>footer text</footer></body></html>`, body)
}

func substantialBody() string {
	return strings.Repeat("Voyager 1 was launched by NASA in 1977 and left the heliosphere. ", 8)
}

func newTestEnvironment(search SearchProvider, fetcher DocumentFetcher) *Environment {
	return NewEnvironment(search, fetcher, rate.NewLimiter(rate.Inf, 1), EnvironmentConfig{})
}

func TestRunCollectsRankedDocuments(t *testing.T) {
	search := &fakeSearch{results: []SearchResult{
		{URL: "https://nasa.gov/a", Title: "NASA"},
		{URL: "https://britannica.com/b", Title: "Britannica"},
	}}
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://nasa.gov/a":       page(substantialBody()),
		"https://britannica.com/b": page(substantialBody()),
	}}

	docs, ok := newTestEnvironment(search, fetcher).Run(context.Background(), "voyager 1 launch", 5)

	assert.True(t, ok)
	require.Len(t, docs, 2)
	assert.Equal(t, "https://nasa.gov/a", docs[0].URL)
	assert.Equal(t, "nasa.gov", docs[0].Domain)
	assert.Equal(t, "Test Page", docs[0].Title)
	assert.NotContains(t, docs[0].Text, "menu")
	assert.NotContains(t, docs[0].Text, "footer text")
}

func TestRunFiltersBlockedAndNonHTTP(t *testing.T) {
	search := &fakeSearch{results: []SearchResult{
		{URL: "https://facebook.com/post"},
		{URL: "ftp://archive.example.com/file"},
		{URL: "https://nasa.gov/a"},
	}}
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://nasa.gov/a": page(substantialBody()),
	}}

	docs, ok := newTestEnvironment(search, fetcher).Run(context.Background(), "q", 5)

	assert.True(t, ok)
	require.Len(t, docs, 1)
	assert.Equal(t, "https://nasa.gov/a", docs[0].URL)
}

func TestRunSearchFailureReturnsUnsuccessful(t *testing.T) {
	search := &fakeSearch{err: errors.New("quota exceeded")}

	docs, ok := newTestEnvironment(search, &fakeFetcher{}).Run(context.Background(), "q", 5)

	assert.False(t, ok)
	assert.Empty(t, docs)
}

func TestRunFetchFailureIsSkippedNotFatal(t *testing.T) {
	search := &fakeSearch{results: []SearchResult{
		{URL: "https://broken.example.com/a"},
		{URL: "https://nasa.gov/b"},
	}}
	fetcher := &fakeFetcher{
		pages: map[string]string{"https://nasa.gov/b": page(substantialBody())},
		fail:  map[string]bool{"https://broken.example.com/a": true},
	}

	docs, ok := newTestEnvironment(search, fetcher).Run(context.Background(), "q", 5)

	assert.True(t, ok)
	require.Len(t, docs, 1)
	assert.Equal(t, "https://nasa.gov/b", docs[0].URL)
}

func TestRunDropsThinDocuments(t *testing.T) {
	search := &fakeSearch{results: []SearchResult{
		{URL: "https://thin.example.com/a"},
	}}
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://thin.example.com/a": page("too little text"),
	}}

	docs, ok := newTestEnvironment(search, fetcher).Run(context.Background(), "q", 5)

	assert.True(t, ok)
	assert.Empty(t, docs)
}

func TestRunCapsAtNumDocs(t *testing.T) {
	var results []SearchResult
	pages := map[string]string{}
	for i := 0; i < 6; i++ {
		url := fmt.Sprintf("https://site%d.example.com/a", i)
		results = append(results, SearchResult{URL: url})
		pages[url] = page(substantialBody())
	}

	docs, ok := newTestEnvironment(&fakeSearch{results: results}, &fakeFetcher{pages: pages}).
		Run(context.Background(), "q", 3)

	assert.True(t, ok)
	assert.Len(t, docs, 3)
}

func TestRunDeduplicatesURLs(t *testing.T) {
	search := &fakeSearch{results: []SearchResult{
		{URL: "https://nasa.gov/a"},
		{URL: "https://nasa.gov/a"},
	}}
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://nasa.gov/a": page(substantialBody()),
	}}

	docs, _ := newTestEnvironment(search, fetcher).Run(context.Background(), "q", 5)
	assert.Len(t, docs, 1)
}

func TestIsBlockedDomainMatchesSubdomains(t *testing.T) {
	assert.True(t, isBlockedDomain("https://m.facebook.com/page"))
	assert.True(t, isBlockedDomain("https://reddit.com/r/space"))
	assert.False(t, isBlockedDomain("https://nasa.gov/voyager"))
}
