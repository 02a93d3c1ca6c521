package web

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/research-agent/backend/internal/metrics"
	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/pkg/logger"
)

type EnvironmentConfig struct {
	// RateWait bounds how long a caller queues on the shared search
	// token bucket before the attempt fails.
	RateWait      time.Duration
	FetchBudget   time.Duration
	MinTextLength int
}

// Environment turns one search query into a bounded, blocklist-filtered
// document set. The SearchProvider limiter is process-wide: every
// session shares the same token bucket.
type Environment struct {
	search    SearchProvider
	fetcher   DocumentFetcher
	extractor *Extractor
	limiter   *rate.Limiter
	cfg       EnvironmentConfig
}

func NewEnvironment(search SearchProvider, fetcher DocumentFetcher, limiter *rate.Limiter, cfg EnvironmentConfig) *Environment {
	if cfg.RateWait <= 0 {
		cfg.RateWait = 2 * time.Second
	}
	if cfg.FetchBudget <= 0 {
		cfg.FetchBudget = 20 * time.Second
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 200
	}
	return &Environment{
		search:    search,
		fetcher:   fetcher,
		extractor: NewExtractor(),
		limiter:   limiter,
		cfg:       cfg,
	}
}

// Run issues one search and fetches the surviving candidates in
// parallel. The returned slice preserves search rank and holds at most
// numDocs documents; success reports whether the search itself worked.
func (e *Environment) Run(ctx context.Context, query string, numDocs int) ([]models.Document, bool) {
	waitCtx, cancelWait := context.WithTimeout(ctx, e.cfg.RateWait)
	err := e.limiter.Wait(waitCtx)
	cancelWait()
	if err != nil {
		logger.Warn("Search rate limit wait expired", zap.String("query", query))
		return nil, false
	}

	metrics.SearchCalls.Inc()
	results, err := e.search.Search(ctx, query, numDocs)
	if err != nil {
		logger.Warn("Search provider failed", zap.String("query", query), zap.Error(err))
		return nil, false
	}

	candidates := make([]SearchResult, 0, len(results))
	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r.URL] {
			continue
		}
		seen[r.URL] = true

		if !isFetchableScheme(r.URL) {
			logger.Debug("Skipping non-http URL", zap.String("url", r.URL))
			continue
		}
		if isBlockedDomain(r.URL) {
			logger.Debug("Skipping blocked domain", zap.String("url", r.URL))
			continue
		}
		candidates = append(candidates, r)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchBudget)
	defer cancel()

	docs := make([]*models.Document, len(candidates))
	var wg sync.WaitGroup

	for i, candidate := range candidates {
		wg.Add(1)
		go func(rank int, result SearchResult) {
			defer wg.Done()

			start := time.Now()
			doc := e.fetchOne(fetchCtx, rank, result)
			metrics.FetchDuration.Observe(time.Since(start).Seconds())
			docs[rank] = doc
		}(i, candidate)
	}
	wg.Wait()

	collected := make([]models.Document, 0, numDocs)
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		collected = append(collected, *doc)
		if len(collected) >= numDocs {
			break
		}
	}

	logger.Info("Web environment run complete",
		zap.String("query", query),
		zap.Int("candidates", len(candidates)),
		zap.Int("documents", len(collected)),
	)

	return collected, true
}

func (e *Environment) fetchOne(ctx context.Context, rank int, result SearchResult) *models.Document {
	html, err := e.fetcher.Fetch(ctx, result.URL)
	if err != nil {
		logger.Warn("Fetch failed, skipping", zap.String("url", result.URL), zap.Error(err))
		return nil
	}

	text, title, err := e.extractor.Extract(html)
	if err != nil {
		logger.Warn("Extraction failed, skipping", zap.String("url", result.URL), zap.Error(err))
		return nil
	}

	if len(text) < e.cfg.MinTextLength {
		logger.Debug("Dropping thin document",
			zap.String("url", result.URL),
			zap.Int("chars", len(text)),
		)
		return nil
	}

	if title == "" {
		title = result.Title
	}

	return &models.Document{
		URL:       result.URL,
		Domain:    Domain(result.URL),
		Title:     title,
		Text:      text,
		Rank:      rank,
		FetchedAt: time.Now(),
	}
}
