package planner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-agent/backend/internal/confidence"
	"github.com/research-agent/backend/internal/research"
	"github.com/research-agent/backend/internal/storage"
	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/internal/verification"
)

// memStore is an in-memory Store double recording every write.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.QuerySession
	traces    []models.PlannerTrace
	logs      []models.SearchLog
	snapshots map[string]*models.AnswerSnapshot
	evidence  map[string][]models.Evidence
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[string]*models.QuerySession),
		snapshots: make(map[string]*models.AnswerSnapshot),
		evidence:  make(map[string][]models.Evidence),
	}
}

func (m *memStore) seed(id, question, status string) {
	m.sessions[id] = &models.QuerySession{ID: id, Question: question, Status: status}
}

func (m *memStore) CreateSession(ctx context.Context, question string) (*models.QuerySession, error) {
	panic("not used in planner tests")
}

func (m *memStore) GetSession(ctx context.Context, sessionID string) (*models.QuerySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memStore) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID].Status = status
	return nil
}

func (m *memStore) FinalizeSession(ctx context.Context, sessionID, status, level, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[sessionID]
	s.Status = status
	s.ConfidenceLevel = level
	s.ConfidenceReason = reason
	return nil
}

func (m *memStore) AppendPlannerTrace(ctx context.Context, trace *models.PlannerTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, *trace)
	return nil
}

func (m *memStore) AppendSearchLog(ctx context.Context, log *models.SearchLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *log)
	return nil
}

func (m *memStore) WriteAnswer(ctx context.Context, snapshot *models.AnswerSnapshot, evidence []models.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.SessionID] = snapshot
	m.evidence[snapshot.SessionID] = evidence
	return nil
}

func (m *memStore) BulkWriteEvidence(ctx context.Context, sessionID string, evidence []models.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evidence[sessionID] = append(m.evidence[sessionID], evidence...)
	return nil
}

func (m *memStore) ReadResult(ctx context.Context, sessionID string) (*models.AnswerSnapshot, []models.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots[sessionID], m.evidence[sessionID], nil
}

func (m *memStore) ReadTrace(ctx context.Context, sessionID string) ([]models.PlannerTrace, []models.SearchLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.traces, m.logs, nil
}

// memCache is a first-writer-wins in-memory QueryCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string]*models.CachedAnswer
	gets    int
	puts    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*models.CachedAnswer)}
}

func (c *memCache) Get(ctx context.Context, queryHash string) (*models.CachedAnswer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	return c.entries[queryHash], nil
}

func (c *memCache) PutIfAbsent(ctx context.Context, queryHash string, entry *models.CachedAnswer, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if _, ok := c.entries[queryHash]; !ok {
		c.entries[queryHash] = entry
	}
	return nil
}

// scriptedResearcher returns one pre-built bundle per attempt.
type scriptedResearcher struct {
	bundles []*research.Bundle
	calls   int
	queries []string
}

func (r *scriptedResearcher) Research(ctx context.Context, query, question string, numDocs, attempt, maxAttempts, minVerified int) (*research.Bundle, error) {
	r.queries = append(r.queries, query)
	idx := r.calls
	if idx >= len(r.bundles) {
		idx = len(r.bundles) - 1
	}
	r.calls++

	bundle := r.bundles[idx]
	bundle.Decision = verification.Decide(verification.DecisionInput{
		Verified:     bundle.Verified,
		TotalDomains: countDomains(bundle),
		Attempt:      attempt,
		MaxAttempts:  maxAttempts,
		MinVerified:  minVerified,
	})
	return bundle, nil
}

func countDomains(b *research.Bundle) int {
	domains := make(map[string]bool)
	for _, d := range b.Documents {
		domains[d.Domain] = true
	}
	return len(domains)
}

type fakeSynth struct {
	answer string
	calls  int
}

func (s *fakeSynth) Synthesize(ctx context.Context, question string, verified []models.VerifiedClaim) (string, error) {
	s.calls++
	return s.answer, nil
}

func acceptBundle() *research.Bundle {
	docs := []models.Document{
		{URL: "https://nasa.gov/a", Domain: "nasa.gov"},
		{URL: "https://britannica.com/b", Domain: "britannica.com"},
		{URL: "https://esa.int/c", Domain: "esa.int"},
	}
	verified := []models.VerifiedClaim{
		{
			CanonicalText:  "Voyager 1 was launched in 1977",
			Status:         models.StatusVerified,
			SupportingURLs: []string{"https://nasa.gov/a", "https://britannica.com/b"},
			DomainCount:    2,
		},
		{
			CanonicalText:  "Voyager 1 carries a golden record",
			Status:         models.StatusVerified,
			SupportingURLs: []string{"https://nasa.gov/a", "https://esa.int/c"},
			DomainCount:    2,
		},
	}
	b := &research.Bundle{QueryUsed: "q", SearchOK: true, Documents: docs, Verified: verified}
	b.Score = confidence.NewScorer().Score(verified)
	return b
}

func emptyBundle() *research.Bundle {
	b := &research.Bundle{QueryUsed: "q", SearchOK: true}
	b.Score = confidence.NewScorer().Score(nil)
	return b
}

func weakBundle() *research.Bundle {
	docs := []models.Document{{URL: "https://blog.example.com/a", Domain: "example.com"}}
	verified := []models.VerifiedClaim{
		{
			CanonicalText:  "Acme Corp appointed a new CEO last spring",
			Status:         models.StatusUnverified,
			SupportingURLs: []string{"https://blog.example.com/a"},
			DomainCount:    1,
		},
	}
	b := &research.Bundle{QueryUsed: "q", SearchOK: true, Documents: docs, Verified: verified}
	b.Score = confidence.NewScorer().Score(verified)
	return b
}

func newTestPlanner(store storage.Store, cache storage.QueryCache, r Researcher, s AnswerSynthesizer, cfg Config) *Agent {
	return New(store, cache, r, s, nil, cfg)
}

func TestRunHappyPathSingleAttempt(t *testing.T) {
	store := newMemStore()
	store.seed("s1", "What year was the Voyager 1 probe launched?", models.StatusInit)
	cache := newMemCache()
	researcher := &scriptedResearcher{bundles: []*research.Bundle{acceptBundle()}}
	synth := &fakeSynth{answer: "Voyager 1 was launched in 1977."}

	agent := newTestPlanner(store, cache, researcher, synth, Config{})
	require.NoError(t, agent.Run(context.Background(), "s1"))

	session := store.sessions["s1"]
	assert.Equal(t, models.StatusDone, session.Status)
	assert.Equal(t, models.ConfidenceHigh, session.ConfidenceLevel)

	require.Len(t, store.traces, 1)
	assert.Equal(t, models.DecisionAccept, store.traces[0].VerificationDecision)
	assert.Equal(t, "VERBATIM", store.traces[0].StrategyUsed)

	require.NotNil(t, store.snapshots["s1"])
	assert.Contains(t, store.snapshots["s1"].AnswerText, "1977")
	assert.GreaterOrEqual(t, len(store.evidence["s1"]), 2)

	// ACCEPT populates the cache exactly once.
	assert.Equal(t, 1, cache.puts)
}

func TestRunRetryThenAccept(t *testing.T) {
	store := newMemStore()
	store.seed("s1", "Who is the current CEO of Acme Corp?", models.StatusInit)
	researcher := &scriptedResearcher{bundles: []*research.Bundle{
		emptyBundle(),
		acceptBundle(),
	}}
	synth := &fakeSynth{answer: "The CEO is documented consistently."}

	agent := newTestPlanner(store, newMemCache(), researcher, synth, Config{})
	require.NoError(t, agent.Run(context.Background(), "s1"))

	assert.Equal(t, models.StatusDone, store.sessions["s1"].Status)
	require.Len(t, store.traces, 2)
	assert.Equal(t, models.DecisionRetry, store.traces[0].VerificationDecision)
	assert.Equal(t, models.DecisionAccept, store.traces[1].VerificationDecision)
	assert.Equal(t, 1, store.traces[0].AttemptNumber)
	assert.Equal(t, 2, store.traces[1].AttemptNumber)

	// Strategy rotated off VERBATIM for the retry.
	assert.NotEqual(t, "VERBATIM", store.traces[1].StrategyUsed)
	require.Len(t, store.logs, 2)
}

func TestRunBudgetExhaustionEndsDoneLow(t *testing.T) {
	store := newMemStore()
	store.seed("s1", "Who is the current CEO of Acme Corp?", models.StatusInit)
	researcher := &scriptedResearcher{bundles: []*research.Bundle{
		weakBundle(),
		weakBundle(),
	}}
	synth := &fakeSynth{answer: "Insufficient verified evidence."}

	agent := newTestPlanner(store, newMemCache(), researcher, synth, Config{MaxAttempts: 2})
	require.NoError(t, agent.Run(context.Background(), "s1"))

	session := store.sessions["s1"]
	assert.Equal(t, models.StatusDone, session.Status)
	assert.Equal(t, models.ConfidenceLow, session.ConfidenceLevel)

	require.Len(t, store.traces, 2)
	assert.Equal(t, models.DecisionRetry, store.traces[0].VerificationDecision)
	assert.Equal(t, models.DecisionStop, store.traces[1].VerificationDecision)
}

func TestRunCacheHitSkipsResearch(t *testing.T) {
	question := "What year was the Voyager 1 probe launched?"

	// First session populates the cache via ACCEPT on attempt 2.
	store1 := newMemStore()
	store1.seed("s1", question, models.StatusInit)
	cache := newMemCache()
	agent1 := newTestPlanner(store1, cache,
		&scriptedResearcher{bundles: []*research.Bundle{emptyBundle(), acceptBundle()}},
		&fakeSynth{answer: "Voyager 1 was launched in 1977."}, Config{})
	require.NoError(t, agent1.Run(context.Background(), "s1"))
	require.Equal(t, 1, cache.puts)

	// Second session, same question: attempt 1 misses docs, attempt 2
	// probes the cache and never searches again.
	store2 := newMemStore()
	store2.seed("s2", question, models.StatusInit)
	researcher2 := &scriptedResearcher{bundles: []*research.Bundle{emptyBundle()}}
	agent2 := newTestPlanner(store2, cache, researcher2,
		&fakeSynth{answer: "unused"}, Config{})
	require.NoError(t, agent2.Run(context.Background(), "s2"))

	assert.Equal(t, models.StatusDone, store2.sessions["s2"].Status)
	assert.Equal(t, 1, researcher2.calls)

	snapshot := store2.snapshots["s2"]
	require.NotNil(t, snapshot)
	assert.Equal(t, "Voyager 1 was launched in 1977.", snapshot.AnswerText)
	assert.Equal(t, store1.snapshots["s1"].AnswerText, snapshot.AnswerText)
}

func TestRunZeroDocsEveryAttemptFails(t *testing.T) {
	store := newMemStore()
	store.seed("s1", "question text", models.StatusInit)

	noDocs := &research.Bundle{QueryUsed: "q", SearchOK: false}
	noDocs.Score = confidence.NewScorer().Score(nil)

	agent := newTestPlanner(store, newMemCache(),
		&scriptedResearcher{bundles: []*research.Bundle{noDocs}},
		&fakeSynth{}, Config{MaxAttempts: 2})
	require.NoError(t, agent.Run(context.Background(), "s1"))

	session := store.sessions["s1"]
	assert.Equal(t, models.StatusFailed, session.Status)
	assert.Equal(t, models.ConfidenceLow, session.ConfidenceLevel)
	assert.NotEmpty(t, session.ConfidenceReason)
	assert.Len(t, store.traces, 2)
}

func TestRunIsNoopOnNonInitSession(t *testing.T) {
	store := newMemStore()
	store.seed("s1", "question text", models.StatusDone)
	researcher := &scriptedResearcher{bundles: []*research.Bundle{acceptBundle()}}

	agent := newTestPlanner(store, newMemCache(), researcher, &fakeSynth{}, Config{})
	require.NoError(t, agent.Run(context.Background(), "s1"))

	assert.Zero(t, researcher.calls)
	assert.Equal(t, models.StatusDone, store.sessions["s1"].Status)
}

func TestRunUnknownSessionErrors(t *testing.T) {
	agent := newTestPlanner(newMemStore(), newMemCache(),
		&scriptedResearcher{bundles: []*research.Bundle{acceptBundle()}}, &fakeSynth{}, Config{})

	assert.Error(t, agent.Run(context.Background(), "missing"))
}

func TestRunSearchBudgetCapsLogs(t *testing.T) {
	store := newMemStore()
	store.seed("s1", "question text", models.StatusInit)

	agent := newTestPlanner(store, newMemCache(),
		&scriptedResearcher{bundles: []*research.Bundle{
			weakBundle(), weakBundle(), weakBundle(), weakBundle(), weakBundle(),
		}},
		&fakeSynth{answer: "x"}, Config{MaxAttempts: 10, MaxSearches: 2})
	require.NoError(t, agent.Run(context.Background(), "s1"))

	assert.LessOrEqual(t, len(store.logs), 2)
	assert.True(t, models.IsTerminalStatus(store.sessions["s1"].Status))
}

func TestRunNoProgressForcesStop(t *testing.T) {
	store := newMemStore()
	store.seed("s1", "Population of the city?", models.StatusInit)

	conflict := func() *research.Bundle {
		verified := []models.VerifiedClaim{
			{
				CanonicalText:  "The population is 1.2 million",
				Status:         models.StatusConflict,
				SupportingURLs: []string{"https://a.gov/1", "https://b.org/2"},
				OpposingURLs:   []string{"https://c.com/3"},
				DomainCount:    3,
			},
		}
		b := &research.Bundle{
			QueryUsed: "q",
			SearchOK:  true,
			Documents: []models.Document{
				{URL: "https://a.gov/1", Domain: "a.gov"},
				{URL: "https://b.org/2", Domain: "b.org"},
				{URL: "https://c.com/3", Domain: "c.com"},
			},
			Verified: verified,
		}
		b.Score = confidence.NewScorer().Score(verified)
		return b
	}

	agent := newTestPlanner(store, newMemCache(),
		&scriptedResearcher{bundles: []*research.Bundle{conflict(), conflict(), conflict()}},
		&fakeSynth{answer: "Insufficient verified evidence."}, Config{MaxAttempts: 5, MaxSearches: 10})
	require.NoError(t, agent.Run(context.Background(), "s1"))

	session := store.sessions["s1"]
	assert.Equal(t, models.StatusDone, session.Status)
	assert.Equal(t, models.ConfidenceLow, session.ConfidenceLevel)

	require.Len(t, store.traces, 2)
	assert.Equal(t, models.DecisionRetry, store.traces[0].VerificationDecision)
	assert.Equal(t, models.DecisionStop, store.traces[1].VerificationDecision)
}

func TestNextStrategyRotation(t *testing.T) {
	used := []Strategy{StrategyVerbatim}

	s2 := nextStrategy(used, "limited evidence", "")
	assert.Equal(t, StrategyKeywordExpansion, s2)

	used = append(used, s2)
	s3 := nextStrategy(used, "conflicting evidence detected", "")
	assert.Equal(t, StrategyDomainRestricted, s3)

	used = append(used, s3)
	s4 := nextStrategy(used, "", "try rephrasing")
	assert.Equal(t, StrategyQuestionReframing, s4)

	// Exhausted: the schedule cycles.
	used = append(used, s4)
	s5 := nextStrategy(used, "", "")
	assert.Equal(t, rotationOrder[len(used)%len(rotationOrder)], s5)
}

func TestQueryBuilderMutations(t *testing.T) {
	b := &queryBuilder{}
	question := "What year was the Voyager probe launched?"

	assert.Equal(t, question, b.Build(context.Background(), question, StrategyVerbatim))

	expanded := b.Build(context.Background(), question, StrategyKeywordExpansion)
	assert.Contains(t, expanded, question)
	assert.Contains(t, expanded, "explanation overview")

	restricted := b.Build(context.Background(), question, StrategyDomainRestricted)
	assert.Contains(t, restricted, "site:gov")

	// Without an LLM, reframing degrades to the verbatim question.
	assert.Equal(t, question, b.Build(context.Background(), question, StrategyQuestionReframing))
}

func TestDocsScheduleCapped(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	agent := newTestPlanner(newMemStore(), newMemCache(), &scriptedResearcher{bundles: []*research.Bundle{emptyBundle()}}, &fakeSynth{}, cfg)
	st := &runState{session: &models.QuerySession{ID: "x"}, attempt: 1, numDocs: cfg.BaseDocs}

	agent.advanceAttempt(st, "", "")
	assert.Equal(t, 8, st.numDocs)

	st.attempt = 4
	agent.advanceAttempt(st, "", "")
	assert.Equal(t, cfg.MaxDocs, st.numDocs)
}
