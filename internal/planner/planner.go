package planner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/metrics"
	"github.com/research-agent/backend/internal/research"
	"github.com/research-agent/backend/internal/storage"
	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/internal/verification"
	"github.com/research-agent/backend/pkg/logger"
	"github.com/research-agent/backend/pkg/utils"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Config struct {
	MaxAttempts    int
	MaxSearches    int
	BaseDocs       int
	DocsStep       int
	MaxDocs        int
	MinVerified    int
	SessionTimeout time.Duration
	CacheTTL       time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxSearches <= 0 {
		c.MaxSearches = 4
	}
	if c.BaseDocs <= 0 {
		c.BaseDocs = 5
	}
	if c.DocsStep <= 0 {
		c.DocsStep = 3
	}
	if c.MaxDocs <= 0 {
		c.MaxDocs = 15
	}
	if c.MinVerified <= 0 {
		c.MinVerified = 2
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 90 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
}

type Researcher interface {
	Research(ctx context.Context, query, question string, numDocs, attempt, maxAttempts, minVerified int) (*research.Bundle, error)
}

type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question string, verified []models.VerifiedClaim) (string, error)
}

// Agent drives one QuerySession from INIT to DONE or FAILED: it
// enforces the attempt and search budgets, rotates strategies on
// failure, arbitrates the query cache, and persists a trace row per
// attempt.
type Agent struct {
	store    storage.Store
	cache    storage.QueryCache
	research Researcher
	synth    AnswerSynthesizer
	queries  *queryBuilder
	cfg      Config
	clock    Clock
}

func New(store storage.Store, cache storage.QueryCache, researcher Researcher, synth AnswerSynthesizer, rephraser llm.Client, cfg Config) *Agent {
	cfg.applyDefaults()
	return &Agent{
		store:    store,
		cache:    cache,
		research: researcher,
		synth:    synth,
		queries:  &queryBuilder{llm: rephraser},
		cfg:      cfg,
		clock:    realClock{},
	}
}

// WithClock substitutes the time source; tests use it to pin expiry.
func (p *Agent) WithClock(clock Clock) *Agent {
	p.clock = clock
	return p
}

// runState carries one session's mutable planner context across
// state handlers.
type runState struct {
	session  *models.QuerySession
	state    string
	attempt  int
	searches int
	numDocs  int
	strategy Strategy
	used     []Strategy

	bundle    *research.Bundle
	cached    *models.CachedAnswer
	lastHash  string
	cacheHit  bool
	traceLast int

	lastDecision   string
	lastConfidence string
	noProgress     int

	failReason string
}

// Run executes the full state machine for one session. It must be
// invoked at most once per session: a non-INIT session is a no-op.
func (p *Agent) Run(ctx context.Context, sessionID string) error {
	session, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	if session.Status != models.StatusInit {
		logger.Warn("Planner invoked on non-INIT session, ignoring",
			zap.String("session_id", sessionID),
			zap.String("status", session.Status),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.SessionTimeout)
	defer cancel()

	st := &runState{
		session: session,
		state:   models.StatusInit,
	}

	start := p.clock.Now()
	defer func() {
		metrics.SessionDuration.Observe(p.clock.Now().Sub(start).Seconds())
		metrics.AttemptsPerSession.Observe(float64(st.attempt))

		if r := recover(); r != nil {
			logger.Error("Planner panicked",
				zap.String("session_id", sessionID),
				zap.Any("panic", r),
			)
			st.failReason = "Planner execution failed unexpectedly."
			p.finalizeFailed(st)
		} else if !models.IsTerminalStatus(st.state) {
			p.finalizeFailed(st)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			st.failReason = "Session wall-clock budget exceeded."
			p.transitionFailed(st)
		default:
		}

		switch st.state {
		case models.StatusInit:
			p.handleInit(ctx, st)
		case models.StatusResearch:
			p.handleResearch(ctx, st)
		case models.StatusVerify:
			p.handleVerify(ctx, st)
		case models.StatusSynthesize:
			p.handleSynthesize(ctx, st)
		case models.StatusDone:
			metrics.SessionsCompleted.WithLabelValues(models.StatusDone).Inc()
			return nil
		case models.StatusFailed:
			p.finalizeFailed(st)
			metrics.SessionsCompleted.WithLabelValues(models.StatusFailed).Inc()
			return nil
		}
	}
}

func (p *Agent) handleInit(ctx context.Context, st *runState) {
	st.attempt = 1
	st.numDocs = p.cfg.BaseDocs
	st.strategy = StrategyVerbatim
	st.used = []Strategy{StrategyVerbatim}
	p.setStatus(ctx, st, models.StatusResearch)
}

func (p *Agent) handleResearch(ctx context.Context, st *runState) {
	st.lastHash = utils.QueryFingerprint(st.session.Question, string(st.strategy), st.numDocs)

	// Cache probes happen only on retries, never on the first attempt.
	if st.attempt > 1 && p.cache != nil {
		entry, err := p.cache.Get(ctx, st.lastHash)
		if err != nil {
			logger.Warn("Query cache read failed", zap.Error(err))
		}
		if entry != nil {
			metrics.CacheHits.Inc()
			logger.Info("Query cache hit, skipping research",
				zap.String("session_id", st.session.ID),
				zap.Int("attempt", st.attempt),
			)
			st.cached = entry
			st.cacheHit = true
			// Cached answers come only from accepted outcomes.
			p.appendTrace(ctx, st, models.StatusResearch, models.DecisionAccept, "Answer served from the query cache.")
			if st.state == models.StatusFailed {
				return
			}
			p.setStatus(ctx, st, models.StatusSynthesize)
			return
		}
		metrics.CacheMisses.Inc()
	}

	query := p.queries.Build(ctx, st.session.Question, st.strategy)

	st.searches++
	bundle, err := p.research.Research(ctx, query, st.session.Question, st.numDocs, st.attempt, p.cfg.MaxAttempts, p.cfg.MinVerified)
	if err != nil {
		st.failReason = fmt.Sprintf("Research attempt failed: %v", err)
		p.transitionFailed(st)
		return
	}

	if logErr := p.store.AppendSearchLog(ctx, &models.SearchLog{
		SessionID:     st.session.ID,
		AttemptNumber: st.attempt,
		QueryUsed:     bundle.QueryUsed,
		NumDocs:       len(bundle.Documents),
		Success:       bundle.SearchOK,
	}); logErr != nil {
		st.failReason = fmt.Sprintf("Failed to persist search log: %v", logErr)
		p.transitionFailed(st)
		return
	}

	if len(bundle.Documents) == 0 {
		p.handleEmptyResearch(ctx, st, bundle)
		return
	}

	st.bundle = bundle
	p.setStatus(ctx, st, models.StatusVerify)
}

// handleEmptyResearch covers the RESEARCH self-loop: zero usable
// documents rotates the strategy while budget remains and fails the
// session otherwise.
func (p *Agent) handleEmptyResearch(ctx context.Context, st *runState, bundle *research.Bundle) {
	reason := "No usable documents were returned."
	if !bundle.SearchOK {
		reason = "Search provider call failed."
	}

	if p.budgetRemains(st) {
		p.appendTrace(ctx, st, models.StatusResearch, models.DecisionRetry, reason)
		p.advanceAttempt(st, reason, "")
		return
	}

	p.appendTrace(ctx, st, models.StatusResearch, models.DecisionStop, reason+" Budget exhausted.")
	st.failReason = reason + " Budget exhausted."
	p.transitionFailed(st)
}

func (p *Agent) handleVerify(ctx context.Context, st *runState) {
	p.setStatus(ctx, st, models.StatusVerify)

	decision := st.bundle.Decision
	score := st.bundle.Score

	// Identical (confidence, decision) pairs across consecutive
	// attempts mean further searching is not moving the needle.
	if score.Level == st.lastConfidence && decision.Action == st.lastDecision {
		st.noProgress++
	} else {
		st.noProgress = 0
	}
	st.lastConfidence = score.Level

	if decision.Action == models.DecisionRetry && st.noProgress >= 1 && st.attempt > 1 {
		decision = verification.Decision{
			Action: models.DecisionStop,
			Reason: "No progress across attempts; further searching is unlikely to help.",
		}
	}

	if decision.Action == models.DecisionRetry && !p.budgetRemains(st) {
		decision = verification.Decision{
			Action: models.DecisionStop,
			Reason: "Search budget exhausted before verification succeeded.",
		}
	}

	p.appendTrace(ctx, st, models.StatusVerify, decision.Action, decision.Reason)
	if st.state == models.StatusFailed {
		return
	}
	metrics.Decisions.WithLabelValues(decision.Action).Inc()
	st.lastDecision = decision.Action

	switch decision.Action {
	case models.DecisionAccept, models.DecisionStop:
		p.setStatus(ctx, st, models.StatusSynthesize)
	case models.DecisionRetry:
		p.advanceAttempt(st, decision.Reason, decision.Recommendation)
		p.setStatus(ctx, st, models.StatusResearch)
	}
}

func (p *Agent) handleSynthesize(ctx context.Context, st *runState) {
	p.setStatus(ctx, st, models.StatusSynthesize)

	if st.cacheHit && st.cached != nil {
		p.writeCachedAnswer(ctx, st)
		return
	}

	if st.bundle == nil {
		st.failReason = "No research result available to synthesize."
		p.transitionFailed(st)
		return
	}

	answerText, err := p.synth.Synthesize(ctx, st.session.Question, st.bundle.Verified)
	if err != nil {
		st.failReason = fmt.Sprintf("Answer synthesis failed: %v", err)
		p.transitionFailed(st)
		return
	}

	level := st.bundle.Score.Level
	reason := st.bundle.Score.Reason
	if !hasVerifiedClaim(st.bundle.Verified) {
		// Best-effort synthesis on partial evidence is never more
		// than LOW confidence.
		level = models.ConfidenceLow
	}

	snapshot := &models.AnswerSnapshot{
		SessionID:        st.session.ID,
		AnswerText:       answerText,
		ConfidenceLevel:  level,
		ConfidenceReason: reason,
	}
	evidence := toEvidence(st.session.ID, st.bundle.Verified)

	if err := p.store.WriteAnswer(ctx, snapshot, evidence); err != nil {
		st.failReason = fmt.Sprintf("Failed to persist answer: %v", err)
		p.transitionFailed(st)
		return
	}

	if err := p.store.FinalizeSession(ctx, st.session.ID, models.StatusDone, level, reason); err != nil {
		st.failReason = fmt.Sprintf("Failed to finalize session: %v", err)
		p.transitionFailed(st)
		return
	}

	metrics.ConfidenceLevels.WithLabelValues(level).Inc()

	// Only accepted outcomes are cacheable; first writer wins.
	if p.cache != nil && st.lastDecision == models.DecisionAccept && st.lastHash != "" {
		entry := &models.CachedAnswer{
			AnswerText:       snapshot.AnswerText,
			ConfidenceLevel:  snapshot.ConfidenceLevel,
			ConfidenceReason: snapshot.ConfidenceReason,
			Evidence:         evidence,
		}
		if err := p.cache.PutIfAbsent(ctx, st.lastHash, entry, p.cfg.CacheTTL); err != nil {
			logger.Warn("Query cache write failed", zap.Error(err))
		}
	}

	st.state = models.StatusDone
}

func (p *Agent) writeCachedAnswer(ctx context.Context, st *runState) {
	snapshot := &models.AnswerSnapshot{
		SessionID:        st.session.ID,
		AnswerText:       st.cached.AnswerText,
		ConfidenceLevel:  st.cached.ConfidenceLevel,
		ConfidenceReason: st.cached.ConfidenceReason,
	}

	evidence := make([]models.Evidence, len(st.cached.Evidence))
	for i, ev := range st.cached.Evidence {
		evidence[i] = models.Evidence{
			SessionID:  st.session.ID,
			ClaimText:  ev.ClaimText,
			Status:     ev.Status,
			SourceURLs: ev.SourceURLs,
		}
	}

	if err := p.store.WriteAnswer(ctx, snapshot, evidence); err != nil {
		st.failReason = fmt.Sprintf("Failed to persist cached answer: %v", err)
		p.transitionFailed(st)
		return
	}

	if err := p.store.FinalizeSession(ctx, st.session.ID, models.StatusDone, snapshot.ConfidenceLevel, snapshot.ConfidenceReason); err != nil {
		st.failReason = fmt.Sprintf("Failed to finalize session: %v", err)
		p.transitionFailed(st)
		return
	}

	metrics.ConfidenceLevels.WithLabelValues(snapshot.ConfidenceLevel).Inc()
	st.state = models.StatusDone
}

func (p *Agent) budgetRemains(st *runState) bool {
	return st.attempt < p.cfg.MaxAttempts && st.searches < p.cfg.MaxSearches
}

func (p *Agent) advanceAttempt(st *runState, reason, recommendation string) {
	st.attempt++
	st.numDocs = p.cfg.BaseDocs + (st.attempt-1)*p.cfg.DocsStep
	if st.numDocs > p.cfg.MaxDocs {
		st.numDocs = p.cfg.MaxDocs
	}

	st.strategy = nextStrategy(st.used, reason, recommendation)
	st.used = append(st.used, st.strategy)

	logger.Info("Retrying with rotated strategy",
		zap.String("session_id", st.session.ID),
		zap.Int("attempt", st.attempt),
		zap.String("strategy", string(st.strategy)),
		zap.Int("num_docs", st.numDocs),
	)
}

func (p *Agent) setStatus(ctx context.Context, st *runState, status string) {
	st.state = status
	if err := p.store.UpdateSessionStatus(ctx, st.session.ID, status); err != nil {
		logger.Error("Failed to update session status",
			zap.String("session_id", st.session.ID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

// appendTrace records the attempt's final decision. A trace write
// failure fails the session: the audit trail is not optional.
func (p *Agent) appendTrace(ctx context.Context, st *runState, state, decision, reason string) {
	if st.traceLast >= st.attempt {
		return
	}

	err := p.store.AppendPlannerTrace(ctx, &models.PlannerTrace{
		SessionID:            st.session.ID,
		AttemptNumber:        st.attempt,
		PlannerState:         state,
		StrategyUsed:         string(st.strategy),
		NumDocs:              st.numDocs,
		VerificationDecision: decision,
		StopReason:           reason,
	})
	if err != nil {
		logger.Error("Failed to append planner trace",
			zap.String("session_id", st.session.ID),
			zap.Int("attempt", st.attempt),
			zap.Error(err),
		)
		st.failReason = fmt.Sprintf("Failed to persist planner trace: %v", err)
		st.state = models.StatusFailed
		return
	}
	st.traceLast = st.attempt
}

func (p *Agent) transitionFailed(st *runState) {
	st.state = models.StatusFailed
}

// finalizeFailed is best-effort: partial evidence is kept, the last
// attempt gets its trace row, and the session lands in FAILED.
func (p *Agent) finalizeFailed(st *runState) {
	if models.IsTerminalStatus(st.session.Status) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if st.traceLast < st.attempt && st.attempt > 0 {
		p.appendTrace(ctx, st, st.state, models.DecisionStop, st.failReason)
	}

	if st.bundle != nil && len(st.bundle.Verified) > 0 {
		evidence := toEvidence(st.session.ID, st.bundle.Verified)
		if err := p.store.BulkWriteEvidence(ctx, st.session.ID, evidence); err != nil {
			logger.Warn("Failed to persist partial evidence", zap.Error(err))
		}
	}

	reason := st.failReason
	if reason == "" {
		reason = "Planner terminated without a verified answer."
	}

	if err := p.store.FinalizeSession(ctx, st.session.ID, models.StatusFailed, models.ConfidenceLow, reason); err != nil {
		logger.Error("Failed to mark session FAILED",
			zap.String("session_id", st.session.ID),
			zap.Error(err),
		)
	}

	st.state = models.StatusFailed
	st.session.Status = models.StatusFailed
	metrics.ConfidenceLevels.WithLabelValues(models.ConfidenceLow).Inc()
}

func hasVerifiedClaim(verified []models.VerifiedClaim) bool {
	for _, c := range verified {
		if c.Status == models.StatusVerified {
			return true
		}
	}
	return false
}

func toEvidence(sessionID string, verified []models.VerifiedClaim) []models.Evidence {
	evidence := make([]models.Evidence, 0, len(verified))
	for _, c := range verified {
		evidence = append(evidence, models.Evidence{
			SessionID:  sessionID,
			ClaimText:  c.CanonicalText,
			Status:     c.Status,
			SourceURLs: c.Sources(),
		})
	}
	return evidence
}
