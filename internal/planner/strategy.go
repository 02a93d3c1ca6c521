package planner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/verification"
	"github.com/research-agent/backend/pkg/logger"
)

type Strategy string

const (
	StrategyVerbatim          Strategy = "VERBATIM"
	StrategyKeywordExpansion  Strategy = "KEYWORD_EXPANSION"
	StrategyQuestionReframing Strategy = "QUESTION_REFRAMING"
	StrategyDomainRestricted  Strategy = "DOMAIN_RESTRICTED"
)

// rotationOrder is the fixed retry schedule; the first attempt is
// always VERBATIM. Once exhausted, the schedule cycles.
var rotationOrder = []Strategy{
	StrategyVerbatim,
	StrategyKeywordExpansion,
	StrategyQuestionReframing,
	StrategyDomainRestricted,
}

// reputableSites is the shortlist appended under DOMAIN_RESTRICTED.
var reputableSites = []string{
	"site:gov",
	"site:edu",
	"site:britannica.com",
	"site:reuters.com",
}

// nextStrategy picks the strategy for a retry. A reason-driven
// preference is honored when that strategy has not been used yet;
// otherwise the first unused entry of the rotation wins, cycling once
// every strategy has been tried.
func nextStrategy(used []Strategy, reason, recommendation string) Strategy {
	usedSet := make(map[Strategy]bool, len(used))
	for _, s := range used {
		usedSet[s] = true
	}

	var preferred Strategy
	lowerReason := strings.ToLower(reason)
	switch {
	case strings.Contains(lowerReason, "conflict"):
		preferred = StrategyDomainRestricted
	case strings.Contains(lowerReason, "limited evidence"),
		strings.Contains(lowerReason, "single source"):
		preferred = StrategyKeywordExpansion
	case recommendation != "":
		preferred = StrategyQuestionReframing
	default:
		preferred = StrategyKeywordExpansion
	}

	if !usedSet[preferred] {
		return preferred
	}

	for _, s := range rotationOrder {
		if !usedSet[s] {
			return s
		}
	}

	return rotationOrder[len(used)%len(rotationOrder)]
}

// queryBuilder mutates the question into the search query mandated by
// a strategy.
type queryBuilder struct {
	llm llm.Client
}

func (b *queryBuilder) Build(ctx context.Context, question string, strategy Strategy) string {
	switch strategy {
	case StrategyKeywordExpansion:
		keywords := distillKeywords(question)
		if keywords == "" {
			return question + " explanation overview"
		}
		return fmt.Sprintf("%s %s explanation overview", question, keywords)

	case StrategyQuestionReframing:
		return b.reframe(ctx, question)

	case StrategyDomainRestricted:
		return fmt.Sprintf("%s %s", question, strings.Join(reputableSites, " OR "))

	default:
		return question
	}
}

// distillKeywords lifts the most specific content words out of the
// question so the expanded query reweights toward them.
func distillKeywords(question string) string {
	words := verification.ContentWords(question)

	var picked []string
	for _, w := range words {
		if len(w) >= 5 {
			picked = append(picked, w)
		}
		if len(picked) == 3 {
			break
		}
	}
	return strings.Join(picked, " ")
}

func (b *queryBuilder) reframe(ctx context.Context, question string) string {
	if b.llm == nil {
		return question
	}

	resp, err := b.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: `You rewrite research questions into effective web search queries.

Rules:
1. Preserve the question's exact meaning
2. Prefer declarative keyword phrasing over question phrasing
3. Keep every named entity unchanged

Return ONLY the rewritten query, nothing else.`,
		UserPrompt: fmt.Sprintf("Rewrite this question as a search query: %s", question),
		MaxTokens:  100,
	})
	if err != nil {
		logger.Warn("Query reframing failed, using original question", zap.Error(err))
		return question
	}

	reframed := strings.TrimSpace(resp.Content)
	if reframed == "" {
		return question
	}

	logger.Debug("Question reframed",
		zap.String("original", question),
		zap.String("reframed", reframed),
	)
	return reframed
}
