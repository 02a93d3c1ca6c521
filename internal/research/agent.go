package research

import (
	"context"

	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/claims"
	"github.com/research-agent/backend/internal/confidence"
	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/internal/verification"
	"github.com/research-agent/backend/internal/web"
	"github.com/research-agent/backend/pkg/logger"
)

// Bundle is one attempt's outcome, handed back to the planner. The
// agent never touches persistence.
type Bundle struct {
	QueryUsed string
	SearchOK  bool
	Documents []models.Document
	Verified  []models.VerifiedClaim
	Decision  verification.Decision
	Score     confidence.Score
}

type Environment interface {
	Run(ctx context.Context, query string, numDocs int) ([]models.Document, bool)
}

type ClaimExtractor interface {
	Extract(ctx context.Context, doc models.Document) ([]models.Claim, error)
}

type Agent struct {
	env       Environment
	extractor ClaimExtractor
	verifier  *verification.Engine
	scorer    *confidence.Scorer
}

func NewAgent(env Environment, extractor ClaimExtractor, verifier *verification.Engine, scorer *confidence.Scorer) *Agent {
	return &Agent{
		env:       env,
		extractor: extractor,
		verifier:  verifier,
		scorer:    scorer,
	}
}

// Research runs one attempt: search and fetch, extract claims, verify
// groups, score confidence, and decide the next move.
func (a *Agent) Research(ctx context.Context, query, question string, numDocs, attempt, maxAttempts, minVerified int) (*Bundle, error) {
	bundle := &Bundle{QueryUsed: query}

	docs, searchOK := a.env.Run(ctx, query, numDocs)
	bundle.SearchOK = searchOK
	bundle.Documents = docs

	var extracted []models.Claim
	domains := make(map[string]bool)
	for _, doc := range docs {
		domains[doc.Domain] = true

		docClaims, err := a.extractor.Extract(ctx, doc)
		if err != nil {
			logger.Warn("Claim extraction failed for document, skipping",
				zap.String("url", doc.URL),
				zap.Error(err),
			)
			continue
		}
		for _, c := range docClaims {
			if isRelevant(c.Text, question) {
				extracted = append(extracted, c)
			}
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	bundle.Verified = a.verifier.Verify(extracted)
	bundle.Score = a.scorer.Score(bundle.Verified)
	bundle.Decision = verification.Decide(verification.DecisionInput{
		Verified:     bundle.Verified,
		TotalDomains: len(domains),
		Attempt:      attempt,
		MaxAttempts:  maxAttempts,
		MinVerified:  minVerified,
	})

	logger.Info("Research attempt complete",
		zap.Int("attempt", attempt),
		zap.Int("documents", len(docs)),
		zap.Int("claims", len(extracted)),
		zap.Int("groups", len(bundle.Verified)),
		zap.String("decision", bundle.Decision.Action),
		zap.String("confidence", bundle.Score.Level),
	)

	return bundle, nil
}

var _ ClaimExtractor = (*claims.Extractor)(nil)
var _ Environment = (*web.Environment)(nil)

// isRelevant keeps claims sharing at least two content words with the
// question, so off-topic page matter never reaches verification.
func isRelevant(claim, question string) bool {
	questionWords := make(map[string]bool)
	for _, w := range verification.ContentWords(question) {
		questionWords[w] = true
	}

	overlap := 0
	seen := make(map[string]bool)
	for _, w := range verification.ContentWords(claim) {
		if questionWords[w] && !seen[w] {
			seen[w] = true
			overlap++
			if overlap >= 2 {
				return true
			}
		}
	}
	return false
}
