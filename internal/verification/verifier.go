package verification

import (
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/pkg/logger"
)

// Engine resolves grouped claims into VERIFIED / UNVERIFIED /
// CONFLICT labels using polarity and registered-domain diversity.
type Engine struct {
	matcher *Matcher
}

func NewEngine(matcher *Matcher) *Engine {
	return &Engine{matcher: matcher}
}

func (e *Engine) Verify(claims []models.Claim) []models.VerifiedClaim {
	groups := e.matcher.Group(claims)

	verified := make([]models.VerifiedClaim, 0, len(groups))
	for _, group := range groups {
		verified = append(verified, resolveGroup(group))
	}

	logger.Debug("Claims verified",
		zap.Int("claims", len(claims)),
		zap.Int("groups", len(groups)),
	)

	return verified
}

// resolveGroup labels one equivalence class. VERIFIED needs at least
// two distinct registered domains of uniform polarity; any
// affirm/negate split is a CONFLICT; everything else is UNVERIFIED.
func resolveGroup(group []models.Claim) models.VerifiedClaim {
	var supporting, opposing []string
	affirmDomains := make(map[string]bool)
	negateDomains := make(map[string]bool)
	allDomains := make(map[string]bool)

	seenURL := make(map[string]bool)
	for _, c := range group {
		allDomains[c.SourceDomain] = true
		if seenURL[c.SourceURL] {
			continue
		}
		seenURL[c.SourceURL] = true

		switch c.Polarity {
		case models.PolarityNegate:
			opposing = append(opposing, c.SourceURL)
			negateDomains[c.SourceDomain] = true
		default:
			// UNSPECIFIED claims back the asserted reading but do not
			// count toward domain diversity.
			supporting = append(supporting, c.SourceURL)
			if c.Polarity == models.PolarityAffirm {
				affirmDomains[c.SourceDomain] = true
			}
		}
	}

	status := models.StatusUnverified
	switch {
	case len(affirmDomains) > 0 && len(negateDomains) > 0:
		status = models.StatusConflict
	case len(affirmDomains) >= 2 && len(negateDomains) == 0:
		status = models.StatusVerified
	case len(negateDomains) >= 2 && len(affirmDomains) == 0:
		// Uniformly negated claims verify with negated canonical polarity.
		status = models.StatusVerified
		supporting, opposing = opposing, supporting
	}

	return models.VerifiedClaim{
		CanonicalText:  group[0].Text,
		Status:         status,
		SupportingURLs: supporting,
		OpposingURLs:   opposing,
		DomainCount:    len(allDomains),
	}
}
