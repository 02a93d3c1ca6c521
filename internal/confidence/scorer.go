package confidence

import (
	"fmt"

	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/pkg/utils"
)

type Score struct {
	Level  string
	Reason string
}

// Scorer is a pure function of the verified-claim list; reasons are
// templated and never touch the LLM.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

func (s *Scorer) Score(verified []models.VerifiedClaim) Score {
	if len(verified) == 0 {
		return Score{
			Level:  models.ConfidenceLow,
			Reason: "No verified claims available.",
		}
	}

	verifiedCount := 0
	conflictCount := 0
	unverifiedCount := 0
	supportDomains := make(map[string]bool)

	for _, c := range verified {
		switch c.Status {
		case models.StatusVerified:
			verifiedCount++
			for _, u := range c.SupportingURLs {
				supportDomains[utils.RegisteredDomain(u)] = true
			}
		case models.StatusConflict:
			conflictCount++
		default:
			unverifiedCount++
		}
	}

	if conflictCount > 0 {
		return Score{
			Level: models.ConfidenceLow,
			Reason: fmt.Sprintf(
				"Conflicting information detected in %d claim group(s).",
				conflictCount,
			),
		}
	}

	if verifiedCount == 0 {
		return Score{
			Level: models.ConfidenceLow,
			Reason: fmt.Sprintf(
				"None of the %d claim group(s) reached multi-source verification.",
				len(verified),
			),
		}
	}

	if verifiedCount >= 2 && len(supportDomains) >= 3 {
		return Score{
			Level: models.ConfidenceHigh,
			Reason: fmt.Sprintf(
				"Strong agreement: %d claim group(s) verified across %d independent domains with no conflicts.",
				verifiedCount, len(supportDomains),
			),
		}
	}

	return Score{
		Level: models.ConfidenceMedium,
		Reason: fmt.Sprintf(
			"Partial corroboration: %d of %d claim group(s) verified across %d domain(s).",
			verifiedCount, len(verified), len(supportDomains),
		),
	}
}
