package verification

import (
	"fmt"

	"github.com/research-agent/backend/internal/storage/models"
)

// Decision is the meta-controller directive for the planner.
type Decision struct {
	Action         string
	Reason         string
	Recommendation string
}

type DecisionInput struct {
	Verified []models.VerifiedClaim
	// TotalDomains is the distinct registered-domain count across all
	// documents of the attempt.
	TotalDomains int
	Attempt      int
	MaxAttempts  int
	MinVerified  int
}

// Decide applies the acceptance rules. Ties break toward RETRY while
// attempts remain; the planner stays the authority on real budget and
// may downgrade RETRY to STOP.
func Decide(in DecisionInput) Decision {
	if in.MinVerified <= 0 {
		in.MinVerified = 2
	}

	attemptsRemain := in.Attempt < in.MaxAttempts

	if len(in.Verified) == 0 {
		if attemptsRemain {
			return Decision{
				Action:         models.DecisionRetry,
				Reason:         "No verifiable claims were found. Additional sources may help.",
				Recommendation: "Search broader or alternative sources.",
			}
		}
		return Decision{
			Action: models.DecisionStop,
			Reason: "No verifiable claims could be found after multiple attempts.",
		}
	}

	verifiedCount := 0
	conflictCount := 0
	maxSupportDomains := 0
	for _, c := range in.Verified {
		switch c.Status {
		case models.StatusVerified:
			verifiedCount++
			if c.DomainCount > maxSupportDomains {
				maxSupportDomains = c.DomainCount
			}
		case models.StatusConflict:
			conflictCount++
		}
	}

	accepted := false
	if conflictCount == 0 {
		if len(in.Verified) < 2 {
			// Too few groups to demand a quorum; a single strongly
			// corroborated claim suffices.
			accepted = verifiedCount >= 1 && maxSupportDomains >= 3
		} else {
			accepted = verifiedCount >= in.MinVerified
		}
	}

	if accepted {
		return Decision{
			Action: models.DecisionAccept,
			Reason: fmt.Sprintf(
				"%d claim group(s) verified across independent domains with no conflicts.",
				verifiedCount,
			),
		}
	}

	if verifiedCount == 0 && (conflictCount > 0 || in.TotalDomains < 3) && attemptsRemain {
		if conflictCount > 0 {
			return Decision{
				Action:         models.DecisionRetry,
				Reason:         "Sources provide conflicting evidence. Further verification may resolve discrepancies.",
				Recommendation: "Seek additional independent sources.",
			}
		}
		return Decision{
			Action:         models.DecisionRetry,
			Reason:         "The conclusion is based on limited evidence. Additional independent sources may improve confidence.",
			Recommendation: "Search for authoritative or corroborating sources.",
		}
	}

	if conflictCount > 0 {
		return Decision{
			Action: models.DecisionStop,
			Reason: "Conflicting evidence persists despite additional verification attempts.",
		}
	}

	return Decision{
		Action: models.DecisionStop,
		Reason: "Confidence remains low and further searching is unlikely to improve certainty.",
	}
}
