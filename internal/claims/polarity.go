package claims

import "strings"

// Stance cues used when the extractor response carries no polarity
// tag. A plain factual assertion defaults to AFFIRM; NEGATE needs an
// explicit negation or reversal marker.
var negationMarkers = []string{
	" not ",
	" never ",
	" no longer ",
	"denies",
	"denied",
	"disputes",
	"disputed",
	"refutes",
	"refuted",
	"rejects",
	"rejected",
	"is false",
	"was false",
	"did not",
	"does not",
	"has not",
	"is no ",
}

var hedgingMarkers = []string{
	"may ",
	"might ",
	"could ",
	"possibly",
	"perhaps",
	"reportedly",
	"allegedly",
	"likely",
	"appears to",
	"seems to",
	"suggests",
	"is believed",
	"is rumored",
}

// fallbackPolarity classifies a claim by stance when the LLM tag is
// absent or unrecognized.
func fallbackPolarity(text string) string {
	lower := " " + strings.ToLower(text) + " "

	for _, marker := range negationMarkers {
		if strings.Contains(lower, marker) {
			return "NEGATE"
		}
	}

	hedges := countHedges(text)
	if hedges > 0 {
		return "UNSPECIFIED"
	}

	return "AFFIRM"
}

// countHedges counts distinct hedging markers present in the claim.
func countHedges(text string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, marker := range hedgingMarkers {
		if strings.Contains(lower, marker) {
			count++
		}
	}
	return count
}
