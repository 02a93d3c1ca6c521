package verification

import (
	"math"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

var stopwords = map[string]bool{
	"the": true, "is": true, "a": true, "an": true, "of": true,
	"to": true, "and": true, "in": true, "for": true, "on": true,
	"with": true, "by": true, "as": true, "that": true, "this": true,
	"was": true, "were": true, "are": true, "be": true, "been": true,
	"it": true, "its": true, "at": true, "from": true, "has": true,
	"have": true, "had": true, "which": true, "who": true, "their": true,
}

// Normalize lowercases, strips punctuation and collapses whitespace.
func Normalize(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// ContentWords tokenizes normalized text and keeps the informative
// terms: no stopwords, nothing shorter than four characters.
func ContentWords(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	var words []string
	doc, err := prose.NewDocument(normalized,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		words = strings.Fields(normalized)
	} else {
		for _, tok := range doc.Tokens() {
			words = append(words, tok.Text)
		}
	}

	filtered := words[:0]
	for _, w := range words {
		if len(w) <= 3 || stopwords[w] {
			continue
		}
		filtered = append(filtered, w)
	}
	return filtered
}

// WordVector is a term-frequency bag over content words.
func WordVector(text string) map[string]float64 {
	vec := make(map[string]float64)
	for _, w := range ContentWords(text) {
		vec[w]++
	}
	return vec
}

// Cosine computes cosine similarity of two term-frequency vectors.
func Cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for term, weight := range a {
		normA += weight * weight
		if other, ok := b[term]; ok {
			dot += weight * other
		}
	}
	for _, weight := range b {
		normB += weight * weight
	}

	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
