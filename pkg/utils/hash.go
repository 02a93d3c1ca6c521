package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeQuestion canonicalizes a question for cache keying: NFC,
// lowercase, collapsed whitespace, terminal punctuation stripped.
func NormalizeQuestion(question string) string {
	s := norm.NFC.String(question)
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r)
	})
	return strings.TrimSpace(s)
}

// QueryFingerprint is the cache key for one search configuration.
// Whitespace-only and case-only edits to the question hash identically.
func QueryFingerprint(question, strategy string, numDocs int) string {
	key := fmt.Sprintf("%s|%s|%d", NormalizeQuestion(question), strategy, numDocs)
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum)
}
