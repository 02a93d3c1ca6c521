package synthesis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/pkg/logger"
)

// AbstentionAnswer is emitted whenever the claim set cannot support
// an answer.
const AbstentionAnswer = "Insufficient verified evidence."

const groundedSystemPrompt = `You are a professional research summarizer.

STRICT RULES:
- Use ONLY the claims provided
- Do NOT add new facts
- Do NOT infer or speculate
- Do NOT change claim meaning
- Do NOT invent URLs or numbers
- Be cautious and professional in tone
- One short paragraph only
- If the claims cannot answer the question, reply exactly:
  "` + AbstentionAnswer + `"`

const strictAddendum = `
- HARD RULE: every digit in your answer must appear verbatim inside a
  provided claim; if you cannot comply, reply exactly:
  "` + AbstentionAnswer + `"`

var numericToken = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// Synthesizer produces the final grounded answer text.
type Synthesizer struct {
	llm llm.Client
}

func NewSynthesizer(llmClient llm.Client) *Synthesizer {
	return &Synthesizer{llm: llmClient}
}

// Synthesize phrases an answer strictly from verified claims. When no
// group verified, unverified claims are offered as tentative context.
// Output failing the numeric integrity check triggers one stricter
// pass; a second failure falls back to the claims verbatim.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, verified []models.VerifiedClaim) (string, error) {
	usable, tentative := selectClaims(verified)
	if len(usable) == 0 {
		return AbstentionAnswer, nil
	}

	prompt := buildUserPrompt(question, usable, tentative)

	answer, err := s.complete(ctx, groundedSystemPrompt, prompt)
	if err != nil {
		return "", err
	}

	if integrityOK(answer, usable) {
		return answer, nil
	}

	logger.Warn("Synthesis introduced unsupported numbers, retrying with strict prompt",
		zap.String("question", question),
	)

	answer, err = s.complete(ctx, groundedSystemPrompt+strictAddendum, prompt)
	if err != nil {
		return "", err
	}

	if integrityOK(answer, usable) {
		return answer, nil
	}

	logger.Warn("Strict synthesis still unsupported, returning claims verbatim",
		zap.String("question", question),
	)
	return concatenateClaims(usable, tentative), nil
}

func (s *Synthesizer) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		UserPrompt:   user,
	})
	if err != nil {
		return "", fmt.Errorf("answer synthesis failed: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// selectClaims restricts synthesis to VERIFIED claims; UNVERIFIED
// ones are used only when nothing verified, flagged as tentative.
func selectClaims(verified []models.VerifiedClaim) (usable []models.VerifiedClaim, tentative bool) {
	for _, c := range verified {
		if c.Status == models.StatusVerified {
			usable = append(usable, c)
		}
	}
	if len(usable) > 0 {
		return usable, false
	}

	for _, c := range verified {
		if c.Status == models.StatusUnverified {
			usable = append(usable, c)
		}
	}
	return usable, true
}

func buildUserPrompt(question string, claims []models.VerifiedClaim, tentative bool) string {
	var sb strings.Builder

	sb.WriteString("Question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nVerified Claims:\n")
	for _, c := range claims {
		fmt.Fprintf(&sb, "- %s (Status: %s)\n", c.CanonicalText, c.Status)
	}

	if tentative {
		sb.WriteString("\nNone of these claims reached multi-source verification. ")
		sb.WriteString("Present any answer as tentative and unconfirmed.\n")
	}

	sb.WriteString("\nCompose a clear, honest answer based ONLY on the above.")
	return sb.String()
}

// integrityOK rejects answers that introduce numeric tokens absent
// from every input claim.
func integrityOK(answer string, claims []models.VerifiedClaim) bool {
	allowed := make(map[string]bool)
	for _, c := range claims {
		for _, tok := range numericToken.FindAllString(c.CanonicalText, -1) {
			allowed[tok] = true
		}
	}

	for _, tok := range numericToken.FindAllString(answer, -1) {
		if !allowed[tok] {
			return false
		}
	}
	return true
}

func concatenateClaims(claims []models.VerifiedClaim, tentative bool) string {
	lines := make([]string, 0, len(claims)+1)
	if tentative {
		lines = append(lines, "Unconfirmed evidence only:")
	}
	for _, c := range claims {
		lines = append(lines, "- "+c.CanonicalText)
	}
	return strings.Join(lines, "\n")
}
