package claims

import (
	"context"
	"fmt"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/pkg/logger"
)

// maxPromptChars bounds how much document text is handed to one
// extraction call; the cut lands on a sentence boundary.
const maxPromptChars = 6000

const extractionSystemPrompt = `You are an information extraction system.

Extract ONLY explicit, factual claims from the text provided.

Rules:
- Extract only verifiable factual statements
- Each claim must be atomic and self-contained
- One claim per line, prefixed with "- "
- After each claim append " | " and a polarity tag:
  AFFIRM for an asserted fact, NEGATE for a negated or contradicting
  statement, UNSPECIFIED when the stance is unclear
- Do NOT summarize
- Do NOT infer
- Do NOT rewrite meaning
- Ignore navigation, menus, UI text
- If no factual claims exist, return NONE

Return format:
- <claim 1> | AFFIRM
- <claim 2> | NEGATE`

var boilerplateMarkers = []string{
	"all rights reserved",
	"privacy policy",
	"terms of use",
	"terms of service",
	"cookie policy",
	"copyright",
	"subscribe to our newsletter",
	"sign up for",
}

type Config struct {
	MinLength int
	MaxHedges int
}

// Extractor turns one document into atomic claims via a single
// deterministic LLM call.
type Extractor struct {
	llm llm.Client
	cfg Config
}

func NewExtractor(llmClient llm.Client, cfg Config) *Extractor {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 20
	}
	if cfg.MaxHedges <= 0 {
		cfg.MaxHedges = 1
	}
	return &Extractor{llm: llmClient, cfg: cfg}
}

func (e *Extractor) Extract(ctx context.Context, doc models.Document) ([]models.Claim, error) {
	text := strings.TrimSpace(doc.Text)
	if len(text) < 50 {
		return nil, nil
	}

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   fmt.Sprintf("TEXT:\n%s", truncateAtSentence(text, maxPromptChars)),
	})
	if err != nil {
		return nil, fmt.Errorf("claim extraction failed for %s: %w", doc.URL, err)
	}

	claims := e.parseResponse(resp.Content, doc)

	logger.Debug("Claims extracted",
		zap.String("url", doc.URL),
		zap.Int("count", len(claims)),
	)

	return claims, nil
}

func (e *Extractor) parseResponse(response string, doc models.Document) []models.Claim {
	var claims []models.Claim

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}

		body := strings.TrimSpace(strings.TrimPrefix(line, "-"))
		text, polarity := splitPolarityTag(body)

		if !e.keep(text) {
			continue
		}

		claims = append(claims, models.Claim{
			Text:         normalizeClaimText(text),
			Polarity:     polarity,
			SourceURL:    doc.URL,
			SourceDomain: doc.Domain,
		})
	}

	return claims
}

func (e *Extractor) keep(text string) bool {
	if len(text) < e.cfg.MinLength {
		return false
	}
	if countHedges(text) > e.cfg.MaxHedges {
		return false
	}

	lower := strings.ToLower(text)
	for _, marker := range boilerplateMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

func splitPolarityTag(body string) (string, string) {
	idx := strings.LastIndex(body, "|")
	if idx < 0 {
		return strings.TrimSpace(body), fallbackPolarity(body)
	}

	text := strings.TrimSpace(body[:idx])
	tag := strings.ToUpper(strings.TrimSpace(body[idx+1:]))

	switch tag {
	case models.PolarityAffirm, models.PolarityNegate, models.PolarityUnspecified:
		return text, tag
	default:
		return text, fallbackPolarity(text)
	}
}

func normalizeClaimText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// truncateAtSentence cuts text to at most limit chars, preferring a
// sentence boundary so the model never sees a half statement.
func truncateAtSentence(text string, limit int) string {
	if len(text) <= limit {
		return text
	}

	doc, err := prose.NewDocument(text[:limit],
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return text[:limit]
	}

	sentences := doc.Sentences()
	if len(sentences) <= 1 {
		return text[:limit]
	}

	var sb strings.Builder
	for _, s := range sentences[:len(sentences)-1] {
		sb.WriteString(s.Text)
		sb.WriteString(" ")
	}
	return strings.TrimSpace(sb.String())
}
