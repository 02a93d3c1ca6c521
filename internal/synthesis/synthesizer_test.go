package synthesis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/storage/models"
)

type scriptedLLM struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *scriptedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.prompts = append(f.prompts, req.SystemPrompt)
	if f.err != nil {
		return nil, f.err
	}

	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return &llm.CompletionResponse{Content: f.responses[idx]}, nil
}

func verifiedClaim(text string) models.VerifiedClaim {
	return models.VerifiedClaim{
		CanonicalText:  text,
		Status:         models.StatusVerified,
		SupportingURLs: []string{"https://nasa.gov/a", "https://britannica.com/b"},
	}
}

func TestSynthesizeGroundedAnswer(t *testing.T) {
	fake := &scriptedLLM{responses: []string{"Voyager 1 was launched in 1977."}}
	s := NewSynthesizer(fake)

	answer, err := s.Synthesize(context.Background(), "What year was Voyager 1 launched?",
		[]models.VerifiedClaim{verifiedClaim("Voyager 1 was launched in 1977")})

	require.NoError(t, err)
	assert.Contains(t, answer, "1977")
	assert.Equal(t, 1, fake.calls)
}

func TestSynthesizeAbstainsWithoutClaims(t *testing.T) {
	fake := &scriptedLLM{responses: []string{"should never be called"}}
	s := NewSynthesizer(fake)

	answer, err := s.Synthesize(context.Background(), "Who?", nil)

	require.NoError(t, err)
	assert.Equal(t, AbstentionAnswer, answer)
	assert.Zero(t, fake.calls)
}

func TestSynthesizeRetriesOnUnsupportedNumbers(t *testing.T) {
	fake := &scriptedLLM{responses: []string{
		"Voyager 1 was launched in 1976.",
		"Voyager 1 was launched in 1977.",
	}}
	s := NewSynthesizer(fake)

	answer, err := s.Synthesize(context.Background(), "What year was Voyager 1 launched?",
		[]models.VerifiedClaim{verifiedClaim("Voyager 1 was launched in 1977")})

	require.NoError(t, err)
	assert.Contains(t, answer, "1977")
	assert.Equal(t, 2, fake.calls)
	// The second pass carries the hard numeric rule.
	assert.Contains(t, fake.prompts[1], "HARD RULE")
}

func TestSynthesizeFallsBackToVerbatimClaims(t *testing.T) {
	fake := &scriptedLLM{responses: []string{
		"The launch happened in 1976.",
		"The launch happened in 1975.",
	}}
	s := NewSynthesizer(fake)

	answer, err := s.Synthesize(context.Background(), "What year was Voyager 1 launched?",
		[]models.VerifiedClaim{verifiedClaim("Voyager 1 was launched in 1977")})

	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
	assert.Contains(t, answer, "Voyager 1 was launched in 1977")
}

func TestSynthesizeUsesUnverifiedOnlyAsTentative(t *testing.T) {
	fake := &scriptedLLM{responses: []string{"Tentatively, the answer is unclear."}}
	s := NewSynthesizer(fake)

	_, err := s.Synthesize(context.Background(), "Who is the CEO?",
		[]models.VerifiedClaim{
			{CanonicalText: "The CEO is unnamed in sources", Status: models.StatusUnverified},
		})

	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
}

func TestSynthesizePropagatesLLMError(t *testing.T) {
	fake := &scriptedLLM{err: errors.New("timeout")}
	s := NewSynthesizer(fake)

	_, err := s.Synthesize(context.Background(), "q",
		[]models.VerifiedClaim{verifiedClaim("Voyager 1 was launched in 1977")})
	assert.Error(t, err)
}

func TestIntegrityCheck(t *testing.T) {
	claims := []models.VerifiedClaim{verifiedClaim("The population is 1.2 million as of 2020")}

	assert.True(t, integrityOK("Population is 1.2 million (2020).", claims))
	assert.False(t, integrityOK("Population is 2.0 million.", claims))
	assert.True(t, integrityOK("No numbers here at all.", claims))
}
