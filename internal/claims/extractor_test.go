package claims

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/storage/models"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.response}, nil
}

func testDoc(text string) models.Document {
	return models.Document{
		URL:    "https://nasa.gov/voyager",
		Domain: "nasa.gov",
		Title:  "Voyager",
		Text:   text,
	}
}

func longText() string {
	return "Voyager 1 is a space probe launched by NASA on September 5, 1977. " +
		"It was part of the Voyager program to study the outer Solar System."
}

func TestExtractParsesClaimsWithPolarity(t *testing.T) {
	fake := &fakeLLM{response: `- Voyager 1 was launched by NASA in 1977 | AFFIRM
- Voyager 1 did not visit Pluto during its mission | NEGATE
not a bullet line
- Short one | AFFIRM`}

	extractor := NewExtractor(fake, Config{MinLength: 20, MaxHedges: 1})
	claims, err := extractor.Extract(context.Background(), testDoc(longText()))
	require.NoError(t, err)

	require.Len(t, claims, 2)
	assert.Equal(t, "Voyager 1 was launched by NASA in 1977", claims[0].Text)
	assert.Equal(t, models.PolarityAffirm, claims[0].Polarity)
	assert.Equal(t, models.PolarityNegate, claims[1].Polarity)
	assert.Equal(t, "nasa.gov", claims[0].SourceDomain)
	assert.Equal(t, "https://nasa.gov/voyager", claims[0].SourceURL)
}

func TestExtractFallbackPolarityWhenTagMissing(t *testing.T) {
	fake := &fakeLLM{response: `- Voyager 1 was launched by NASA in September 1977
- The probe did not return to Earth after launch`}

	extractor := NewExtractor(fake, Config{})
	claims, err := extractor.Extract(context.Background(), testDoc(longText()))
	require.NoError(t, err)

	require.Len(t, claims, 2)
	assert.Equal(t, models.PolarityAffirm, claims[0].Polarity)
	assert.Equal(t, models.PolarityNegate, claims[1].Polarity)
}

func TestExtractDropsHedgedClaims(t *testing.T) {
	fake := &fakeLLM{response: `- The mission may possibly have reportedly cost billions of dollars | AFFIRM
- The spacecraft crossed the heliopause in August 2012 | AFFIRM`}

	extractor := NewExtractor(fake, Config{MaxHedges: 1})
	claims, err := extractor.Extract(context.Background(), testDoc(longText()))
	require.NoError(t, err)

	require.Len(t, claims, 1)
	assert.Contains(t, claims[0].Text, "heliopause")
}

func TestExtractDropsBoilerplate(t *testing.T) {
	fake := &fakeLLM{response: `- All rights reserved by the publisher of this website | AFFIRM
- Voyager 1 carries a golden record with sounds of Earth | AFFIRM`}

	extractor := NewExtractor(fake, Config{})
	claims, err := extractor.Extract(context.Background(), testDoc(longText()))
	require.NoError(t, err)

	require.Len(t, claims, 1)
	assert.Contains(t, claims[0].Text, "golden record")
}

func TestExtractSkipsThinDocumentsWithoutLLMCall(t *testing.T) {
	fake := &fakeLLM{response: "- irrelevant"}

	extractor := NewExtractor(fake, Config{})
	claims, err := extractor.Extract(context.Background(), testDoc("too short"))
	require.NoError(t, err)

	assert.Empty(t, claims)
	assert.Zero(t, fake.calls)
}

func TestExtractPropagatesLLMError(t *testing.T) {
	fake := &fakeLLM{err: errors.New("upstream unavailable")}

	extractor := NewExtractor(fake, Config{})
	_, err := extractor.Extract(context.Background(), testDoc(longText()))
	assert.Error(t, err)
}

func TestExtractNoneResponse(t *testing.T) {
	fake := &fakeLLM{response: "NONE"}

	extractor := NewExtractor(fake, Config{})
	claims, err := extractor.Extract(context.Background(), testDoc(longText()))
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestFallbackPolarity(t *testing.T) {
	assert.Equal(t, "AFFIRM", fallbackPolarity("Voyager 1 was launched in 1977"))
	assert.Equal(t, "NEGATE", fallbackPolarity("The probe did not visit Pluto"))
	assert.Equal(t, "UNSPECIFIED", fallbackPolarity("The mission may continue for years"))
}
