package synthesizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundling/groundling/internal/domain"
	"github.com/groundling/groundling/internal/llm"
)

type fakeCompleter struct {
	reply      string
	err        error
	lastPrompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	f.lastPrompt = prompt
	return f.reply, f.err
}

var testItems = []domain.RetrievedItem{
	{SourceID: "contract.pdf#1", Content: "Refunds are available within 30 days.", Score: 0.9, Origin: domain.OriginDocument},
	{SourceID: "contract.pdf#2", Content: "Payment is due within 15 days.", Score: 0.8, Origin: domain.OriginDocument},
}

func TestSynthesizeExtractsCitations(t *testing.T) {
	model := &fakeCompleter{reply: "Refunds are available within 30 days [S1]."}
	s := New(model)

	answer, citations, err := s.Synthesize(context.Background(), "refund policy?", testItems, false)
	require.NoError(t, err)
	assert.Contains(t, answer, "30 days")
	assert.Equal(t, []string{"contract.pdf#1"}, citations)
}

func TestSynthesizeDropsUnknownCitations(t *testing.T) {
	model := &fakeCompleter{reply: "Refunds exist [S1] and pigs fly [S7]."}
	s := New(model)

	_, citations, err := s.Synthesize(context.Background(), "q", testItems, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"contract.pdf#1"}, citations)
}

func TestSynthesizeDeduplicatesCitations(t *testing.T) {
	model := &fakeCompleter{reply: "A [S1]. B [S1]. C [S2]."}
	s := New(model)

	_, citations, err := s.Synthesize(context.Background(), "q", testItems, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"contract.pdf#1", "contract.pdf#2"}, citations)
}

func TestSynthesizeWithoutItemsHasNoCitations(t *testing.T) {
	model := &fakeCompleter{reply: "The sky is blue because of Rayleigh scattering."}
	s := New(model)

	answer, citations, err := s.Synthesize(context.Background(), "why is the sky blue?", nil, false)
	require.NoError(t, err)
	assert.NotEmpty(t, answer)
	assert.Empty(t, citations)
	assert.NotContains(t, model.lastPrompt, "[S1]")
}

func TestSynthesizeStrictModeTightensPrompt(t *testing.T) {
	model := &fakeCompleter{reply: "I don't know."}
	s := New(model)

	_, _, err := s.Synthesize(context.Background(), "q", testItems, true)
	require.NoError(t, err)
	assert.Contains(t, model.lastPrompt, "STRICT MODE")
}

func TestSynthesizePropagatesModelError(t *testing.T) {
	model := &fakeCompleter{err: errors.New("model down")}
	s := New(model)

	_, _, err := s.Synthesize(context.Background(), "q", testItems, false)
	assert.Error(t, err)
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	long := strings.Repeat("héllo wörld ", 300)
	for _, maxLen := range []int{1, 2, 3, 7, 100, 1999, 2000} {
		got := truncate(long, maxLen)
		assert.True(t, utf8.ValidString(got), "maxLen %d split a rune", maxLen)
		assert.LessOrEqual(t, len(strings.TrimSuffix(got, " [truncated]")), maxLen)
	}
	assert.Equal(t, "short", truncate("short", 100))
}
