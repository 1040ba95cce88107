package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundling/groundling/internal/domain"
)

type fakeStore struct {
	matches []Match
	count   int
	err     error
}

func (f *fakeStore) Upsert(ctx context.Context, documentID string, chunks []Chunk) error {
	return f.err
}

func (f *fakeStore) Query(ctx context.Context, text string, topK int) ([]Match, error) {
	return f.matches, f.err
}

func (f *fakeStore) Count(ctx context.Context) (int, error) {
	return f.count, f.err
}

func TestFilterDropsBelowThresholdAndSortsDescending(t *testing.T) {
	matches := []Match{
		{SourceID: "a", Content: "a", Score: 0.65},
		{SourceID: "b", Content: "b", Score: 0.9},
		{SourceID: "c", Content: "c", Score: 0.75},
	}

	items := Filter(matches, 0.7, 5)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].SourceID)
	assert.Equal(t, "c", items[1].SourceID)
	for _, item := range items {
		assert.Equal(t, domain.OriginDocument, item.Origin)
	}
}

func TestFilterTruncatesToTopK(t *testing.T) {
	matches := []Match{
		{SourceID: "a", Score: 0.9},
		{SourceID: "b", Score: 0.8},
		{SourceID: "c", Score: 0.7},
	}

	items := Filter(matches, 0.0, 2)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].SourceID)
}

func TestRetrieveEmptyIsNotAnError(t *testing.T) {
	r := NewRetriever(&fakeStore{matches: []Match{{SourceID: "a", Score: 0.2}}})

	items, err := r.Retrieve(context.Background(), "q", 5, 0.7)
	require.NoError(t, err)
	assert.Empty(t, items)
}
