package vectorstore

import (
	"context"
	"log/slog"
	"sort"

	"github.com/groundling/groundling/internal/domain"
)

// Retriever is the RAG tool: it queries the store, discards matches
// below the similarity threshold, orders by descending score, and
// truncates to top-k. An empty result is a valid, expected outcome.
type Retriever struct {
	store Store
}

func NewRetriever(store Store) *Retriever {
	return &Retriever{store: store}
}

// Retrieve returns ranked document passages for the query.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, similarityThreshold float64) ([]domain.RetrievedItem, error) {
	matches, err := r.store.Query(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	items := Filter(matches, similarityThreshold, topK)
	slog.Info("retrieval completed",
		"matches", len(matches),
		"retained", len(items),
		"threshold", similarityThreshold,
	)
	return items, nil
}

// IndexSize reports the document count for routing. Unreachable stores
// are the caller's concern.
func (r *Retriever) IndexSize(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// Filter applies the threshold, sorts descending, and truncates.
func Filter(matches []Match, threshold float64, topK int) []domain.RetrievedItem {
	var items []domain.RetrievedItem
	for _, m := range matches {
		if m.Score < threshold {
			continue
		}
		items = append(items, domain.RetrievedItem{
			SourceID: m.SourceID,
			Content:  m.Content,
			Score:    m.Score,
			Origin:   domain.OriginDocument,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > topK {
		items = items[:topK]
	}
	return items
}
