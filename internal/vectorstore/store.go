// Package vectorstore is the document/vector-store collaborator: a
// qdrant-backed chunk store plus the retrieval tool built on top of it.
package vectorstore

import "context"

// Chunk is a piece of an ingested document ready for indexing.
type Chunk struct {
	ID         string
	DocumentID string
	Content    string
	Metadata   map[string]string
}

// Match is a stored chunk returned by similarity search.
type Match struct {
	SourceID string
	Content  string
	Score    float64
}

// Store is the vector-store collaborator contract. Upserts are assumed
// eventually consistent with subsequent queries.
type Store interface {
	// Upsert inserts or replaces the chunks of a document.
	Upsert(ctx context.Context, documentID string, chunks []Chunk) error

	// Query embeds the text and returns ranked matches with scores.
	Query(ctx context.Context, text string, topK int) ([]Match, error)

	// Count reports how many chunks the index holds.
	Count(ctx context.Context) (int, error)
}
