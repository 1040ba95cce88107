package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/groundling/groundling/internal/config"
	"github.com/groundling/groundling/internal/vectorstore"
)

// Service chunks documents and upserts them into the vector store.
// Upserts are serialized: queries started before an ingestion completes
// may read a stale index, which is acceptable.
type Service struct {
	mu      sync.Mutex
	store   vectorstore.Store
	chunker *Chunker
}

func NewService(cfg config.IngestConfig, store vectorstore.Store) *Service {
	return &Service{
		store:   store,
		chunker: NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
	}
}

// Ingest chunks the document and writes it to the store, returning the
// document id and the number of chunks written. An empty documentID is
// assigned a fresh one.
func (s *Service) Ingest(ctx context.Context, documentID, name, content string) (string, int, error) {
	if documentID == "" {
		documentID = uuid.NewString()
	}

	pieces := s.chunker.Chunk(content)
	if len(pieces) == 0 {
		return documentID, 0, fmt.Errorf("document %q has no content", name)
	}

	chunks := make([]vectorstore.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, vectorstore.Chunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Content:    piece,
			Metadata: map[string]string{
				"source_file": name,
				"chunk_index": strconv.Itoa(i),
			},
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Upsert(ctx, documentID, chunks); err != nil {
		return documentID, 0, fmt.Errorf("upserting document %q: %w", name, err)
	}

	slog.Info("document ingested", "document_id", documentID, "name", name, "chunks", len(chunks))
	return documentID, len(chunks), nil
}
