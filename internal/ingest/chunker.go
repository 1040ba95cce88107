// Package ingest is the document ingestion collaborator: it chunks raw
// document text and writes the chunks into the vector store, with
// writes serialized against each other.
package ingest

import "strings"

// separators tried in order when looking for a natural break point
// inside an oversized chunk.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits document text into overlapping character chunks,
// preferring paragraph and sentence boundaries.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text into pieces of at most the configured size, each
// overlapping the previous one by the configured amount.
func (c *Chunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.size
		if end >= len(text) {
			end = len(text)
		} else {
			end = breakPoint(text, start, end)
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(text) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint finds the latest natural separator in (start, limit],
// falling back to a hard cut at limit.
func breakPoint(text string, start, limit int) int {
	window := text[start:limit]
	for _, sep := range separators {
		if idx := strings.LastIndex(window, sep); idx > 0 {
			return start + idx + len(sep)
		}
	}
	return limit
}
