package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/groundling/groundling/internal/config"
	"github.com/groundling/groundling/internal/failure"
	"github.com/groundling/groundling/internal/llm"
)

// Qdrant talks to a qdrant instance over its REST API. Query embedding
// is delegated to the language-model collaborator's embeddings endpoint.
type Qdrant struct {
	http       *resty.Client
	embedder   llm.Embedder
	collection string
	dimension  int
	distance   string
	retry      failure.Policy
}

func NewQdrant(cfg config.QdrantConfig, pcfg config.PipelineConfig, embedder llm.Embedder) *Qdrant {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(pcfg.RequestTimeout)
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}

	return &Qdrant{
		http:       client,
		embedder:   embedder,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		distance:   cfg.Distance,
		retry: failure.Policy{
			MaxRetries:     pcfg.MaxRetries,
			BaseDelay:      pcfg.RetryBaseDelay,
			MaxDelay:       pcfg.RetryMaxDelay,
			RateLimitDelay: pcfg.RateLimitDelay,
		},
	}
}

type qdrantStatus struct {
	Status string `json:"status"`
}

// EnsureCollection creates the collection if it does not exist yet.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	resp, err := q.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/collections/%s", q.collection))
	if err != nil {
		return failure.FromTransport("qdrant.ensure", err)
	}
	if resp.StatusCode() == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimension,
			"distance": q.distance,
		},
	}
	resp, err = q.http.R().
		SetContext(ctx).
		SetBody(body).
		Put(fmt.Sprintf("/collections/%s", q.collection))
	if err != nil {
		return failure.FromTransport("qdrant.ensure", err)
	}
	if resp.IsError() {
		return failure.FromStatus("qdrant.ensure", resp.StatusCode(),
			fmt.Errorf("create collection: %s", resp.Status()))
	}
	slog.Info("created qdrant collection", "collection", q.collection, "dimension", q.dimension)
	return nil
}

type upsertPoint struct {
	ID      string            `json:"id"`
	Vector  []float64         `json:"vector"`
	Payload map[string]string `json:"payload"`
}

// Upsert embeds and writes the chunks of one document.
func (q *Qdrant) Upsert(ctx context.Context, documentID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		slog.Warn("no chunks to upsert", "document_id", documentID)
		return nil
	}

	points := make([]upsertPoint, 0, len(chunks))
	for _, chunk := range chunks {
		vector, err := q.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return fmt.Errorf("embedding chunk %s: %w", chunk.ID, err)
		}
		payload := map[string]string{
			"document_id": chunk.DocumentID,
			"content":     chunk.Content,
		}
		for k, v := range chunk.Metadata {
			payload[k] = v
		}
		points = append(points, upsertPoint{ID: chunk.ID, Vector: vector, Payload: payload})
	}

	return q.retry.Do(ctx, "qdrant.upsert", func(ctx context.Context) error {
		resp, err := q.http.R().
			SetContext(ctx).
			SetQueryParam("wait", "true").
			SetBody(map[string]any{"points": points}).
			Put(fmt.Sprintf("/collections/%s/points", q.collection))
		if err != nil {
			return failure.FromTransport("qdrant.upsert", err)
		}
		if resp.IsError() {
			return failure.FromStatus("qdrant.upsert", resp.StatusCode(),
				fmt.Errorf("upsert points: %s", resp.Status()))
		}
		slog.Info("upserted chunks", "document_id", documentID, "count", len(points))
		return nil
	})
}

type searchResponse struct {
	Result []struct {
		ID      string            `json:"id"`
		Score   float64           `json:"score"`
		Payload map[string]string `json:"payload"`
	} `json:"result"`
}

// Query embeds the text and runs nearest-neighbor search.
func (q *Qdrant) Query(ctx context.Context, text string, topK int) ([]Match, error) {
	vector, err := q.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var out searchResponse
	err = q.retry.Do(ctx, "qdrant.search", func(ctx context.Context) error {
		resp, err := q.http.R().
			SetContext(ctx).
			SetBody(map[string]any{
				"vector":       vector,
				"limit":        topK,
				"with_payload": true,
			}).
			SetResult(&out).
			ForceContentType("application/json").
			Post(fmt.Sprintf("/collections/%s/points/search", q.collection))
		if err != nil {
			return failure.FromTransport("qdrant.search", err)
		}
		if resp.IsError() {
			return failure.FromStatus("qdrant.search", resp.StatusCode(),
				fmt.Errorf("search points: %s", resp.Status()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(out.Result))
	for _, r := range out.Result {
		matches = append(matches, Match{
			SourceID: r.Payload["document_id"] + "#" + r.ID,
			Content:  r.Payload["content"],
			Score:    r.Score,
		})
	}
	return matches, nil
}

type countResponse struct {
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

// Count reports the number of stored chunks.
func (q *Qdrant) Count(ctx context.Context) (int, error) {
	var out countResponse
	err := q.retry.Do(ctx, "qdrant.count", func(ctx context.Context) error {
		resp, err := q.http.R().
			SetContext(ctx).
			SetBody(map[string]any{"exact": true}).
			SetResult(&out).
			ForceContentType("application/json").
			Post(fmt.Sprintf("/collections/%s/points/count", q.collection))
		if err != nil {
			return failure.FromTransport("qdrant.count", err)
		}
		if resp.IsError() {
			return failure.FromStatus("qdrant.count", resp.StatusCode(),
				fmt.Errorf("count points: %s", resp.Status()))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return out.Result.Count, nil
}
