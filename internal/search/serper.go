// Package search is the web-search collaborator, backed by a
// Serper-style JSON search API.
package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/groundling/groundling/internal/config"
	"github.com/groundling/groundling/internal/domain"
	"github.com/groundling/groundling/internal/failure"
)

// Client queries the search API and returns ranked web snippets.
type Client struct {
	http     *resty.Client
	endpoint string
	results  int
	retry    failure.Policy
}

func NewClient(cfg config.SerperConfig, pcfg config.PipelineConfig) *Client {
	client := resty.New().
		SetTimeout(pcfg.RequestTimeout).
		SetHeader("X-API-KEY", cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:     client,
		endpoint: cfg.Endpoint,
		results:  cfg.Results,
		retry: failure.Policy{
			MaxRetries:     pcfg.MaxRetries,
			BaseDelay:      pcfg.RetryBaseDelay,
			MaxDelay:       pcfg.RetryMaxDelay,
			RateLimitDelay: pcfg.RateLimitDelay,
		},
	}
}

// Search returns ranked web snippets for the query. Scores decay with
// rank since the API reports ordering, not similarity.
func (c *Client) Search(ctx context.Context, query string) ([]domain.RetrievedItem, error) {
	var body []byte
	err := c.retry.Do(ctx, "search.serper", func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(map[string]any{"q": query, "num": c.results}).
			Post(c.endpoint)
		if err != nil {
			return failure.FromTransport("search.serper", err)
		}
		if resp.IsError() {
			return failure.FromStatus("search.serper", resp.StatusCode(),
				fmt.Errorf("search request: %s", resp.Status()))
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}

	items := parseOrganic(body, c.results)
	slog.Info("search completed", "query_len", len(query), "results", len(items))
	return items, nil
}

// parseOrganic extracts organic results into retrieved items.
func parseOrganic(body []byte, max int) []domain.RetrievedItem {
	var items []domain.RetrievedItem
	organic := gjson.GetBytes(body, "organic")
	organic.ForEach(func(_, result gjson.Result) bool {
		title := result.Get("title").String()
		link := result.Get("link").String()
		snippet := result.Get("snippet").String()
		if link == "" || snippet == "" {
			return true
		}
		items = append(items, domain.RetrievedItem{
			SourceID: link,
			Content:  fmt.Sprintf("%s: %s", title, snippet),
			Score:    1.0 / float64(len(items)+1),
			Origin:   domain.OriginWeb,
		})
		return len(items) < max
	})
	return items
}
