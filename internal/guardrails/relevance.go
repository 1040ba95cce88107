package guardrails

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/groundling/groundling/internal/domain"
	"github.com/groundling/groundling/internal/llm"
)

const RelevanceGate = "relevance_scorer"

// RelevanceScorer judges whether retrieved passages actually answer the
// query, independent of the raw retrieval similarity. It catches
// topically similar but non-answering text.
type RelevanceScorer struct {
	llm       llm.Completer
	threshold float64
}

func NewRelevanceScorer(completer llm.Completer, threshold float64) *RelevanceScorer {
	return &RelevanceScorer{llm: completer, threshold: threshold}
}

var scoreLineRe = regexp.MustCompile(`(?m)^\s*S(\d+)\s*:\s*([0-9]*\.?[0-9]+)`)

// Score judges every item against the query and aggregates. The verdict
// passes when the aggregate (max per-item score) clears the threshold
// and at least one item is retained. The retained slice is the subset
// of items whose individual score clears the threshold.
func (s *RelevanceScorer) Score(ctx context.Context, query string, items []domain.RetrievedItem) (domain.GuardrailVerdict, []domain.RetrievedItem) {
	if len(items) == 0 {
		return domain.GuardrailVerdict{
			Gate:   RelevanceGate,
			Passed: false,
			Score:  domain.Float64(0),
			Reason: "no passages retrieved",
		}, nil
	}

	prompt := buildRelevancePrompt(query, items)
	reply, err := s.llm.Complete(ctx, prompt, llm.WithMaxTokens(200))
	if err != nil {
		// Judge unavailable. Default to relevant to avoid false
		// negatives, matching the retrieval score ordering.
		slog.Error("relevance judge failed, defaulting to relevant", "error", err)
		return domain.GuardrailVerdict{
			Gate:   RelevanceGate,
			Passed: true,
			Score:  domain.Float64(0.5),
			Reason: "relevance judge unavailable, defaulting to relevant",
		}, items
	}

	scores := parseItemScores(reply, len(items))
	retained := FilterRelevant(items, scores, s.threshold)

	aggregate := 0.0
	for _, sc := range scores {
		if sc > aggregate {
			aggregate = sc
		}
	}

	passed := aggregate >= s.threshold && len(retained) > 0
	slog.Info("relevance gate scored",
		"aggregate", aggregate,
		"threshold", s.threshold,
		"retained", len(retained),
		"passed", passed,
	)
	return domain.GuardrailVerdict{
		Gate:   RelevanceGate,
		Passed: passed,
		Score:  domain.Float64(aggregate),
		Reason: fmt.Sprintf("aggregate %.2f vs threshold %.2f, %d of %d passages retained", aggregate, s.threshold, len(retained), len(items)),
	}, retained
}

// FilterRelevant keeps items whose judged score clears the threshold.
// Raising the threshold can only shrink the retained set.
func FilterRelevant(items []domain.RetrievedItem, scores []float64, threshold float64) []domain.RetrievedItem {
	var retained []domain.RetrievedItem
	for i, item := range items {
		if i < len(scores) && scores[i] >= threshold {
			retained = append(retained, item)
		}
	}
	return retained
}

func buildRelevancePrompt(query string, items []domain.RetrievedItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a relevance evaluator. For each passage, rate from 0.0 to 1.0 how well it answers the question.
- 1.0 = passage directly answers the question
- 0.5 = passage is related but does not fully answer
- 0.0 = passage is unrelated

Question: %s

`, query)
	for i, item := range items {
		fmt.Fprintf(&b, "Passage S%d:\n%s\n\n", i+1, truncate(item.Content, 1500))
	}
	b.WriteString("Reply with one line per passage, in the exact format:\nS1: <score>\nS2: <score>\n...")
	return b.String()
}

// parseItemScores extracts per-item scores from the judge's reply.
// Missing or malformed lines default to 0.5, the neutral midpoint.
func parseItemScores(reply string, n int) []float64 {
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 0.5
	}
	for _, m := range scoreLineRe.FindAllStringSubmatch(reply, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > n {
			continue
		}
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		scores[idx-1] = clamp01(v)
	}
	return scores
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncate cuts s to at most maxLen bytes, backing up to a rune
// boundary so the prompt never carries invalid UTF-8.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + " [truncated]"
}
