// Package analyzer extracts intent signals from a raw query: topic
// tags, a need-for-recency flag, and a specificity score estimating how
// likely the answer lives in private documents rather than general
// knowledge.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/groundling/groundling/internal/domain"
	"github.com/groundling/groundling/internal/llm"
)

var analysisPrompt = `Analyze the following query and report three signals.

Query: %q

Signals:
- Specificity: how likely the answer requires private, uploaded, or document-specific facts (1.0) versus general knowledge (0.0).
- Recency: whether the query needs current or real-time information (yes/no).
- Topics: up to three short topic tags.

Respond in this exact format:
Specificity: [0.0-1.0]
Recency: [yes/no]
Topics: [comma separated tags]`

var recencyWords = []string{
	"today", "yesterday", "right now", "currently", "latest", "breaking",
	"this week", "this month", "this year", "news", "weather", "stock price",
	"live", "score", "update",
}

var documentWords = []string{
	"document", "file", "upload", "attachment", "contract", "report",
	"policy", "pdf", "page", "section", "clause", "according to the",
}

// Analyzer produces AnalyzerSignals from a raw query. It tries one cheap
// model call and degrades to offline heuristics on any failure; it never
// fails the request.
type Analyzer struct {
	llm llm.Completer
}

func New(completer llm.Completer) *Analyzer {
	return &Analyzer{llm: completer}
}

var (
	specificityRe = regexp.MustCompile(`(?i)Specificity:\s*([0-9]*\.?[0-9]+)`)
	recencyRe     = regexp.MustCompile(`(?i)Recency:\s*(yes|no)`)
	topicsRe      = regexp.MustCompile(`(?i)Topics:\s*(.+)`)
)

// Analyze returns intent signals for the query. Heuristic signals are
// computed first; a successful model call refines them.
func (a *Analyzer) Analyze(ctx context.Context, query string) domain.AnalyzerSignals {
	signals := heuristicSignals(query)

	if a.llm == nil {
		return signals
	}

	reply, err := a.llm.Complete(ctx, fmt.Sprintf(analysisPrompt, query), llm.WithMaxTokens(100))
	if err != nil {
		slog.Warn("query analysis model call failed, using heuristics", "error", err)
		return signals
	}

	if m := specificityRe.FindStringSubmatch(reply); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			signals.Specificity = clamp01(v)
		}
	}
	if m := recencyRe.FindStringSubmatch(reply); m != nil {
		signals.Recency = strings.EqualFold(m[1], "yes") || signals.Recency
	}
	if m := topicsRe.FindStringSubmatch(reply); m != nil {
		signals.Topics = splitTopics(m[1])
	}

	slog.Debug("query analyzed",
		"specificity", signals.Specificity,
		"recency", signals.Recency,
		"topics", signals.Topics,
	)
	return signals
}

// heuristicSignals is the offline fallback: keyword checks only.
func heuristicSignals(query string) domain.AnalyzerSignals {
	lower := strings.ToLower(query)

	signals := domain.AnalyzerSignals{Specificity: 0.5}
	for _, w := range recencyWords {
		if strings.Contains(lower, w) {
			signals.Recency = true
			break
		}
	}
	for _, w := range documentWords {
		if strings.Contains(lower, w) {
			signals.Specificity = 0.8
			break
		}
	}
	return signals
}

func splitTopics(s string) []string {
	var topics []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(strings.Trim(strings.TrimSpace(t), "[]"))
		if t != "" {
			topics = append(topics, t)
		}
		if len(topics) == 3 {
			break
		}
	}
	return topics
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
