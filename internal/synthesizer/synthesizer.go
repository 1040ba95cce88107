// Package synthesizer turns a query plus retained source items into a
// grounded answer with a validated citation list.
package synthesizer

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

const systemPrompt = `You are groundling, an assistant that answers questions using only the material it is given.
When source passages are provided, base every claim on them and mark each supported claim with the passage's [Sn] label.
Cite only passages you actually used. If the material does not answer the question, say so plainly.`

const strictInstruction = `
STRICT MODE: ground every single claim in the cited passages or say you don't know. Do not include any information that is not explicitly present in the passages.`

var citationRe = regexp.MustCompile(`\[S(\d+)\]`)

type Synthesizer struct {
	llm llm.Completer
}

func New(completer llm.Completer) *Synthesizer {
	return &Synthesizer{llm: completer}
}

// Synthesize produces an answer and its citation list. Items may be
// empty for routes that answer from parametric knowledge. The returned
// citations are validated to be a subset of the supplied item source
// ids; any identifier the model invents is dropped and logged.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, items []domain.RetrievedItem, strict bool) (string, []string, error) {
	prompt := buildPrompt(query, items, strict)

	reply, err := s.llm.Complete(ctx, prompt,
		llm.WithSystem(systemPrompt),
		llm.WithMaxTokens(2048),
		llm.WithTemperature(0.1),
	)
	if err != nil {
		return "", nil, fmt.Errorf("response synthesis failed: %w", err)
	}

	answer, citations := extractCitations(reply, items)
	return answer, citations, nil
}

func buildPrompt(query string, items []domain.RetrievedItem, strict bool) string {
	if len(items) == 0 {
		return fmt.Sprintf(`Answer the following question using your knowledge. Be concise and accurate.

Question: %s

Answer:`, query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Answer the question using ONLY the passages below. Mark supported claims with the passage label, e.g. [S1].")
	if strict {
		b.WriteString(strictInstruction)
	}
	fmt.Fprintf(&b, "\n\nQuestion: %s\n\nPassages:\n", query)
	for i, item := range items {
		fmt.Fprintf(&b, "[S%d] (%s)\n%s\n\n", i+1, item.SourceID, truncate(item.Content, 2000))
	}
	b.WriteString("Answer:")
	return b.String()
}

// extractCitations resolves [Sn] markers in the answer back to source
// ids and drops markers that point at nothing that was supplied.
func extractCitations(answer string, items []domain.RetrievedItem) (string, []string) {
	seen := make(map[string]bool)
	var citations []string
	for _, m := range citationRe.FindAllStringSubmatch(answer, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > len(items) {
			slog.Warn("dropping citation of unknown passage", "marker", m[0])
			continue
		}
		id := items[idx-1].SourceID
		if !seen[id] {
			seen[id] = true
			citations = append(citations, id)
		}
	}
	return strings.TrimSpace(answer), citations
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
