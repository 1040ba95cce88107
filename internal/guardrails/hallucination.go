package guardrails

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/groundling/groundling/internal/domain"
	"github.com/groundling/groundling/internal/llm"
)

const HallucinationGate = "hallucination_detector"

// HallucinationDetector checks that a synthesized answer is supported by
// the source material it cites.
type HallucinationDetector struct {
	llm       llm.Completer
	threshold float64
}

func NewHallucinationDetector(completer llm.Completer, threshold float64) *HallucinationDetector {
	return &HallucinationDetector{llm: completer, threshold: threshold}
}

// Score compares the answer against the content of its cited items and
// passes when the support score clears the threshold. With no source
// items there is nothing to ground against, so the gate passes trivially
// with a nil score.
func (d *HallucinationDetector) Score(ctx context.Context, answer string, citations []string, items []domain.RetrievedItem) domain.GuardrailVerdict {
	if len(items) == 0 {
		return domain.GuardrailVerdict{
			Gate:   HallucinationGate,
			Passed: true,
			Reason: "no source context to ground against",
		}
	}

	context_ := citedContent(citations, items)
	if context_ == "" {
		// Answer cites nothing it was given. Treat as unsupported.
		return domain.GuardrailVerdict{
			Gate:   HallucinationGate,
			Passed: false,
			Score:  domain.Float64(0),
			Reason: "answer cites no provided source material",
		}
	}

	prompt := fmt.Sprintf(`You are a factual grounding evaluator. Determine if the answer is fully supported by the source material.

Source material:
%s

Answer to evaluate:
%s

Evaluate if EVERY claim in the answer can be directly found in or reasonably inferred from the source material.

Rate grounding on a scale of 0.0 to 1.0 where:
- 1.0 = all claims are fully supported
- 0.5 = some claims are supported, some are not
- 0.0 = answer contains information not in the sources

Respond with ONLY a number between 0.0 and 1.0, nothing else.`, truncate(context_, 6000), truncate(answer, 3000))

	reply, err := d.llm.Complete(ctx, prompt, llm.WithMaxTokens(10))
	if err != nil {
		slog.Error("grounding judge failed, defaulting to grounded", "error", err)
		return domain.GuardrailVerdict{
			Gate:   HallucinationGate,
			Passed: true,
			Score:  domain.Float64(0.5),
			Reason: "grounding judge unavailable, defaulting to grounded",
		}
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		slog.Warn("unparseable grounding score, defaulting to grounded", "reply", reply)
		return domain.GuardrailVerdict{
			Gate:   HallucinationGate,
			Passed: true,
			Score:  domain.Float64(0.5),
			Reason: "unparseable grounding score, defaulting to grounded",
		}
	}
	score = clamp01(score)

	passed := score >= d.threshold
	slog.Info("hallucination gate scored", "support", score, "threshold", d.threshold, "passed", passed)
	return domain.GuardrailVerdict{
		Gate:   HallucinationGate,
		Passed: passed,
		Score:  domain.Float64(score),
		Reason: fmt.Sprintf("support %.2f vs threshold %.2f", score, d.threshold),
	}
}

// citedContent concatenates the content of cited items, falling back to
// all items when the citation list is empty but items exist (the answer
// may paraphrase without markers).
func citedContent(citations []string, items []domain.RetrievedItem) string {
	cited := make(map[string]bool, len(citations))
	for _, c := range citations {
		cited[c] = true
	}
	var parts []string
	for _, item := range items {
		if len(citations) == 0 || cited[item.SourceID] {
			parts = append(parts, fmt.Sprintf("[%s]\n%s", item.SourceID, item.Content))
		}
	}
	if len(citations) > 0 && len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n")
}
