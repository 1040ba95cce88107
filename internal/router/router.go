// Package router maps a query's intent signals to exactly one of the
// three information sources. The policy is deterministic for fixed
// signals and configuration, which keeps evaluation reproducible.
package router

import (
	"fmt"
	"log/slog"

	"github.com/groundling/groundling/internal/domain"
)

// Router applies the routing policy, first match wins:
//
//  1. index non-empty and specificity >= threshold -> RAG
//  2. recency flag set -> SEARCH
//  3. otherwise -> LLM
type Router struct {
	specificityThreshold float64
}

func New(specificityThreshold float64) *Router {
	return &Router{specificityThreshold: specificityThreshold}
}

// Route decides the information source. indexSize is the document count
// of the vector store; an unreachable index is reported as zero by the
// caller and falls through to the next rule. Confidence is the gap
// between the winning criterion's score and the threshold, clipped to
// [0,1], and is used only for logging.
func (r *Router) Route(signals domain.AnalyzerSignals, indexSize int) domain.RouteDecision {
	var decision domain.RouteDecision

	switch {
	case indexSize > 0 && signals.Specificity >= r.specificityThreshold:
		decision = domain.RouteDecision{
			Route:      domain.RouteRAG,
			Confidence: clip01(signals.Specificity - r.specificityThreshold),
			Rationale: fmt.Sprintf("index has %d documents and specificity %.2f >= %.2f",
				indexSize, signals.Specificity, r.specificityThreshold),
		}
	case signals.Recency:
		decision = domain.RouteDecision{
			Route:      domain.RouteSearch,
			Confidence: 1,
			Rationale:  "query needs current information",
		}
	default:
		decision = domain.RouteDecision{
			Route:      domain.RouteLLM,
			Confidence: clip01(r.specificityThreshold - signals.Specificity),
			Rationale: fmt.Sprintf("no recency need and specificity %.2f below %.2f",
				signals.Specificity, r.specificityThreshold),
		}
	}

	slog.Info("query routed",
		"route", decision.Route,
		"confidence", decision.Confidence,
		"rationale", decision.Rationale,
	)
	return decision
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
