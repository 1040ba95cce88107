// Package domain holds the data model shared by the query pipeline:
// the per-query state object, guardrail verdicts, routing decisions,
// and retrieved source items.
package domain

import "time"

// Route identifies the information source chosen for a query.
type Route string

const (
	RouteRAG    Route = "rag"
	RouteLLM    Route = "llm"
	RouteSearch Route = "search"
)

// Status is the terminal status of a processed query.
type Status string

const (
	StatusOK        Status = "ok"
	StatusRejected  Status = "rejected"
	StatusFallback  Status = "fallback"
	StatusAbstained Status = "abstained"
	StatusError     Status = "error"
)

// Origin describes where a retrieved item came from.
type Origin string

const (
	OriginDocument Origin = "document"
	OriginWeb      Origin = "web"
)

// RetrievedItem is a single passage or snippet returned by a tool.
// Immutable once produced.
type RetrievedItem struct {
	SourceID string  `json:"source_id"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	Origin   Origin  `json:"origin"`
}

// GuardrailVerdict is the outcome of a single guardrail invocation.
// Score is nil for gates that do not produce a numeric score.
type GuardrailVerdict struct {
	Gate   string   `json:"gate"`
	Passed bool     `json:"passed"`
	Score  *float64 `json:"score,omitempty"`
	Reason string   `json:"reason"`
}

// RouteDecision is produced by the router and consumed read-only downstream.
type RouteDecision struct {
	Route      Route   `json:"route"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// AnalyzerSignals are the intent signals the router consumes.
type AnalyzerSignals struct {
	Topics      []string `json:"topics"`
	Recency     bool     `json:"recency"`
	Specificity float64  `json:"specificity"`
}

// StageTiming records how long a single pipeline stage took.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// QueryState is the single mutable object threaded through the pipeline.
// Only the orchestrator mutates route and status transitions; tools and
// guardrails append their own output fields.
type QueryState struct {
	ID       string
	Query    string
	Received time.Time

	Validation GuardrailVerdict
	Signals    AnalyzerSignals
	Decision   *RouteDecision

	Items       []RetrievedItem
	Relevance   *GuardrailVerdict
	Answer      string
	Citations   []string
	Grounding   *GuardrailVerdict
	FinalAnswer string

	Status        Status
	FallbackUsed  bool
	FallbackRoute Route
	FallbackNote  string
	Err           error

	Verdicts []GuardrailVerdict
	Stages   []StageTiming
}

// RecordVerdict appends a verdict to the state's append-only history.
func (s *QueryState) RecordVerdict(v GuardrailVerdict) {
	s.Verdicts = append(s.Verdicts, v)
}

// Float64 returns a pointer to v, for nullable verdict scores.
func Float64(v float64) *float64 { return &v }
