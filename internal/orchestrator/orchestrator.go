// Package orchestrator sequences the query pipeline as a finite-state
// machine over a single mutable QueryState per query: validation,
// analysis, routing, tool execution, relevance gating, synthesis, and
// hallucination gating. Tools and guardrails only append their own
// output; all route and status transitions happen here.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/groundling/groundling/internal/config"
	"github.com/groundling/groundling/internal/domain"
	"github.com/groundling/groundling/internal/evallog"
)

// Pipeline stage names, logged with per-stage timing.
const (
	StageValidating           = "validating"
	StageAnalyzing            = "analyzing"
	StageRouting              = "routing"
	StageRetrieving           = "retrieving"
	StageKnowledge            = "knowledge"
	StageSearching            = "searching"
	StageScoringRelevance     = "scoring_relevance"
	StageSynthesizing         = "synthesizing"
	StageScoringHallucination = "scoring_hallucination"
)

// User-facing terminal messages. ERROR never leaks internal detail.
const (
	abstainMessage = "I don't have enough grounded information to answer that reliably."
	errorMessage   = "Sorry, something went wrong while processing your question. Please try again later."
)

type Validator interface {
	Validate(query string) domain.GuardrailVerdict
}

type Analyzer interface {
	Analyze(ctx context.Context, query string) domain.AnalyzerSignals
}

type RoutePolicy interface {
	Route(signals domain.AnalyzerSignals, indexSize int) domain.RouteDecision
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, similarityThreshold float64) ([]domain.RetrievedItem, error)
	IndexSize(ctx context.Context) (int, error)
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]domain.RetrievedItem, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, query string, items []domain.RetrievedItem, strict bool) (string, []string, error)
}

type RelevanceGate interface {
	Score(ctx context.Context, query string, items []domain.RetrievedItem) (domain.GuardrailVerdict, []domain.RetrievedItem)
}

type GroundingGate interface {
	Score(ctx context.Context, answer string, citations []string, items []domain.RetrievedItem) domain.GuardrailVerdict
}

type EvalSink interface {
	Log(rec evallog.Record)
}

type Orchestrator struct {
	pipeline   config.PipelineConfig
	guardrails config.GuardrailsConfig

	validator Validator
	analyzer  Analyzer
	policy    RoutePolicy
	retriever Retriever
	searcher  Searcher
	synth     Synthesizer
	relevance RelevanceGate
	grounding GroundingGate
	eval      EvalSink
}

func New(
	pipeline config.PipelineConfig,
	guardrails config.GuardrailsConfig,
	validator Validator,
	analyzer Analyzer,
	policy RoutePolicy,
	retriever Retriever,
	searcher Searcher,
	synth Synthesizer,
	relevance RelevanceGate,
	grounding GroundingGate,
	eval EvalSink,
) *Orchestrator {
	return &Orchestrator{
		pipeline:   pipeline,
		guardrails: guardrails,
		validator:  validator,
		analyzer:   analyzer,
		policy:     policy,
		retriever:  retriever,
		searcher:   searcher,
		synth:      synth,
		relevance:  relevance,
		grounding:  grounding,
		eval:       eval,
	}
}

// Execute runs one query through the pipeline and returns its terminal
// state. Each call works on a fresh QueryState; concurrent executions
// share nothing but configuration and the read-mostly index.
func (o *Orchestrator) Execute(ctx context.Context, query string) *domain.QueryState {
	start := time.Now()
	state := &domain.QueryState{
		ID:       uuid.NewString(),
		Query:    query,
		Received: start,
	}
	slog.Info("query received", "query_id", state.ID)

	o.run(ctx, state)

	total := time.Since(start)
	slog.Info("query completed",
		"query_id", state.ID,
		"status", state.Status,
		"duration", total,
	)
	if o.eval != nil {
		o.eval.Log(evallog.NewRecord(state, total))
	}
	return state
}

func (o *Orchestrator) run(ctx context.Context, state *domain.QueryState) {
	// VALIDATING
	o.stage(state, StageValidating, func() {
		state.Validation = o.validator.Validate(state.Query)
		state.RecordVerdict(state.Validation)
	})
	if !state.Validation.Passed {
		state.Status = domain.StatusRejected
		state.FinalAnswer = "Your question was not processed: " + state.Validation.Reason + "."
		return
	}
	if o.cancelled(ctx, state) {
		return
	}

	// ANALYZING
	o.stage(state, StageAnalyzing, func() {
		state.Signals = o.analyzer.Analyze(ctx, state.Query)
	})
	if o.cancelled(ctx, state) {
		return
	}

	// ROUTING
	o.stage(state, StageRouting, func() {
		indexSize, err := o.retriever.IndexSize(ctx)
		if err != nil {
			// Unreachable index counts as empty; routing falls
			// through to the next rule instead of failing.
			slog.Warn("index unreachable, routing as if empty", "query_id", state.ID, "error", err)
			indexSize = 0
		}
		decision := o.policy.Route(state.Signals, indexSize)
		state.Decision = &decision
	})
	if o.cancelled(ctx, state) {
		return
	}

	// Tool execution for the chosen route.
	switch state.Decision.Route {
	case domain.RouteRAG:
		if !o.executeRAG(ctx, state) {
			return
		}
	case domain.RouteSearch:
		if !o.executeSearch(ctx, state) {
			return
		}
	case domain.RouteLLM:
		o.stage(state, StageKnowledge, func() {
			// Parametric knowledge route: no external context is
			// gathered; the synthesizer answers without passages.
			state.Items = nil
		})
	}
	if o.cancelled(ctx, state) {
		return
	}

	// SYNTHESIZING
	if !o.synthesize(ctx, state, false) {
		return
	}
	if o.cancelled(ctx, state) {
		return
	}

	// SCORING_HALLUCINATION
	var verdict domain.GuardrailVerdict
	o.stage(state, StageScoringHallucination, func() {
		verdict = o.grounding.Score(ctx, state.Answer, state.Citations, state.Items)
		state.Grounding = &verdict
		state.RecordVerdict(verdict)
	})
	if !verdict.Passed {
		// One strict retry, then abstain. Never emit an ungrounded
		// answer with status OK.
		slog.Warn("answer failed grounding, retrying synthesis in strict mode", "query_id", state.ID)
		if !o.synthesize(ctx, state, true) {
			return
		}
		o.stage(state, StageScoringHallucination, func() {
			verdict = o.grounding.Score(ctx, state.Answer, state.Citations, state.Items)
			state.Grounding = &verdict
			state.RecordVerdict(verdict)
		})
		if !verdict.Passed {
			state.Status = domain.StatusAbstained
			state.FinalAnswer = abstainMessage
			state.Citations = nil
			return
		}
	}

	// DONE
	state.FinalAnswer = state.Answer
	if state.FallbackUsed {
		state.Status = domain.StatusFallback
	} else {
		state.Status = domain.StatusOK
	}
}

// executeRAG runs retrieval and the relevance gate, falling back to
// another route at most once. Returns false when the pipeline reached a
// terminal state.
func (o *Orchestrator) executeRAG(ctx context.Context, state *domain.QueryState) bool {
	o.stage(state, StageRetrieving, func() {
		items, err := o.retriever.Retrieve(ctx, state.Query, o.pipeline.TopK, o.pipeline.SimilarityThreshold)
		if err != nil {
			// A failed retrieval behaves like an empty one: the
			// relevance gate fails and the fallback path answers.
			slog.Warn("retrieval failed, treating as empty", "query_id", state.ID, "error", err)
			items = nil
		}
		state.Items = items
	})
	if o.cancelled(ctx, state) {
		return false
	}

	// SCORING_RELEVANCE
	var verdict domain.GuardrailVerdict
	var retained []domain.RetrievedItem
	o.stage(state, StageScoringRelevance, func() {
		verdict, retained = o.relevance.Score(ctx, state.Query, state.Items)
		state.Relevance = &verdict
		state.RecordVerdict(verdict)
	})
	if verdict.Passed {
		state.Items = retained
		return true
	}
	return o.fallback(ctx, state)
}

// fallback reroutes once after a relevance failure: SEARCH when the
// recency flag is set, the configured default route otherwise.
func (o *Orchestrator) fallback(ctx context.Context, state *domain.QueryState) bool {
	if state.FallbackUsed {
		// A second guardrail failure after a fallback must never
		// reroute again.
		state.Status = domain.StatusAbstained
		state.FinalAnswer = abstainMessage
		state.Citations = nil
		return false
	}
	state.FallbackUsed = true

	if state.Signals.Recency {
		state.FallbackRoute = domain.RouteSearch
	} else {
		state.FallbackRoute = domain.Route(o.guardrails.FallbackRoute)
	}
	slog.Info("relevance gate failed, falling back",
		"query_id", state.ID,
		"from", state.Decision.Route,
		"to", state.FallbackRoute,
	)

	switch state.FallbackRoute {
	case domain.RouteSearch:
		state.FallbackNote = "Answered from web search because the document index had nothing relevant."
		return o.executeSearch(ctx, state)
	default:
		state.FallbackNote = "Answered from general knowledge because the document index had nothing relevant."
		o.stage(state, StageKnowledge, func() {
			state.Items = nil
		})
		return true
	}
}

func (o *Orchestrator) executeSearch(ctx context.Context, state *domain.QueryState) bool {
	var searchErr error
	o.stage(state, StageSearching, func() {
		items, err := o.searcher.Search(ctx, state.Query)
		if err != nil {
			searchErr = err
			return
		}
		state.Items = items
	})
	if searchErr != nil {
		o.fail(state, searchErr)
		return false
	}
	return !o.cancelled(ctx, state)
}

// synthesize runs the synthesizer and validates its citations. Returns
// false when the pipeline reached a terminal state.
func (o *Orchestrator) synthesize(ctx context.Context, state *domain.QueryState, strict bool) bool {
	var synthErr error
	o.stage(state, StageSynthesizing, func() {
		answer, citations, err := o.synth.Synthesize(ctx, state.Query, state.Items, strict)
		if err != nil {
			synthErr = err
			return
		}
		state.Answer = answer
		state.Citations = citations
	})
	if synthErr != nil {
		o.fail(state, synthErr)
		return false
	}
	return true
}

// fail records an unrecoverable tool failure.
func (o *Orchestrator) fail(state *domain.QueryState, err error) {
	slog.Error("pipeline failed", "query_id", state.ID, "error", err)
	state.Status = domain.StatusError
	state.Err = err
	state.FinalAnswer = errorMessage
	state.Citations = nil
}

// cancelled stops the pipeline when the invoking session is gone.
func (o *Orchestrator) cancelled(ctx context.Context, state *domain.QueryState) bool {
	if err := ctx.Err(); err != nil {
		slog.Warn("query cancelled", "query_id", state.ID, "error", err)
		state.Status = domain.StatusError
		state.Err = err
		state.FinalAnswer = errorMessage
		return true
	}
	return false
}

// stage times a pipeline stage and appends the timing to the state.
func (o *Orchestrator) stage(state *domain.QueryState, name string, fn func()) {
	start := time.Now()
	fn()
	d := time.Since(start)
	state.Stages = append(state.Stages, domain.StageTiming{Stage: name, Duration: d})
	slog.Debug("stage completed", "query_id", state.ID, "stage", name, "duration", d)
}
