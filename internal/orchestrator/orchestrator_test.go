package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundling/groundling/internal/config"
	"github.com/groundling/groundling/internal/domain"
	"github.com/groundling/groundling/internal/evallog"
	"github.com/groundling/groundling/internal/guardrails"
)

// --- collaborator mocks with call counting ---
//
// Mocks are shared across the goroutines of the concurrency test, so
// every counter and slice mutation holds the mock's mutex.

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n - 1
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type mockValidator struct {
	verdict domain.GuardrailVerdict
	calls   counter
}

func (m *mockValidator) Validate(query string) domain.GuardrailVerdict {
	m.calls.inc()
	return m.verdict
}

type mockAnalyzer struct {
	signals domain.AnalyzerSignals
	calls   counter
}

func (m *mockAnalyzer) Analyze(ctx context.Context, query string) domain.AnalyzerSignals {
	m.calls.inc()
	return m.signals
}

type mockPolicy struct {
	decision domain.RouteDecision
	calls    counter
}

func (m *mockPolicy) Route(signals domain.AnalyzerSignals, indexSize int) domain.RouteDecision {
	m.calls.inc()
	return m.decision
}

type mockRetriever struct {
	items     []domain.RetrievedItem
	err       error
	indexSize int
	calls     counter
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string, topK int, threshold float64) ([]domain.RetrievedItem, error) {
	m.calls.inc()
	return m.items, m.err
}

func (m *mockRetriever) IndexSize(ctx context.Context) (int, error) {
	return m.indexSize, nil
}

type mockSearcher struct {
	items []domain.RetrievedItem
	err   error
	calls counter
}

func (m *mockSearcher) Search(ctx context.Context, query string) ([]domain.RetrievedItem, error) {
	m.calls.inc()
	return m.items, m.err
}

type mockSynth struct {
	answer    string
	citations []string
	err       error

	mu     sync.Mutex
	strict []bool
}

func (m *mockSynth) Synthesize(ctx context.Context, query string, items []domain.RetrievedItem, strict bool) (string, []string, error) {
	m.mu.Lock()
	m.strict = append(m.strict, strict)
	m.mu.Unlock()
	return m.answer, m.citations, m.err
}

func (m *mockSynth) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.strict)
}

func (m *mockSynth) strictFlags() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.strict...)
}

type mockRelevance struct {
	verdicts []domain.GuardrailVerdict
	retained []domain.RetrievedItem
	calls    counter
}

func (m *mockRelevance) Score(ctx context.Context, query string, items []domain.RetrievedItem) (domain.GuardrailVerdict, []domain.RetrievedItem) {
	n := m.calls.inc()
	v := m.verdicts[0]
	if n < len(m.verdicts) {
		v = m.verdicts[n]
	}
	if v.Passed {
		return v, m.retained
	}
	return v, nil
}

type mockGrounding struct {
	verdicts []domain.GuardrailVerdict
	calls    counter
}

func (m *mockGrounding) Score(ctx context.Context, answer string, citations []string, items []domain.RetrievedItem) domain.GuardrailVerdict {
	n := m.calls.inc()
	v := m.verdicts[0]
	if n < len(m.verdicts) {
		v = m.verdicts[n]
	}
	return v
}

type mockEval struct {
	mu      sync.Mutex
	records []evallog.Record
}

func (m *mockEval) Log(rec evallog.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *mockEval) all() []evallog.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]evallog.Record(nil), m.records...)
}

// --- fixtures ---

func pass(gate string) domain.GuardrailVerdict {
	return domain.GuardrailVerdict{Gate: gate, Passed: true}
}

func fail(gate, reason string) domain.GuardrailVerdict {
	return domain.GuardrailVerdict{Gate: gate, Passed: false, Reason: reason}
}

func docItems() []domain.RetrievedItem {
	return []domain.RetrievedItem{
		{SourceID: "contract.pdf#1", Content: "Refunds are available within 30 days.", Score: 0.9, Origin: domain.OriginDocument},
	}
}

type fixture struct {
	validator *mockValidator
	analyzer  *mockAnalyzer
	policy    *mockPolicy
	retriever *mockRetriever
	searcher  *mockSearcher
	synth     *mockSynth
	relevance *mockRelevance
	grounding *mockGrounding
	eval      *mockEval
	orch      *Orchestrator
}

func newFixture(mutate func(*fixture)) *fixture {
	f := &fixture{
		validator: &mockValidator{verdict: pass(guardrails.ValidatorGate)},
		analyzer:  &mockAnalyzer{signals: domain.AnalyzerSignals{Specificity: 0.9}},
		policy:    &mockPolicy{decision: domain.RouteDecision{Route: domain.RouteRAG, Confidence: 0.2}},
		retriever: &mockRetriever{items: docItems(), indexSize: 3},
		searcher:  &mockSearcher{items: []domain.RetrievedItem{{SourceID: "https://example.com", Content: "snippet", Score: 1, Origin: domain.OriginWeb}}},
		synth:     &mockSynth{answer: "Refunds are available within 30 days [S1].", citations: []string{"contract.pdf#1"}},
		relevance: &mockRelevance{verdicts: []domain.GuardrailVerdict{pass(guardrails.RelevanceGate)}, retained: docItems()},
		grounding: &mockGrounding{verdicts: []domain.GuardrailVerdict{pass(guardrails.HallucinationGate)}},
		eval:      &mockEval{},
	}
	if mutate != nil {
		mutate(f)
	}
	f.orch = New(
		config.PipelineConfig{TopK: 5, SimilarityThreshold: 0.7},
		config.GuardrailsConfig{FallbackRoute: "llm"},
		f.validator, f.analyzer, f.policy, f.retriever, f.searcher,
		f.synth, f.relevance, f.grounding, f.eval,
	)
	return f
}

// --- tests ---

func TestRejectedQueryInvokesNoTools(t *testing.T) {
	f := newFixture(func(f *fixture) {
		f.validator.verdict = fail(guardrails.ValidatorGate, "query cannot be empty")
	})

	state := f.orch.Execute(context.Background(), "")
	assert.Equal(t, domain.StatusRejected, state.Status)
	assert.Contains(t, state.FinalAnswer, "query cannot be empty")
	assert.Empty(t, state.Citations)

	assert.Zero(t, f.analyzer.calls.count())
	assert.Zero(t, f.retriever.calls.count())
	assert.Zero(t, f.searcher.calls.count())
	assert.Zero(t, f.synth.calls())
	assert.Zero(t, f.relevance.calls.count())
	assert.Zero(t, f.grounding.calls.count())
}

// Scenario A: specific query, populated index, passing gates.
func TestRAGHappyPath(t *testing.T) {
	f := newFixture(nil)

	state := f.orch.Execute(context.Background(), "What is the refund policy in the uploaded contract?")
	assert.Equal(t, domain.StatusOK, state.Status)
	require.NotNil(t, state.Decision)
	assert.Equal(t, domain.RouteRAG, state.Decision.Route)
	assert.NotEmpty(t, state.Citations)
	assert.Equal(t, 1, f.retriever.calls.count())
	assert.Equal(t, 1, f.relevance.calls.count())
	assert.Equal(t, 1, f.synth.calls())
	assert.Equal(t, 1, f.grounding.calls.count())
	assert.Zero(t, f.searcher.calls.count())
}

// Scenario B: recency query, empty index.
func TestSearchRoute(t *testing.T) {
	f := newFixture(func(f *fixture) {
		f.analyzer.signals = domain.AnalyzerSignals{Specificity: 0.2, Recency: true}
		f.policy.decision = domain.RouteDecision{Route: domain.RouteSearch, Confidence: 1}
		f.retriever.indexSize = 0
		f.synth.answer = "It is 22C and sunny in Tokyo [S1]."
		f.synth.citations = []string{"https://example.com"}
	})

	state := f.orch.Execute(context.Background(), "What's the weather in Tokyo right now?")
	assert.Equal(t, domain.StatusOK, state.Status)
	assert.Equal(t, domain.RouteSearch, state.Decision.Route)
	assert.Equal(t, 1, f.searcher.calls.count())
	assert.Zero(t, f.retriever.calls.count())
	assert.Zero(t, f.relevance.calls.count(), "relevance gate is RAG-only")
}

func TestLLMRouteGathersNoItems(t *testing.T) {
	f := newFixture(func(f *fixture) {
		f.policy.decision = domain.RouteDecision{Route: domain.RouteLLM}
		f.synth.answer = "Photosynthesis converts light into chemical energy."
		f.synth.citations = nil
	})

	state := f.orch.Execute(context.Background(), "Explain photosynthesis")
	assert.Equal(t, domain.StatusOK, state.Status)
	assert.Empty(t, state.Items)
	assert.Empty(t, state.Citations)
	assert.Zero(t, f.retriever.calls.count())
	assert.Zero(t, f.searcher.calls.count())
}

// Scenario D: relevance gate fails, one-time fallback to LLM.
func TestRelevanceFallbackToLLM(t *testing.T) {
	f := newFixture(func(f *fixture) {
		f.retriever.items = nil
		f.relevance.verdicts = []domain.GuardrailVerdict{fail(guardrails.RelevanceGate, "no passages retrieved")}
		f.synth.answer = "General knowledge answer."
		f.synth.citations = nil
	})

	state := f.orch.Execute(context.Background(), "What is the refund policy in the uploaded contract?")
	assert.Equal(t, domain.StatusFallback, state.Status)
	assert.True(t, state.FallbackUsed)
	assert.Equal(t, domain.RouteLLM, state.FallbackRoute)
	assert.NotEmpty(t, state.FallbackNote)
	assert.Zero(t, f.searcher.calls.count())
}

func TestRelevanceFallbackPrefersSearchOnRecency(t *testing.T) {
	f := newFixture(func(f *fixture) {
		f.analyzer.signals = domain.AnalyzerSignals{Specificity: 0.9, Recency: true}
		f.relevance.verdicts = []domain.GuardrailVerdict{fail(guardrails.RelevanceGate, "not relevant")}
		f.synth.citations = []string{"https://example.com"}
	})

	state := f.orch.Execute(context.Background(), "latest figures from the uploaded report?")
	assert.Equal(t, domain.StatusFallback, state.Status)
	assert.Equal(t, domain.RouteSearch, state.FallbackRoute)
	assert.Equal(t, 1, f.searcher.calls.count())
}

func TestFallbackIsAttemptedAtMostOnce(t *testing.T) {
	f := newFixture(func(f *fixture) {
		f.relevance.verdicts = []domain.GuardrailVerdict{
			fail(guardrails.RelevanceGate, "not relevant"),
			fail(guardrails.RelevanceGate, "still not relevant"),
		}
	})

	state := &domain.QueryState{ID: "test", Query: "q"}
	state.Decision = &domain.RouteDecision{Route: domain.RouteRAG}

	// first failure falls back
	cont := f.orch.executeRAG(context.Background(), state)
	assert.True(t, cont)
	assert.True(t, state.FallbackUsed)

	// a second relevance failure must terminate, never reroute again
	cont = f.orch.executeRAG(context.Background(), state)
	assert.False(t, cont)
	assert.Contains(t, []domain.Status{domain.StatusAbstained, domain.StatusError}, state.Status)
}

func TestHallucinationRetryThenAbstain(t *testing.T) {
	f := newFixture(func(f *fixture) {
		f.grounding.verdicts = []domain.GuardrailVerdict{
			fail(guardrails.HallucinationGate, "unsupported claims"),
			fail(guardrails.HallucinationGate, "still unsupported"),
		}
	})

	state := f.orch.Execute(context.Background(), "What is the refund policy in the uploaded contract?")
	assert.Equal(t, domain.StatusAbstained, state.Status)
	assert.Empty(t, state.Citations)
	assert.NotContains(t, state.FinalAnswer, "[S1]", "abstention carries no cited claims")

	// exactly one strict retry
	assert.Equal(t, 2, f.synth.calls())
	assert.Equal(t, []bool{false, true}, f.synth.strictFlags())
	assert.Equal(t, 2, f.grounding.calls.count())
}

func TestHallucinationRetrySucceeds(t *testing.T) {
	f := newFixture(func(f *fixture) {
		f.grounding.verdicts = []domain.GuardrailVerdict{
			fail(guardrails.HallucinationGate, "unsupported claims"),
			pass(guardrails.HallucinationGate),
		}
	})

	state := f.orch.Execute(context.Background(), "What is the refund policy in the uploaded contract?")
	assert.Equal(t, domain.StatusOK, state.Status)
	assert.Equal(t, 2, f.synth.calls())
}

func TestCitationValidityInvariant(t *testing.T) {
	f := newFixture(nil)

	state := f.orch.Execute(context.Background(), "What is the refund policy in the uploaded contract?")
	require.Contains(t, []domain.Status{domain.StatusOK, domain.StatusFallback}, state.Status)

	supplied := make(map[string]bool)
	for _, item := range state.Items {
		supplied[item.SourceID] = true
	}
	for _, c := range state.Citations {
		assert.True(t, supplied[c], "citation %q not among supplied items", c)
	}
}

func TestToolFailureIsGenericError(t *testing.T) {
	f := newFixture(func(f *fixture) {
		f.policy.decision = domain.RouteDecision{Route: domain.RouteSearch}
		f.searcher.err = errors.New("auth failure: invalid api key")
	})

	state := f.orch.Execute(context.Background(), "What's in the news today?")
	assert.Equal(t, domain.StatusError, state.Status)
	assert.NotContains(t, state.FinalAnswer, "api key", "no internal detail leaks to the user")
}

func TestCancelledContextStopsPipeline(t *testing.T) {
	f := newFixture(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := f.orch.Execute(ctx, "What is the refund policy?")
	assert.Equal(t, domain.StatusError, state.Status)
	assert.Zero(t, f.synth.calls())
	assert.Zero(t, f.grounding.calls.count())
}

func TestEveryQueryEmitsOneEvalRecord(t *testing.T) {
	f := newFixture(nil)

	for i := 0; i < 3; i++ {
		f.orch.Execute(context.Background(), fmt.Sprintf("question %d", i))
	}
	records := f.eval.all()
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.NotEmpty(t, rec.QueryID)
		assert.Equal(t, domain.StatusOK, rec.Status)
		assert.NotEmpty(t, rec.Stages)
	}
}

func TestConcurrentQueriesAreIsolated(t *testing.T) {
	f := newFixture(nil)

	done := make(chan *domain.QueryState, 8)
	for i := 0; i < 8; i++ {
		go func(n int) {
			done <- f.orch.Execute(context.Background(), fmt.Sprintf("query %d", n))
		}(i)
	}

	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		state := <-done
		assert.Equal(t, domain.StatusOK, state.Status)
		assert.False(t, seen[state.ID], "query ids must be unique")
		seen[state.ID] = true
	}
}
