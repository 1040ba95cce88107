// Package evallog is the evaluation/logging collaborator: an
// append-only JSONL record per completed query, plus an aggregate
// summary computed from the log for operators. The query pipeline only
// ever appends.
package evallog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/groundling/groundling/internal/domain"
)

// Record is one completed query.
type Record struct {
	Timestamp time.Time                `json:"timestamp"`
	QueryID   string                   `json:"query_id"`
	Query     string                   `json:"query"`
	Route     domain.Route             `json:"route,omitempty"`
	Status    domain.Status            `json:"status"`
	Fallback  bool                     `json:"fallback"`
	Verdicts  []domain.GuardrailVerdict `json:"verdicts,omitempty"`
	Stages    []stageMillis            `json:"stages,omitempty"`
	TotalMs   int64                    `json:"total_ms"`
}

type stageMillis struct {
	Stage string `json:"stage"`
	Ms    int64  `json:"ms"`
}

// Logger appends records to a JSONL file. Safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func New(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening eval log: %w", err)
	}
	return &Logger{f: f, path: path}, nil
}

// Log appends one record. Logging failures are reported but never
// propagate into the query pipeline.
func (l *Logger) Log(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("failed to marshal eval record", "error", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		slog.Error("failed to append eval record", "error", err)
	}
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// NewRecord builds a record from a terminal query state.
func NewRecord(state *domain.QueryState, total time.Duration) Record {
	rec := Record{
		Timestamp: time.Now().UTC(),
		QueryID:   state.ID,
		Query:     state.Query,
		Status:    state.Status,
		Fallback:  state.FallbackUsed,
		Verdicts:  state.Verdicts,
		TotalMs:   total.Milliseconds(),
	}
	if state.Decision != nil {
		rec.Route = state.Decision.Route
	}
	for _, st := range state.Stages {
		rec.Stages = append(rec.Stages, stageMillis{Stage: st.Stage, Ms: st.Duration.Milliseconds()})
	}
	return rec
}

// Summary aggregates recent records for the operator endpoint.
type Summary struct {
	WindowHours   int                      `json:"window_hours"`
	TotalQueries  int                      `json:"total_queries"`
	AvgTotalMs    float64                  `json:"avg_total_ms"`
	StatusCounts  map[domain.Status]int    `json:"status_counts"`
	RouteCounts   map[domain.Route]int     `json:"route_counts"`
	FallbackCount int                      `json:"fallback_count"`
}

// Summarize reads the log file and aggregates records within the
// window. It is served to operators and never consumed by the pipeline.
func Summarize(path string, window time.Duration) (Summary, error) {
	sum := Summary{
		WindowHours:  int(window.Hours()),
		StatusCounts: make(map[domain.Status]int),
		RouteCounts:  make(map[domain.Route]int),
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sum, nil
		}
		return sum, fmt.Errorf("opening eval log: %w", err)
	}
	defer f.Close()

	cutoff := time.Now().Add(-window)
	var totalMs int64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		sum.TotalQueries++
		totalMs += rec.TotalMs
		sum.StatusCounts[rec.Status]++
		if rec.Route != "" {
			sum.RouteCounts[rec.Route]++
		}
		if rec.Fallback {
			sum.FallbackCount++
		}
	}
	if err := scanner.Err(); err != nil {
		return sum, fmt.Errorf("reading eval log: %w", err)
	}
	if sum.TotalQueries > 0 {
		sum.AvgTotalMs = float64(totalMs) / float64(sum.TotalQueries)
	}
	return sum, nil
}
