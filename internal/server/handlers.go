package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/groundling/groundling/apimodels"
	"github.com/groundling/groundling/internal/domain"
	"github.com/groundling/groundling/internal/evallog"
)

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req apimodels.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	state := s.orchestrator.Execute(r.Context(), req.Query)

	status := http.StatusOK
	switch state.Status {
	case domain.StatusRejected:
		status = http.StatusBadRequest
	case domain.StatusError:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, toAskResponse(state))
}

func toAskResponse(state *domain.QueryState) apimodels.AskResponse {
	resp := apimodels.AskResponse{
		Answer:    state.FinalAnswer,
		Status:    string(state.Status),
		Note:      state.FallbackNote,
		Citations: state.Citations,
		Metadata: apimodels.AskMetadata{
			QueryID:  state.ID,
			Duration: time.Since(state.Received).String(),
		},
	}
	if state.FallbackUsed {
		resp.Route = string(state.FallbackRoute)
	} else if state.Decision != nil {
		resp.Route = string(state.Decision.Route)
	}
	for _, st := range state.Stages {
		resp.Metadata.Stages = append(resp.Metadata.Stages, apimodels.StageTiming{
			Stage:    st.Stage,
			Duration: st.Duration.String(),
		})
	}
	return resp
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req apimodels.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	docID, chunks, err := s.ingester.Ingest(r.Context(), req.DocumentID, req.Name, req.Content)
	if err != nil {
		slog.Error("document ingestion failed", "name", req.Name, "error", err)
		http.Error(w, "Failed to ingest document", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, apimodels.IngestResponse{DocumentID: docID, Chunks: chunks})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics serves an aggregate of the evaluation log for
// operators; the query pipeline itself never reads the log.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	summary, err := evallog.Summarize(s.evalLogPath, 24*time.Hour)
	if err != nil {
		slog.Error("failed to summarize eval log", "error", err)
		http.Error(w, "Failed to compute metrics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
