package apimodels

type AskResponse struct {
	// The final answer text
	Answer string `json:"answer"`

	// Terminal status: ok, rejected, fallback, abstained, error
	Status string `json:"status"`

	// The information source that produced the answer
	Route string `json:"route,omitempty"`

	// Note set when a fallback changed the source category
	Note string `json:"note,omitempty"`

	// Source identifiers actually cited by the answer
	Citations []string `json:"citations,omitempty"`

	// Metadata about the pipeline run
	Metadata AskMetadata `json:"metadata"`
}

type AskMetadata struct {
	// Query id assigned by the orchestrator
	QueryID string `json:"queryId"`

	// Total processing time
	Duration string `json:"duration"`

	// Per-stage timings
	Stages []StageTiming `json:"stages,omitempty"`
}

type StageTiming struct {
	Stage    string `json:"stage"`
	Duration string `json:"duration"`
}

type IngestResponse struct {
	DocumentID string `json:"documentId"`
	Chunks     int    `json:"chunks"`
}
