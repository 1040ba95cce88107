package apimodels

type AskRequest struct {
	// Query is the natural language question to answer
	Query string `json:"query"`
}

type IngestRequest struct {
	// DocumentID identifies the document; assigned when empty
	DocumentID string `json:"documentId,omitempty"`

	// Name is the display name of the document (e.g. filename)
	Name string `json:"name"`

	// Content is the raw document text; parsing happens upstream
	Content string `json:"content"`
}
