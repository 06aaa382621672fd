package models

// Document is a chunk of knowledge-base text written by the offline ingestion job.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// Source returns metadata.source when present.
func (d Document) Source() string {
	if d.Metadata == nil {
		return ""
	}
	s, _ := d.Metadata["source"].(string)
	return s
}

// RetrievalResult pairs a document with its similarity to the query.
type RetrievalResult struct {
	Document   Document `json:"document"`
	Similarity float64  `json:"similarity"`
}

// PromptContext is the assembled prompt for a single turn. It is never persisted.
type PromptContext struct {
	Prompt string
	Query  string
}
