package engine

import "context"

// SourceDocument is one retrieved fragment cited alongside a generated
// answer. Named optional attributes live in the struct; provider-specific
// extras go in Metadata.
type SourceDocument struct {
	Content   string            `json:"content"`
	SourceRef string            `json:"source"`
	Score     float64           `json:"score,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Answer is the engine's response to a question.
type Answer struct {
	Text    string
	Sources []SourceDocument
}

// Engine is the retrieval+generation collaborator: it turns a question into
// a generated answer with supporting fragments, and runs ranked fragment
// searches. Implementations wrap all failures as apperrors.Upstream; the
// core never retries them.
type Engine interface {
	// Ask generates an answer for the question. dialogueContext, when
	// non-empty, is the transcript of the conversation so far.
	Ask(ctx context.Context, question, dialogueContext string) (*Answer, error)

	// Search returns up to k fragments ranked by relevance.
	Search(ctx context.Context, query string, k int) ([]SourceDocument, error)
}
