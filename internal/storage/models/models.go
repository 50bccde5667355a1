package models

import "time"

// Feedback kinds. Events carrying any other value are rejected before they
// reach the store.
const (
	FeedbackPositive  = "positive"
	FeedbackNegative  = "negative"
	FeedbackCorrected = "corrected"
)

// FeedbackEvent is one row of the append-only feedback log. Events are never
// mutated or deleted; together they form the audit trail behind every
// improved answer.
type FeedbackEvent struct {
	ID                  int64     `json:"id"`
	Question            string    `json:"question"`
	QuestionFingerprint string    `json:"question_fingerprint"`
	OriginalAnswer      string    `json:"original_answer"`
	Kind                string    `json:"kind"`
	CorrectedAnswer     string    `json:"corrected_answer,omitempty"`
	Note                string    `json:"note,omitempty"`
	SourceRefs          []string  `json:"source_refs"`
	CreatedAt           time.Time `json:"created_at"`
}

// ImprovedAnswer is the derived per-fingerprint cache of the latest accepted
// correction. Answer is last-write-wins; Confidence only ever goes up.
type ImprovedAnswer struct {
	QuestionFingerprint string    `json:"question_fingerprint"`
	Answer              string    `json:"answer"`
	Confidence          float64   `json:"confidence"`
	CorroborationCount  int       `json:"corroboration_count"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// FeedbackStats aggregates the event log for the stats endpoint.
type FeedbackStats struct {
	Total           int     `json:"total"`
	Positive        int     `json:"positive"`
	Negative        int     `json:"negative"`
	Corrected       int     `json:"corrected"`
	ImprovedAnswers int     `json:"improved_answers"`
	PositiveRate    float64 `json:"positive_rate"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Archived  bool      `json:"archived"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	SourceRefs     []string  `json:"source_refs"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
