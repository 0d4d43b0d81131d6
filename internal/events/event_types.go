package events

import (
	"time"

	"github.com/spec-kit/feedback-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventFeedbackSubmitted        EventType = "feedback_submitted"
	EventFeedbackTransitioned     EventType = "feedback_transitioned"
	EventFeedbackBulkTransitioned EventType = "feedback_bulk_transitioned"
	EventFeedbackEdited           EventType = "feedback_edited"
	EventSentimentClassified      EventType = "sentiment_classified"
	EventSentimentFailed          EventType = "sentiment_failed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	FeedbackID string    `json:"feedback_id,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload"`
}

// SubmittedPayload carries a newly created record.
type SubmittedPayload struct {
	Record domain.FeedbackRecord `json:"record"`
}

// TransitionedPayload carries the fields a single-record transition changed.
type TransitionedPayload struct {
	Transition domain.Transition `json:"transition"`
	State      domain.State      `json:"-"`
	Department string            `json:"department"`
	Changes    map[string]any    `json:"changes"`
}

// BulkTransitionedPayload lists the records a batch transition modified.
type BulkTransitionedPayload struct {
	Transition    domain.Transition `json:"transition"`
	State         domain.State      `json:"-"`
	IDs           []string          `json:"ids"`
	ChangedFields []string          `json:"changedFields"`
}

// EditedPayload carries the fields a direct edit changed.
type EditedPayload struct {
	State      domain.State   `json:"-"`
	Department string         `json:"department"`
	Changes    map[string]any `json:"changes"`
}

// SentimentPayload reports classification progress of a record.
type SentimentPayload struct {
	Sentiment       *domain.Sentiment      `json:"sentiment,omitempty"`
	SentimentStatus domain.SentimentStatus `json:"sentimentStatus"`
	Attempts        int                    `json:"sentimentAttempts"`
	Error           string                 `json:"sentimentError,omitempty"`
	State           domain.State           `json:"-"`
	Department      string                 `json:"department"`
}
