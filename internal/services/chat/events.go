// File: internal/services/chat/events.go
package chat

import (
	"github.com/iyunix/go-localchat/internal/domain"
)

const (
	EventToken    = "token"
	EventComplete = "complete"
	EventError    = "error"
)

// Reasons carried by error events.
const (
	ReasonFailed    = "failed"
	ReasonCancelled = "cancelled"
)

type TokenEvent struct {
	Text string `json:"text"`
}

type CompleteEvent struct {
	MessageID        uint                    `json:"message_id"`
	TokenCount       int                     `json:"token_count"`
	CompletionTimeMs int64                   `json:"completion_time_ms"`
	Conversation     domain.ConversationMeta `json:"conversation"`
	Sources          []string                `json:"sources,omitempty"`
}

type ErrorEvent struct {
	Message       string `json:"message"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id"`
}

// Event is one entry in a session log. Data is the JSON payload.
type Event struct {
	ID   uint64
	Type string
	Data []byte
}

func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
