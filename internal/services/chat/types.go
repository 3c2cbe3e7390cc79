// File: internal/services/chat/types.go
package chat

import (
	"context"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/services/retrieval"
)

// Logger defines the logging interface used across chat services
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Turn is one prior message as the model sees it.
type Turn struct {
	Role    string
	Content string
}

// TurnState is the lifecycle of one generation.
type TurnState string

const (
	StateCreated   TurnState = "created"
	StateStreaming TurnState = "streaming"
	StateCompleted TurnState = "completed"
	StateFailed    TurnState = "failed"
	StateCancelled TurnState = "cancelled"
)

func (s TurnState) messageStatus() domain.MessageStatus {
	switch s {
	case StateCompleted:
		return domain.StatusCompleted
	case StateCancelled:
		return domain.StatusCancelled
	default:
		return domain.StatusFailed
	}
}

// Retriever finds project documents relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, projectID uint, query string) ([]retrieval.Match, error)
}

// StartTurnRequest is a new user message for a conversation. ProjectID is
// optional; when set it must own the conversation.
type StartTurnRequest struct {
	ConversationID uint
	ProjectID      uint
	Message        string
}

// TurnHandle identifies a running turn.
type TurnHandle struct {
	StreamID           string                  `json:"stream_id"`
	UserMessageID      uint                    `json:"user_message_id,omitempty"`
	AssistantMessageID uint                    `json:"assistant_message_id"`
	Conversation       domain.ConversationMeta `json:"conversation"`
}
