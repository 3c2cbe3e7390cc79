// File: internal/domain/message.go
package domain

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageStatus tracks the lifecycle of a message. User messages are created
// completed; assistant placeholders start streaming and are finalized once.
type MessageStatus string

const (
	StatusStreaming MessageStatus = "streaming"
	StatusCompleted MessageStatus = "completed"
	StatusFailed    MessageStatus = "failed"
	StatusCancelled MessageStatus = "cancelled"
)

// Markers stored as the content of assistant messages that never completed.
const (
	FailureMarker      = "[generation failed]"
	CancellationMarker = "[generation cancelled]"
)

const (
	ReactionThumbsUp   = "thumbs_up"
	ReactionThumbsDown = "thumbs_down"
	ReactionNone       = "none"
)

// Message represents a single message within a conversation.
type Message struct {
	ID               uint           `json:"id" gorm:"primarykey"`
	ConversationID   uint           `json:"conversation_id" gorm:"not null;index:idx_messages_conversation_created,priority:1"`
	Role             string         `json:"role" gorm:"size:16;not null"`
	Content          string         `json:"content" gorm:"not null"`
	Status           MessageStatus  `json:"status" gorm:"size:16;not null;index"`
	ParentMessageID  *uint          `json:"parent_message_id"`
	Reaction         *string        `json:"reaction" gorm:"size:16"`
	TokenCount       int            `json:"token_count"`
	CompletionTimeMs int64          `json:"completion_time_ms"`
	CreatedAt        time.Time      `json:"created_at" gorm:"index:idx_messages_conversation_created,priority:2"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`
}

// Counted reports whether the message contributes to conversation stats.
func (m *Message) Counted() bool {
	return m.Status == StatusCompleted && strings.TrimSpace(m.Content) != ""
}

func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

func ValidReaction(reaction string) bool {
	switch reaction {
	case ReactionThumbsUp, ReactionThumbsDown, ReactionNone:
		return true
	}
	return false
}
