// File: internal/domain/conversation.go
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Conversation is a single thread inside a project.
//
// MessageCount and LastMessageAt are derived from the message table and are
// only written by the message repository, inside the transaction that
// mutates the messages.
type Conversation struct {
	ID            uint           `json:"id" gorm:"primarykey"`
	ProjectID     uint           `json:"project_id" gorm:"not null;index"`
	Title         string         `json:"title" gorm:"size:200"`
	MessageCount  int64          `json:"message_count" gorm:"not null;default:0"`
	LastMessageAt *time.Time     `json:"last_message_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

// ConversationMeta is the server-authoritative slice of a conversation that
// clients mirror.
type ConversationMeta struct {
	ID            uint       `json:"id"`
	MessageCount  int64      `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

func (c *Conversation) Meta() ConversationMeta {
	return ConversationMeta{ID: c.ID, MessageCount: c.MessageCount, LastMessageAt: c.LastMessageAt}
}
