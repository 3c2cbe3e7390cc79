// File: internal/repository/message/interface.go
package message

import (
	"context"

	"github.com/iyunix/go-localchat/internal/domain"
)

type MessageRepository interface {
	FindByID(ctx context.Context, messageID uint) (*domain.Message, error)
	FindByConversationIDWithPagination(ctx context.Context, conversationID uint, limit, offset int) ([]domain.Message, int64, error)
	FindHistoryPage(ctx context.Context, query HistoryQuery) ([]domain.Message, error)
	// Lineage returns messageID followed by its regeneration ancestors, root
	// last. Soft-deleted ancestors are included.
	Lineage(ctx context.Context, messageID uint) ([]uint, error)

	// CreateTurn persists the user message and the assistant placeholder in one
	// transaction and returns the recomputed conversation.
	CreateTurn(ctx context.Context, conversationID uint, content string) (*TurnRecords, error)
	// CreateRegeneration persists a new placeholder whose parent is the
	// assistant message being regenerated. The placeholder takes the
	// created_at of the original answer so it keeps that position. It fails
	// with ErrSuperseded when a newer completed version already exists.
	CreateRegeneration(ctx context.Context, assistantMessageID uint) (*TurnRecords, error)
	// Finalize moves a streaming placeholder to its terminal status. It fails
	// with ErrAlreadyFinalized when the message is no longer streaming.
	Finalize(ctx context.Context, input FinalizeInput) (*domain.Conversation, error)

	UpdateReaction(ctx context.Context, messageID uint, reaction string) (*domain.Message, error)
	Delete(ctx context.Context, messageID uint) (*domain.Conversation, error)
	RecomputeConversationStats(ctx context.Context, conversationID uint) (*domain.Conversation, error)
	FailStaleStreaming(ctx context.Context) (int64, error)
}

// HistoryQuery selects a page of messages ordered newest first.
type HistoryQuery struct {
	ConversationID uint
	// BeforeID limits the page to messages ordered before that message
	// (created_at, then id) when non-zero.
	BeforeID uint
	Statuses []domain.MessageStatus
	Limit    int
	Offset   int
}

type TurnRecords struct {
	UserMessage  *domain.Message // nil for regenerations
	Target       *domain.Message // message being regenerated, nil for new turns
	Root         *domain.Message // first version of the regenerated answer
	Placeholder  *domain.Message
	Conversation *domain.Conversation
}

type FinalizeInput struct {
	MessageID        uint
	Status           domain.MessageStatus
	Content          string
	TokenCount       int
	CompletionTimeMs int64
}
