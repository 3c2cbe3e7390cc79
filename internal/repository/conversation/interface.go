// File: internal/repository/conversation/interface.go
package conversation

import (
	"context"

	"github.com/iyunix/go-localchat/internal/domain"
)

type ConversationRepository interface {
	Create(ctx context.Context, conversation *domain.Conversation) (*domain.Conversation, error)
	FindByID(ctx context.Context, conversationID uint) (*domain.Conversation, error)
	FindByProjectIDWithPagination(ctx context.Context, projectID uint, limit, offset int) ([]domain.Conversation, int64, error)
	UpdateTitle(ctx context.Context, conversationID uint, title string) error
	// Delete soft-deletes the conversation and its messages.
	Delete(ctx context.Context, conversationID uint) error
	ExistsByID(ctx context.Context, conversationID uint) (bool, error)
}
