// File: internal/repository/conversation/conversation_repository.go
package conversation

import (
	"context"
	stderrors "errors"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository"
)

var ErrConversationNotFound = stderrors.New("conversation not found")
var ErrInvalidConversation = stderrors.New("invalid conversation")

const maxTitleLength = 200

type gormConversationRepository struct {
	db     *gorm.DB
	logger repository.Logger
}

func NewConversationRepository(db *gorm.DB, logger repository.Logger) ConversationRepository {
	return &gormConversationRepository{db: db, logger: logger}
}

// Create stores a new conversation. The owning project must exist.
func (r *gormConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) (*domain.Conversation, error) {
	if err := r.validateConversationInput(conversation); err != nil {
		return nil, err
	}
	// stats are derived, never client supplied
	conversation.MessageCount = 0
	conversation.LastMessageAt = nil

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var projects int64
		if err := tx.Model(&domain.Project{}).Where("id = ?", conversation.ProjectID).Count(&projects).Error; err != nil {
			return errors.Wrap(err, "database error checking project")
		}
		if projects == 0 {
			return errors.Wrap(ErrInvalidConversation, "project does not exist")
		}
		return errors.Wrap(tx.Create(conversation).Error, "database error creating conversation")
	})
	if err != nil {
		if !stderrors.Is(err, ErrInvalidConversation) {
			r.logger.Error("[ConversationRepository] create failed", "project_id", conversation.ProjectID, "error", err)
		}
		return nil, err
	}

	r.logger.Debug("[ConversationRepository] conversation created", "conversation_id", conversation.ID, "project_id", conversation.ProjectID)
	return conversation, nil
}

func (r *gormConversationRepository) FindByID(ctx context.Context, conversationID uint) (*domain.Conversation, error) {
	if conversationID == 0 {
		return nil, ErrConversationNotFound
	}

	var conversation domain.Conversation
	err := r.db.WithContext(ctx).First(&conversation, conversationID).Error
	return r.handleFindError(err, &conversation, "FindByID")
}

// FindByProjectIDWithPagination lists conversations, most recent activity first.
func (r *gormConversationRepository) FindByProjectIDWithPagination(ctx context.Context, projectID uint, limit, offset int) ([]domain.Conversation, int64, error) {
	if projectID == 0 {
		return nil, 0, errors.Wrap(ErrInvalidConversation, "invalid project ID")
	}
	if limit <= 0 || limit > 1000 {
		return nil, 0, errors.Wrap(ErrInvalidConversation, "limit must be between 1 and 1000")
	}
	if offset < 0 {
		return nil, 0, errors.Wrap(ErrInvalidConversation, "offset must be >= 0")
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.Conversation{}).Where("project_id = ?", projectID).Count(&total).Error; err != nil {
		r.logger.Error("[ConversationRepository] count failed", "project_id", projectID, "error", err)
		return nil, 0, errors.Wrap(err, "database error counting conversations")
	}

	var conversations []domain.Conversation
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("COALESCE(last_message_at, created_at) DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&conversations).Error
	if err != nil {
		r.logger.Error("[ConversationRepository] paginated query failed", "project_id", projectID, "error", err)
		return nil, 0, errors.Wrap(err, "database error retrieving conversations")
	}
	return conversations, total, nil
}

func (r *gormConversationRepository) UpdateTitle(ctx context.Context, conversationID uint, title string) error {
	if conversationID == 0 {
		return ErrConversationNotFound
	}
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > maxTitleLength {
		return errors.Wrap(ErrInvalidConversation, "title is too long")
	}

	result := r.db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Update("title", title)
	if result.Error != nil {
		r.logger.Error("[ConversationRepository] title update failed", "conversation_id", conversationID, "error", result.Error)
		return errors.Wrap(result.Error, "database error updating conversation")
	}
	if result.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (r *gormConversationRepository) Delete(ctx context.Context, conversationID uint) error {
	if conversationID == 0 {
		return ErrConversationNotFound
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&domain.Conversation{}, conversationID)
		if result.Error != nil {
			r.logger.Error("[ConversationRepository] delete failed", "conversation_id", conversationID, "error", result.Error)
			return errors.Wrap(result.Error, "database error deleting conversation")
		}
		if result.RowsAffected == 0 {
			return ErrConversationNotFound
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&domain.Message{}).Error; err != nil {
			return errors.Wrap(err, "database error deleting conversation messages")
		}

		r.logger.Info("[ConversationRepository] conversation deleted", "conversation_id", conversationID)
		return nil
	})
}

func (r *gormConversationRepository) ExistsByID(ctx context.Context, conversationID uint) (bool, error) {
	if conversationID == 0 {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Conversation{}).Where("id = ?", conversationID).Count(&count).Error
	if err != nil {
		r.logger.Error("[ConversationRepository] existence check failed", "conversation_id", conversationID, "error", err)
		return false, errors.Wrap(err, "database error checking conversation existence")
	}
	return count > 0, nil
}

func (r *gormConversationRepository) validateConversationInput(conversation *domain.Conversation) error {
	if conversation == nil {
		return ErrInvalidConversation
	}
	if conversation.ProjectID == 0 {
		return errors.Wrap(ErrInvalidConversation, "project ID is required")
	}
	conversation.Title = strings.TrimSpace(conversation.Title)
	if utf8.RuneCountInString(conversation.Title) > maxTitleLength {
		return errors.Wrap(ErrInvalidConversation, "title is too long")
	}
	return nil
}

// handleFindError maps gorm errors without leaking query details.
func (r *gormConversationRepository) handleFindError(err error, conversation *domain.Conversation, operation string) (*domain.Conversation, error) {
	if err == nil {
		return conversation, nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	r.logger.Error("[ConversationRepository] database error", "operation", operation, "error", err)
	return nil, errors.Wrap(err, "database query failed")
}
