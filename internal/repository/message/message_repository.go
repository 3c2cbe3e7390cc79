// File: internal/repository/message/message_repository.go
package message

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository"
	"github.com/iyunix/go-localchat/internal/repository/conversation"
)

var (
	ErrMessageNotFound  = stderrors.New("message not found")
	ErrInvalidMessage   = stderrors.New("invalid message")
	ErrTurnInProgress   = stderrors.New("a response is already being generated for this conversation")
	ErrAlreadyFinalized = stderrors.New("message is no longer streaming")
	ErrInvalidLineage   = stderrors.New("invalid message lineage")
	ErrSuperseded       = stderrors.New("a newer version of this answer exists")
)

// maxLineageDepth bounds the parent walk for regenerated messages.
const maxLineageDepth = 1000

type gormMessageRepository struct {
	db     *gorm.DB
	logger repository.Logger
}

func NewMessageRepository(db *gorm.DB, logger repository.Logger) MessageRepository {
	return &gormMessageRepository{db: db, logger: logger}
}

func (r *gormMessageRepository) FindByID(ctx context.Context, messageID uint) (*domain.Message, error) {
	if messageID == 0 {
		return nil, ErrMessageNotFound
	}

	var message domain.Message
	err := r.db.WithContext(ctx).First(&message, messageID).Error
	return r.handleFindError(err, &message, "FindByID")
}

// FindByConversationIDWithPagination returns messages in display order.
func (r *gormMessageRepository) FindByConversationIDWithPagination(ctx context.Context, conversationID uint, limit, offset int) ([]domain.Message, int64, error) {
	if conversationID == 0 {
		return nil, 0, errors.Wrap(ErrInvalidMessage, "invalid conversation ID")
	}
	if limit <= 0 || limit > 1000 {
		return nil, 0, errors.Wrap(ErrInvalidMessage, "limit must be between 1 and 1000")
	}
	if offset < 0 {
		return nil, 0, errors.Wrap(ErrInvalidMessage, "offset must be >= 0")
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID).Count(&total).Error; err != nil {
		r.logger.Error("[MessageRepository] count failed", "conversation_id", conversationID, "error", err)
		return nil, 0, errors.Wrap(err, "database error counting messages")
	}

	var messages []domain.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		r.logger.Error("[MessageRepository] paginated query failed", "conversation_id", conversationID, "error", err)
		return nil, 0, errors.Wrap(err, "database error retrieving messages")
	}
	return messages, total, nil
}

func (r *gormMessageRepository) FindHistoryPage(ctx context.Context, query HistoryQuery) ([]domain.Message, error) {
	if query.ConversationID == 0 {
		return nil, errors.Wrap(ErrInvalidMessage, "invalid conversation ID")
	}
	if query.Limit <= 0 {
		return nil, errors.Wrap(ErrInvalidMessage, "limit must be positive")
	}

	q := r.db.WithContext(ctx).Where("conversation_id = ?", query.ConversationID)
	if query.BeforeID > 0 {
		q = q.Where("(created_at < (SELECT a.created_at FROM messages a WHERE a.id = ?)"+
			" OR (created_at = (SELECT a.created_at FROM messages a WHERE a.id = ?) AND id < ?))",
			query.BeforeID, query.BeforeID, query.BeforeID)
	}
	if len(query.Statuses) > 0 {
		q = q.Where("status IN ?", query.Statuses)
	}

	var messages []domain.Message
	err := q.Order("created_at DESC, id DESC").
		Limit(query.Limit).
		Offset(query.Offset).
		Find(&messages).Error
	if err != nil {
		r.logger.Error("[MessageRepository] history query failed", "conversation_id", query.ConversationID, "error", err)
		return nil, errors.Wrap(err, "database error loading history")
	}
	return messages, nil
}

func (r *gormMessageRepository) Lineage(ctx context.Context, messageID uint) ([]uint, error) {
	if messageID == 0 {
		return nil, ErrMessageNotFound
	}
	var m domain.Message
	if err := r.db.WithContext(ctx).Unscoped().Select("id", "conversation_id").First(&m, messageID).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, errors.Wrap(err, "database error loading message")
	}
	chain, err := walkLineage(r.db.WithContext(ctx), m.ConversationID, m.ID)
	if err != nil {
		r.logger.Error("[MessageRepository] lineage walk failed", "message_id", messageID, "error", err)
		return nil, err
	}
	return chain, nil
}

func (r *gormMessageRepository) CreateTurn(ctx context.Context, conversationID uint, content string) (*TurnRecords, error) {
	if conversationID == 0 {
		return nil, conversation.ErrConversationNotFound
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.Wrap(ErrInvalidMessage, "content is required")
	}

	records := &TurnRecords{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, conversationID); err != nil {
			return err
		}

		now := time.Now().UTC()
		records.UserMessage = &domain.Message{
			ConversationID: conversationID,
			Role:           domain.RoleUser,
			Content:        content,
			Status:         domain.StatusCompleted,
			CreatedAt:      now,
		}
		if err := tx.Create(records.UserMessage).Error; err != nil {
			return errors.Wrap(err, "database error creating user message")
		}

		records.Placeholder = &domain.Message{
			ConversationID: conversationID,
			Role:           domain.RoleAssistant,
			Status:         domain.StatusStreaming,
			CreatedAt:      now,
		}
		if err := tx.Create(records.Placeholder).Error; err != nil {
			return errors.Wrap(err, "database error creating assistant placeholder")
		}

		conv, err := recomputeConversationStats(tx, conversationID)
		records.Conversation = conv
		return err
	})
	if err != nil {
		r.logTxError("CreateTurn", conversationID, err)
		return nil, err
	}

	r.logger.Debug("[MessageRepository] turn created",
		"conversation_id", conversationID,
		"user_message_id", records.UserMessage.ID,
		"placeholder_id", records.Placeholder.ID)
	return records, nil
}

func (r *gormMessageRepository) CreateRegeneration(ctx context.Context, assistantMessageID uint) (*TurnRecords, error) {
	if assistantMessageID == 0 {
		return nil, ErrMessageNotFound
	}

	records := &TurnRecords{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target domain.Message
		if err := tx.First(&target, assistantMessageID).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return errors.Wrap(err, "database error loading message")
		}
		if target.Role != domain.RoleAssistant {
			return errors.Wrap(ErrInvalidMessage, "only assistant messages can be regenerated")
		}
		if target.Status == domain.StatusStreaming {
			return ErrTurnInProgress
		}
		records.Target = &target

		if err := lockConversation(tx, target.ConversationID); err != nil {
			return err
		}
		chain, err := walkLineage(tx, target.ConversationID, target.ID)
		if err != nil {
			return err
		}
		superseded, err := hasCompletedDescendant(tx, target.ID)
		if err != nil {
			return err
		}
		if superseded {
			return ErrSuperseded
		}

		var root domain.Message
		if err := tx.Unscoped().First(&root, chain[len(chain)-1]).Error; err != nil {
			return errors.Wrap(err, "database error loading original answer")
		}
		records.Root = &root

		// Every version of an answer keeps the position of the first one.
		parentID := target.ID
		records.Placeholder = &domain.Message{
			ConversationID:  target.ConversationID,
			Role:            domain.RoleAssistant,
			Status:          domain.StatusStreaming,
			ParentMessageID: &parentID,
			CreatedAt:       root.CreatedAt.UTC(),
		}
		if err := tx.Create(records.Placeholder).Error; err != nil {
			return errors.Wrap(err, "database error creating assistant placeholder")
		}

		conv, err := recomputeConversationStats(tx, target.ConversationID)
		records.Conversation = conv
		return err
	})
	if err != nil {
		r.logTxError("CreateRegeneration", 0, err)
		return nil, err
	}
	return records, nil
}

func (r *gormMessageRepository) Finalize(ctx context.Context, input FinalizeInput) (*domain.Conversation, error) {
	switch input.Status {
	case domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled:
	default:
		return nil, errors.Wrapf(ErrInvalidMessage, "cannot finalize with status %q", input.Status)
	}
	if input.Status == domain.StatusCompleted && strings.TrimSpace(input.Content) == "" {
		return nil, errors.Wrap(ErrInvalidMessage, "completed messages need content")
	}

	var conv *domain.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var placeholder domain.Message
		if err := tx.First(&placeholder, input.MessageID).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return errors.Wrap(err, "database error loading placeholder")
		}

		result := tx.Model(&domain.Message{}).
			Where("id = ? AND status = ?", input.MessageID, domain.StatusStreaming).
			Updates(map[string]interface{}{
				"content":            input.Content,
				"status":             input.Status,
				"token_count":        input.TokenCount,
				"completion_time_ms": input.CompletionTimeMs,
			})
		if result.Error != nil {
			return errors.Wrap(result.Error, "database error finalizing message")
		}
		if result.RowsAffected == 0 {
			return ErrAlreadyFinalized
		}

		var err error
		conv, err = recomputeConversationStats(tx, placeholder.ConversationID)
		return err
	})
	if err != nil {
		r.logTxError("Finalize", 0, err)
		return nil, err
	}
	return conv, nil
}

func (r *gormMessageRepository) UpdateReaction(ctx context.Context, messageID uint, reaction string) (*domain.Message, error) {
	if !domain.ValidReaction(reaction) {
		return nil, errors.Wrapf(ErrInvalidMessage, "unknown reaction %q", reaction)
	}

	message, err := r.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.Role != domain.RoleAssistant {
		return nil, errors.Wrap(ErrInvalidMessage, "only assistant messages take reactions")
	}

	var value interface{}
	if reaction != domain.ReactionNone {
		value = reaction
	}
	result := r.db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", messageID).Update("reaction", value)
	if result.Error != nil {
		r.logger.Error("[MessageRepository] reaction update failed", "message_id", messageID, "error", result.Error)
		return nil, errors.Wrap(result.Error, "database error updating reaction")
	}
	if result.RowsAffected == 0 {
		return nil, ErrMessageNotFound
	}
	return r.FindByID(ctx, messageID)
}

// Delete soft-deletes one message and recomputes the conversation stats.
func (r *gormMessageRepository) Delete(ctx context.Context, messageID uint) (*domain.Conversation, error) {
	if messageID == 0 {
		return nil, ErrMessageNotFound
	}

	var conv *domain.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message domain.Message
		if err := tx.First(&message, messageID).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return errors.Wrap(err, "database error loading message")
		}
		if message.Status == domain.StatusStreaming {
			return ErrTurnInProgress
		}
		if err := tx.Delete(&message).Error; err != nil {
			return errors.Wrap(err, "database error deleting message")
		}

		var err error
		conv, err = recomputeConversationStats(tx, message.ConversationID)
		return err
	})
	if err != nil {
		r.logTxError("Delete", 0, err)
		return nil, err
	}

	r.logger.Info("[MessageRepository] message deleted", "message_id", messageID)
	return conv, nil
}

func (r *gormMessageRepository) RecomputeConversationStats(ctx context.Context, conversationID uint) (*domain.Conversation, error) {
	var conv *domain.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		conv, err = recomputeConversationStats(tx, conversationID)
		return err
	})
	if err != nil {
		r.logTxError("RecomputeConversationStats", conversationID, err)
		return nil, err
	}
	return conv, nil
}

// FailStaleStreaming marks placeholders left streaming by a previous process
// as failed. Nothing was persisted for them, so they carry the failure marker.
func (r *gormMessageRepository) FailStaleStreaming(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("status = ?", domain.StatusStreaming).
		Updates(map[string]interface{}{
			"status":  domain.StatusFailed,
			"content": domain.FailureMarker,
		})
	if result.Error != nil {
		r.logger.Error("[MessageRepository] stale placeholder sweep failed", "error", result.Error)
		return 0, errors.Wrap(result.Error, "database error failing stale placeholders")
	}
	if result.RowsAffected > 0 {
		r.logger.Warn("[MessageRepository] failed stale placeholders", "count", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

func (r *gormMessageRepository) handleFindError(err error, message *domain.Message, operation string) (*domain.Message, error) {
	if err == nil {
		return message, nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	r.logger.Error("[MessageRepository] database error", "operation", operation, "error", err)
	return nil, errors.Wrap(err, "database query failed")
}

// logTxError logs unexpected transaction failures; sentinel errors are the
// caller's business.
func (r *gormMessageRepository) logTxError(operation string, conversationID uint, err error) {
	for _, expected := range []error{
		ErrMessageNotFound, ErrInvalidMessage, ErrTurnInProgress, ErrAlreadyFinalized,
		ErrInvalidLineage, ErrSuperseded, conversation.ErrConversationNotFound,
	} {
		if stderrors.Is(err, expected) {
			return
		}
	}
	r.logger.Error("[MessageRepository] transaction failed",
		"operation", operation,
		"conversation_id", conversationID,
		"error", err)
}

// lockConversation checks the conversation exists and has no placeholder
// still streaming.
func lockConversation(tx *gorm.DB, conversationID uint) error {
	var conv domain.Conversation
	if err := tx.Select("id").First(&conv, conversationID).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.ErrConversationNotFound
		}
		return errors.Wrap(err, "database error loading conversation")
	}

	var streaming int64
	err := tx.Model(&domain.Message{}).
		Where("conversation_id = ? AND status = ?", conversationID, domain.StatusStreaming).
		Count(&streaming).Error
	if err != nil {
		return errors.Wrap(err, "database error checking active turns")
	}
	if streaming > 0 {
		return ErrTurnInProgress
	}
	return nil
}

// walkLineage follows parent links from messageID, including soft-deleted
// rows, and returns the chain ending at its root. The chain must stay in the
// conversation and end without a cycle.
func walkLineage(tx *gorm.DB, conversationID, messageID uint) ([]uint, error) {
	var chain []uint
	seen := make(map[uint]struct{})
	next := &messageID
	for depth := 0; next != nil; depth++ {
		if depth >= maxLineageDepth {
			return nil, errors.Wrap(ErrInvalidLineage, "lineage too deep")
		}
		if _, ok := seen[*next]; ok {
			return nil, errors.Wrap(ErrInvalidLineage, "lineage contains a cycle")
		}
		seen[*next] = struct{}{}

		var m domain.Message
		err := tx.Unscoped().Select("id", "conversation_id", "parent_message_id").First(&m, *next).Error
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errors.Wrap(ErrInvalidLineage, "parent message does not exist")
			}
			return nil, errors.Wrap(err, "database error walking lineage")
		}
		if m.ConversationID != conversationID {
			return nil, errors.Wrap(ErrInvalidLineage, "parent belongs to another conversation")
		}
		chain = append(chain, m.ID)
		next = m.ParentMessageID
	}
	return chain, nil
}

// hasCompletedDescendant reports whether a live, completed regeneration
// descends from messageID. Soft-deleted links are followed but never count.
func hasCompletedDescendant(tx *gorm.DB, messageID uint) (bool, error) {
	frontier := []uint{messageID}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxLineageDepth {
			return false, errors.Wrap(ErrInvalidLineage, "lineage too deep")
		}
		var children []domain.Message
		err := tx.Unscoped().
			Select("id", "status", "deleted_at").
			Where("parent_message_id IN ?", frontier).
			Find(&children).Error
		if err != nil {
			return false, errors.Wrap(err, "database error loading regenerations")
		}
		next := make([]uint, 0, len(children))
		for _, c := range children {
			if !c.DeletedAt.Valid && c.Status == domain.StatusCompleted {
				return true, nil
			}
			next = append(next, c.ID)
		}
		frontier = next
	}
	return false, nil
}

// recomputeConversationStats derives message_count and last_message_at from
// the counted messages. It must run inside the transaction that changed them.
func recomputeConversationStats(tx *gorm.DB, conversationID uint) (*domain.Conversation, error) {
	counted := func() *gorm.DB {
		return tx.Model(&domain.Message{}).
			Where("conversation_id = ? AND status = ? AND TRIM(content) <> ''", conversationID, domain.StatusCompleted)
	}

	var count int64
	if err := counted().Count(&count).Error; err != nil {
		return nil, errors.Wrap(err, "database error counting messages")
	}

	var lastMessageAt *time.Time
	if count > 0 {
		var latest domain.Message
		if err := counted().Select("id", "created_at").Order("created_at DESC, id DESC").First(&latest).Error; err != nil {
			return nil, errors.Wrap(err, "database error loading latest message")
		}
		at := latest.CreatedAt.UTC()
		lastMessageAt = &at
	}

	result := tx.Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"message_count":   count,
			"last_message_at": lastMessageAt,
		})
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "database error updating conversation stats")
	}
	if result.RowsAffected == 0 {
		return nil, conversation.ErrConversationNotFound
	}

	var conv domain.Conversation
	if err := tx.First(&conv, conversationID).Error; err != nil {
		return nil, errors.Wrap(err, "database error reloading conversation")
	}
	return &conv, nil
}
