// File: internal/services/chat/history.go
package chat

import (
	"context"
	"strings"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository/conversation"
	"github.com/iyunix/go-localchat/internal/repository/message"
)

const historyPageSize = 50

// HistoryRequest selects the prior turns for one generation. BeforeMessageID
// is set for regenerations and limits history to older messages.
type HistoryRequest struct {
	ConversationID  uint
	MaxMessages     int
	PlaceholderID   uint
	BeforeMessageID uint
}

// HistoryAssembler builds the bounded, chronological context for a turn.
type HistoryAssembler struct {
	conversations conversation.ConversationRepository
	messages      message.MessageRepository
	logger        Logger
}

func NewHistoryAssembler(conversations conversation.ConversationRepository, messages message.MessageRepository, logger Logger) *HistoryAssembler {
	return &HistoryAssembler{
		conversations: conversations,
		messages:      messages,
		logger:        logger,
	}
}

// Assemble returns at most MaxMessages turns, oldest first. The placeholder,
// blank messages and anything not completed are skipped, as are answers
// replaced by a completed regeneration. An empty result means this is the
// first turn.
func (h *HistoryAssembler) Assemble(ctx context.Context, req HistoryRequest) ([]Turn, error) {
	if req.MaxMessages <= 0 {
		return nil, NewValidationError("assemble_history", "max messages must be positive")
	}

	exists, err := h.conversations.ExistsByID(ctx, req.ConversationID)
	if err != nil {
		return nil, FromRepositoryError("assemble_history", err)
	}
	if !exists {
		return nil, NewNotFoundError("assemble_history", "conversation not found")
	}

	// Pages arrive newest first; collect until full, then reverse. Versions
	// of one answer share its position and the newest has the highest id, so
	// it is seen before the versions it replaces.
	newestFirst := make([]Turn, 0, req.MaxMessages)
	replaced := make(map[uint]bool)
	for offset := 0; len(newestFirst) < req.MaxMessages; offset += historyPageSize {
		page, err := h.messages.FindHistoryPage(ctx, message.HistoryQuery{
			ConversationID: req.ConversationID,
			BeforeID:       req.BeforeMessageID,
			Statuses:       []domain.MessageStatus{domain.StatusCompleted},
			Limit:          historyPageSize,
			Offset:         offset,
		})
		if err != nil {
			return nil, FromRepositoryError("assemble_history", err)
		}

		for _, m := range page {
			if m.ID == req.PlaceholderID {
				continue
			}
			if strings.TrimSpace(m.Content) == "" || replaced[m.ID] {
				continue
			}
			if m.ParentMessageID != nil {
				older, err := h.messages.Lineage(ctx, *m.ParentMessageID)
				if err != nil {
					return nil, FromRepositoryError("assemble_history", err)
				}
				for _, id := range older {
					replaced[id] = true
				}
			}
			newestFirst = append(newestFirst, Turn{Role: m.Role, Content: m.Content})
			if len(newestFirst) == req.MaxMessages {
				break
			}
		}
		if len(page) < historyPageSize {
			break
		}
	}

	turns := make([]Turn, len(newestFirst))
	for i, t := range newestFirst {
		turns[len(newestFirst)-1-i] = t
	}

	h.logger.Debug("history assembled", "conversation_id", req.ConversationID, "turns", len(turns))
	return turns, nil
}
