// File: internal/services/chat_service.go
package services

import (
	"context"
	"strings"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository/conversation"
	"github.com/iyunix/go-localchat/internal/repository/message"
	"github.com/iyunix/go-localchat/internal/repository/project"
	chatservice "github.com/iyunix/go-localchat/internal/services/chat"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// MessageView is a message as returned to clients.
type MessageView struct {
	domain.Message
	ContentHTML string `json:"content_html,omitempty"`
}

type ChatService struct {
	config           *chatservice.Config
	projectRepo      project.ProjectRepository
	conversationRepo conversation.ConversationRepository
	messageRepo      message.MessageRepository
	orchestrator     *chatservice.Orchestrator
	logger           Logger
}

func NewChatService(
	config *chatservice.Config,
	projectRepo project.ProjectRepository,
	conversationRepo conversation.ConversationRepository,
	messageRepo message.MessageRepository,
	orchestrator *chatservice.Orchestrator,
	logger Logger,
) (*ChatService, error) {
	// Validate dependencies
	if projectRepo == nil || conversationRepo == nil || messageRepo == nil {
		return nil, chatservice.NewValidationError("constructor", "repositories are required")
	}
	if orchestrator == nil {
		return nil, chatservice.NewValidationError("constructor", "orchestrator is required")
	}
	if err := config.Validate(); err != nil {
		return nil, chatservice.NewValidationError("config", err.Error())
	}

	return &ChatService{
		config:           config,
		projectRepo:      projectRepo,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		orchestrator:     orchestrator,
		logger:           logger,
	}, nil
}

// Project operations

func (s *ChatService) CreateProject(ctx context.Context, name, description string) (*domain.Project, error) {
	p, err := s.projectRepo.Create(ctx, &domain.Project{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
	})
	if err != nil {
		return nil, chatservice.FromRepositoryError("create_project", err)
	}
	s.logger.Info("project created", "project_id", p.ID)
	return p, nil
}

func (s *ChatService) GetProject(ctx context.Context, projectID uint) (*domain.Project, error) {
	p, err := s.projectRepo.FindByID(ctx, projectID)
	if err != nil {
		return nil, chatservice.FromRepositoryError("get_project", err)
	}
	return p, nil
}

func (s *ChatService) ListProjects(ctx context.Context, limit, offset int) ([]domain.Project, int64, error) {
	limit, offset = normalizePage(limit, offset)
	projects, total, err := s.projectRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, chatservice.FromRepositoryError("list_projects", err)
	}
	return projects, total, nil
}

// UpdateProject applies non-nil fields.
func (s *ChatService) UpdateProject(ctx context.Context, projectID uint, name, description *string) (*domain.Project, error) {
	p, err := s.projectRepo.FindByID(ctx, projectID)
	if err != nil {
		return nil, chatservice.FromRepositoryError("update_project", err)
	}
	if name != nil {
		p.Name = strings.TrimSpace(*name)
	}
	if description != nil {
		p.Description = strings.TrimSpace(*description)
	}
	if err := s.projectRepo.Update(ctx, p); err != nil {
		return nil, chatservice.FromRepositoryError("update_project", err)
	}
	return p, nil
}

func (s *ChatService) DeleteProject(ctx context.Context, projectID uint) error {
	if err := s.projectRepo.Delete(ctx, projectID); err != nil {
		return chatservice.FromRepositoryError("delete_project", err)
	}
	s.logger.Info("project deleted", "project_id", projectID)
	return nil
}

// Conversation operations

func (s *ChatService) CreateConversation(ctx context.Context, projectID uint, title string) (*domain.Conversation, error) {
	conv, err := s.conversationRepo.Create(ctx, &domain.Conversation{
		ProjectID: projectID,
		Title:     chatservice.TruncateText(strings.TrimSpace(title), 200),
	})
	if err != nil {
		return nil, chatservice.FromRepositoryError("create_conversation", err)
	}
	return conv, nil
}

func (s *ChatService) GetConversation(ctx context.Context, conversationID uint) (*domain.Conversation, error) {
	conv, err := s.conversationRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, chatservice.FromRepositoryError("get_conversation", err)
	}
	return conv, nil
}

func (s *ChatService) ListConversations(ctx context.Context, projectID uint, limit, offset int) ([]domain.Conversation, int64, error) {
	if _, err := s.projectRepo.FindByID(ctx, projectID); err != nil {
		return nil, 0, chatservice.FromRepositoryError("list_conversations", err)
	}
	limit, offset = normalizePage(limit, offset)
	convs, total, err := s.conversationRepo.FindByProjectIDWithPagination(ctx, projectID, limit, offset)
	if err != nil {
		return nil, 0, chatservice.FromRepositoryError("list_conversations", err)
	}
	return convs, total, nil
}

func (s *ChatService) RenameConversation(ctx context.Context, conversationID uint, title string) (*domain.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, chatservice.NewValidationError("rename_conversation", "title cannot be empty")
	}
	if err := s.conversationRepo.UpdateTitle(ctx, conversationID, chatservice.TruncateText(title, 200)); err != nil {
		return nil, chatservice.FromRepositoryError("rename_conversation", err)
	}
	return s.GetConversation(ctx, conversationID)
}

func (s *ChatService) DeleteConversation(ctx context.Context, conversationID uint) error {
	if err := s.conversationRepo.Delete(ctx, conversationID); err != nil {
		return chatservice.FromRepositoryError("delete_conversation", err)
	}
	return nil
}

// Message operations

// ListMessages returns a page of messages oldest first. Completed assistant
// messages carry rendered HTML.
func (s *ChatService) ListMessages(ctx context.Context, conversationID uint, limit, offset int) ([]MessageView, int64, error) {
	exists, err := s.conversationRepo.ExistsByID(ctx, conversationID)
	if err != nil {
		return nil, 0, chatservice.FromRepositoryError("list_messages", err)
	}
	if !exists {
		return nil, 0, chatservice.NewNotFoundError("list_messages", "conversation not found")
	}

	limit, offset = normalizePage(limit, offset)
	messages, total, err := s.messageRepo.FindByConversationIDWithPagination(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, 0, chatservice.FromRepositoryError("list_messages", err)
	}

	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		view := MessageView{Message: m}
		if m.Role == domain.RoleAssistant && m.Status == domain.StatusCompleted {
			html, err := chatservice.RenderMarkdown(m.Content)
			if err != nil {
				s.logger.Warn("markdown rendering failed", "message_id", m.ID, "error", err)
			} else {
				view.ContentHTML = html
			}
		}
		views = append(views, view)
	}
	return views, total, nil
}

func (s *ChatService) SetReaction(ctx context.Context, messageID uint, reaction string) (*domain.Message, error) {
	if !domain.ValidReaction(reaction) {
		return nil, chatservice.NewValidationError("set_reaction", "reaction must be thumbs_up, thumbs_down or none")
	}
	m, err := s.messageRepo.UpdateReaction(ctx, messageID, reaction)
	if err != nil {
		return nil, chatservice.FromRepositoryError("set_reaction", err)
	}
	return m, nil
}

// DeleteMessage soft-deletes a message and returns the recomputed
// conversation metadata.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID uint) (*domain.Conversation, error) {
	conv, err := s.messageRepo.Delete(ctx, messageID)
	if err != nil {
		return nil, chatservice.FromRepositoryError("delete_message", err)
	}
	return conv, nil
}

// Streaming operations

// StartTurn begins a turn. The conversation is titled from its first
// message when it has no title yet.
func (s *ChatService) StartTurn(ctx context.Context, req chatservice.StartTurnRequest) (*chatservice.TurnHandle, error) {
	handle, err := s.orchestrator.StartTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	conv, err := s.conversationRepo.FindByID(ctx, req.ConversationID)
	if err == nil && conv.Title == "" {
		if err := s.conversationRepo.UpdateTitle(ctx, conv.ID, chatservice.ConversationTitle(req.Message)); err != nil {
			s.logger.Warn("failed to set conversation title", "conversation_id", conv.ID, "error", err)
		}
	}
	return handle, nil
}

func (s *ChatService) Regenerate(ctx context.Context, messageID uint) (*chatservice.TurnHandle, error) {
	return s.orchestrator.Regenerate(ctx, messageID)
}

func (s *ChatService) CancelStream(streamID string) error {
	return s.orchestrator.Cancel(streamID)
}

func (s *ChatService) Stream(streamID string) (*chatservice.Session, error) {
	return s.orchestrator.Session(streamID)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
