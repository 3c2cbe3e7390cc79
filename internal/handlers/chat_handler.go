// File: internal/handlers/chat_handler.go
package handlers

import (
	"net/http"

	"github.com/iyunix/go-localchat/internal/services"
	"github.com/iyunix/go-localchat/internal/services/chat"
)

type ChatHandler struct {
	ChatService *services.ChatService
	logger      Logger
}

func NewChatHandler(cs *services.ChatService, logger Logger) *ChatHandler {
	return &ChatHandler{
		ChatService: cs,
		logger:      logger,
	}
}

// --- Projects ---

type projectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (h *ChatHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	projects, total, err := h.ChatService.ListProjects(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: projects, Total: total})
}

func (h *ChatHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var name, description string
	if req.Name != nil {
		name = *req.Name
	}
	if req.Description != nil {
		description = *req.Description
	}
	p, err := h.ChatService.CreateProject(r.Context(), name, description)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ChatHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid project ID", http.StatusBadRequest)
		return
	}
	p, err := h.ChatService.GetProject(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ChatHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid project ID", http.StatusBadRequest)
		return
	}
	var req projectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.ChatService.UpdateProject(r.Context(), projectID, req.Name, req.Description)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ChatHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid project ID", http.StatusBadRequest)
		return
	}
	if err := h.ChatService.DeleteProject(r.Context(), projectID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Conversations ---

type conversationRequest struct {
	Title string `json:"title"`
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid project ID", http.StatusBadRequest)
		return
	}
	limit, offset := pageParams(r)
	convs, total, err := h.ChatService.ListConversations(r.Context(), projectID, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: convs, Total: total})
}

func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid project ID", http.StatusBadRequest)
		return
	}
	var req conversationRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	conv, err := h.ChatService.CreateConversation(r.Context(), projectID, req.Title)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}
	conv, err := h.ChatService.GetConversation(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}
	var req conversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	conv, err := h.ChatService.RenameConversation(r.Context(), conversationID, req.Title)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}
	if err := h.ChatService.DeleteConversation(r.Context(), conversationID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Messages ---

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}
	limit, offset := pageParams(r)
	messages, total, err := h.ChatService.ListMessages(r.Context(), conversationID, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: messages, Total: total})
}

func (h *ChatHandler) SetReaction(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid message ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Reaction string `json:"reaction"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.ChatService.SetReaction(r.Context(), messageID, req.Reaction)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid message ID", http.StatusBadRequest)
		return
	}
	conv, err := h.ChatService.DeleteMessage(r.Context(), messageID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversation": conv.Meta()})
}

// --- Turns ---

type startTurnRequest struct {
	ConversationID uint   `json:"conversation_id"`
	ProjectID      uint   `json:"project_id"`
	Message        string `json:"message"`
}

// StartTurn persists the user message and returns the stream to follow.
func (h *ChatHandler) StartTurn(w http.ResponseWriter, r *http.Request) {
	var req startTurnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ConversationID == 0 {
		writeError(w, "conversation_id is required", http.StatusBadRequest)
		return
	}
	handle, err := h.ChatService.StartTurn(r.Context(), chat.StartTurnRequest{
		ConversationID: req.ConversationID,
		ProjectID:      req.ProjectID,
		Message:        req.Message,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (h *ChatHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid message ID", http.StatusBadRequest)
		return
	}
	handle, err := h.ChatService.Regenerate(r.Context(), messageID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}
