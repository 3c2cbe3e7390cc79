// File: internal/client/api.go
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ConversationMeta is the server-authoritative conversation summary.
type ConversationMeta struct {
	ID            uint       `json:"id"`
	MessageCount  int64      `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

type Project struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type Conversation struct {
	ID            uint       `json:"id"`
	ProjectID     uint       `json:"project_id"`
	Title         string     `json:"title"`
	MessageCount  int64      `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (c Conversation) Meta() ConversationMeta {
	return ConversationMeta{ID: c.ID, MessageCount: c.MessageCount, LastMessageAt: c.LastMessageAt}
}

type Message struct {
	ID               uint      `json:"id"`
	ConversationID   uint      `json:"conversation_id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	ContentHTML      string    `json:"content_html"`
	Status           string    `json:"status"`
	ParentMessageID  *uint     `json:"parent_message_id"`
	Reaction         *string   `json:"reaction"`
	TokenCount       int       `json:"token_count"`
	CompletionTimeMs int64     `json:"completion_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// TurnHandle identifies the stream of a started turn.
type TurnHandle struct {
	StreamID           string           `json:"stream_id"`
	UserMessageID      uint             `json:"user_message_id"`
	AssistantMessageID uint             `json:"assistant_message_id"`
	Conversation       ConversationMeta `json:"conversation"`
}

type page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out page[Project]
	if err := c.Do(ctx, http.MethodGet, "/api/projects", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) CreateProject(ctx context.Context, name, description string) (*Project, error) {
	var out Project
	body := map[string]string{"name": name, "description": description}
	if err := c.Do(ctx, http.MethodPost, "/api/projects", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListConversations(ctx context.Context, projectID uint) ([]Conversation, error) {
	var out page[Conversation]
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/api/projects/%d/conversations", projectID), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) CreateConversation(ctx context.Context, projectID uint, title string) (*Conversation, error) {
	var out Conversation
	body := map[string]string{"title": title}
	if err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/api/projects/%d/conversations", projectID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetConversation(ctx context.Context, conversationID uint) (*Conversation, error) {
	var out Conversation
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/api/conversations/%d", conversationID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID uint, limit, offset int) ([]Message, int64, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("offset", fmt.Sprint(offset))
	var out page[Message]
	path := fmt.Sprintf("/api/conversations/%d/messages?%s", conversationID, q.Encode())
	if err := c.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Items, out.Total, nil
}

// StartTurn submits a user message. It is the only call that creates a
// turn; reconnecting to its stream goes through Follow.
func (c *Client) StartTurn(ctx context.Context, conversationID uint, message string) (*TurnHandle, error) {
	var out TurnHandle
	body := map[string]interface{}{"conversation_id": conversationID, "message": message}
	if err := c.Do(ctx, http.MethodPost, "/api/turns", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Regenerate(ctx context.Context, messageID uint) (*TurnHandle, error) {
	var out TurnHandle
	if err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/api/messages/%d/regenerate", messageID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelStream(ctx context.Context, streamID string) error {
	return c.Do(ctx, http.MethodPost, "/api/streams/"+url.PathEscape(streamID)+"/cancel", nil, nil)
}

func (c *Client) SetReaction(ctx context.Context, messageID uint, reaction string) error {
	body := map[string]string{"reaction": reaction}
	return c.Do(ctx, http.MethodPut, fmt.Sprintf("/api/messages/%d/reaction", messageID), body, nil)
}

// Log forwards a client-side log line to the server.
func (c *Client) Log(ctx context.Context, level, message string, fields map[string]interface{}) error {
	body := map[string]interface{}{"level": level, "message": message, "context": fields}
	return c.Do(ctx, http.MethodPost, "/api/log", body, nil)
}
