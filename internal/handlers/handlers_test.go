package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyunix/go-localchat/internal/auth"
	"github.com/iyunix/go-localchat/internal/middleware"
	"github.com/iyunix/go-localchat/internal/repository/conversation"
	"github.com/iyunix/go-localchat/internal/repository/document"
	"github.com/iyunix/go-localchat/internal/repository/message"
	"github.com/iyunix/go-localchat/internal/repository/project"
	"github.com/iyunix/go-localchat/internal/repository/repotest"
	"github.com/iyunix/go-localchat/internal/services"
	"github.com/iyunix/go-localchat/internal/services/ai"
	"github.com/iyunix/go-localchat/internal/services/chat"
	"github.com/iyunix/go-localchat/internal/services/retrieval"
)

type scriptedGenerator struct {
	tokens []string
}

func (g scriptedGenerator) StreamCompletion(ctx context.Context, req ai.CompletionRequest, onDelta func(string) error) error {
	for _, tok := range g.tokens {
		if err := onDelta(tok); err != nil {
			return err
		}
	}
	return nil
}

func (g scriptedGenerator) HealthCheck(ctx context.Context) error { return nil }

type constantEmbedder struct{}

func (constantEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type testServer struct {
	handler http.Handler
	session *http.Cookie
	token   string
}

func newTestServer(t *testing.T, tokens ...string) *testServer {
	t.Helper()
	db := repotest.Open(t)
	logger := repotest.NopLogger{}

	projects := project.NewProjectRepository(db, logger)
	conversations := conversation.NewConversationRepository(db, logger)
	messages := message.NewMessageRepository(db, logger)

	config := chat.DefaultConfig()
	config.StreamTimeout = 5 * time.Second
	hub := chat.NewHub(time.Minute, logger)
	orchestrator := chat.NewOrchestrator(config, conversations, messages, scriptedGenerator{tokens: tokens}, nil, hub, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orchestrator.Shutdown(ctx)
	})

	chatService, err := services.NewChatService(config, projects, conversations, messages, orchestrator, logger)
	require.NoError(t, err)

	retrievalConfig := retrieval.DefaultConfig()
	retrievalService := retrieval.NewService(retrievalConfig, retrieval.NewLocalIndex(db, logger), constantEmbedder{}, logger)
	documentService := services.NewDocumentService(document.NewDocumentRepository(db, logger), retrievalService, logger)

	manager, err := auth.NewCSRFManager([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	handler := NewRouter(RouterConfig{
		Chat:        NewChatHandler(chatService, logger),
		Streams:     NewStreamHandler(chatService, config, logger),
		CSRF:        NewCSRFHandler(manager, false, logger),
		Documents:   NewDocumentHandler(documentService, logger),
		Log:         NewLogHandler(logger),
		CSRFManager: manager,
		Logger:      logger,
	})

	ts := &testServer{handler: handler}
	w := ts.do(t, "GET", "/api/csrf-token", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body csrfTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.CSRFToken)
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			ts.session = c
		}
	}
	require.NotNil(t, ts.session)
	ts.token = body.CSRFToken
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	if ts.session != nil {
		r.AddCookie(ts.session)
	}
	if ts.token != "" {
		r.Header.Set(middleware.CSRFHeader, ts.token)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

type sseEvent struct {
	id    string
	event string
	data  string
}

func parseSSE(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "id: "):
				ev.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				ev.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.event != "" {
			events = append(events, ev)
		}
	}
	return events
}

func (ts *testServer) createConversation(t *testing.T) (uint, uint) {
	t.Helper()
	w := ts.do(t, "POST", "/api/projects", map[string]string{"name": "Notes"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p struct{ ID uint }
	decode(t, w, &p)

	w = ts.do(t, "POST", "/api/projects/"+strconv.Itoa(int(p.ID))+"/conversations", map[string]string{}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var c struct{ ID uint }
	decode(t, w, &c)
	return p.ID, c.ID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	w := ts.do(t, "POST", "/api/projects", map[string]string{"name": "x"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, auth.CodeCSRFTokenInvalid, body["code"])

	w = ts.do(t, "POST", "/api/log", map[string]string{"level": "info", "message": "hello"}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, "POST", "/api/projects", map[string]string{"name": "x"}, map[string]string{"Origin": "http://evil.test"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	decode(t, w, &body)
	assert.Equal(t, auth.CodeCSRFOriginMismatch, body["code"])
}

func TestProjectLifecycle(t *testing.T) {
	ts := newTestServer(t)
	projectID, conversationID := ts.createConversation(t)
	pid := strconv.Itoa(int(projectID))

	w := ts.do(t, "PATCH", "/api/projects/"+pid, map[string]string{"description": "work"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p struct {
		Name        string
		Description string
	}
	decode(t, w, &p)
	assert.Equal(t, "Notes", p.Name)
	assert.Equal(t, "work", p.Description)

	w = ts.do(t, "GET", "/api/projects/"+pid+"/conversations", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct{ Total int64 }
	decode(t, w, &list)
	assert.Equal(t, int64(1), list.Total)

	w = ts.do(t, "DELETE", "/api/projects/"+pid, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, "GET", "/api/conversations/"+strconv.Itoa(int(conversationID)), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var errBody map[string]string
	decode(t, w, &errBody)
	assert.NotEmpty(t, errBody["request_id"])
}

func TestTurnStreamsToCompletion(t *testing.T) {
	ts := newTestServer(t, "Hello", " **world**")
	_, conversationID := ts.createConversation(t)

	w := ts.do(t, "POST", "/api/turns", map[string]interface{}{
		"conversation_id": conversationID,
		"message":         "Say hello",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var handle chat.TurnHandle
	decode(t, w, &handle)
	require.NotEmpty(t, handle.StreamID)
	assert.NotZero(t, handle.UserMessageID)
	assert.Equal(t, int64(1), handle.Conversation.MessageCount)

	w = ts.do(t, "GET", "/api/streams/"+handle.StreamID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSE(w.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, chat.EventComplete, last.event)

	var text strings.Builder
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, chat.EventToken, ev.event)
		var tok chat.TokenEvent
		require.NoError(t, json.Unmarshal([]byte(ev.data), &tok))
		text.WriteString(tok.Text)
	}
	assert.Equal(t, "Hello **world**", text.String())

	var complete chat.CompleteEvent
	require.NoError(t, json.Unmarshal([]byte(last.data), &complete))
	assert.Equal(t, handle.AssistantMessageID, complete.MessageID)
	assert.Equal(t, int64(2), complete.Conversation.MessageCount)

	t.Run("reattach replays after Last-Event-ID", func(t *testing.T) {
		w := ts.do(t, "GET", "/api/streams/"+handle.StreamID, nil, map[string]string{"Last-Event-ID": events[0].id})
		replay := parseSSE(w.Body.String())
		require.Len(t, replay, len(events)-1)
		assert.Equal(t, events[1].id, replay[0].id)
		assert.Equal(t, chat.EventComplete, replay[len(replay)-1].event)
	})

	t.Run("messages carry rendered html", func(t *testing.T) {
		w := ts.do(t, "GET", "/api/conversations/"+strconv.Itoa(int(conversationID))+"/messages", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list struct {
			Items []struct {
				Role        string `json:"role"`
				Content     string `json:"content"`
				ContentHTML string `json:"content_html"`
			} `json:"items"`
		}
		decode(t, w, &list)
		require.Len(t, list.Items, 2)
		assert.Equal(t, "Say hello", list.Items[0].Content)
		assert.Contains(t, list.Items[1].ContentHTML, "<strong>world</strong>")
	})

	t.Run("conversation is titled from the first message", func(t *testing.T) {
		w := ts.do(t, "GET", "/api/conversations/"+strconv.Itoa(int(conversationID)), nil, nil)
		var conv struct{ Title string }
		decode(t, w, &conv)
		assert.Equal(t, "Say hello", conv.Title)
	})
}

func TestTurnValidation(t *testing.T) {
	ts := newTestServer(t, "x")
	_, conversationID := ts.createConversation(t)

	w := ts.do(t, "POST", "/api/turns", map[string]interface{}{"conversation_id": conversationID, "message": "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", "/api/turns", map[string]interface{}{"conversation_id": 999, "message": "hi"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, "POST", "/api/turns", map[string]interface{}{"message": "hi"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownStream(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/api/streams/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, "POST", "/api/streams/nope/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReactionValidation(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "PUT", "/api/messages/1/reaction", map[string]string{"reaction": "love"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentUpload(t *testing.T) {
	ts := newTestServer(t)
	projectID, _ := ts.createConversation(t)
	path := "/api/projects/" + strconv.Itoa(int(projectID)) + "/documents"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "guide.md")
	require.NoError(t, err)
	_, err = part.Write([]byte("Go channels connect goroutines.\n\nSelect waits on many channels."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest("POST", path, &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r.AddCookie(ts.session)
	r.Header.Set(middleware.CSRFHeader, ts.token)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var doc struct {
		ID     uint   `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	decode(t, w, &doc)
	assert.Equal(t, "guide.md", doc.Name)
	assert.Equal(t, "ready", doc.Status)

	w = ts.do(t, "POST", path, map[string]string{"name": "empty.txt", "content": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "GET", path, nil, nil)
	var list struct{ Total int64 }
	decode(t, w, &list)
	assert.Equal(t, int64(1), list.Total)

	w = ts.do(t, "DELETE", "/api/documents/"+strconv.Itoa(int(doc.ID)), nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
