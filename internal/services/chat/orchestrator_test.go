package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository/message"
	"github.com/iyunix/go-localchat/internal/repository/repotest"
	"github.com/iyunix/go-localchat/internal/services/ai"
	"github.com/iyunix/go-localchat/internal/services/retrieval"
)

type fakeGenerator struct {
	tokens        []string
	err           error
	panicMsg      string
	waitForCancel bool
	started       chan struct{}

	mu      sync.Mutex
	prompts []string
}

func (g *fakeGenerator) StreamCompletion(ctx context.Context, req ai.CompletionRequest, onDelta func(string) error) error {
	g.mu.Lock()
	g.prompts = append(g.prompts, req.Prompt)
	g.mu.Unlock()

	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	for _, tok := range g.tokens {
		if err := onDelta(tok); err != nil {
			return err
		}
	}
	if g.started != nil {
		close(g.started)
	}
	if g.waitForCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	return g.err
}

func (g *fakeGenerator) HealthCheck(ctx context.Context) error { return nil }

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type fakeRetriever struct {
	matches []retrieval.Match
}

func (r fakeRetriever) Retrieve(ctx context.Context, projectID uint, query string) ([]retrieval.Match, error) {
	return r.matches, nil
}

func newOrchestrator(t *testing.T, f *fixture, gen ai.CompletionProvider, mutate func(*Config)) *Orchestrator {
	t.Helper()
	config := DefaultConfig()
	config.StreamTimeout = 5 * time.Second
	if mutate != nil {
		mutate(config)
	}
	o := NewOrchestrator(config, f.conversations, f.messages, gen, nil, NewHub(time.Minute, repotest.NopLogger{}), repotest.NopLogger{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

// collect reads the session until its terminal event and checks that no
// event follows it.
func collect(t *testing.T, o *Orchestrator, streamID string) []Event {
	t.Helper()
	s, err := o.Session(streamID)
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	var last uint64
	var events []Event
	for {
		batch, notify, done := s.Since(last)
		for _, e := range batch {
			last = e.ID
			events = append(events, e)
		}
		if done {
			break
		}
		select {
		case <-notify:
		case <-deadline:
			t.Fatal("timed out waiting for terminal event")
		}
	}

	terminal := 0
	for _, e := range events {
		if e.Terminal() {
			terminal++
		}
	}
	require.Equal(t, 1, terminal, "exactly one terminal event")
	require.True(t, events[len(events)-1].Terminal())

	require.Eventually(t, func() bool { return o.ActiveTurns() == 0 }, 5*time.Second, 5*time.Millisecond)
	return events
}

func decode(t *testing.T, e Event, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, v))
}

func assertStatsConsistent(t *testing.T, f *fixture) *domain.Conversation {
	t.Helper()
	var conv domain.Conversation
	require.NoError(t, f.db.First(&conv, f.conv.ID).Error)

	var counted []domain.Message
	require.NoError(t, f.db.
		Where("conversation_id = ? AND status = ? AND TRIM(content) <> ''", f.conv.ID, domain.StatusCompleted).
		Order("created_at DESC, id DESC").
		Find(&counted).Error)

	assert.EqualValues(t, len(counted), conv.MessageCount)
	if len(counted) > 0 {
		require.NotNil(t, conv.LastMessageAt)
		assert.WithinDuration(t, counted[0].CreatedAt, *conv.LastMessageAt, time.Millisecond)
	}
	return &conv
}

func TestTurnCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	answer := strings.Repeat("x", 465)

	prior, err := f.messages.CreateTurn(ctx, f.conv.ID, "What is IEC 62443?")
	require.NoError(t, err)
	_, err = f.messages.Finalize(ctx, message.FinalizeInput{MessageID: prior.Placeholder.ID, Status: domain.StatusCompleted, Content: answer})
	require.NoError(t, err)

	gen := &fakeGenerator{tokens: []string{"Part 1", ", Part 2"}}
	o := newOrchestrator(t, f, gen, nil)

	handle, err := o.StartTurn(ctx, StartTurnRequest{ConversationID: f.conv.ID, ProjectID: f.project.ID, Message: "  Can you list the key parts?  "})
	require.NoError(t, err)
	assert.NotEmpty(t, handle.StreamID)
	assert.EqualValues(t, 3, handle.Conversation.MessageCount)

	events := collect(t, o, handle.StreamID)
	require.Len(t, events, 3)
	assert.Equal(t, EventToken, events[0].Type)
	assert.Equal(t, EventComplete, events[2].Type)

	want := "User: What is IEC 62443?\n\nAssistant: " + answer + "\n\nUser: Can you list the key parts?\n\nAssistant:"
	assert.Equal(t, want, gen.lastPrompt())

	var complete CompleteEvent
	decode(t, events[2], &complete)
	assert.Equal(t, handle.AssistantMessageID, complete.MessageID)
	assert.Greater(t, complete.TokenCount, 0)
	assert.EqualValues(t, 4, complete.Conversation.MessageCount)

	stored, err := f.messages.FindByID(ctx, handle.AssistantMessageID)
	require.NoError(t, err)
	assert.Equal(t, "Part 1, Part 2", stored.Content)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, complete.TokenCount, stored.TokenCount)

	conv := assertStatsConsistent(t, f)
	assert.EqualValues(t, 4, conv.MessageCount)
}

func TestTurnFailsMidStream(t *testing.T) {
	f := newFixture(t)
	tokens := make([]string, 40)
	for i := range tokens {
		tokens[i] = "tok "
	}
	gen := &fakeGenerator{tokens: tokens, err: errors.New("connection reset by peer")}
	o := newOrchestrator(t, f, gen, nil)

	handle, err := o.StartTurn(context.Background(), StartTurnRequest{ConversationID: f.conv.ID, Message: "hello"})
	require.NoError(t, err)

	events := collect(t, o, handle.StreamID)
	require.Len(t, events, 41)
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)

	var failure ErrorEvent
	decode(t, last, &failure)
	assert.Equal(t, ReasonFailed, failure.Reason)
	assert.NotEmpty(t, failure.CorrelationID)
	assert.NotContains(t, failure.Message, "connection reset")

	stored, err := f.messages.FindByID(context.Background(), handle.AssistantMessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureMarker, stored.Content)
	assert.Equal(t, domain.StatusFailed, stored.Status)

	conv := assertStatsConsistent(t, f)
	assert.Equal(t, handle.Conversation.MessageCount, conv.MessageCount)
	require.NotNil(t, handle.Conversation.LastMessageAt)
	assert.WithinDuration(t, *handle.Conversation.LastMessageAt, *conv.LastMessageAt, time.Millisecond)
}

func TestZeroTokenSuccessFails(t *testing.T) {
	f := newFixture(t)
	o := newOrchestrator(t, f, &fakeGenerator{tokens: []string{"", "  "}}, nil)

	handle, err := o.StartTurn(context.Background(), StartTurnRequest{ConversationID: f.conv.ID, Message: "hello"})
	require.NoError(t, err)

	events := collect(t, o, handle.StreamID)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)

	stored, err := f.messages.FindByID(context.Background(), handle.AssistantMessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestProviderPanicFails(t *testing.T) {
	f := newFixture(t)
	o := newOrchestrator(t, f, &fakeGenerator{panicMsg: "boom"}, nil)

	handle, err := o.StartTurn(context.Background(), StartTurnRequest{ConversationID: f.conv.ID, Message: "hello"})
	require.NoError(t, err)

	events := collect(t, o, handle.StreamID)
	var failure ErrorEvent
	decode(t, events[len(events)-1], &failure)
	assert.Equal(t, ReasonFailed, failure.Reason)
	assert.NotContains(t, failure.Message, "boom")
}

func TestCancelKeepsPartialContent(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{tokens: []string{"partial"}, waitForCancel: true, started: make(chan struct{})}
	o := newOrchestrator(t, f, gen, nil)

	handle, err := o.StartTurn(context.Background(), StartTurnRequest{ConversationID: f.conv.ID, Message: "hello"})
	require.NoError(t, err)

	<-gen.started
	require.Eventually(t, func() bool {
		s, _ := o.Session(handle.StreamID)
		events, _, _ := s.Since(0)
		return len(events) == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, o.Cancel(handle.StreamID))

	events := collect(t, o, handle.StreamID)
	var cancelled ErrorEvent
	decode(t, events[len(events)-1], &cancelled)
	assert.Equal(t, ReasonCancelled, cancelled.Reason)

	stored, err := f.messages.FindByID(context.Background(), handle.AssistantMessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.Equal(t, "partial", stored.Content)
	assertStatsConsistent(t, f)

	// cancelling a finished turn is harmless
	assert.NoError(t, o.Cancel(handle.StreamID))
	var chatErr *ChatError
	require.ErrorAs(t, o.Cancel("missing"), &chatErr)
	assert.Equal(t, ErrTypeNotFound, chatErr.Type)
}

func TestConcurrentTurnRejected(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{waitForCancel: true, started: make(chan struct{})}
	o := newOrchestrator(t, f, gen, nil)
	ctx := context.Background()

	handle, err := o.StartTurn(ctx, StartTurnRequest{ConversationID: f.conv.ID, Message: "first"})
	require.NoError(t, err)
	<-gen.started

	_, err = o.StartTurn(ctx, StartTurnRequest{ConversationID: f.conv.ID, Message: "second"})
	var chatErr *ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, ErrTypeConflict, chatErr.Type)

	require.NoError(t, o.Cancel(handle.StreamID))
	collect(t, o, handle.StreamID)

	var count int64
	require.NoError(t, f.db.Model(&domain.Message{}).Where("conversation_id = ? AND role = ?", f.conv.ID, domain.RoleUser).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestStartTurnValidation(t *testing.T) {
	f := newFixture(t)
	o := newOrchestrator(t, f, &fakeGenerator{tokens: []string{"ok"}}, func(c *Config) { c.MaxMessageChars = 10 })
	ctx := context.Background()

	cases := []struct {
		name string
		req  StartTurnRequest
		want ErrorType
	}{
		{"blank message", StartTurnRequest{ConversationID: f.conv.ID, Message: "  \n"}, ErrTypeValidation},
		{"too long", StartTurnRequest{ConversationID: f.conv.ID, Message: strings.Repeat("a", 11)}, ErrTypeValidation},
		{"wrong project", StartTurnRequest{ConversationID: f.conv.ID, ProjectID: f.project.ID + 1, Message: "hi"}, ErrTypeValidation},
		{"unknown conversation", StartTurnRequest{ConversationID: 999, Message: "hi"}, ErrTypeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.StartTurn(ctx, tc.req)
			var chatErr *ChatError
			require.ErrorAs(t, err, &chatErr)
			assert.Equal(t, tc.want, chatErr.Type)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&domain.Message{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubscriberLossFailsNonResumableTurn(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{waitForCancel: true, started: make(chan struct{})}
	o := newOrchestrator(t, f, gen, func(c *Config) { c.ResumableStreams = false })

	handle, err := o.StartTurn(context.Background(), StartTurnRequest{ConversationID: f.conv.ID, Message: "hello"})
	require.NoError(t, err)
	<-gen.started

	s, err := o.Session(handle.StreamID)
	require.NoError(t, err)
	s.Attach()
	s.Detach()

	events := collect(t, o, handle.StreamID)
	var failure ErrorEvent
	decode(t, events[len(events)-1], &failure)
	assert.Equal(t, ReasonFailed, failure.Reason)
	assert.Contains(t, failure.Message, "resend")

	stored, err := f.messages.FindByID(context.Background(), handle.AssistantMessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestSubscriberLossKeepsResumableTurn(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{tokens: []string{"done"}}
	o := newOrchestrator(t, f, gen, nil)

	handle, err := o.StartTurn(context.Background(), StartTurnRequest{ConversationID: f.conv.ID, Message: "hello"})
	require.NoError(t, err)
	s, err := o.Session(handle.StreamID)
	require.NoError(t, err)
	s.Attach()
	s.Detach()

	events := collect(t, o, handle.StreamID)
	assert.Equal(t, EventComplete, events[len(events)-1].Type)
}

func TestRegenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gen := &fakeGenerator{tokens: []string{"first answer"}}
	o := newOrchestrator(t, f, gen, nil)

	handle, err := o.StartTurn(ctx, StartTurnRequest{ConversationID: f.conv.ID, Message: "question"})
	require.NoError(t, err)
	collect(t, o, handle.StreamID)

	gen.tokens = []string{"second answer"}
	regen, err := o.Regenerate(ctx, handle.AssistantMessageID)
	require.NoError(t, err)
	events := collect(t, o, regen.StreamID)
	assert.Equal(t, EventComplete, events[len(events)-1].Type)

	assert.Equal(t, "User: question\n\nAssistant:", gen.lastPrompt())

	stored, err := f.messages.FindByID(ctx, regen.AssistantMessageID)
	require.NoError(t, err)
	require.NotNil(t, stored.ParentMessageID)
	assert.Equal(t, handle.AssistantMessageID, *stored.ParentMessageID)
	assert.Equal(t, "second answer", stored.Content)

	_, err = o.Regenerate(ctx, handle.UserMessageID)
	var chatErr *ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, ErrTypeValidation, chatErr.Type)
}

func TestRegeneratedAnswerReplacesOriginalInLaterTurns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gen := &fakeGenerator{tokens: []string{"answer"}}
	o := newOrchestrator(t, f, gen, nil)

	first, err := o.StartTurn(ctx, StartTurnRequest{ConversationID: f.conv.ID, Message: "Q1"})
	require.NoError(t, err)
	collect(t, o, first.StreamID)
	second, err := o.StartTurn(ctx, StartTurnRequest{ConversationID: f.conv.ID, Message: "Q2"})
	require.NoError(t, err)
	collect(t, o, second.StreamID)

	gen.tokens = []string{"REGEN"}
	regen, err := o.Regenerate(ctx, first.AssistantMessageID)
	require.NoError(t, err)
	collect(t, o, regen.StreamID)
	assert.Equal(t, "User: Q1\n\nAssistant:", gen.lastPrompt())

	gen.tokens = []string{"three"}
	third, err := o.StartTurn(ctx, StartTurnRequest{ConversationID: f.conv.ID, Message: "Q3"})
	require.NoError(t, err)
	collect(t, o, third.StreamID)
	assert.Equal(t, "User: Q1\n\nAssistant: REGEN\n\nUser: Q2\n\nAssistant: answer\n\nUser: Q3\n\nAssistant:", gen.lastPrompt())

	// the original answer now has a newer version; only that one can be regenerated
	_, err = o.Regenerate(ctx, first.AssistantMessageID)
	var chatErr *ChatError
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, ErrTypeConflict, chatErr.Type)

	gen.tokens = []string{"REGEN 2"}
	again, err := o.Regenerate(ctx, regen.AssistantMessageID)
	require.NoError(t, err)
	collect(t, o, again.StreamID)
	assert.Equal(t, "User: Q1\n\nAssistant:", gen.lastPrompt())

	gen.tokens = []string{"four"}
	fourth, err := o.StartTurn(ctx, StartTurnRequest{ConversationID: f.conv.ID, Message: "Q4"})
	require.NoError(t, err)
	collect(t, o, fourth.StreamID)
	assert.Equal(t, "User: Q1\n\nAssistant: REGEN 2\n\nUser: Q2\n\nAssistant: answer\n\nUser: Q3\n\nAssistant: three\n\nUser: Q4\n\nAssistant:", gen.lastPrompt())
}

func TestRegenerateLaterAnswerSeesOnlyEarlierTurns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gen := &fakeGenerator{tokens: []string{"answer"}}
	o := newOrchestrator(t, f, gen, nil)

	first, err := o.StartTurn(ctx, StartTurnRequest{ConversationID: f.conv.ID, Message: "Q1"})
	require.NoError(t, err)
	collect(t, o, first.StreamID)
	second, err := o.StartTurn(ctx, StartTurnRequest{ConversationID: f.conv.ID, Message: "Q2"})
	require.NoError(t, err)
	collect(t, o, second.StreamID)

	gen.tokens = []string{"REGEN"}
	regen, err := o.Regenerate(ctx, first.AssistantMessageID)
	require.NoError(t, err)
	collect(t, o, regen.StreamID)

	// the regenerated first answer has a larger id but still belongs before Q2
	gen.tokens = []string{"better"}
	again, err := o.Regenerate(ctx, second.AssistantMessageID)
	require.NoError(t, err)
	collect(t, o, again.StreamID)
	assert.Equal(t, "User: Q1\n\nAssistant: REGEN\n\nUser: Q2\n\nAssistant:", gen.lastPrompt())
}

func TestNextTurnAcceptedOnTerminalEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := newOrchestrator(t, f, &fakeGenerator{tokens: []string{"done"}}, nil)

	for i := 0; i < 20; i++ {
		handle, err := o.StartTurn(ctx, StartTurnRequest{ConversationID: f.conv.ID, Message: "again"})
		require.NoError(t, err, "turn %d", i)

		s, err := o.Session(handle.StreamID)
		require.NoError(t, err)
		var last uint64
		for {
			batch, notify, done := s.Since(last)
			if len(batch) > 0 {
				last = batch[len(batch)-1].ID
			}
			if done {
				break
			}
			select {
			case <-notify:
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for terminal event")
			}
		}
	}
}

func TestTurnWithRetrievedContext(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{tokens: []string{"answer"}}
	config := DefaultConfig()
	rag := NewRAGService(config, fakeRetriever{matches: []retrieval.Match{
		{ChunkID: 1, DocumentName: "setup_guide.md", Content: "Install with make.", Score: 0.9},
		{ChunkID: 2, DocumentName: "setup_guide.md", Content: "Run make test.", Score: 0.8},
	}}, repotest.NopLogger{})
	o := NewOrchestrator(config, f.conversations, f.messages, gen, rag, NewHub(time.Minute, repotest.NopLogger{}), repotest.NopLogger{})

	handle, err := o.StartTurn(context.Background(), StartTurnRequest{ConversationID: f.conv.ID, Message: "how do I install?"})
	require.NoError(t, err)
	events := collect(t, o, handle.StreamID)

	var complete CompleteEvent
	decode(t, events[len(events)-1], &complete)
	assert.Equal(t, []string{"setup guide"}, complete.Sources)

	prompt := gen.lastPrompt()
	assert.Contains(t, prompt, "Install with make.")
	assert.True(t, strings.HasSuffix(prompt, "User: how do I install?\n\nAssistant:"))
	assert.Less(t, strings.Index(prompt, "Install with make."), strings.Index(prompt, "User: how do I install?"))
}

func TestRecoverStale(t *testing.T) {
	f := newFixture(t)
	_, err := f.messages.CreateTurn(context.Background(), f.conv.ID, "orphaned")
	require.NoError(t, err)

	o := newOrchestrator(t, f, &fakeGenerator{}, nil)
	require.NoError(t, o.RecoverStale(context.Background()))

	var streaming int64
	require.NoError(t, f.db.Model(&domain.Message{}).Where("status = ?", domain.StatusStreaming).Count(&streaming).Error)
	assert.Zero(t, streaming)
}
