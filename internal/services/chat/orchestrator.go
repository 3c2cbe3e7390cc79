// File: internal/services/chat/orchestrator.go
package chat

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository/conversation"
	"github.com/iyunix/go-localchat/internal/repository/message"
	"github.com/iyunix/go-localchat/internal/services/ai"
)

// Causes for a turn context being cancelled.
var (
	ErrTurnCancelled     = stderrors.New("turn cancelled by client")
	ErrStreamInterrupted = stderrors.New("stream subscriber disconnected")
	ErrShuttingDown      = stderrors.New("server shutting down")
	errNoOutput          = stderrors.New("model returned no tokens")
)

const tokenBuffer = 64

// Orchestrator runs the per-turn state machine: it persists the turn,
// streams the model output into a hub session and writes the outcome once.
type Orchestrator struct {
	config        *Config
	conversations conversation.ConversationRepository
	messages      message.MessageRepository
	history       *HistoryAssembler
	generator     ai.CompletionProvider
	rag           *RAGService
	sources       *SourceExtractor
	hub           *Hub
	logger        Logger

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	mu     sync.Mutex
	active map[uint]string // conversation id -> stream id
	turns  map[string]*turn
	wg     sync.WaitGroup
}

type turn struct {
	streamID       string
	conversationID uint
	projectID      uint
	placeholderID  uint
	beforeID       uint
	session        *Session
	cancel         context.CancelCauseFunc
}

type turnResult struct {
	state   TurnState
	content string
	deltas  int
	sources []string
	err     error
}

func NewOrchestrator(
	config *Config,
	conversations conversation.ConversationRepository,
	messages message.MessageRepository,
	generator ai.CompletionProvider,
	rag *RAGService,
	hub *Hub,
	logger Logger,
) *Orchestrator {
	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	return &Orchestrator{
		config:        config,
		conversations: conversations,
		messages:      messages,
		history:       NewHistoryAssembler(conversations, messages, logger),
		generator:     generator,
		rag:           rag,
		sources:       NewSourceExtractor(config, logger),
		hub:           hub,
		logger:        logger,
		baseCtx:       baseCtx,
		baseCancel:    baseCancel,
		active:        make(map[uint]string),
		turns:         make(map[string]*turn),
	}
}

// StartTurn persists the user message and an assistant placeholder, then
// starts generation in the background.
func (o *Orchestrator) StartTurn(ctx context.Context, req StartTurnRequest) (*TurnHandle, error) {
	content := strings.TrimSpace(req.Message)
	if content == "" {
		return nil, NewValidationError("start_turn", "message cannot be empty")
	}
	if utf8.RuneCountInString(content) > o.config.MaxMessageChars {
		return nil, NewValidationError("start_turn", fmt.Sprintf("message exceeds %d characters", o.config.MaxMessageChars))
	}

	conv, err := o.conversations.FindByID(ctx, req.ConversationID)
	if err != nil {
		return nil, FromRepositoryError("start_turn", err)
	}
	if req.ProjectID != 0 && conv.ProjectID != req.ProjectID {
		return nil, NewValidationError("start_turn", "conversation does not belong to this project")
	}

	streamID := shortuuid.New()
	if err := o.reserve(conv.ID, streamID); err != nil {
		return nil, err
	}

	records, err := o.messages.CreateTurn(ctx, conv.ID, content)
	if err != nil {
		o.release(conv.ID, streamID)
		return nil, FromRepositoryError("start_turn", err)
	}

	o.launch(streamID, conv.ProjectID, 0, records)

	return &TurnHandle{
		StreamID:           streamID,
		UserMessageID:      records.UserMessage.ID,
		AssistantMessageID: records.Placeholder.ID,
		Conversation:       records.Conversation.Meta(),
	}, nil
}

// Regenerate streams a new answer for an assistant message. The new
// placeholder links to it through ParentMessageID and replaces it in later
// history once completed. Only the newest completed version of an answer
// can be regenerated.
func (o *Orchestrator) Regenerate(ctx context.Context, messageID uint) (*TurnHandle, error) {
	target, err := o.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, FromRepositoryError("regenerate", err)
	}
	if target.Role != domain.RoleAssistant {
		return nil, NewValidationError("regenerate", "only assistant messages can be regenerated")
	}
	conv, err := o.conversations.FindByID(ctx, target.ConversationID)
	if err != nil {
		return nil, FromRepositoryError("regenerate", err)
	}

	streamID := shortuuid.New()
	if err := o.reserve(conv.ID, streamID); err != nil {
		return nil, err
	}

	records, err := o.messages.CreateRegeneration(ctx, target.ID)
	if err != nil {
		o.release(conv.ID, streamID)
		return nil, FromRepositoryError("regenerate", err)
	}

	// History for every version of an answer ends where the first one began.
	o.launch(streamID, conv.ProjectID, records.Root.ID, records)

	return &TurnHandle{
		StreamID:           streamID,
		AssistantMessageID: records.Placeholder.ID,
		Conversation:       records.Conversation.Meta(),
	}, nil
}

// Cancel stops a running turn. Cancelling a finished turn is a no-op.
func (o *Orchestrator) Cancel(streamID string) error {
	o.mu.Lock()
	t, ok := o.turns[streamID]
	o.mu.Unlock()
	if ok {
		t.cancel(ErrTurnCancelled)
		o.logger.Info("turn cancellation requested", "stream_id", streamID, "conversation_id", t.conversationID)
		return nil
	}
	if _, err := o.hub.Get(streamID); err != nil {
		return NewNotFoundError("cancel", "stream not found")
	}
	return nil
}

// Session exposes the event log of a turn to stream readers.
func (o *Orchestrator) Session(streamID string) (*Session, error) {
	s, err := o.hub.Get(streamID)
	if err != nil {
		return nil, NewNotFoundError("stream", "stream not found")
	}
	return s, nil
}

// RecoverStale fails placeholders left streaming by a previous process.
func (o *Orchestrator) RecoverStale(ctx context.Context) error {
	n, err := o.messages.FailStaleStreaming(ctx)
	if err != nil {
		return FromRepositoryError("recover_stale", err)
	}
	if n > 0 {
		o.logger.Warn("marked interrupted generations as failed", "count", n)
	}
	return nil
}

// Shutdown cancels running turns and waits for them to persist their
// outcome, or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.baseCancel(ErrShuttingDown)
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveTurns reports how many generations are running.
func (o *Orchestrator) ActiveTurns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.turns)
}

func (o *Orchestrator) reserve(conversationID uint, streamID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[conversationID]; busy {
		return NewConflictError("start_turn", "a response is already being generated for this conversation")
	}
	o.active[conversationID] = streamID
	return nil
}

func (o *Orchestrator) release(conversationID uint, streamID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[conversationID] == streamID {
		delete(o.active, conversationID)
	}
	delete(o.turns, streamID)
}

func (o *Orchestrator) launch(streamID string, projectID, beforeID uint, records *message.TurnRecords) {
	ctx, cancel := context.WithCancelCause(o.baseCtx)
	t := &turn{
		streamID:       streamID,
		conversationID: records.Conversation.ID,
		projectID:      projectID,
		placeholderID:  records.Placeholder.ID,
		beforeID:       beforeID,
		session:        o.hub.Open(streamID, records.Conversation.ID, records.Placeholder.ID),
		cancel:         cancel,
	}
	if !o.config.ResumableStreams {
		t.session.setDetachHook(func() { cancel(ErrStreamInterrupted) })
	}

	o.mu.Lock()
	o.turns[streamID] = t
	o.mu.Unlock()

	o.logger.Info("turn started",
		"stream_id", streamID,
		"conversation_id", t.conversationID,
		"assistant_message_id", t.placeholderID,
		"regenerates", beforeID)

	o.wg.Add(1)
	go o.run(ctx, t)
}

func (o *Orchestrator) run(ctx context.Context, t *turn) {
	defer o.wg.Done()
	defer o.release(t.conversationID, t.streamID)
	defer t.cancel(nil)

	start := time.Now()
	var result turnResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result = turnResult{state: StateFailed, err: fmt.Errorf("panic during generation: %v", r)}
			}
		}()
		result = o.generate(ctx, t)
	}()

	o.finish(t, result, time.Since(start))
}

// generate is the Streaming state. The provider runs in its own goroutine
// and hands deltas over a channel; this loop accumulates them and feeds the
// session without touching the database.
func (o *Orchestrator) generate(ctx context.Context, t *turn) turnResult {
	turns, err := o.history.Assemble(ctx, HistoryRequest{
		ConversationID:  t.conversationID,
		MaxMessages:     o.config.MaxHistoryMessages,
		PlaceholderID:   t.placeholderID,
		BeforeMessageID: t.beforeID,
	})
	if err != nil {
		return o.interrupted(ctx, turnResult{state: StateFailed, err: err})
	}

	var preamble string
	var sources []string
	if o.rag != nil {
		matches := o.rag.Lookup(ctx, t.projectID, lastUserContent(turns))
		preamble = o.rag.BuildPreamble(matches)
		sources = o.sources.ExtractSources(matches)
	}
	prompt := BuildPromptWithContext(preamble, turns)

	genCtx, cancelGen := context.WithTimeout(ctx, o.config.StreamTimeout)
	defer cancelGen()

	tokens := make(chan string, tokenBuffer)
	done := make(chan error, 1)
	go func() {
		defer close(tokens)
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("provider panic: %v", r)
			}
			done <- err
		}()
		err = o.generator.StreamCompletion(genCtx, ai.CompletionRequest{
			Model:       o.config.Model,
			Prompt:      prompt,
			MaxTokens:   o.config.MaxTokens,
			Temperature: o.config.Temperature,
			Stop:        o.config.Stop,
		}, func(delta string) error {
			select {
			case tokens <- delta:
				return nil
			case <-genCtx.Done():
				return genCtx.Err()
			}
		})
	}()

	var content strings.Builder
	deltas := 0
	for delta := range tokens {
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		deltas++
		if err := t.session.Append(EventToken, TokenEvent{Text: delta}); err != nil {
			o.logger.Warn("dropping token for finished session", "stream_id", t.streamID, "error", err)
		}
	}
	genErr := <-done

	result := turnResult{content: content.String(), deltas: deltas, sources: sources}
	switch {
	case ctx.Err() != nil:
		result.err = context.Cause(ctx)
		return o.interrupted(ctx, result)
	case genErr != nil:
		result.state = StateFailed
		if stderrors.Is(genErr, context.DeadlineExceeded) {
			result.err = fmt.Errorf("generation exceeded %s: %w", o.config.StreamTimeout, genErr)
		} else {
			result.err = genErr
		}
	case strings.TrimSpace(result.content) == "":
		result.state = StateFailed
		result.err = errNoOutput
	default:
		result.state = StateCompleted
	}
	return result
}

// interrupted classifies a cancelled turn context.
func (o *Orchestrator) interrupted(ctx context.Context, result turnResult) turnResult {
	cause := context.Cause(ctx)
	switch {
	case stderrors.Is(cause, ErrTurnCancelled):
		result.state = StateCancelled
		result.err = cause
	case cause != nil:
		result.state = StateFailed
		result.err = cause
	default:
		result.state = StateFailed
	}
	return result
}

// finish performs the single terminal write and emits the terminal event.
func (o *Orchestrator) finish(t *turn, result turnResult, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.FinalizeTimeout)
	defer cancel()

	input := message.FinalizeInput{
		MessageID: t.placeholderID,
		Status:    result.state.messageStatus(),
	}
	switch result.state {
	case StateCompleted:
		input.Content = result.content
		input.TokenCount = ai.CountTokens(result.content, result.deltas)
		input.CompletionTimeMs = elapsed.Milliseconds()
	case StateCancelled:
		input.Content = domain.CancellationMarker
		if strings.TrimSpace(result.content) != "" {
			input.Content = result.content
			input.TokenCount = ai.CountTokens(result.content, result.deltas)
		}
		input.CompletionTimeMs = elapsed.Milliseconds()
	default:
		input.Content = domain.FailureMarker
	}

	conv, err := o.messages.Finalize(ctx, input)
	if err != nil && result.state == StateCompleted {
		// The answer could not be stored; report the turn as failed.
		result = turnResult{state: StateFailed, err: fmt.Errorf("persist completion: %w", err)}
		input.Status = domain.StatusFailed
		input.Content = domain.FailureMarker
		input.TokenCount = 0
		input.CompletionTimeMs = 0
		if _, retryErr := o.messages.Finalize(ctx, input); retryErr != nil {
			o.logger.Error("failed to mark placeholder as failed", "message_id", t.placeholderID, "error", fmt.Sprintf("%+v", retryErr))
		}
	} else if err != nil {
		o.logger.Error("failed to persist turn outcome",
			"stream_id", t.streamID,
			"message_id", t.placeholderID,
			"state", result.state,
			"error", fmt.Sprintf("%+v", err))
	}

	// The outcome is stored; a client reacting to the terminal event may
	// start the next turn right away.
	o.release(t.conversationID, t.streamID)

	if result.state == StateCompleted {
		event := CompleteEvent{
			MessageID:        t.placeholderID,
			TokenCount:       input.TokenCount,
			CompletionTimeMs: input.CompletionTimeMs,
			Conversation:     conv.Meta(),
			Sources:          result.sources,
		}
		if err := t.session.Finish(EventComplete, event); err != nil {
			o.logger.Error("failed to emit completion", "stream_id", t.streamID, "error", err)
		}
		o.logger.Info("turn completed",
			"stream_id", t.streamID,
			"message_id", t.placeholderID,
			"token_count", input.TokenCount,
			"completion_time_ms", input.CompletionTimeMs)
		return
	}

	correlationID := uuid.NewString()
	event := ErrorEvent{
		Message:       userMessage(result),
		Reason:        ReasonFailed,
		CorrelationID: correlationID,
	}
	if result.state == StateCancelled {
		event.Reason = ReasonCancelled
		o.logger.Info("turn cancelled",
			"stream_id", t.streamID,
			"message_id", t.placeholderID,
			"partial_chars", len(result.content),
			"correlation_id", correlationID)
	} else {
		o.logger.Error("turn failed",
			"stream_id", t.streamID,
			"message_id", t.placeholderID,
			"deltas", result.deltas,
			"correlation_id", correlationID,
			"error", fmt.Sprintf("%+v", result.err))
	}
	if err := t.session.Finish(EventError, event); err != nil {
		o.logger.Error("failed to emit error event", "stream_id", t.streamID, "error", err)
	}
}

// userMessage is the client-facing text for a failed or cancelled turn.
func userMessage(result turnResult) string {
	switch {
	case result.state == StateCancelled:
		return "Generation stopped."
	case stderrors.Is(result.err, ErrStreamInterrupted):
		return "The stream was interrupted. Please resend your message."
	case stderrors.Is(result.err, ErrShuttingDown):
		return "The server restarted while generating. Please resend your message."
	case stderrors.Is(result.err, errNoOutput):
		return "The model returned an empty response. Please try again."
	case stderrors.Is(result.err, context.DeadlineExceeded):
		return "The model took too long to respond. Please try again."
	}
	var aiErr *ai.AIError
	if stderrors.As(result.err, &aiErr) && aiErr.Type == ai.ErrTypeRateLimit {
		return "The model is busy. Please wait a moment and try again."
	}
	return NewUpstreamError("stream", result.err).Message
}

func lastUserContent(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}
