// File: internal/client/state.go
package client

import (
	"sync"
)

// ConversationView is the client's picture of one conversation.
type ConversationView struct {
	Meta     ConversationMeta
	Title    string
	StreamID string // empty when no turn is in flight
	busy     bool
}

// InFlight reports whether a turn is pending or streaming.
func (v ConversationView) InFlight() bool {
	return v.busy
}

// ConversationState holds conversation metadata for a client. Metadata only
// changes through ApplyServerTruth; turn bookkeeping goes through
// BeginTurn, AttachStream and EndTurn.
type ConversationState struct {
	mu        sync.Mutex
	views     map[uint]*ConversationView
	listeners []func(ConversationView)
}

func NewConversationState() *ConversationState {
	return &ConversationState{views: make(map[uint]*ConversationView)}
}

// Subscribe registers fn to run after every change. fn runs without the
// state lock held.
func (s *ConversationState) Subscribe(fn func(ConversationView)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// ApplyServerTruth replaces the metadata of a conversation with what the
// server reported.
func (s *ConversationState) ApplyServerTruth(meta ConversationMeta) {
	s.update(meta.ID, func(v *ConversationView) {
		v.Meta = meta
	})
}

// ApplyConversation records a full conversation listing entry.
func (s *ConversationState) ApplyConversation(c Conversation) {
	s.update(c.ID, func(v *ConversationView) {
		v.Meta = c.Meta()
		v.Title = c.Title
	})
}

// BeginTurn claims the conversation for a new turn. A second claim before
// EndTurn fails with ErrTurnInProgress.
func (s *ConversationState) BeginTurn(conversationID uint) error {
	s.mu.Lock()
	v := s.viewLocked(conversationID)
	if v.busy {
		s.mu.Unlock()
		return ErrTurnInProgress
	}
	v.busy = true
	snapshot := *v
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, snapshot)
	return nil
}

// AttachStream records the stream serving the in-flight turn.
func (s *ConversationState) AttachStream(conversationID uint, streamID string) {
	s.update(conversationID, func(v *ConversationView) {
		v.StreamID = streamID
	})
}

// EndTurn releases the conversation.
func (s *ConversationState) EndTurn(conversationID uint) {
	s.update(conversationID, func(v *ConversationView) {
		v.busy = false
		v.StreamID = ""
	})
}

func (s *ConversationState) Get(conversationID uint) (ConversationView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[conversationID]
	if !ok {
		return ConversationView{}, false
	}
	return *v, true
}

// Forget drops a deleted conversation.
func (s *ConversationState) Forget(conversationID uint) {
	s.mu.Lock()
	delete(s.views, conversationID)
	s.mu.Unlock()
}

func (s *ConversationState) update(conversationID uint, fn func(*ConversationView)) {
	s.mu.Lock()
	v := s.viewLocked(conversationID)
	fn(v)
	snapshot := *v
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, snapshot)
}

func (s *ConversationState) viewLocked(conversationID uint) *ConversationView {
	v, ok := s.views[conversationID]
	if !ok {
		v = &ConversationView{Meta: ConversationMeta{ID: conversationID}}
		s.views[conversationID] = v
	}
	return v
}

func notify(listeners []func(ConversationView), v ConversationView) {
	for _, fn := range listeners {
		fn(v)
	}
}
