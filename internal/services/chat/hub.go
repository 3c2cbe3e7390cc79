// File: internal/services/chat/hub.go
package chat

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"
)

var (
	ErrSessionClosed   = stderrors.New("stream session already finished")
	ErrSessionNotFound = stderrors.New("stream session not found")
)

// Session is the replayable event log of one turn. Readers poll Since and
// wait on the returned channel, which is closed on the next append.
type Session struct {
	ID             string
	ConversationID uint
	MessageID      uint

	mu          sync.Mutex
	events      []Event
	notify      chan struct{}
	finished    bool
	finishedAt  time.Time
	subscribers int
	onDetach    func()
}

func newSession(id string, conversationID, messageID uint) *Session {
	return &Session{
		ID:             id,
		ConversationID: conversationID,
		MessageID:      messageID,
		notify:         make(chan struct{}),
	}
}

// Append adds a non-terminal event.
func (s *Session) Append(eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrSessionClosed
	}
	s.appendLocked(eventType, data)
	return nil
}

// Finish appends the terminal event. Only the first call succeeds.
func (s *Session) Finish(eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrSessionClosed
	}
	s.appendLocked(eventType, data)
	s.finished = true
	s.finishedAt = time.Now()
	return nil
}

func (s *Session) appendLocked(eventType string, data []byte) {
	s.events = append(s.events, Event{
		ID:   uint64(len(s.events) + 1),
		Type: eventType,
		Data: data,
	})
	close(s.notify)
	s.notify = make(chan struct{})
}

// Since returns events after lastID, a channel closed on the next append,
// and whether the log is complete.
func (s *Session) Since(lastID uint64) ([]Event, <-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	if lastID < uint64(len(s.events)) {
		out = make([]Event, len(s.events)-int(lastID))
		copy(out, s.events[lastID:])
	}
	return out, s.notify, s.finished
}

func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Attach registers a reader.
func (s *Session) Attach() {
	s.mu.Lock()
	s.subscribers++
	s.mu.Unlock()
}

// Detach unregisters a reader. When the last reader leaves an unfinished
// session the detach hook runs.
func (s *Session) Detach() {
	s.mu.Lock()
	s.subscribers--
	var hook func()
	if s.subscribers == 0 && !s.finished {
		hook = s.onDetach
	}
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (s *Session) setDetachHook(fn func()) {
	s.mu.Lock()
	s.onDetach = fn
	s.mu.Unlock()
}

// Hub indexes live and recently finished sessions.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	retention time.Duration
	logger    Logger
}

func NewHub(retention time.Duration, logger Logger) *Hub {
	return &Hub{
		sessions:  make(map[string]*Session),
		retention: retention,
		logger:    logger,
	}
}

func (h *Hub) Open(id string, conversationID, messageID uint) *Session {
	s := newSession(id, conversationID, messageID)
	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) Get(id string) (*Session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Run evicts finished sessions past retention until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.retention / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.evict(now)
		}
	}
}

func (h *Hub) evict(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for id, s := range h.sessions {
		s.mu.Lock()
		expired := s.finished && now.Sub(s.finishedAt) > h.retention
		s.mu.Unlock()
		if expired {
			delete(h.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		h.logger.Debug("evicted stream sessions", "count", removed, "remaining", len(h.sessions))
	}
	return removed
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
