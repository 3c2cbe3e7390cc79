package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyunix/go-localchat/internal/repository/repotest"
)

func TestSessionReplayAndNotify(t *testing.T) {
	hub := NewHub(time.Minute, repotest.NopLogger{})
	s := hub.Open("s1", 1, 2)

	events, notify, done := s.Since(0)
	assert.Empty(t, events)
	assert.False(t, done)

	require.NoError(t, s.Append(EventToken, TokenEvent{Text: "a"}))
	select {
	case <-notify:
	default:
		t.Fatal("append did not wake readers")
	}

	require.NoError(t, s.Append(EventToken, TokenEvent{Text: "b"}))
	events, _, _ = s.Since(1)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(2), events[0].ID)
	assert.JSONEq(t, `{"text":"b"}`, string(events[0].Data))

	require.NoError(t, s.Finish(EventError, ErrorEvent{Message: "x", Reason: ReasonFailed}))
	events, _, done = s.Since(0)
	assert.Len(t, events, 3)
	assert.True(t, done)
	assert.True(t, events[2].Terminal())
}

func TestSessionSingleTerminal(t *testing.T) {
	s := NewHub(time.Minute, repotest.NopLogger{}).Open("s1", 1, 2)
	require.NoError(t, s.Finish(EventComplete, CompleteEvent{MessageID: 2}))
	assert.ErrorIs(t, s.Finish(EventError, ErrorEvent{}), ErrSessionClosed)
	assert.ErrorIs(t, s.Append(EventToken, TokenEvent{Text: "late"}), ErrSessionClosed)

	events, _, _ := s.Since(0)
	assert.Len(t, events, 1)
}

func TestSessionDetachHook(t *testing.T) {
	s := NewHub(time.Minute, repotest.NopLogger{}).Open("s1", 1, 2)
	fired := 0
	s.setDetachHook(func() { fired++ })

	s.Attach()
	s.Attach()
	s.Detach()
	assert.Equal(t, 0, fired)
	s.Detach()
	assert.Equal(t, 1, fired)

	require.NoError(t, s.Finish(EventComplete, CompleteEvent{}))
	s.Attach()
	s.Detach()
	assert.Equal(t, 1, fired)
}

func TestHubEvictsFinishedSessions(t *testing.T) {
	hub := NewHub(time.Minute, repotest.NopLogger{})
	live := hub.Open("live", 1, 1)
	done := hub.Open("done", 1, 2)
	require.NoError(t, done.Finish(EventComplete, CompleteEvent{}))

	assert.Equal(t, 0, hub.evict(time.Now()))
	assert.Equal(t, 1, hub.evict(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 1, hub.Len())

	_, err := hub.Get("done")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	got, err := hub.Get("live")
	require.NoError(t, err)
	assert.Same(t, live, got)
}
