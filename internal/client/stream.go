// File: internal/client/stream.go
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Stream event payloads.
type TokenEvent struct {
	Text string `json:"text"`
}

type CompleteEvent struct {
	MessageID        uint             `json:"message_id"`
	TokenCount       int              `json:"token_count"`
	CompletionTimeMs int64            `json:"completion_time_ms"`
	Conversation     ConversationMeta `json:"conversation"`
	Sources          []string         `json:"sources"`
}

type ErrorEvent struct {
	Message       string `json:"message"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id"`
}

// StreamHandler receives the events of one turn. Nil callbacks are skipped.
type StreamHandler struct {
	OnToken     func(TokenEvent)
	OnComplete  func(CompleteEvent)
	OnError     func(ErrorEvent)
	OnReconnect func(attempt int, delay time.Duration)
	OnGiveUp    func(err error)
}

// Follow reads the stream of a started turn until its terminal event. On
// connection loss it reattaches with Last-Event-ID after a backoff delay;
// it never resubmits the turn. A missing stream ends following at once.
func (c *Client) Follow(ctx context.Context, streamID string, h StreamHandler) error {
	var lastID string
	var prev time.Duration
	attempt := 0

	for {
		progressed, terminal, err := c.followOnce(ctx, streamID, &lastID, h)
		if terminal {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrStreamNotFound) {
			return err
		}
		if progressed {
			attempt, prev = 0, 0
		}
		if c.backoff.Exhausted(attempt) {
			c.logger.Warn("giving up on stream", "stream_id", streamID, "attempts", attempt, "error", err)
			if h.OnGiveUp != nil {
				h.OnGiveUp(err)
			}
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}

		delay := c.backoff.Next(attempt, prev)
		prev = delay
		attempt++
		c.logger.Debug("stream interrupted, reconnecting",
			"stream_id", streamID, "attempt", attempt, "delay", delay, "last_event_id", lastID, "error", err)
		if h.OnReconnect != nil {
			h.OnReconnect(attempt, delay)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// followOnce reads one connection. It reports whether any event arrived and
// whether the terminal event was handled.
func (c *Client) followOnce(ctx context.Context, streamID string, lastID *string, h StreamHandler) (bool, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/streams/"+url.PathEscape(streamID), nil)
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if *lastID != "" {
		req.Header.Set("Last-Event-ID", *lastID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, false, &TransportError{Op: "open stream", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, false, ErrStreamNotFound
	case resp.StatusCode != http.StatusOK:
		return false, false, &TransportError{Op: "open stream", Err: readAPIError(resp)}
	}

	reader := newSSEReader(resp.Body)
	progressed := false
	for {
		ev, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return progressed, false, &TransportError{Op: "read stream", Err: err}
		}
		progressed = true
		if ev.ID != "" {
			*lastID = ev.ID
		}

		terminal, err := dispatch(ev, h)
		if err != nil {
			c.logger.Warn("malformed stream event", "stream_id", streamID, "event", ev.Event, "error", err)
		}
		if terminal {
			return true, true, nil
		}
	}
}

func dispatch(ev Event, h StreamHandler) (bool, error) {
	switch ev.Event {
	case "token":
		var tok TokenEvent
		if err := json.Unmarshal([]byte(ev.Data), &tok); err != nil {
			return false, err
		}
		if h.OnToken != nil {
			h.OnToken(tok)
		}
	case "complete":
		var done CompleteEvent
		if err := json.Unmarshal([]byte(ev.Data), &done); err != nil {
			return true, err
		}
		if h.OnComplete != nil {
			h.OnComplete(done)
		}
		return true, nil
	case "error":
		var failed ErrorEvent
		if err := json.Unmarshal([]byte(ev.Data), &failed); err != nil {
			return true, err
		}
		if h.OnError != nil {
			h.OnError(failed)
		}
		return true, nil
	}
	return false, nil
}
