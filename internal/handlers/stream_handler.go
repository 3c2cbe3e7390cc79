// File: internal/handlers/stream_handler.go
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/iyunix/go-localchat/internal/middleware"
	"github.com/iyunix/go-localchat/internal/services"
	"github.com/iyunix/go-localchat/internal/services/chat"
)

// StreamHandler serves turn sessions as server-sent events.
type StreamHandler struct {
	ChatService *services.ChatService
	resumable   bool
	heartbeat   time.Duration
	logger      Logger
}

func NewStreamHandler(cs *services.ChatService, config *chat.Config, logger Logger) *StreamHandler {
	return &StreamHandler{
		ChatService: cs,
		resumable:   config.ResumableStreams,
		heartbeat:   config.HeartbeatInterval,
		logger:      logger,
	}
}

// Stream writes the session log from Last-Event-ID onwards and then follows
// it until the terminal event or the client goes away.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["id"]
	session, err := h.ChatService.Stream(streamID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID := lastEventID(r)
	// Without resumable streams a reattach only learns how the turn ended.
	terminalOnly := !h.resumable && lastID > 0

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	session.Attach()
	defer session.Detach()

	h.logger.Debug("stream attached",
		"stream_id", streamID,
		"last_event_id", lastID,
		"request_id", middleware.RequestIDFromContext(r.Context()))

	var ticker *time.Ticker
	var tick <-chan time.Time
	if h.heartbeat > 0 {
		ticker = time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	ctx := r.Context()
	for {
		events, next, finished := session.Since(lastID)
		for _, ev := range events {
			lastID = ev.ID
			if terminalOnly && !ev.Terminal() {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("stream write failed", "stream_id", streamID, "error", err)
				return
			}
			if ev.Terminal() {
				flusher.Flush()
				return
			}
		}
		flusher.Flush()
		if finished {
			return
		}

		select {
		case <-ctx.Done():
			h.logger.Debug("stream detached", "stream_id", streamID, "last_event_id", lastID)
			return
		case <-next:
		case <-tick:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Cancel stops an in-flight turn.
func (h *StreamHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["id"]
	if err := h.ChatService.CancelStream(streamID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeEvent(w http.ResponseWriter, ev chat.Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}

func lastEventID(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
