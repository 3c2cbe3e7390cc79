// File: internal/handlers/respond.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/iyunix/go-localchat/internal/middleware"
	"github.com/iyunix/go-localchat/internal/services/chat"
)

// Logger is the logging surface handlers need.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

const maxJSONBody = 1 << 20

// listResponse wraps a page of items.
type listResponse struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
}

// writeJSON is a helper for sending JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError is a helper for sending JSON error responses.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service errors to a status code. Only the
// user-facing message leaves the server; anything else is logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger Logger, err error) {
	requestID := middleware.RequestIDFromContext(r.Context())

	var chatErr *chat.ChatError
	if errors.As(err, &chatErr) {
		status := chatErr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"request_id", requestID,
				"path", r.URL.Path,
				"operation", chatErr.Operation,
				"error", err)
		}
		writeJSON(w, status, map[string]string{
			"error":      chatErr.Message,
			"type":       string(chatErr.Type),
			"request_id": requestID,
		})
		return
	}

	logger.Error("request failed", "request_id", requestID, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":      "Something went wrong. Please try again.",
		"request_id": requestID,
	})
}

// pathID parses a numeric route variable.
func pathID(r *http.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	return decodeJSONBody(w, r, dst)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// pageParams reads limit/offset query parameters. Missing or malformed
// values fall back to zero, which the services normalize.
func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return limit, offset
}
