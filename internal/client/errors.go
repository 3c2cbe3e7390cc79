// File: internal/client/errors.go
package client

import (
	"errors"
	"fmt"
)

var (
	// ErrGaveUp is returned by Follow once reconnection attempts are exhausted.
	ErrGaveUp = errors.New("stream reconnection gave up")
	// ErrStreamNotFound means the server no longer knows the stream.
	ErrStreamNotFound = errors.New("stream not found")
	// ErrTurnInProgress rejects a second submission for a busy conversation.
	ErrTurnInProgress = errors.New("a turn is already in progress for this conversation")
	// ErrStale is returned by KeyedLoader for superseded loads.
	ErrStale = errors.New("load superseded by a newer request")
)

// Error codes the server attaches to CSRF rejections.
const (
	CodeCSRFTokenExpired   = "CSRF_TOKEN_EXPIRED"
	CodeCSRFTokenInvalid   = "CSRF_TOKEN_INVALID"
	CodeCSRFOriginMismatch = "CSRF_ORIGIN_MISMATCH"
)

// SecurityError is a rejection that retrying cannot fix.
type SecurityError struct {
	Code    string
	Message string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security error %s: %s", e.Code, e.Message)
}

// TransportError wraps connection-level failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api error %d: %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// refreshable reports whether a 403 code can be fixed by a new token.
func refreshable(code string) bool {
	return code == CodeCSRFTokenExpired || code == CodeCSRFTokenInvalid
}
