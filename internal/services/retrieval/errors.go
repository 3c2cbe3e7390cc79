// File: internal/services/retrieval/errors.go
package retrieval

import (
	"fmt"
)

// IndexError is returned by vector index operations.
type IndexError struct {
	Backend string
	Type    string
	Message string
	Err     error
}

func (e *IndexError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error: %s: %v", e.Backend, e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s error: %s", e.Backend, e.Type, e.Message)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

func NewConnectionError(backend, message string, err error) *IndexError {
	return &IndexError{Backend: backend, Type: "connection", Message: message, Err: err}
}

func NewOperationError(backend, message string, err error) *IndexError {
	return &IndexError{Backend: backend, Type: "operation", Message: message, Err: err}
}

func NewConfigError(message string) *IndexError {
	return &IndexError{Backend: "index", Type: "config", Message: message}
}

func NewTimeoutError(message string, err error) *IndexError {
	return &IndexError{Backend: "index", Type: "timeout", Message: message, Err: err}
}

func NewRetryError(message string, err error) *IndexError {
	return &IndexError{Backend: "index", Type: "retry", Message: message, Err: err}
}
