// File: internal/services/chat/errors.go
package chat

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/iyunix/go-localchat/internal/repository/conversation"
	"github.com/iyunix/go-localchat/internal/repository/document"
	"github.com/iyunix/go-localchat/internal/repository/message"
	"github.com/iyunix/go-localchat/internal/repository/project"
)

type ErrorType string

const (
	ErrTypeNotFound           ErrorType = "NOT_FOUND"
	ErrTypeValidation         ErrorType = "VALIDATION"
	ErrTypeConflict           ErrorType = "CONFLICT"
	ErrTypeUpstreamGeneration ErrorType = "UPSTREAM_GENERATION"
	ErrTypeInternal           ErrorType = "INTERNAL"
)

// ChatError carries a user-safe Message; Cause is for logs only.
type ChatError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
}

func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("Chat %s error in %s: %s (caused by: %v)",
			e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("Chat %s error in %s: %s", e.Type, e.Operation, e.Message)
}

func (e *ChatError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error type onto a response code.
func (e *ChatError) HTTPStatus() int {
	switch e.Type {
	case ErrTypeNotFound:
		return http.StatusNotFound
	case ErrTypeValidation:
		return http.StatusBadRequest
	case ErrTypeConflict:
		return http.StatusConflict
	case ErrTypeUpstreamGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func NewNotFoundError(operation, msg string) *ChatError {
	return &ChatError{Type: ErrTypeNotFound, Operation: operation, Message: msg}
}

func NewValidationError(operation, msg string) *ChatError {
	return &ChatError{Type: ErrTypeValidation, Operation: operation, Message: msg}
}

func NewConflictError(operation, msg string) *ChatError {
	return &ChatError{Type: ErrTypeConflict, Operation: operation, Message: msg}
}

func NewUpstreamError(operation string, cause error) *ChatError {
	return &ChatError{
		Type:      ErrTypeUpstreamGeneration,
		Operation: operation,
		Message:   "The model failed to generate a response. Please try again.",
		Cause:     cause,
	}
}

func NewInternalError(operation string, cause error) *ChatError {
	return &ChatError{
		Type:      ErrTypeInternal,
		Operation: operation,
		Message:   "An internal error occurred.",
		Cause:     cause,
	}
}

// FromRepositoryError translates repository sentinels into chat errors.
func FromRepositoryError(operation string, err error) *ChatError {
	if err == nil {
		return nil
	}
	var chatErr *ChatError
	if stderrors.As(err, &chatErr) {
		return chatErr
	}
	switch {
	case stderrors.Is(err, project.ErrProjectNotFound):
		return NewNotFoundError(operation, "project not found")
	case stderrors.Is(err, conversation.ErrConversationNotFound):
		return NewNotFoundError(operation, "conversation not found")
	case stderrors.Is(err, message.ErrMessageNotFound):
		return NewNotFoundError(operation, "message not found")
	case stderrors.Is(err, document.ErrDocumentNotFound):
		return NewNotFoundError(operation, "document not found")
	case stderrors.Is(err, message.ErrTurnInProgress):
		return NewConflictError(operation, "a response is already being generated for this conversation")
	case stderrors.Is(err, message.ErrAlreadyFinalized):
		return NewConflictError(operation, "message is no longer streaming")
	case stderrors.Is(err, message.ErrSuperseded):
		return NewConflictError(operation, "a newer version of this answer exists; regenerate that one instead")
	case stderrors.Is(err, message.ErrInvalidLineage):
		return NewValidationError(operation, "invalid regeneration lineage")
	case stderrors.Is(err, project.ErrInvalidProject),
		stderrors.Is(err, conversation.ErrInvalidConversation),
		stderrors.Is(err, message.ErrInvalidMessage),
		stderrors.Is(err, document.ErrInvalidDocument):
		return &ChatError{Type: ErrTypeValidation, Operation: operation, Message: err.Error(), Cause: err}
	default:
		return NewInternalError(operation, err)
	}
}
