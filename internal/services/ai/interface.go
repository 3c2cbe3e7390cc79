// File: internal/services/ai/interface.go
package ai

import "context"

// ProviderStatus represents AI provider health
type ProviderStatus struct {
	IsHealthy bool
	Provider  string
	Model     string
	Message   string
}

// CompletionRequest is a single text-completion call.
type CompletionRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float32
	Stop        []string
}

// CompletionProvider streams a completion for a rendered prompt. onDelta is
// called once per non-empty text fragment; a non-nil return aborts the stream.
type CompletionProvider interface {
	StreamCompletion(ctx context.Context, req CompletionRequest, onDelta func(string) error) error
	HealthCheck(ctx context.Context) error
}

// EmbeddingProvider handles text embeddings
type EmbeddingProvider interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Provider combines embedding and completion capabilities
type Provider interface {
	CompletionProvider
	EmbeddingProvider
	GetStatus(ctx context.Context) ProviderStatus
}
