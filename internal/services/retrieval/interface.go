// File: internal/services/retrieval/interface.go
package retrieval

import (
	"context"
)

// Chunk is a slice of a document ready to be indexed.
type Chunk struct {
	ID           uint
	DocumentID   uint
	ProjectID    uint
	DocumentName string
	Ordinal      int
	Content      string
	Embedding    []float32
}

// Match is a chunk returned by a similarity query.
type Match struct {
	ChunkID      uint
	DocumentID   uint
	DocumentName string
	Content      string
	Score        float32
}

// VectorIndex stores chunk embeddings scoped by project.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	Query(ctx context.Context, projectID uint, embedding []float32, topK int) ([]Match, error)
	DeleteDocument(ctx context.Context, projectID, documentID uint) error
	HealthCheck(ctx context.Context) error
	Name() string
}

// Embedder turns text into a vector.
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ServiceStatus represents index health
type ServiceStatus struct {
	IsHealthy bool
	Backend   string
	Message   string
}

// Logger interface for retrieval operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}
