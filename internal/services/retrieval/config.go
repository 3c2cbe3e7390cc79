// File: internal/services/retrieval/config.go
package retrieval

import (
	"errors"
	"time"
)

const (
	BackendLocal    = "local"
	BackendPinecone = "pinecone"
	BackendQdrant   = "qdrant"
)

type Config struct {
	Backend string

	// Retrieval settings
	TopK         int
	MinScore     float32
	ChunkSize    int
	ChunkOverlap int

	// Pinecone connection
	PineconeAPIKey    string
	PineconeIndexHost string
	PineconeNamespace string

	// Qdrant connection
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantCollection string
	QdrantUseTLS     bool

	// Operation settings
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	BatchSize  int
}

func DefaultConfig() *Config {
	return &Config{
		Backend:          BackendLocal,
		TopK:             4,
		MinScore:         0.2,
		ChunkSize:        800,
		ChunkOverlap:     100,
		QdrantPort:       6334,
		QdrantCollection: "localchat",
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		RetryDelay:       2 * time.Second,
		BatchSize:        100,
	}
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
	case BackendPinecone:
		if c.PineconeAPIKey == "" {
			return errors.New("pinecone API key is required")
		}
		if c.PineconeIndexHost == "" {
			return errors.New("pinecone index host is required")
		}
	case BackendQdrant:
		if c.QdrantHost == "" {
			return errors.New("qdrant host is required")
		}
		if c.QdrantCollection == "" {
			return errors.New("qdrant collection name is required")
		}
	default:
		return errors.New("unknown vector backend " + c.Backend)
	}

	if c.TopK <= 0 || c.TopK > 20 {
		return errors.New("top k must be between 1 and 20")
	}
	if c.ChunkSize < 100 {
		return errors.New("chunk size must be at least 100 characters")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return errors.New("chunk overlap must be smaller than chunk size")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	return nil
}
