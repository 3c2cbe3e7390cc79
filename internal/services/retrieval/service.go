// File: internal/services/retrieval/service.go
package retrieval

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// NewIndex builds the vector index selected by config.Backend.
func NewIndex(config *Config, db *gorm.DB, logger Logger) (VectorIndex, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigError(err.Error())
	}
	switch config.Backend {
	case BackendPinecone:
		return NewPineconeIndex(config, logger)
	case BackendQdrant:
		return NewQdrantIndex(config, logger)
	default:
		return NewLocalIndex(db, logger), nil
	}
}

// Service embeds text and runs it against the configured index.
type Service struct {
	config   *Config
	index    VectorIndex
	embedder Embedder
	logger   Logger
}

func NewService(config *Config, index VectorIndex, embedder Embedder, logger Logger) *Service {
	return &Service{
		config:   config,
		index:    index,
		embedder: embedder,
		logger:   logger,
	}
}

// Chunk splits document text using the configured size and overlap.
func (s *Service) Chunk(text string) []string {
	return ChunkText(text, s.config.ChunkSize, s.config.ChunkOverlap)
}

// Embed fills in the embedding of every chunk.
func (s *Service) Embed(ctx context.Context, chunks []Chunk) error {
	for i := range chunks {
		vec, err := s.embedder.CreateEmbedding(ctx, chunks[i].Content)
		if err != nil {
			return errors.Wrapf(err, "embed chunk %d", chunks[i].Ordinal)
		}
		chunks[i].Embedding = vec
	}
	return nil
}

func (s *Service) Index(ctx context.Context, chunks []Chunk) error {
	if err := s.index.Upsert(ctx, chunks); err != nil {
		s.logger.Error("failed to index chunks", "backend", s.index.Name(), "count", len(chunks), "error", err)
		return err
	}
	s.logger.Info("chunks indexed", "backend", s.index.Name(), "count", len(chunks))
	return nil
}

// Retrieve returns the best matches for query within a project, dropping
// matches scoring below MinScore.
func (s *Service) Retrieve(ctx context.Context, projectID uint, query string) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	vec, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}

	matches, err := s.index.Query(ctx, projectID, vec, s.config.TopK)
	if err != nil {
		return nil, err
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Score >= s.config.MinScore {
			kept = append(kept, m)
		}
	}
	s.logger.Debug("retrieval finished", "project_id", projectID, "candidates", len(matches), "kept", len(kept))
	return kept, nil
}

func (s *Service) DeleteDocument(ctx context.Context, projectID, documentID uint) error {
	return s.index.DeleteDocument(ctx, projectID, documentID)
}

func (s *Service) GetStatus(ctx context.Context) ServiceStatus {
	err := s.index.HealthCheck(ctx)
	status := ServiceStatus{
		IsHealthy: err == nil,
		Backend:   s.index.Name(),
		Message:   "vector index reachable",
	}
	if err != nil {
		status.Message = err.Error()
	}
	return status
}
