// File: internal/repository/document/interface.go
package document

import (
	"context"

	"github.com/iyunix/go-localchat/internal/domain"
)

type DocumentRepository interface {
	// Create stores the document and its chunks together; chunk IDs are
	// populated on return.
	Create(ctx context.Context, document *domain.Document, chunks []domain.DocumentChunk) (*domain.Document, []domain.DocumentChunk, error)
	FindByID(ctx context.Context, documentID uint) (*domain.Document, error)
	FindByHash(ctx context.Context, projectID uint, contentHash string) (*domain.Document, error)
	ListByProject(ctx context.Context, projectID uint) ([]domain.Document, error)
	CountReady(ctx context.Context, projectID uint) (int64, error)
	MarkFailed(ctx context.Context, documentID uint) error
	Delete(ctx context.Context, documentID uint) error
}
