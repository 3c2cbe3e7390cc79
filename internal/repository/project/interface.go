// File: internal/repository/project/interface.go
package project

import (
	"context"

	"github.com/iyunix/go-localchat/internal/domain"
)

type ProjectRepository interface {
	Create(ctx context.Context, project *domain.Project) (*domain.Project, error)
	FindByID(ctx context.Context, projectID uint) (*domain.Project, error)
	List(ctx context.Context, limit, offset int) ([]domain.Project, int64, error)
	Update(ctx context.Context, project *domain.Project) error
	// Delete soft-deletes the project with its conversations, messages and documents.
	Delete(ctx context.Context, projectID uint) error
}
