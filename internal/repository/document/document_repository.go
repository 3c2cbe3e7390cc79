// File: internal/repository/document/document_repository.go
package document

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository"
)

var ErrDocumentNotFound = stderrors.New("document not found")
var ErrInvalidDocument = stderrors.New("invalid document")

type gormDocumentRepository struct {
	db     *gorm.DB
	logger repository.Logger
}

func NewDocumentRepository(db *gorm.DB, logger repository.Logger) DocumentRepository {
	return &gormDocumentRepository{db: db, logger: logger}
}

func (r *gormDocumentRepository) Create(ctx context.Context, document *domain.Document, chunks []domain.DocumentChunk) (*domain.Document, []domain.DocumentChunk, error) {
	if document == nil || document.ProjectID == 0 || document.Name == "" {
		return nil, nil, errors.Wrap(ErrInvalidDocument, "project and name are required")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var projects int64
		if err := tx.Model(&domain.Project{}).Where("id = ?", document.ProjectID).Count(&projects).Error; err != nil {
			return errors.Wrap(err, "database error checking project")
		}
		if projects == 0 {
			return errors.Wrap(ErrInvalidDocument, "project does not exist")
		}

		document.ChunkCount = len(chunks)
		if err := tx.Create(document).Error; err != nil {
			return errors.Wrap(err, "database error creating document")
		}
		if len(chunks) == 0 {
			return nil
		}
		for i := range chunks {
			chunks[i].DocumentID = document.ID
			chunks[i].ProjectID = document.ProjectID
		}
		return errors.Wrap(tx.CreateInBatches(chunks, 100).Error, "database error creating chunks")
	})
	if err != nil {
		if !stderrors.Is(err, ErrInvalidDocument) {
			r.logger.Error("[DocumentRepository] create failed", "project_id", document.ProjectID, "error", err)
		}
		return nil, nil, err
	}

	r.logger.Info("[DocumentRepository] document stored", "document_id", document.ID, "chunks", len(chunks))
	return document, chunks, nil
}

func (r *gormDocumentRepository) FindByID(ctx context.Context, documentID uint) (*domain.Document, error) {
	var document domain.Document
	err := r.db.WithContext(ctx).First(&document, documentID).Error
	return r.handleFindError(err, &document, "FindByID")
}

func (r *gormDocumentRepository) FindByHash(ctx context.Context, projectID uint, contentHash string) (*domain.Document, error) {
	var document domain.Document
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND content_hash = ? AND status = ?", projectID, contentHash, domain.DocumentReady).
		First(&document).Error
	return r.handleFindError(err, &document, "FindByHash")
}

func (r *gormDocumentRepository) ListByProject(ctx context.Context, projectID uint) ([]domain.Document, error) {
	var documents []domain.Document
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Find(&documents).Error
	if err != nil {
		r.logger.Error("[DocumentRepository] list failed", "project_id", projectID, "error", err)
		return nil, errors.Wrap(err, "database error listing documents")
	}
	return documents, nil
}

func (r *gormDocumentRepository) CountReady(ctx context.Context, projectID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Document{}).
		Where("project_id = ? AND status = ?", projectID, domain.DocumentReady).
		Count(&count).Error
	if err != nil {
		r.logger.Error("[DocumentRepository] count failed", "project_id", projectID, "error", err)
		return 0, errors.Wrap(err, "database error counting documents")
	}
	return count, nil
}

func (r *gormDocumentRepository) MarkFailed(ctx context.Context, documentID uint) error {
	result := r.db.WithContext(ctx).Model(&domain.Document{}).Where("id = ?", documentID).Update("status", domain.DocumentFailed)
	if result.Error != nil {
		return errors.Wrap(result.Error, "database error updating document")
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// Delete soft-deletes the document and drops its chunks.
func (r *gormDocumentRepository) Delete(ctx context.Context, documentID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&domain.Document{}, documentID)
		if result.Error != nil {
			r.logger.Error("[DocumentRepository] delete failed", "document_id", documentID, "error", result.Error)
			return errors.Wrap(result.Error, "database error deleting document")
		}
		if result.RowsAffected == 0 {
			return ErrDocumentNotFound
		}
		return errors.Wrap(tx.Where("document_id = ?", documentID).Delete(&domain.DocumentChunk{}).Error, "database error deleting chunks")
	})
}

func (r *gormDocumentRepository) handleFindError(err error, document *domain.Document, operation string) (*domain.Document, error) {
	if err == nil {
		return document, nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	r.logger.Error("[DocumentRepository] database error", "operation", operation, "error", err)
	return nil, errors.Wrap(err, "database query failed")
}
