// File: internal/repository/project/project_repository.go
package project

import (
	"context"
	stderrors "errors"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository"
)

var ErrProjectNotFound = stderrors.New("project not found")
var ErrInvalidProject = stderrors.New("invalid project")

const maxNameLength = 200

type gormProjectRepository struct {
	db     *gorm.DB
	logger repository.Logger
}

func NewProjectRepository(db *gorm.DB, logger repository.Logger) ProjectRepository {
	return &gormProjectRepository{db: db, logger: logger}
}

func (r *gormProjectRepository) Create(ctx context.Context, project *domain.Project) (*domain.Project, error) {
	if err := validateProject(project); err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
		r.logger.Error("[ProjectRepository] create failed", "error", err)
		return nil, errors.Wrap(err, "database error creating project")
	}

	r.logger.Debug("[ProjectRepository] project created", "project_id", project.ID)
	return project, nil
}

func (r *gormProjectRepository) FindByID(ctx context.Context, projectID uint) (*domain.Project, error) {
	if projectID == 0 {
		return nil, ErrProjectNotFound
	}

	var project domain.Project
	err := r.db.WithContext(ctx).First(&project, projectID).Error
	if err == nil {
		return &project, nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	r.logger.Error("[ProjectRepository] FindByID database error", "project_id", projectID, "error", err)
	return nil, errors.Wrap(err, "database query failed")
}

// List returns a page of projects, most recently updated first.
func (r *gormProjectRepository) List(ctx context.Context, limit, offset int) ([]domain.Project, int64, error) {
	if limit <= 0 || limit > 1000 {
		return nil, 0, errors.Wrap(ErrInvalidProject, "limit must be between 1 and 1000")
	}
	if offset < 0 {
		return nil, 0, errors.Wrap(ErrInvalidProject, "offset must be >= 0")
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.Project{}).Count(&total).Error; err != nil {
		r.logger.Error("[ProjectRepository] count failed", "error", err)
		return nil, 0, errors.Wrap(err, "database error counting projects")
	}

	var projects []domain.Project
	err := r.db.WithContext(ctx).
		Order("updated_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&projects).Error
	if err != nil {
		r.logger.Error("[ProjectRepository] list failed", "error", err)
		return nil, 0, errors.Wrap(err, "database error listing projects")
	}
	return projects, total, nil
}

func (r *gormProjectRepository) Update(ctx context.Context, project *domain.Project) error {
	if project.ID == 0 {
		return ErrProjectNotFound
	}
	if err := validateProject(project); err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&domain.Project{}).
		Where("id = ?", project.ID).
		Updates(map[string]interface{}{
			"name":        project.Name,
			"description": project.Description,
		})
	if result.Error != nil {
		r.logger.Error("[ProjectRepository] update failed", "project_id", project.ID, "error", result.Error)
		return errors.Wrap(result.Error, "database error updating project")
	}
	if result.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (r *gormProjectRepository) Delete(ctx context.Context, projectID uint) error {
	if projectID == 0 {
		return ErrProjectNotFound
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&domain.Project{}, projectID)
		if result.Error != nil {
			return errors.Wrap(result.Error, "database error deleting project")
		}
		if result.RowsAffected == 0 {
			return ErrProjectNotFound
		}

		conversationIDs := tx.Model(&domain.Conversation{}).Select("id").Where("project_id = ?", projectID)
		if err := tx.Where("conversation_id IN (?)", conversationIDs).Delete(&domain.Message{}).Error; err != nil {
			return errors.Wrap(err, "database error deleting project messages")
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&domain.Conversation{}).Error; err != nil {
			return errors.Wrap(err, "database error deleting project conversations")
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&domain.DocumentChunk{}).Error; err != nil {
			return errors.Wrap(err, "database error deleting project chunks")
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&domain.Document{}).Error; err != nil {
			return errors.Wrap(err, "database error deleting project documents")
		}

		r.logger.Info("[ProjectRepository] project deleted", "project_id", projectID)
		return nil
	})
}

func validateProject(project *domain.Project) error {
	if project == nil {
		return ErrInvalidProject
	}
	project.Name = strings.TrimSpace(project.Name)
	if project.Name == "" {
		return errors.Wrap(ErrInvalidProject, "name is required")
	}
	if utf8.RuneCountInString(project.Name) > maxNameLength {
		return errors.Wrap(ErrInvalidProject, "name is too long")
	}
	return nil
}
