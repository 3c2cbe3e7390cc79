package project_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository/project"
	"github.com/iyunix/go-localchat/internal/repository/repotest"
)

func TestProjectCRUD(t *testing.T) {
	db := repotest.Open(t)
	repo := project.NewProjectRepository(db, repotest.NopLogger{})
	ctx := context.Background()

	created, err := repo.Create(ctx, &domain.Project{Name: "  research  "})
	require.NoError(t, err)
	assert.Equal(t, "research", created.Name)

	created.Name = "renamed"
	require.NoError(t, repo.Update(ctx, created))

	found, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", found.Name)

	list, total, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, list, 1)
}

func TestProjectValidation(t *testing.T) {
	repo := project.NewProjectRepository(repotest.Open(t), repotest.NopLogger{})

	_, err := repo.Create(context.Background(), &domain.Project{Name: " "})
	assert.ErrorIs(t, err, project.ErrInvalidProject)

	_, err = repo.Create(context.Background(), &domain.Project{Name: strings.Repeat("x", 201)})
	assert.ErrorIs(t, err, project.ErrInvalidProject)
}

func TestProjectDeleteCascades(t *testing.T) {
	db := repotest.Open(t)
	repo := project.NewProjectRepository(db, repotest.NopLogger{})
	ctx := context.Background()

	p, err := repo.Create(ctx, &domain.Project{Name: "doomed"})
	require.NoError(t, err)
	conv := &domain.Conversation{ProjectID: p.ID}
	require.NoError(t, db.Create(conv).Error)
	require.NoError(t, db.Create(&domain.Message{ConversationID: conv.ID, Role: domain.RoleUser, Content: "hi", Status: domain.StatusCompleted}).Error)
	doc := &domain.Document{ProjectID: p.ID, Name: "a.txt", Status: domain.DocumentReady}
	require.NoError(t, db.Create(doc).Error)

	require.NoError(t, repo.Delete(ctx, p.ID))

	_, err = repo.FindByID(ctx, p.ID)
	assert.ErrorIs(t, err, project.ErrProjectNotFound)

	var count int64
	require.NoError(t, db.Model(&domain.Conversation{}).Where("project_id = ?", p.ID).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&domain.Message{}).Where("conversation_id = ?", conv.ID).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&domain.Document{}).Where("project_id = ?", p.ID).Count(&count).Error)
	assert.Zero(t, count)

	// soft-deleted rows are still there
	require.NoError(t, db.Unscoped().Model(&domain.Message{}).Where("conversation_id = ?", conv.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	assert.ErrorIs(t, repo.Delete(ctx, p.ID), project.ErrProjectNotFound)
}
