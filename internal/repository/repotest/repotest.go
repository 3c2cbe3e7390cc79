// Package repotest opens throwaway databases for package tests.
package repotest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/iyunix/go-localchat/internal/repository"
)

// Open creates a migrated sqlite database inside t.TempDir().
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.Open(repository.Options{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// NopLogger discards repository logs.
type NopLogger struct{}

func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Warn(string, ...interface{})  {}
