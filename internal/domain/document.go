// File: internal/domain/document.go
package domain

import (
	"time"

	"gorm.io/gorm"
)

const (
	DocumentReady  = "ready"
	DocumentFailed = "failed"
)

// Document is a file uploaded to a project for retrieval.
type Document struct {
	ID          uint           `json:"id" gorm:"primarykey"`
	ProjectID   uint           `json:"project_id" gorm:"not null;index"`
	Name        string         `json:"name" gorm:"size:255;not null"`
	ContentHash string         `json:"content_hash" gorm:"size:64;index"`
	SizeBytes   int64          `json:"size_bytes"`
	ChunkCount  int            `json:"chunk_count"`
	Status      string         `json:"status" gorm:"size:16;not null"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// DocumentChunk is one embedded slice of a document. Embedding holds a
// little-endian float32 vector and is only populated for the local index.
type DocumentChunk struct {
	ID         uint   `gorm:"primarykey"`
	DocumentID uint   `gorm:"not null;index"`
	ProjectID  uint   `gorm:"not null;index"`
	Ordinal    int    `gorm:"not null"`
	Content    string `gorm:"not null"`
	Embedding  []byte
	CreatedAt  time.Time
}
