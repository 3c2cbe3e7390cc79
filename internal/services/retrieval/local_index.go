// File: internal/services/retrieval/local_index.go
package retrieval

import (
	"context"
	"encoding/binary"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/iyunix/go-localchat/internal/domain"
)

// LocalIndex keeps embeddings next to the chunks in the application database
// and scores them in process. Suitable for a single-user corpus.
type LocalIndex struct {
	db     *gorm.DB
	logger Logger
}

func NewLocalIndex(db *gorm.DB, logger Logger) *LocalIndex {
	return &LocalIndex{db: db, logger: logger}
}

func (l *LocalIndex) Name() string { return BackendLocal }

// Upsert stores the embedding of chunks that already exist in the database.
func (l *LocalIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range chunks {
			if c.ID == 0 {
				return NewOperationError(BackendLocal, "chunk has no id", nil)
			}
			res := tx.Model(&domain.DocumentChunk{}).
				Where("id = ?", c.ID).
				Update("embedding", EncodeEmbedding(c.Embedding))
			if res.Error != nil {
				return NewOperationError(BackendLocal, "store embedding", res.Error)
			}
		}
		return nil
	})
}

type scoredRow struct {
	ID           uint
	DocumentID   uint
	DocumentName string
	Content      string
	Embedding    []byte
}

func (l *LocalIndex) Query(ctx context.Context, projectID uint, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 || len(embedding) == 0 {
		return nil, nil
	}

	var rows []scoredRow
	err := l.db.WithContext(ctx).
		Table("document_chunks").
		Select("document_chunks.id, document_chunks.document_id, documents.name AS document_name, document_chunks.content, document_chunks.embedding").
		Joins("JOIN documents ON documents.id = document_chunks.document_id").
		Where("document_chunks.project_id = ? AND documents.deleted_at IS NULL AND documents.status = ?", projectID, domain.DocumentReady).
		Where("document_chunks.embedding IS NOT NULL").
		Scan(&rows).Error
	if err != nil {
		return nil, NewOperationError(BackendLocal, "load chunks", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		vec := DecodeEmbedding(row.Embedding)
		if len(vec) != len(embedding) {
			l.logger.Warn("skipping chunk with mismatched embedding size", "chunk_id", row.ID, "size", len(vec), "want", len(embedding))
			continue
		}
		matches = append(matches, Match{
			ChunkID:      row.ID,
			DocumentID:   row.DocumentID,
			DocumentName: row.DocumentName,
			Content:      row.Content,
			Score:        CosineSimilarity(embedding, vec),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ChunkID < matches[j].ChunkID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteDocument is a no-op: chunk rows, and their embeddings, are removed by
// the document repository.
func (l *LocalIndex) DeleteDocument(ctx context.Context, projectID, documentID uint) error {
	return nil
}

func (l *LocalIndex) HealthCheck(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql db")
	}
	return sqlDB.PingContext(ctx)
}

// CosineSimilarity returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func DecodeEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
