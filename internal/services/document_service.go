// File: internal/services/document_service.go
package services

import (
	"context"
	"encoding/hex"
	stderrors "errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository/document"
	chatservice "github.com/iyunix/go-localchat/internal/services/chat"
	"github.com/iyunix/go-localchat/internal/services/retrieval"
)

// MaxDocumentBytes bounds a single upload.
const MaxDocumentBytes = 5 << 20

// DocumentService ingests project documents into the vector index.
type DocumentService struct {
	documentRepo document.DocumentRepository
	retrieval    *retrieval.Service
	logger       Logger
}

func NewDocumentService(documentRepo document.DocumentRepository, retrievalService *retrieval.Service, logger Logger) *DocumentService {
	return &DocumentService{
		documentRepo: documentRepo,
		retrieval:    retrievalService,
		logger:       logger,
	}
}

// Upload chunks, embeds and indexes a text document. Uploading identical
// content to the same project returns the existing document.
func (s *DocumentService) Upload(ctx context.Context, projectID uint, name string, content []byte) (*domain.Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, chatservice.NewValidationError("upload_document", "document name is required")
	}
	if len(content) == 0 {
		return nil, chatservice.NewValidationError("upload_document", "document is empty")
	}
	if len(content) > MaxDocumentBytes {
		return nil, chatservice.NewValidationError("upload_document", "document exceeds 5 MB")
	}
	if !utf8.Valid(content) {
		return nil, chatservice.NewValidationError("upload_document", "only UTF-8 text documents are supported")
	}

	sum := blake2b.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	existing, err := s.documentRepo.FindByHash(ctx, projectID, hash)
	if err == nil {
		s.logger.Info("document already indexed", "project_id", projectID, "document_id", existing.ID)
		return existing, nil
	}
	if !stderrors.Is(err, document.ErrDocumentNotFound) {
		return nil, chatservice.FromRepositoryError("upload_document", err)
	}

	texts := s.retrieval.Chunk(string(content))
	if len(texts) == 0 {
		return nil, chatservice.NewValidationError("upload_document", "document has no text")
	}

	chunks := make([]retrieval.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = retrieval.Chunk{ProjectID: projectID, DocumentName: name, Ordinal: i, Content: text}
	}
	if err := s.retrieval.Embed(ctx, chunks); err != nil {
		s.logger.Error("document embedding failed", "project_id", projectID, "name", name, "error", err)
		return nil, chatservice.NewUpstreamError("embed_document", err)
	}

	rows := make([]domain.DocumentChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = domain.DocumentChunk{Ordinal: c.Ordinal, Content: c.Content}
	}
	doc, rows, err := s.documentRepo.Create(ctx, &domain.Document{
		ProjectID:   projectID,
		Name:        name,
		ContentHash: hash,
		SizeBytes:   int64(len(content)),
		Status:      domain.DocumentReady,
	}, rows)
	if err != nil {
		return nil, chatservice.FromRepositoryError("upload_document", err)
	}

	for i := range chunks {
		chunks[i].ID = rows[i].ID
		chunks[i].DocumentID = doc.ID
	}
	if err := s.retrieval.Index(ctx, chunks); err != nil {
		if markErr := s.documentRepo.MarkFailed(ctx, doc.ID); markErr != nil {
			s.logger.Error("failed to mark document as failed", "document_id", doc.ID, "error", markErr)
		}
		doc.Status = domain.DocumentFailed
		return doc, chatservice.NewUpstreamError("index_document", err)
	}

	s.logger.Info("document indexed", "project_id", projectID, "document_id", doc.ID, "chunks", len(chunks))
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, projectID uint) ([]domain.Document, error) {
	docs, err := s.documentRepo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, chatservice.FromRepositoryError("list_documents", err)
	}
	return docs, nil
}

// Delete removes the document and its vectors. Vector cleanup failures are
// logged; the document is already gone from retrieval results.
func (s *DocumentService) Delete(ctx context.Context, documentID uint) error {
	doc, err := s.documentRepo.FindByID(ctx, documentID)
	if err != nil {
		return chatservice.FromRepositoryError("delete_document", err)
	}
	if err := s.documentRepo.Delete(ctx, documentID); err != nil {
		return chatservice.FromRepositoryError("delete_document", err)
	}
	if err := s.retrieval.DeleteDocument(ctx, doc.ProjectID, doc.ID); err != nil {
		s.logger.Warn("failed to remove document vectors", "document_id", doc.ID, "error", err)
	}
	return nil
}
