// File: internal/handlers/document_handler.go
package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/iyunix/go-localchat/internal/services"
)

type DocumentHandler struct {
	DocumentService *services.DocumentService
	logger          Logger
}

func NewDocumentHandler(ds *services.DocumentService, logger Logger) *DocumentHandler {
	return &DocumentHandler{DocumentService: ds, logger: logger}
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid project ID", http.StatusBadRequest)
		return
	}
	docs, err := h.DocumentService.List(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: docs, Total: int64(len(docs))})
}

// UploadDocument accepts either a multipart form with a "file" part or a
// JSON body of {name, content}.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid project ID", http.StatusBadRequest)
		return
	}

	var name string
	var content []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, services.MaxDocumentBytes+(64<<10))
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, "A file field is required", http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, err = io.ReadAll(io.LimitReader(file, services.MaxDocumentBytes+1))
		if err != nil {
			writeError(w, "Could not read upload", http.StatusBadRequest)
			return
		}
		name = header.Filename
	} else {
		var req struct {
			Name    string `json:"name"`
			Content string `json:"content"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, 2*services.MaxDocumentBytes)
		if !decodeJSONBody(w, r, &req) {
			return
		}
		name, content = req.Name, []byte(req.Content)
	}

	doc, err := h.DocumentService.Upload(r.Context(), projectID, name, content)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	documentID, ok := pathID(r, "id")
	if !ok {
		writeError(w, "Invalid document ID", http.StatusBadRequest)
		return
	}
	if err := h.DocumentService.Delete(r.Context(), documentID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
