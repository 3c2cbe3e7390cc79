// File: internal/services/chat/rag.go
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/iyunix/go-localchat/internal/services/retrieval"
)

// RAGService turns retrieved chunks into a prompt preamble.
type RAGService struct {
	config    *Config
	retriever Retriever
	helper    *ContextHelper
	logger    Logger
}

// NewRAGService initializes the RAG service. A nil retriever disables
// retrieval.
func NewRAGService(config *Config, retriever Retriever, logger Logger) *RAGService {
	return &RAGService{
		config:    config,
		retriever: retriever,
		helper:    NewContextHelper(config, logger),
		logger:    logger,
	}
}

// Lookup retrieves matches for query. Retrieval problems are logged and
// treated as "no context"; they never fail a turn.
func (r *RAGService) Lookup(ctx context.Context, projectID uint, query string) []retrieval.Match {
	if r.retriever == nil || r.config.RetrievalTopK == 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	matches, err := r.retriever.Retrieve(ctx, projectID, query)
	if err != nil {
		r.logger.Warn("retrieval failed, continuing without context", "project_id", projectID, "error", err)
		return nil
	}
	r.logger.Info("RAG context retrieved", "project_id", projectID, "matches_count", len(matches))
	return matches
}

// BuildPreamble renders matches, best first, as numbered excerpts.
func (r *RAGService) BuildPreamble(matches []retrieval.Match) string {
	if len(matches) == 0 {
		return ""
	}

	sorted := make([]retrieval.Match, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	blocks := make([]string, 0, len(sorted))
	for i, m := range sorted {
		text := SanitizeForPrompt(strings.TrimSpace(m.Content))
		if text == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[%d] %s\n%s", i+1, CleanFilename(m.DocumentName), text))
	}
	blocks = r.helper.FitContext(blocks)
	if len(blocks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Use the following excerpts from the project's documents when they are relevant. If they do not contain the answer, say so.\n\n")
	b.WriteString(strings.Join(blocks, "\n\n"))
	return b.String()
}
