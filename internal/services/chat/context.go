// File: internal/services/chat/context.go
package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/iyunix/go-localchat/internal/services/ai"
)

const conversationTitleMaxLen = 60

// ContextHelper provides utilities for fitting retrieved text into the prompt
type ContextHelper struct {
	config *Config
	logger Logger
}

// NewContextHelper creates a new context helper with configuration
func NewContextHelper(config *Config, logger Logger) *ContextHelper {
	return &ContextHelper{
		config: config,
		logger: logger,
	}
}

// FitContext keeps whole blocks while their token total stays within
// ContextMaxTokens. The first block is truncated rather than dropped.
func (ch *ContextHelper) FitContext(blocks []string) []string {
	budget := ch.config.ContextMaxTokens
	if budget <= 0 {
		return blocks
	}

	kept := make([]string, 0, len(blocks))
	used := 0
	for i, block := range blocks {
		tokens := ai.CountTokens(block, utf8.RuneCountInString(block)/4)
		if used+tokens > budget {
			if i == 0 {
				kept = append(kept, TruncateText(block, budget*4))
			}
			ch.logger.Info("truncating retrieval context for token limits",
				"kept_blocks", len(kept),
				"total_blocks", len(blocks),
				"max_tokens", budget)
			break
		}
		used += tokens
		kept = append(kept, block)
	}
	return kept
}

// ---------------- Package-level utility functions ----------------

// TruncateText safely truncates a UTF-8 string to maxLen runes, preserving character integrity
func TruncateText(input string, maxLen int) string {
	if input == "" || maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(input) <= maxLen {
		return input
	}

	var b strings.Builder
	count := 0
	for _, r := range input {
		if count >= maxLen {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// CleanWhitespace normalizes whitespace in text
func CleanWhitespace(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// SanitizeForPrompt removes characters that confuse completion models
func SanitizeForPrompt(input string) string {
	sanitized := strings.ReplaceAll(input, "\x00", "")
	sanitized = strings.ReplaceAll(sanitized, "\r\n", "\n")
	sanitized = strings.ReplaceAll(sanitized, "\r", "\n")

	for strings.Contains(sanitized, "\n\n\n") {
		sanitized = strings.ReplaceAll(sanitized, "\n\n\n", "\n\n")
	}
	return sanitized
}

// ConversationTitle derives a title from the first user message.
func ConversationTitle(firstMessage string) string {
	title := CleanWhitespace(firstMessage)
	if utf8.RuneCountInString(title) <= conversationTitleMaxLen {
		return title
	}
	return strings.TrimSpace(TruncateText(title, conversationTitleMaxLen-3)) + "..."
}

// CleanFilename cleans up filenames for display
func CleanFilename(filename string) string {
	cleaned := filename
	if i := strings.LastIndexAny(cleaned, `/\`); i >= 0 {
		cleaned = cleaned[i+1:]
	}
	if i := strings.LastIndex(cleaned, "."); i > 0 {
		cleaned = cleaned[:i]
	}
	cleaned = strings.ReplaceAll(cleaned, "_", " ")
	return strings.TrimSpace(cleaned)
}
