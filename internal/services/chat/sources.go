// File: internal/services/chat/sources.go
package chat

import (
	"github.com/iyunix/go-localchat/internal/services/retrieval"
)

type SourceExtractor struct {
	config *Config
	logger Logger
}

func NewSourceExtractor(config *Config, logger Logger) *SourceExtractor {
	return &SourceExtractor{
		config: config,
		logger: logger,
	}
}

// ExtractSources extracts unique document titles from matches, in match order
func (s *SourceExtractor) ExtractSources(matches []retrieval.Match) []string {
	if !s.config.EnableSources {
		return nil
	}

	var sources []string
	seen := make(map[string]bool)
	for _, match := range matches {
		title := CleanFilename(match.DocumentName)
		if title == "" || seen[title] {
			continue
		}
		sources = append(sources, title)
		seen[title] = true
		if s.config.MaxSources > 0 && len(sources) >= s.config.MaxSources {
			break
		}
	}

	s.logger.Debug("sources extracted", "matches_count", len(matches), "unique_sources", len(sources))
	return sources
}
