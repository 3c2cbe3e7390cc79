// File: internal/services/chat/config.go
package chat

import (
	"fmt"
	"time"
)

type Config struct {
	// History Configuration
	MaxHistoryMessages int // Most recent prior turns sent to the model
	MaxMessageChars    int // Upper bound for a submitted user message

	// Model Configuration
	Model       string
	Temperature float32
	MaxTokens   int
	Stop        []string

	// Streaming Configuration
	StreamTimeout     time.Duration // Bound on a single generation
	FinalizeTimeout   time.Duration // Bound on the terminal database write
	ResumableStreams  bool          // Generation survives subscriber loss
	SessionRetention  time.Duration // How long finished sessions stay replayable
	HeartbeatInterval time.Duration

	// RAG Configuration
	RetrievalTopK    int
	ContextMaxTokens int
	EnableSources    bool
	MaxSources       int
}

func (c *Config) Validate() error {
	if c.MaxHistoryMessages <= 0 {
		return fmt.Errorf("max_history_messages must be positive")
	}
	if c.MaxMessageChars <= 0 {
		return fmt.Errorf("max_message_chars must be positive")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.StreamTimeout <= 0 {
		return fmt.Errorf("stream_timeout must be positive")
	}
	if c.FinalizeTimeout <= 0 {
		return fmt.Errorf("finalize_timeout must be positive")
	}
	if c.SessionRetention <= 0 {
		return fmt.Errorf("session_retention must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.RetrievalTopK < 0 || c.RetrievalTopK > 20 {
		return fmt.Errorf("retrieval_top_k must be between 0 and 20")
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		MaxHistoryMessages: 20,
		MaxMessageChars:    16000,
		Model:              "local-model",
		Temperature:        0.7,
		MaxTokens:          1024,
		Stop:               []string{"\nUser:"},
		StreamTimeout:      5 * time.Minute,
		FinalizeTimeout:    5 * time.Second,
		ResumableStreams:   true,
		SessionRetention:   2 * time.Minute,
		HeartbeatInterval:  15 * time.Second,
		RetrievalTopK:      4,
		ContextMaxTokens:   2000,
		EnableSources:      true,
		MaxSources:         5,
	}
}
