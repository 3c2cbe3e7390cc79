// File: internal/services/ai/config.go
package ai

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	// ModeCompletion sends the rendered transcript to /v1/completions.
	ModeCompletion = "completion"
	// ModeChat wraps the transcript in a single user chat message.
	ModeChat = "chat"
)

type Config struct {
	Provider string
	APIMode  string

	// LLM Configuration
	BaseURL string
	APIKey  string
	Model   string

	// Embedding Configuration; empty base URL and key reuse the LLM ones
	EmbeddingBaseURL string
	EmbeddingKey     string
	EmbeddingModel   string

	// Performance Configuration
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	// Model Parameters
	Temperature float32
	MaxTokens   int
	Stop        []string
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case ProviderOpenAI:
		if c.BaseURL == "" {
			return fmt.Errorf("LLM_BASE_URL is required for the openai provider")
		}
		switch c.APIMode {
		case ModeCompletion, ModeChat:
		default:
			return fmt.Errorf("unknown LLM_API_MODE %q", c.APIMode)
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("LLM_MODEL is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Provider:    ProviderOpenAI,
		APIMode:     ModeCompletion,
		BaseURL:     "http://localhost:8000/v1",
		Model:       "local-model",
		Timeout:     60 * time.Second,
		MaxRetries:  3,
		RetryDelay:  time.Second,
		Temperature: 0.7,
		MaxTokens:   1024,
		Stop:        []string{"\nUser:"},
	}
}
