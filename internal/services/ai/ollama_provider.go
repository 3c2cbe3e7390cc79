// File: internal/services/ai/ollama_provider.go
package ai

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaProvider runs completions and embeddings against a local Ollama
// server through langchaingo.
type OllamaProvider struct {
	config   *Config
	llm      *ollama.LLM
	embedder *ollama.LLM
}

func NewOllamaProvider(config *Config) (*OllamaProvider, error) {
	opts := []ollama.Option{ollama.WithModel(config.Model)}
	if config.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(config.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, NewProviderError("init", "failed to create ollama client", err)
	}

	embedder := llm
	if config.EmbeddingModel != "" && config.EmbeddingModel != config.Model {
		embedOpts := []ollama.Option{ollama.WithModel(config.EmbeddingModel)}
		if url := firstNonEmpty(config.EmbeddingBaseURL, config.BaseURL); url != "" {
			embedOpts = append(embedOpts, ollama.WithServerURL(url))
		}
		if embedder, err = ollama.New(embedOpts...); err != nil {
			return nil, NewProviderError("init", "failed to create ollama embedding client", err)
		}
	}

	return &OllamaProvider{config: config, llm: llm, embedder: embedder}, nil
}

func (p *OllamaProvider) StreamCompletion(ctx context.Context, req CompletionRequest, onDelta func(string) error) error {
	options := []llms.CallOption{
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 || onDelta == nil {
				return nil
			}
			return onDelta(string(chunk))
		}),
		llms.WithTemperature(float64(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		options = append(options, llms.WithStopWords(req.Stop))
	}
	if req.Model != "" && req.Model != p.config.Model {
		options = append(options, llms.WithModel(req.Model))
	}

	if _, err := llms.GenerateFromSinglePrompt(ctx, p.llm, req.Prompt, options...); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &AIError{Type: ErrTypeProvider, Operation: "streaming", Model: req.Model, Message: "ollama generation failed", Cause: err}
	}
	return nil
}

func (p *OllamaProvider) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embedder.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, NewProviderError("embedding", "failed to create embedding", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, &AIError{Type: ErrTypeProvider, Operation: "embedding", Message: "empty embedding response"}
	}
	return vectors[0], nil
}

func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	_, err := llms.GenerateFromSinglePrompt(ctx, p.llm, "ping", llms.WithMaxTokens(1))
	if err != nil {
		return NewProviderError("health_check", "ollama did not answer", err)
	}
	return nil
}

func (p *OllamaProvider) GetStatus(ctx context.Context) ProviderStatus {
	status := ProviderStatus{Provider: ProviderOllama, Model: p.config.Model}
	if err := p.HealthCheck(ctx); err != nil {
		status.Message = err.Error()
		return status
	}
	status.IsHealthy = true
	status.Message = "Ollama provider healthy"
	return status
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
