// File: internal/services/ai/openai_provider.go
package ai

import (
	"context"
	"errors"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible server (llama.cpp, vLLM,
// LM Studio, ...).
type OpenAIProvider struct {
	config          *Config
	llmClient       *openai.Client
	embeddingClient *openai.Client
}

func NewOpenAIProvider(config *Config) *OpenAIProvider {
	llmConfig := openai.DefaultConfig(config.APIKey)
	llmConfig.BaseURL = config.BaseURL
	llmClient := openai.NewClientWithConfig(llmConfig)

	embeddingKey := config.EmbeddingKey
	if embeddingKey == "" {
		embeddingKey = config.APIKey
	}
	embeddingConfig := openai.DefaultConfig(embeddingKey)
	embeddingConfig.BaseURL = config.BaseURL
	if config.EmbeddingBaseURL != "" {
		embeddingConfig.BaseURL = config.EmbeddingBaseURL
	}

	return &OpenAIProvider{
		config:          config,
		llmClient:       llmClient,
		embeddingClient: openai.NewClientWithConfig(embeddingConfig),
	}
}

func (p *OpenAIProvider) StreamCompletion(ctx context.Context, req CompletionRequest, onDelta func(string) error) error {
	if p.config.APIMode == ModeChat {
		return p.streamChat(ctx, req, onDelta)
	}

	stream, err := p.llmClient.CreateCompletionStream(ctx, openai.CompletionRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      true,
	})
	if err != nil {
		return classifyError("streaming", req.Model, "failed to create stream", err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classifyError("streaming", req.Model, "stream receive error", err)
		}
		for _, choice := range response.Choices {
			if choice.Text == "" || onDelta == nil {
				continue
			}
			if cbErr := onDelta(choice.Text); cbErr != nil {
				return cbErr
			}
		}
	}
}

func (p *OpenAIProvider) streamChat(ctx context.Context, req CompletionRequest, onDelta func(string) error) error {
	stream, err := p.llmClient.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      true,
	})
	if err != nil {
		return classifyError("streaming", req.Model, "failed to create stream", err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classifyError("streaming", req.Model, "stream receive error", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" && onDelta != nil {
			if cbErr := onDelta(delta); cbErr != nil {
				return cbErr
			}
		}
	}
}

func (p *OpenAIProvider) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.embeddingClient.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.embeddingModel()),
	})
	if err != nil {
		return nil, classifyError("embedding", p.embeddingModel(), "failed to create embedding", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &AIError{
			Type:      ErrTypeProvider,
			Operation: "embedding",
			Model:     p.embeddingModel(),
			Message:   "empty embedding response",
		}
	}
	return resp.Data[0].Embedding, nil
}

func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.llmClient.ListModels(ctx); err != nil {
		return classifyError("health_check", p.config.Model, "model listing failed", err)
	}
	return nil
}

func (p *OpenAIProvider) GetStatus(ctx context.Context) ProviderStatus {
	status := ProviderStatus{Provider: ProviderOpenAI, Model: p.config.Model}
	if err := p.HealthCheck(ctx); err != nil {
		status.Message = err.Error()
		return status
	}
	status.IsHealthy = true
	status.Message = "OpenAI-compatible provider healthy"
	return status
}

func (p *OpenAIProvider) embeddingModel() string {
	if p.config.EmbeddingModel != "" {
		return p.config.EmbeddingModel
	}
	return p.config.Model
}

// classifyError maps go-openai errors onto AIError types.
func classifyError(operation, model, msg string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	aiErr := &AIError{Type: ErrTypeProvider, Operation: operation, Model: model, Message: msg, Cause: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		aiErr.Code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		aiErr.Code = reqErr.HTTPStatusCode
	default:
		aiErr.Type = ErrTypeNetwork
	}

	switch {
	case aiErr.Code == http.StatusTooManyRequests:
		aiErr.Type = ErrTypeRateLimit
	case aiErr.Code == http.StatusNotFound:
		aiErr.Type = ErrTypeModel
	case aiErr.Code == http.StatusBadRequest:
		aiErr.Type = ErrTypeValidation
	}
	return aiErr
}
