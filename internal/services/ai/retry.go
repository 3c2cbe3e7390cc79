// File: internal/services/ai/retry.go
package ai

import (
	"context"
	"time"
)

// Logger interface for AI operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// RetryingEmbedder retries embedding calls with a per-attempt timeout and a
// linearly growing delay. Streaming completions are never retried because a
// retry would duplicate already emitted tokens.
type RetryingEmbedder struct {
	next   EmbeddingProvider
	config *Config
	logger Logger
}

func NewRetryingEmbedder(next EmbeddingProvider, config *Config, logger Logger) *RetryingEmbedder {
	return &RetryingEmbedder{next: next, config: config, logger: logger}
}

func (r *RetryingEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := r.retryWithTimeout(ctx, func(ctx context.Context) error {
		var err error
		embedding, err = r.next.CreateEmbedding(ctx, text)
		return err
	})
	return embedding, err
}

func (r *RetryingEmbedder) retryWithTimeout(ctx context.Context, call func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		err := call(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetryable(err) {
			return err
		}

		r.logger.Warn("embedding attempt failed", "attempt", attempt, "max_retries", r.config.MaxRetries, "error", err)
		if attempt < r.config.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * r.config.RetryDelay):
			}
		}
	}
	return lastErr
}
