// File: internal/services/retrieval/retry.go
package retrieval

import (
	"context"
	"time"
)

type RetryService struct {
	config *Config
	logger Logger
}

func NewRetryService(config *Config, logger Logger) *RetryService {
	return &RetryService{
		config: config,
		logger: logger,
	}
}

// RetryWithTimeout runs call until it succeeds, the retries are spent or the
// overall timeout derived from ctx expires.
func (r *RetryService) RetryWithTimeout(ctx context.Context, call func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Debug("retrying index operation", "attempt", attempt, "max_retries", r.config.MaxRetries)
			select {
			case <-ctx.Done():
				return NewTimeoutError("operation timed out during retry", ctx.Err())
			case <-time.After(r.config.RetryDelay):
			}
		}

		err := call(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("index operation succeeded after retry", "attempts", attempt+1)
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return NewTimeoutError("operation timed out", ctx.Err())
		}
		if attempt < r.config.MaxRetries {
			r.logger.Warn("index operation failed, retrying", "attempt", attempt+1, "error", err)
		}
	}

	r.logger.Error("index operation failed after all retries", "attempts", r.config.MaxRetries+1, "error", lastErr)
	return NewRetryError("operation failed after all retries", lastErr)
}
