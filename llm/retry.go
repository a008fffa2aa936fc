package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/types"
)

// RetryConfig holds retry configuration for a provider wrapper.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`    // Maximum retry attempts, default 2
	InitialDelay  time.Duration `json:"initial_delay"`  // Initial backoff delay, default 500ms
	MaxDelay      time.Duration `json:"max_delay"`      // Maximum backoff delay, default 10s
	BackoffFactor float64       `json:"backoff_factor"` // Exponential backoff factor, default 2.0
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryProvider wraps a Provider and retries failures marked retryable.
// Only *types.Error values with Retryable set are retried.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
	logger *zap.Logger
}

// NewRetryProvider creates a retrying wrapper around inner.
func NewRetryProvider(inner Provider, config RetryConfig, logger *zap.Logger) *RetryProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 2.0
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &RetryProvider{
		inner:  inner,
		config: config,
		logger: logger.With(zap.String("component", "retry_provider"), zap.String("provider", inner.Name())),
	}
}

var _ Provider = (*RetryProvider)(nil)

func (p *RetryProvider) Name() string { return p.inner.Name() }

func (p *RetryProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

// Completion performs a chat completion with retry on transient errors.
func (p *RetryProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.delay(attempt)
			p.logger.Debug("retrying completion",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := p.inner.Completion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !types.IsRetryable(err) {
			return nil, err
		}
		p.logger.Warn("completion failed, will retry",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return nil, fmt.Errorf("completion failed after %d retries: %w", p.config.MaxRetries, lastErr)
}

func (p *RetryProvider) delay(attempt int) time.Duration {
	d := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffFactor, float64(attempt-1))
	if p.config.MaxDelay > 0 && d > float64(p.config.MaxDelay) {
		d = float64(p.config.MaxDelay)
	}
	return time.Duration(d)
}
