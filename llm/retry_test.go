package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-go/types"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func TestRetryProvider_RetriesRetryable(t *testing.T) {
	p := &mockProvider{}
	p.completeFn = func(context.Context, *ChatRequest) (*ChatResponse, error) {
		if p.calls < 3 {
			return nil, types.NewError(types.ErrRateLimited, "slow down").WithRetryable(true)
		}
		return &ChatResponse{ID: "ok"}, nil
	}

	resp, err := NewRetryProvider(p, fastRetry(2), nil).Completion(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.ID)
	assert.Equal(t, 3, p.calls)
}

func TestRetryProvider_StopsOnPermanentError(t *testing.T) {
	p := &mockProvider{completeFn: func(context.Context, *ChatRequest) (*ChatResponse, error) {
		return nil, types.NewError(types.ErrUnauthorized, "bad key")
	}}

	_, err := NewRetryProvider(p, fastRetry(5), nil).Completion(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUnauthorized))
	assert.Equal(t, 1, p.calls)
}

func TestRetryProvider_Exhausted(t *testing.T) {
	p := &mockProvider{completeFn: func(context.Context, *ChatRequest) (*ChatResponse, error) {
		return nil, types.NewError(types.ErrUpstreamError, "5xx").WithRetryable(true)
	}}

	_, err := NewRetryProvider(p, fastRetry(2), nil).Completion(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
	assert.Equal(t, 3, p.calls)
}

func TestRetryProvider_ContextCancelledDuringBackoff(t *testing.T) {
	p := &mockProvider{completeFn: func(context.Context, *ChatRequest) (*ChatResponse, error) {
		return nil, types.NewError(types.ErrUpstreamError, "5xx").WithRetryable(true)
	}}
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Hour, BackoffFactor: 2}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewRetryProvider(p, cfg, nil).Completion(ctx, &ChatRequest{})
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, p.calls)
}

func TestRetryProvider_Delay(t *testing.T) {
	r := NewRetryProvider(&mockProvider{}, RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}, nil)
	assert.Equal(t, 100*time.Millisecond, r.delay(1))
	assert.Equal(t, 200*time.Millisecond, r.delay(2))
	assert.Equal(t, 300*time.Millisecond, r.delay(3))
	assert.Equal(t, "mock", r.Name())
}
