package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got != "[UPSTREAM_ERROR] upstream failed: root" {
		t.Fatalf("unexpected error string %q", got)
	}
}

func TestError_ThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrIterationLimit, "iteration limit exceeded (3)")
	wrapped := fmt.Errorf("run conversation: %w", inner)

	if !IsErrorCode(wrapped, ErrIterationLimit) {
		t.Fatalf("expected code to survive fmt wrapping")
	}
	if IsRetryable(wrapped) {
		t.Fatalf("iteration limit must not be retryable")
	}
	e, ok := AsError(wrapped)
	if !ok || e != inner {
		t.Fatalf("AsError did not find the inner error")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}

func TestWrapError_Nil(t *testing.T) {
	t.Parallel()

	if WrapError(nil, ErrInternalError, "x") != nil {
		t.Fatalf("wrapping nil must return nil")
	}
	err := WrapError(errors.New("disk"), ErrInternalError, "save failed")
	if err.Error() != "[INTERNAL_ERROR] save failed: disk" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}
