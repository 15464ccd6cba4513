package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetry_Success(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return nil
	}, fastConfig(3), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("connection reset")
		}
		return nil
	}, fastConfig(3), IsRetryableNetworkError)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return errors.New("503 service unavailable")
	}, fastConfig(2), IsRetryableNetworkError)

	if err == nil {
		t.Error("Expected error after exhausting attempts")
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls (retry once), got %d", calls)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	calls := 0
	base := errors.New("invalid api key")
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return base
	}, fastConfig(5), IsRetryableNetworkError)

	if !errors.Is(err, base) {
		t.Errorf("Expected original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call for non-retryable error, got %d", calls)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("timeout")
	}, fastConfig(5), IsRetryableNetworkError)

	if err == nil {
		t.Error("Expected an error after cancellation")
	}
	if calls != 1 {
		t.Errorf("Expected no retries after cancellation, got %d calls", calls)
	}
}

func TestRetryNotify(t *testing.T) {
	notified := 0
	calls := 0
	err := RetryNotify(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("rate limit reached")
		}
		return nil
	}, fastConfig(3), IsRetryableNetworkError, func(error, time.Duration) { notified++ })

	if err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if notified != 2 {
		t.Errorf("Expected 2 notifications, got %d", notified)
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{errors.New("connection refused"), true},
		{errors.New("POST \"https://api.openai.com/v1/chat/completions\": 429 Too Many Requests"), true},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), true},
		{errors.New("401 Unauthorized"), false},
		{context.Canceled, false},
		{fmt.Errorf("llm: %w", ErrCircuitOpen), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := IsRetryableNetworkError(tt.err); got != tt.retryable {
			t.Errorf("IsRetryableNetworkError(%v): Expected %v, got %v", tt.err, tt.retryable, got)
		}
	}
}
