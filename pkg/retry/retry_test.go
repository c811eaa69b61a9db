package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bridgefs/bridgefs/pkg/errors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesRetryableCode(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryableErrors = []errors.ErrorCode{errors.ErrCodeNetworkError}

	calls := 0
	err := New(cfg).Do(func() error {
		calls++
		if calls < 3 {
			return errors.NewError(errors.ErrCodeNetworkError, "flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return errors.NewError(errors.ErrCodeObjectNotFound, "gone")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoDoesNotRetryPlainErrors(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return fmt.Errorf("plain failure")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryableErrors = []errors.ErrorCode{errors.ErrCodeNetworkError}

	calls := 0
	cause := errors.NewError(errors.ErrCodeNetworkError, "down")
	err := New(cfg).Do(func() error {
		calls++
		return cause
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, errors.Sentinel(errors.ErrCodeRetryExhausted)) {
		t.Errorf("expected RETRY_EXHAUSTED, got %v", err)
	}
	if !errors.Is(err, errors.Sentinel(errors.ErrCodeNetworkError)) {
		t.Errorf("cause not preserved in chain: %v", err)
	}
}

func TestDoWithContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(fastConfig()).DoWithContext(ctx, func(context.Context) error {
		t.Fatal("function called despite canceled context")
		return nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestOnRetryCallback(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryableErrors = []errors.ErrorCode{errors.ErrCodeNetworkError}
	retries := 0
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries++
	}

	_ = New(cfg).Do(func() error {
		return errors.NewError(errors.ErrCodeNetworkError, "down")
	})
	if retries != 2 {
		t.Errorf("OnRetry called %d times, want 2", retries)
	}
}
