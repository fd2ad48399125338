package errs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_Run_SucceedsAfterTransientFailures(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:    3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2,
		RetryableTypes: []Type{TypeTransient},
	}

	attempts := 0
	err := policy.Run(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return NewTransient("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryPolicy_Run_StopsOnNonRetryable(t *testing.T) {
	policy := DefaultRetryPolicy()
	attempts := 0
	err := policy.Run(context.Background(), func() error {
		attempts++
		return NewValidation("bad input")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestRetryPolicy_Run_PlainErrorsAreNotRetried(t *testing.T) {
	policy := DefaultRetryPolicy()
	attempts := 0
	sentinel := errors.New("boom")
	err := policy.Run(context.Background(), func() error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryPolicy_Run_RespectsContextCancellation(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:    10,
		InitialDelay:   50 * time.Millisecond,
		MaxDelay:       time.Second,
		Multiplier:     2,
		RetryableTypes: []Type{TypeTransient},
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := policy.Run(ctx, func() error {
		return NewTransient("always fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
