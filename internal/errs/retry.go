package errs

import (
	"context"
	"math"
	"time"
)

// RetryPolicy configures exponential backoff retry behavior.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	Jitter          bool
	RetryableTypes  []Type
}

// DefaultRetryPolicy backs Retry: exponential backoff for calls where
// transient network and rate-limit errors are common.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableTypes: []Type{
			TypeTransient,
			TypeNetwork,
			TypeRateLimit,
		},
	}
}

// Run executes fn, retrying on retryable errors per policy until it
// succeeds, a non-retryable error is returned, attempts are exhausted, or
// ctx is cancelled.
func (p *RetryPolicy) Run(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.isRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.calculateDelay(attempt)):
		}
	}

	return lastErr
}

func (p *RetryPolicy) isRetryable(err error) bool {
	structured, ok := err.(*Error)
	if !ok {
		return false
	}
	for _, t := range p.RetryableTypes {
		if structured.Type == t {
			return structured.Retryable
		}
	}
	return false
}

func (p *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := delay * 0.1 * (0.5 - float64(time.Now().UnixNano()%1000)/1000.0)
		delay += jitter
	}
	return time.Duration(delay)
}

// Retry runs fn with DefaultRetryPolicy.
func Retry(ctx context.Context, fn func() error) error {
	return DefaultRetryPolicy().Run(ctx, fn)
}
