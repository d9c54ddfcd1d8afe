package rtt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := &Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := &Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	err := Retry(context.Background(), cfg, func() error {
		return errors.New("always fails")
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("expected ErrMaxRetriesExceeded, got %v", err)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultConfig()
	err := Retry(ctx, cfg, func() error { return errors.New("x") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Threshold: 2, Timeout: 50 * time.Millisecond, HalfOpenRequests: 1})

	cb.RecordFailure()
	if cb.CurrentState() != Closed {
		t.Fatalf("expected still closed after 1 failure")
	}
	cb.RecordFailure()
	if cb.CurrentState() != Open {
		t.Fatalf("expected open after threshold failures")
	}
	if cb.CanExecute() {
		t.Fatalf("expected CanExecute false while open")
	}

	time.Sleep(60 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatalf("expected half-open probe to be allowed after timeout")
	}
	if cb.CurrentState() != HalfOpen {
		t.Fatalf("expected state half-open, got %v", cb.CurrentState())
	}
}

func TestRetryWithBreakerRejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Threshold: 1, Timeout: time.Hour, HalfOpenRequests: 1})
	cb.RecordFailure() // opens immediately

	cfg := &Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	err := RetryWithBreaker(context.Background(), cfg, cb, func() error { return nil })
	if err == nil {
		t.Fatal("expected error while breaker is open")
	}
}
