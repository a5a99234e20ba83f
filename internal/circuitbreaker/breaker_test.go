package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerClosedStateAllowsCalls(t *testing.T) {
	b := New("test", DefaultConfig(), nil)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %v", b.State())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailureThreshold = 3
	b := New("test", cfg, nil)
	testErr := errors.New("boom")

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		})
	}

	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 consecutive failures, got %v", b.State())
	}

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatalf("operation should not be invoked while open")
		return nil
	})

	cerr, ok := err.(*CallError)
	if !ok || cerr.Kind != "CircuitOpen" {
		t.Errorf("expected CircuitOpen, got %v", err)
	}
}

func TestBreakerHalfOpenClosesOnSuccesses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailureThreshold = 1
	cfg.OpenTimeout = 10 * time.Millisecond
	cfg.HalfOpenMaxConcurrent = 2
	cfg.HalfOpenSuccessThreshold = 2
	b := New("test", cfg, nil)

	_ = b.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("fail")
	})
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Execute(context.Background(), func(ctx context.Context) error {
			return nil
		}); err != nil {
			t.Fatalf("unexpected error during half-open probe: %v", err)
		}
	}

	if b.State() != StateClosed {
		t.Errorf("expected closed after half-open successes, got %v", b.State())
	}
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailureThreshold = 1
	cfg.OpenTimeout = 10 * time.Millisecond
	b := New("test", cfg, nil)

	_ = b.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("fail")
	})
	time.Sleep(20 * time.Millisecond)

	_ = b.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("fail again")
	})

	if b.State() != StateOpen {
		t.Errorf("expected reopen after half-open probe failure, got %v", b.State())
	}
}

func TestBreakerExponentialBackoffGrowsOnRepeatedTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailureThreshold = 1
	cfg.OpenTimeout = 10 * time.Millisecond
	cfg.ExponentialBackoff = true
	cfg.BackoffMultiplier = 2.0
	cfg.MaxBackoff = time.Second
	b := New("test", cfg, nil)

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	first := b.backoffDuration()
	if first != cfg.OpenTimeout {
		t.Fatalf("expected first backoff to equal base open timeout, got %v", first)
	}

	time.Sleep(15 * time.Millisecond)
	// Half-open probe fails: reopens without resetting backoff_attempt, so
	// the wait grows.
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("fail again") })

	second := b.backoffDuration()
	if second <= first {
		t.Errorf("expected backoff to grow after a half-open failure: first=%v second=%v", first, second)
	}
}

func TestBreakerCallWithFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailureThreshold = 1
	cfg.OpenTimeout = time.Hour
	b := New("test", cfg, nil)

	_, _ = b.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("fail")
	})

	v, err := b.CallWithFallback(context.Background(),
		func(ctx context.Context) (interface{}, error) { return "primary", nil },
		func(ctx context.Context) (interface{}, error) { return "fallback", nil },
	)
	if err != nil {
		t.Fatalf("unexpected error from fallback: %v", err)
	}
	if v != "fallback" {
		t.Errorf("expected fallback value, got %v", v)
	}
}

func TestBreakerCallTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	b := New("test", cfg, nil)

	_, err := b.Call(context.Background(), func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cerr, ok := err.(*CallError)
	if !ok || cerr.Kind != "Timeout" {
		t.Errorf("expected Timeout, got %v", err)
	}
}
