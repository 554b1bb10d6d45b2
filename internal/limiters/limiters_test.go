package limiters

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/twofa/tokenstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func TestAttemptCounterSixthAttemptRejectedUntilReset(t *testing.T) {
	store := tokenstore.NewMemory()
	counter := NewAttemptCounter(store, AttemptConfig{MaxAttempts: 5, TTL: 10 * time.Minute})
	ctx := context.Background()
	key := tokenstore.TOTPFailedAttemptsKey("u1", "s1")

	for i := 0; i < 5; i++ {
		n, err := counter.Reserve(ctx, key)
		if err != nil {
			t.Fatalf("reservation %d unexpectedly rejected: %v", i+1, err)
		}
		if n != int64(i+1) {
			t.Fatalf("expected count %d, got %d", i+1, n)
		}
	}

	for i := 0; i < 3; i++ {
		if _, err := counter.Reserve(ctx, key); !errors.Is(err, ErrAttemptsExceeded) {
			t.Fatalf("expected attempt %d to be rejected, got %v", i+6, err)
		}
	}

	if err := counter.Reset(ctx, key); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Fatalf("expected counter to be evicted, got %v", err)
	}
	if n, err := counter.Reserve(ctx, key); err != nil || n != 1 {
		t.Fatalf("expected fresh counter after reset, got n=%d err=%v", n, err)
	}
}

func TestAttemptCounterReserveConcurrentHonoursCap(t *testing.T) {
	store := tokenstore.NewMemory()
	counter := NewAttemptCounter(store, AttemptConfig{MaxAttempts: 5})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  int
		rejected int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := counter.Reserve(ctx, "k")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, ErrAttemptsExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if granted != 5 || rejected != 59 {
		t.Fatalf("expected 5 granted and 59 rejected, got %d and %d", granted, rejected)
	}
}

func TestAttemptCounterResetAndRemaining(t *testing.T) {
	store := tokenstore.NewMemory()
	counter := NewAttemptCounter(store, AttemptConfig{})
	ctx := context.Background()

	n, _ := counter.Reserve(ctx, "k")
	if counter.Remaining(n) != 4 {
		t.Fatalf("expected 4 remaining, got %d", counter.Remaining(n))
	}
	if err := counter.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if count, _ := counter.Count(ctx, "k"); count != 0 {
		t.Fatalf("expected zero after reset, got %d", count)
	}
}

func TestSendLimiterWindow(t *testing.T) {
	clock := newTestClock()
	store := tokenstore.NewMemory(tokenstore.WithClock(clock.Now))
	limiter := NewSendLimiter(store, SendConfig{MaxAttempts: 5, Window: 15 * time.Minute}, clock.Now)
	ctx := context.Background()
	key := tokenstore.OTPRateLimitKey("u1")

	for i := 0; i < 5; i++ {
		if err := limiter.Allow(ctx, key); err != nil {
			t.Fatalf("send %d rejected: %v", i+1, err)
		}
		clock.Advance(time.Minute)
	}

	err := limiter.Allow(ctx, key)
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected 6th send rejected, got %v", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected RateLimitedError to unwrap to ErrRateLimited")
	}
	// Last accepted send happened 1 minute ago.
	if limited.RetryAfter != 14*time.Minute {
		t.Fatalf("unexpected retry hint %v", limited.RetryAfter)
	}

	clock.Advance(10 * time.Minute)
	if err := limiter.Allow(ctx, key); err == nil {
		t.Fatal("expected rejection inside the window")
	}

	clock.Advance(4 * time.Minute)
	if err := limiter.Allow(ctx, key); err != nil {
		t.Fatalf("expected send allowed after window, got %v", err)
	}
}

func TestSendLimiterRejectionDoesNotRefreshWindow(t *testing.T) {
	clock := newTestClock()
	store := tokenstore.NewMemory(tokenstore.WithClock(clock.Now))
	limiter := NewSendLimiter(store, SendConfig{MaxAttempts: 1, Window: time.Minute}, clock.Now)
	ctx := context.Background()

	if err := limiter.Allow(ctx, "k"); err != nil {
		t.Fatalf("first send rejected: %v", err)
	}
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		if err := limiter.Allow(ctx, "k"); err == nil {
			t.Fatal("expected rejection")
		}
	}
	clock.Advance(10 * time.Second)
	if err := limiter.Allow(ctx, "k"); err != nil {
		t.Fatalf("expected window measured from last accepted send, got %v", err)
	}
}

func TestSendLimiterBypass(t *testing.T) {
	store := tokenstore.NewMemory()
	limiter := NewSendLimiter(store, SendConfig{MaxAttempts: 1, Bypass: true}, nil)
	for i := 0; i < 10; i++ {
		if err := limiter.Allow(context.Background(), "k"); err != nil {
			t.Fatalf("bypass limiter rejected send %d: %v", i, err)
		}
	}
	if store.Len() != 0 {
		t.Fatal("bypass limiter should not write state")
	}
}
