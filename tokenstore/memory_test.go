package tokenstore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryExpiredReadEvicts(t *testing.T) {
	clock := newFakeClock()
	store := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 10*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	clock.Advance(10*time.Minute - time.Second)
	got, err := store.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("expected live entry, got %q err=%v", got, err)
	}

	clock.Advance(time.Second)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound at expiry, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected the expired read to evict the entry, got len=%d", store.Len())
	}
}

func TestMemorySweepRemovesUnreadExpiredEntries(t *testing.T) {
	clock := newFakeClock()
	store := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	_ = store.Set(ctx, "short", []byte("v"), time.Minute)
	_ = store.Set(ctx, "long", []byte("v"), time.Hour)
	clock.Advance(2 * time.Minute)

	if store.Len() != 2 {
		t.Fatalf("expected the unread expired entry to remain until swept, got len=%d", store.Len())
	}
	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected sweep to remove 1 entry, removed %d", removed)
	}
	if _, err := store.Get(ctx, "long"); err != nil {
		t.Fatalf("expected live entry to survive the sweep, got %v", err)
	}
}

func TestMemorySetReplacesAndResetsExpiry(t *testing.T) {
	clock := newFakeClock()
	store := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	_ = store.Set(ctx, "k", []byte("first"), time.Minute)
	clock.Advance(50 * time.Second)
	_ = store.Set(ctx, "k", []byte("second"), time.Minute)
	clock.Advance(50 * time.Second)

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("expected replaced value, got %q", got)
	}
}

func TestMemoryGetDoesNotExtendExpiry(t *testing.T) {
	clock := newFakeClock()
	store := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	_ = store.Set(ctx, "k", []byte("v"), time.Minute)
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		if _, err := store.Get(ctx, "k"); err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
	}
	clock.Advance(10 * time.Second)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry after original ttl, got %v", err)
	}
}

func TestMemoryIncrKeepsFirstExpiry(t *testing.T) {
	clock := newFakeClock()
	store := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := store.Incr(ctx, "c", time.Minute)
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if n != want {
			t.Fatalf("expected %d, got %d", want, n)
		}
		clock.Advance(20 * time.Second)
	}

	n, err := store.Incr(ctx, "c", time.Minute)
	if err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected counter restart after first expiry, got %d", n)
	}
}

func TestMemoryIncrConcurrent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Incr(ctx, "c", time.Minute); err != nil {
				t.Errorf("Incr failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "c")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if n, _ := strconv.Atoi(string(got)); n != 50 {
		t.Fatalf("expected 50 increments, got %s", got)
	}
}

func TestMemoryTakeIsSingleUse(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	_ = store.Set(ctx, "k", []byte("v"), time.Minute)

	got, err := store.Take(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("expected first take to succeed, got %q err=%v", got, err)
	}
	if _, err := store.Take(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second take to miss, got %v", err)
	}
}

func TestMemoryUpdateAbortLeavesEntry(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	_ = store.Set(ctx, "k", []byte("v"), time.Minute)

	abort := errors.New("abort")
	err := store.Update(ctx, "k", time.Minute, func(current []byte, found bool) ([]byte, error) {
		if !found || string(current) != "v" {
			t.Fatalf("unexpected current=%q found=%v", current, found)
		}
		return nil, abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	if got, _ := store.Get(ctx, "k"); string(got) != "v" {
		t.Fatalf("expected entry untouched, got %q", got)
	}

	if err := store.Update(ctx, "k", time.Minute, func([]byte, bool) ([]byte, error) { return nil, nil }); err != nil {
		t.Fatalf("Update delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected nil result to delete entry, got %v", err)
	}
}

func TestMemoryRejectsNonPositiveTTL(t *testing.T) {
	store := NewMemory()
	if err := store.Set(context.Background(), "k", []byte("v"), 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}

func TestMemoryJanitorStopsWithContext(t *testing.T) {
	clock := newFakeClock()
	store := NewMemory(WithClock(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())

	_ = store.Set(context.Background(), "k", []byte("v"), time.Second)
	clock.Advance(2 * time.Second)

	done := store.StartJanitor(ctx, 5*time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Len() != 0 {
		t.Fatal("expected janitor to sweep expired entry")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
