package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/twofa/tokenstore"
)

const (
	defaultMaxAttempts = 5
	defaultAttemptTTL  = 10 * time.Minute
)

var (
	ErrAttemptsExceeded = errors.New("attempts exceeded")
	ErrUnavailable      = errors.New("limiter backend unavailable")
)

// AttemptConfig holds the thresholds for an [AttemptCounter].
type AttemptConfig struct {
	MaxAttempts int
	TTL         time.Duration
}

// AttemptCounter tracks failed validations under caller-supplied keys.
type AttemptCounter struct {
	store       tokenstore.Store
	maxAttempts int64
	ttl         time.Duration
}

// NewAttemptCounter creates a counter. Zero-value fields in cfg fall back to
// 5 attempts and a 10 minute window.
func NewAttemptCounter(store tokenstore.Store, cfg AttemptConfig) *AttemptCounter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultAttemptTTL
	}
	return &AttemptCounter{store: store, maxAttempts: int64(max), ttl: ttl}
}

// Reserve counts an attempt before the code is validated and returns the new
// count. Past the cap it returns [ErrAttemptsExceeded] and the caller must not
// validate. The counter stays saturated until [AttemptCounter.Reset], so
// concurrent requests on the same key cannot collect more than the cap
// between them.
func (c *AttemptCounter) Reserve(ctx context.Context, key string) (int64, error) {
	count, err := c.store.Incr(ctx, key, c.ttl)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count > c.maxAttempts {
		return count, ErrAttemptsExceeded
	}
	return count, nil
}

func (c *AttemptCounter) Reset(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Count returns the current number of recorded failures.
func (c *AttemptCounter) Count(ctx context.Context, key string) (int64, error) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	count, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt counter: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Remaining reports how many failures are left before the next check rejects.
func (c *AttemptCounter) Remaining(count int64) int64 {
	if count >= c.maxAttempts {
		return 0
	}
	return c.maxAttempts - count
}
