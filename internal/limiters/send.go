package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/twofa/internal/records"
	"github.com/MrEthical07/twofa/tokenstore"
)

const defaultSendWindow = 15 * time.Minute

var ErrRateLimited = errors.New("rate limited")

// RateLimitedError carries the wait hint of a rejected send.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// SendConfig holds the thresholds for a [SendLimiter].
type SendConfig struct {
	MaxAttempts int
	Window      time.Duration
	// Bypass disables limiting entirely. Used in development mode.
	Bypass bool
}

// SendLimiter throttles code deliveries per key.
//
// A key is rejected while it has reached MaxAttempts and its last accepted
// send is younger than Window. Once the window has elapsed the count starts
// over. Rejected requests leave the record untouched so they never extend
// the wait.
type SendLimiter struct {
	store       tokenstore.Store
	maxAttempts uint32
	window      time.Duration
	bypass      bool
	now         func() time.Time
}

func NewSendLimiter(store tokenstore.Store, cfg SendConfig, now func() time.Time) *SendLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultSendWindow
	}
	if now == nil {
		now = time.Now
	}
	return &SendLimiter{
		store:       store,
		maxAttempts: uint32(max),
		window:      window,
		bypass:      cfg.Bypass,
		now:         now,
	}
}

// Allow records a send under key, or returns a *RateLimitedError.
func (l *SendLimiter) Allow(ctx context.Context, key string) error {
	if l == nil || l.bypass {
		return nil
	}

	now := l.now()
	err := l.store.Update(ctx, key, l.window, func(current []byte, found bool) ([]byte, error) {
		window := &records.RateWindow{}
		if found {
			decoded, err := records.DecodeRateWindow(current)
			if err == nil {
				window = decoded
			}
		}

		elapsed := now.Sub(time.Unix(0, window.LastAttempt))
		if window.Attempts >= l.maxAttempts && elapsed < l.window {
			return nil, &RateLimitedError{RetryAfter: l.window - elapsed}
		}
		if elapsed >= l.window {
			window.Attempts = 0
		}

		window.Attempts++
		window.LastAttempt = now.UnixNano()
		return records.EncodeRateWindow(window)
	})
	if err == nil {
		return nil
	}

	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return limited
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Reset forgets every recorded send for key.
func (l *SendLimiter) Reset(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
