package twofa

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/twofa/tokenstore"
)

// HealthStatus reports whether the token store answers.
type HealthStatus struct {
	StoreAvailable bool
	StoreLatency   time.Duration
}

// Health performs one read against the token store. A missing probe key
// counts as a healthy answer.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.store == nil {
		return HealthStatus{}
	}
	start := time.Now()
	_, err := e.store.Get(ctx, tokenstore.HealthProbeKey())
	return HealthStatus{
		StoreAvailable: err == nil || errors.Is(err, tokenstore.ErrNotFound),
		StoreLatency:   time.Since(start),
	}
}

// FailedLoginAttempts reports how many wrong second-factor codes a user has
// entered against the current sign-in challenge, per method.
func (e *Engine) FailedLoginAttempts(ctx context.Context, userID string) (totpFailures, emailFailures int64, err error) {
	if err := e.ready(); err != nil {
		return 0, 0, err
	}
	if userID == "" {
		return 0, 0, nil
	}
	totpFailures, err = e.totpLoginAttempts.Count(ctx, tokenstore.TOTPLoginFailedAttemptsKey(userID))
	if err != nil {
		return 0, 0, ErrStoreUnavailable
	}
	emailFailures, err = e.emailLoginAttempts.Count(ctx, tokenstore.EmailLoginFailedAttemptsKey(userID))
	if err != nil {
		return 0, 0, ErrStoreUnavailable
	}
	return totpFailures, emailFailures, nil
}
