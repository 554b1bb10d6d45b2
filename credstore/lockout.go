package credstore

import "time"

// LockoutPolicy decides when repeated password failures lock an account.
type LockoutPolicy struct {
	Enabled     bool
	MaxFailures int
	Duration    time.Duration
}

// DefaultLockoutPolicy locks an account for 15 minutes after 5 failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Enabled:     true,
		MaxFailures: 5,
		Duration:    15 * time.Minute,
	}
}

// next applies one failure to (failures, lockedUntil) and returns the new
// pair. When the failure triggers a lockout the counter starts over.
func (p LockoutPolicy) next(failures int, now time.Time) (int, time.Time) {
	failures++
	if !p.Enabled || p.MaxFailures <= 0 || failures < p.MaxFailures {
		return failures, time.Time{}
	}
	return 0, now.Add(p.Duration)
}
