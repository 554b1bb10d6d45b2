package twofa

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned when the caller is not a known, signed-in user.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned for every failed password check. Unknown
	// users get the same error so the response never reveals which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by a CredentialStore lookup that matched nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionInvalid is returned when a password session, setup session or
	// sign-in challenge is absent, expired or does not match.
	ErrSessionInvalid = errors.New("session invalid or expired")
	// ErrCodeInvalid is returned when a code does not match, has expired or was never issued.
	ErrCodeInvalid = errors.New("invalid verification code")
	// ErrTooManyAttempts is returned once the failed-attempt cap for a code has been reached.
	ErrTooManyAttempts = errors.New("too many failed attempts")
	// ErrRateLimited is returned when code deliveries are throttled.
	ErrRateLimited = errors.New("rate limited")
	// ErrLockedOut is returned while the account is locked after repeated password failures.
	ErrLockedOut = errors.New("account locked out")
	// ErrNotAllowed is returned when the account may not sign in yet.
	ErrNotAllowed = errors.New("sign-in not allowed")
	// ErrValidation is returned for malformed input. Nothing is mutated.
	ErrValidation = errors.New("invalid request")
	// ErrMailUnavailable is returned when a code could not be delivered.
	ErrMailUnavailable = errors.New("could not send code")
	// ErrStoreUnavailable is returned when the token store or credential store failed.
	ErrStoreUnavailable = errors.New("backend unavailable")
	// ErrGenerateUnsupported is returned by providers whose codes are not server-generated.
	ErrGenerateUnsupported = errors.New("code generation not supported by provider")
	// ErrTwoFactorNotEnabled is returned when a flow needs two-factor authentication to be on.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")
	// ErrEngineNotReady is returned by a nil or partially built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError carries the wait hint for throttled deliveries.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// LockoutError carries the instant an account lockout ends.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return "account locked out until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *LockoutError) Unwrap() error { return ErrLockedOut }

// RetryAfter extracts a wait hint from err, if it carries one.
func RetryAfter(err error, now time.Time) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	var lo *LockoutError
	if errors.As(err, &lo) {
		d := lo.Until.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
