package twofa

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/twofa/internal/audit"
	"github.com/MrEthical07/twofa/internal/limiters"
	"github.com/MrEthical07/twofa/jwt"
	"github.com/MrEthical07/twofa/tokenstore"
	"github.com/MrEthical07/twofa/totp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine runs the two-factor flows: authenticator enrolment, sign-in with a
// second factor, and the emailed verification codes around them.
//
// An Engine is safe for concurrent use once built.
type Engine struct {
	config      Config
	store       tokenstore.Store
	credentials CredentialStore
	mail        MailTransport
	totp        *totp.Engine
	jwtManager  *jwt.Manager
	audit       *audit.Dispatcher
	metrics     *Metrics
	logger      zerolog.Logger
	clock       func() time.Time

	totpProvider    *TOTPProvider
	emailProvider   *EmailProvider
	genericProvider *GenericProvider

	setupAttempts        *limiters.AttemptCounter
	totpLoginAttempts    *limiters.AttemptCounter
	emailLoginAttempts   *limiters.AttemptCounter
	verificationAttempts *limiters.AttemptCounter
	sendLimiter          *limiters.SendLimiter
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.credentials == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}
	return nil
}

// ParseAccessToken verifies an access token issued by this engine and
// returns the user it belongs to.
func (e *Engine) ParseAccessToken(token string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	claims, err := e.jwtManager.ParseAccess(strings.TrimSpace(token))
	if err != nil {
		return "", ErrUnauthorized
	}
	return claims.UID, nil
}

// issueSession mints the access token that ends a successful sign-in and
// records the login time with the credential store.
func (e *Engine) issueSession(ctx context.Context, user UserProfile, method TwoFactorMethod, rememberMe bool) (string, time.Time, error) {
	amr := []string{"pwd"}
	switch method {
	case MethodTOTP:
		amr = append(amr, "otp")
	case MethodEmail:
		amr = append(amr, "mfa")
	}

	ttl := e.config.Session.AccessTTL
	if rememberMe {
		ttl = e.config.Session.RememberMeTTL
	}
	token, expiresAt, err := e.jwtManager.CreateAccess(jwt.Session{
		UserID:     user.ID,
		SessionID:  uuid.NewString(),
		Role:       user.Role,
		AMR:        amr,
		RememberMe: rememberMe,
		TTL:        ttl,
	})
	if err != nil {
		e.logger.Error().Err(err).Str("op", "issue_session").Str("user_id", user.ID).Msg("sign access token")
		return "", time.Time{}, ErrStoreUnavailable
	}

	if err := e.credentials.RecordLogin(ctx, user.ID, e.now()); err != nil {
		// The session is valid regardless; only the bookkeeping failed.
		e.logger.Warn().Err(err).Str("op", "record_login").Str("user_id", user.ID).Msg("record last login")
	}
	return token, expiresAt, nil
}

// loadCaller resolves the signed-in caller of a protected operation.
func (e *Engine) loadCaller(ctx context.Context, op, callerID string) (UserProfile, error) {
	if strings.TrimSpace(callerID) == "" {
		return UserProfile{}, ErrUnauthorized
	}
	user, err := e.credentials.FindUserByID(ctx, callerID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserProfile{}, ErrUnauthorized
		}
		return UserProfile{}, e.backendError(op, callerID, err)
	}
	return user, nil
}

// backendError logs err with its context and returns the generic error the
// caller is allowed to see.
func (e *Engine) backendError(op, userID string, err error) error {
	e.logger.Error().Err(err).Str("op", op).Str("user_id", userID).Msg("backend failure")
	return ErrStoreUnavailable
}

// limiterError maps limiter failures onto engine errors.
func (e *Engine) limiterError(op, userID string, err error) error {
	var limited *limiters.RateLimitedError
	switch {
	case errors.As(err, &limited):
		return &RateLimitError{RetryAfter: limited.RetryAfter}
	case errors.Is(err, limiters.ErrAttemptsExceeded):
		return ErrTooManyAttempts
	default:
		return e.backendError(op, userID, err)
	}
}

func tokensEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func newOpaqueID() string {
	return uuid.NewString()
}
