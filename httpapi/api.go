package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// SessionHeader carries the password session token on setup requests.
const SessionHeader = "X-2FA-Session-Id"

// Service is the slice of *twofa.Engine the API drives.
type Service interface {
	ParseAccessToken(token string) (string, error)

	VerifyPassword(ctx context.Context, callerID, password string) (string, error)
	SetupTOTP(ctx context.Context, callerID, sessionToken string) (twofa.TOTPSetup, error)
	ConfirmTOTPSetup(ctx context.Context, callerID, sessionToken, code string) error
	ResetTwoFactor(ctx context.Context, callerID, sessionToken string) error
	EnableEmailTwoFactor(ctx context.Context, callerID, sessionToken string) error
	TwoFactorStatus(ctx context.Context, callerID string) (twofa.TwoFactorStatus, error)

	Login(ctx context.Context, req twofa.LoginRequest) (twofa.LoginResult, error)
	SendEmailOTP(ctx context.Context, userID, email string) (string, error)
	VerifyLoginTOTP(ctx context.Context, userID, challengeID, code string) (twofa.LoginResult, error)
	VerifyEmailOTP(ctx context.Context, userID, challengeID, code string) (twofa.LoginResult, error)

	SendVerificationEmail(ctx context.Context, email string) error
	ConfirmVerificationEmail(ctx context.Context, email, code string) error
	RequestPasswordReset(ctx context.Context, identifier string) error
	VerifyPasswordResetCode(ctx context.Context, identifier, code string) (string, error)
	RequestEmailChange(ctx context.Context, callerID, newEmail string) (string, error)
	ConfirmEmailChange(ctx context.Context, callerID, sessionID, code string) error

	Health(ctx context.Context) twofa.HealthStatus
}

var _ Service = (*twofa.Engine)(nil)

// Options tunes the router.
type Options struct {
	Logger zerolog.Logger
	// Throttle guards the unauthenticated endpoints. Nil disables it.
	Throttle *middleware.Throttler
	// RequestTimeout bounds each request. Zero means 15 seconds.
	RequestTimeout time.Duration
	// TrustProxy enables chi's RealIP so X-Forwarded-For picks the client IP.
	TrustProxy bool
	Clock      func() time.Time
}

// API serves the HTTP endpoints.
type API struct {
	svc     Service
	logger  zerolog.Logger
	opts    Options
	handler http.Handler
}

func New(svc Service, opts Options) *API {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	a := &API{
		svc:    svc,
		logger: opts.Logger.With().Str("component", "httpapi").Logger(),
		opts:   opts,
	}
	a.handler = a.routes()
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

func (a *API) now() time.Time {
	if a.opts.Clock != nil {
		return a.opts.Clock()
	}
	return time.Now()
}

func (a *API) routes() http.Handler {
	r := chi.NewRouter()
	if a.opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestMetadata)
	r.Use(middleware.RequestLogger(a.logger))
	r.Use(middleware.Recoverer(a.logger))
	r.Use(chimw.Timeout(a.opts.RequestTimeout))

	r.Get("/healthz", a.health)

	r.Route("/api/v1", func(api chi.Router) {
		// ---------------- Public ----------------
		api.Group(func(pub chi.Router) {
			if a.opts.Throttle != nil {
				pub.Use(middleware.Throttle(a.opts.Throttle))
			}
			pub.Post("/login", a.login)
			pub.Post("/login/totp", a.verifyLoginTOTP)
			pub.Post("/login/email/send", a.sendEmailOTP)
			pub.Post("/login/email", a.verifyEmailOTP)

			pub.Post("/verification/send", a.sendVerification)
			pub.Post("/verification/confirm", a.confirmVerification)
			pub.Post("/password-reset/request", a.requestPasswordReset)
			pub.Post("/password-reset/verify", a.verifyPasswordReset)
		})

		// ---------------- Authenticated ----------------
		api.Group(func(g chi.Router) {
			g.Use(middleware.Guard(a.svc))

			g.Route("/2fa", func(r chi.Router) {
				r.Get("/status", a.twoFactorStatus)
				r.Post("/verify-password", a.verifyPassword)
				r.Post("/totp/setup", a.setupTOTP)
				r.Post("/totp/confirm", a.confirmTOTP)
				r.Post("/email/enable", a.enableEmail)
				r.Post("/reset", a.resetTwoFactor)
			})

			g.Post("/email-change/request", a.requestEmailChange)
			g.Post("/email-change/confirm", a.confirmEmailChange)
		})
	})
	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	status := a.svc.Health(r.Context())
	body := map[string]any{
		"store_available": status.StoreAvailable,
		"store_latency":   status.StoreLatency.String(),
	}
	if !status.StoreAvailable {
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// caller returns the user admitted by the guard. The guard runs on every
// route that calls it.
func caller(r *http.Request) string {
	id, _ := middleware.UserIDFromContext(r.Context())
	return id
}
