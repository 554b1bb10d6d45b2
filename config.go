package twofa

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/twofa/jwt"
)

// Config defines every tunable of the two-factor engine.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	TOTP         TOTPConfig
	EmailOTP     EmailOTPConfig
	Setup        SetupConfig
	Login        LoginConfig
	RateLimit    RateLimitConfig
	Verification VerificationConfig
	Session      SessionConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Security     SecurityConfig
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig holds the authenticator app parameters.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	// Skew is the number of steps accepted on either side of the current one.
	Skew int
	// EnforceReplayProtection refuses a code whose step was already accepted for the user.
	EnforceReplayProtection bool
	QRCodeSize              int
}

/*
====================================
EMAIL OTP CONFIG
====================================
*/

// EmailOTPConfig controls codes mailed during sign-in.
type EmailOTPConfig struct {
	CodeTTL     time.Duration
	Subject     string
	MaxAttempts int
	AttemptTTL  time.Duration
}

/*
====================================
SETUP CONFIG
====================================
*/

// SetupConfig controls the password re-verification session and the
// authenticator enrolment that hangs off it.
type SetupConfig struct {
	PasswordSessionTTL time.Duration
	SecretTTL          time.Duration
	MaxAttempts        int
	AttemptTTL         time.Duration
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig controls the sign-in state machine.
type LoginConfig struct {
	// ChallengeTTL bounds how long a password-verified sign-in may wait for its second factor.
	ChallengeTTL          time.Duration
	TOTPMaxAttempts       int
	TOTPAttemptTTL        time.Duration
	RequireConfirmedEmail bool
	TOTPChallengePath     string
	EmailChallengePath    string
	DefaultLandingPath    string
	// RoleLandingPaths maps a role to the page a user lands on after sign-in
	// when no local return URL was supplied.
	RoleLandingPaths map[string]string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig throttles outbound code deliveries.
type RateLimitConfig struct {
	MaxAttempts int
	Window      time.Duration
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig controls registration, password-reset and email-change codes.
type VerificationConfig struct {
	RegistrationTTL      time.Duration
	RegistrationSubject  string
	PasswordResetTTL     time.Duration
	PasswordResetSubject string
	EmailChangeTTL       time.Duration
	EmailChangeSubject   string
	MaxAttempts          int
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the access token issued once sign-in completes.
type SessionConfig struct {
	AccessTTL     time.Duration
	RememberMeTTL time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds environment-level switches.
type SecurityConfig struct {
	ProductionMode bool
	// DevelopmentMode disables send rate limiting.
	DevelopmentMode bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		TOTP: TOTPConfig{
			Issuer:                  "twofa",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    3,
			EnforceReplayProtection: true,
			QRCodeSize:              200,
		},
		EmailOTP: EmailOTPConfig{
			CodeTTL:     20 * time.Minute,
			Subject:     "Your sign-in code",
			MaxAttempts: 5,
			AttemptTTL:  20 * time.Minute,
		},
		Setup: SetupConfig{
			PasswordSessionTTL: 10 * time.Minute,
			SecretTTL:          10 * time.Minute,
			MaxAttempts:        5,
			AttemptTTL:         10 * time.Minute,
		},
		Login: LoginConfig{
			ChallengeTTL:       20 * time.Minute,
			TOTPMaxAttempts:    5,
			TOTPAttemptTTL:     10 * time.Minute,
			TOTPChallengePath:  "/account/login-2fa",
			EmailChallengePath: "/account/login-email-2fa",
			DefaultLandingPath: "/",
		},
		RateLimit: RateLimitConfig{
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		Verification: VerificationConfig{
			RegistrationTTL:      15 * time.Minute,
			RegistrationSubject:  "Confirm your email address",
			PasswordResetTTL:     30 * time.Minute,
			PasswordResetSubject: "Your password reset code",
			EmailChangeTTL:       20 * time.Minute,
			EmailChangeSubject:   "Confirm your new email address",
			MaxAttempts:          5,
		},
		Session: SessionConfig{
			AccessTTL:     15 * time.Minute,
			RememberMeTTL: 14 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "twofa",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DefaultConfig returns the recommended configuration. Callers still have to
// supply a session signing key.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneKey(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneKey(cfg.Session.PublicKey)
	if cfg.Login.RoleLandingPaths != nil {
		out.Login.RoleLandingPaths = make(map[string]string, len(cfg.Login.RoleLandingPaths))
		for k, v := range cfg.Login.RoleLandingPaths {
			out.Login.RoleLandingPaths[k] = v
		}
	}
	return out
}

func cloneKey(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Config) jwtConfig() jwt.Config {
	method := jwt.MethodHS256
	if strings.EqualFold(c.Session.SigningMethod, "ed25519") {
		method = jwt.MethodEd25519
	}
	return jwt.Config{
		AccessTTL:     c.Session.AccessTTL,
		SigningMethod: method,
		PrivateKey:    c.Session.PrivateKey,
		PublicKey:     c.Session.PublicKey,
		Issuer:        c.Session.Issuer,
		Audience:      c.Session.Audience,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistency found in c.
func (c *Config) Validate() error {
	// TOTP
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("TOTP Digits must be between 6 and 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("TOTP Skew must be >= 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must be set")
	}

	// Email OTP
	if c.EmailOTP.CodeTTL <= 0 {
		return errors.New("EmailOTP CodeTTL must be > 0")
	}
	if c.EmailOTP.MaxAttempts <= 0 {
		return errors.New("EmailOTP MaxAttempts must be > 0")
	}
	if c.EmailOTP.AttemptTTL <= 0 {
		return errors.New("EmailOTP AttemptTTL must be > 0")
	}

	// Setup
	if c.Setup.PasswordSessionTTL <= 0 {
		return errors.New("Setup PasswordSessionTTL must be > 0")
	}
	if c.Setup.SecretTTL <= 0 {
		return errors.New("Setup SecretTTL must be > 0")
	}
	if c.Setup.MaxAttempts <= 0 || c.Setup.AttemptTTL <= 0 {
		return errors.New("Setup MaxAttempts and AttemptTTL must be > 0")
	}

	// Login
	if c.Login.ChallengeTTL <= 0 {
		return errors.New("Login ChallengeTTL must be > 0")
	}
	if c.Login.TOTPMaxAttempts <= 0 || c.Login.TOTPAttemptTTL <= 0 {
		return errors.New("Login TOTPMaxAttempts and TOTPAttemptTTL must be > 0")
	}
	if !strings.HasPrefix(c.Login.TOTPChallengePath, "/") || !strings.HasPrefix(c.Login.EmailChallengePath, "/") {
		return errors.New("Login challenge paths must be absolute paths")
	}
	if !isLocalURL(c.Login.DefaultLandingPath) {
		return errors.New("Login DefaultLandingPath must be a local path")
	}
	for role, path := range c.Login.RoleLandingPaths {
		if !isLocalURL(path) {
			return errors.New("Login RoleLandingPaths[" + role + "] must be a local path")
		}
	}

	// Rate limit
	if c.RateLimit.MaxAttempts <= 0 {
		return errors.New("RateLimit MaxAttempts must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}

	// Verification
	if c.Verification.RegistrationTTL <= 0 || c.Verification.PasswordResetTTL <= 0 || c.Verification.EmailChangeTTL <= 0 {
		return errors.New("Verification TTLs must be > 0")
	}
	if c.Verification.MaxAttempts <= 0 {
		return errors.New("Verification MaxAttempts must be > 0")
	}

	// Session
	if c.Session.AccessTTL <= 0 {
		return errors.New("Session AccessTTL must be > 0")
	}
	if c.Session.RememberMeTTL < c.Session.AccessTTL {
		return errors.New("Session RememberMeTTL must be >= AccessTTL")
	}
	switch strings.ToLower(c.Session.SigningMethod) {
	case "hs256":
		if len(c.Session.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Session.PrivateKey) == 0 || len(c.Session.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported Session SigningMethod")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Security
	if c.Security.ProductionMode {
		if c.Security.DevelopmentMode {
			return errors.New("DevelopmentMode must not be enabled in ProductionMode")
		}
		if c.TOTP.Skew > 3 {
			return errors.New("TOTP Skew above 3 steps is not allowed in ProductionMode")
		}
	}

	return nil
}
