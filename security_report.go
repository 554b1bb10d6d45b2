package twofa

import "time"

// SecurityReport summarizes the security posture of an engine's
// configuration. It is meant for startup logs and health endpoints and
// never includes key material.
type SecurityReport struct {
	ProductionMode         bool
	DevelopmentMode        bool
	SigningAlgorithm       string
	AccessTTL              time.Duration
	RememberMeTTL          time.Duration
	TOTPDigits             int
	TOTPPeriod             int
	TOTPSkew               int
	ReplayProtection       bool
	SendRateLimitActive    bool
	SendRateLimit          int
	SendRateWindow         time.Duration
	SetupAttemptCap        int
	LoginAttemptCap        int
	EmailAttemptCap        int
	VerificationAttemptCap int
	RequireConfirmedEmail  bool
	AuditEnabled           bool
	EmailCodeTTL           time.Duration
	LoginChallengeTTL      time.Duration
	PasswordSessionTTL     time.Duration
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config
	return SecurityReport{
		ProductionMode:         c.Security.ProductionMode,
		DevelopmentMode:        c.Security.DevelopmentMode,
		SigningAlgorithm:       c.Session.SigningMethod,
		AccessTTL:              c.Session.AccessTTL,
		RememberMeTTL:          c.Session.RememberMeTTL,
		TOTPDigits:             c.TOTP.Digits,
		TOTPPeriod:             c.TOTP.Period,
		TOTPSkew:               c.TOTP.Skew,
		ReplayProtection:       c.TOTP.EnforceReplayProtection,
		SendRateLimitActive:    !c.Security.DevelopmentMode && c.RateLimit.MaxAttempts > 0,
		SendRateLimit:          c.RateLimit.MaxAttempts,
		SendRateWindow:         c.RateLimit.Window,
		SetupAttemptCap:        c.Setup.MaxAttempts,
		LoginAttemptCap:        c.Login.TOTPMaxAttempts,
		EmailAttemptCap:        c.EmailOTP.MaxAttempts,
		VerificationAttemptCap: c.Verification.MaxAttempts,
		RequireConfirmedEmail:  c.Login.RequireConfirmedEmail,
		AuditEnabled:           c.Audit.Enabled,
		EmailCodeTTL:           c.EmailOTP.CodeTTL,
		LoginChallengeTTL:      c.Login.ChallengeTTL,
		PasswordSessionTTL:     c.Setup.PasswordSessionTTL,
	}
}
