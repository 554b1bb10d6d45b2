package tokenstore

import "strings"

// PasswordSessionKey addresses the token issued after password re-verification.
func PasswordSessionKey(userID string) string {
	return "PasswordSession_" + userID
}

// TOTPSecretKey addresses a pending authenticator secret for one setup session.
func TOTPSecretKey(userID, sessionID string) string {
	return "TOTPSecret_" + userID + "_" + sessionID
}

// TOTPFailedAttemptsKey counts failed setup confirmations for one setup session.
func TOTPFailedAttemptsKey(userID, sessionID string) string {
	return "TOTPFailedAttempts_" + userID + "_" + sessionID
}

// TOTPLoginFailedAttemptsKey counts failed authenticator codes during sign-in.
func TOTPLoginFailedAttemptsKey(userID string) string {
	return "TOTPLoginFailedAttempts_" + userID
}

// TOTPUsedStepKey remembers the last accepted authenticator step of a user.
func TOTPUsedStepKey(userID string) string {
	return "TOTPUsedStep_" + userID
}

func TwoFactorEmailKey(userID string) string {
	return "TwoFactorEmail_" + userID
}

func EmailLoginFailedAttemptsKey(userID string) string {
	return "EmailLoginFailedAttempts_" + userID
}

func OTPRateLimitKey(userID string) string {
	return "OTPRateLimit_" + userID
}

func PendingTwoFactorKey(userID string) string {
	return "PendingTwoFactor_" + userID
}

func PasswordResetKey(userID string) string {
	return "PasswordReset_" + userID
}

func PasswordResetRateLimitKey(userID string) string {
	return "PasswordResetRateLimit_" + userID
}

func PasswordResetFailedAttemptsKey(userID string) string {
	return "PasswordResetFailedAttempts_" + userID
}

func EmailVerificationKey(userID, sessionID string) string {
	return "EmailVerification_" + userID + "_" + sessionID
}

func EmailChangeRateLimitKey(userID string) string {
	return "EmailChangeRateLimit_" + userID
}

// VerificationKey addresses a registration code. Addresses are compared
// case-insensitively.
func VerificationKey(email string) string {
	return "Verification_" + normalizeEmail(email)
}

func VerificationRateLimitKey(email string) string {
	return "VerificationRateLimit_" + normalizeEmail(email)
}

func VerificationFailedAttemptsKey(email string) string {
	return "VerificationFailedAttempts_" + normalizeEmail(email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func EmailChangeFailedAttemptsKey(userID, sessionID string) string {
	return "EmailChangeFailedAttempts_" + userID + "_" + sessionID
}

// HealthProbeKey is read by health checks. Nothing is ever written to it.
func HealthProbeKey() string {
	return "HealthProbe"
}
