package twofa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/twofa/internal/otp"
	"github.com/MrEthical07/twofa/tokenstore"
	"github.com/MrEthical07/twofa/totp"
)

// VerifyPassword re-checks the signed-in caller's password and opens a
// password session. The returned token authorises exactly one of
// ConfirmTOTPSetup, ResetTwoFactor or EnableEmailTwoFactor within
// Setup.PasswordSessionTTL; SetupTOTP may be called with it any number of
// times before that.
func (e *Engine) VerifyPassword(ctx context.Context, callerID, password string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if password == "" {
		return "", ErrValidation
	}

	user, err := e.loadCaller(ctx, "verify_password", callerID)
	if err != nil {
		return "", err
	}

	ok, err := e.credentials.CheckPassword(ctx, user.ID, password)
	if err != nil {
		return "", e.backendError("verify_password", user.ID, err)
	}
	if !ok {
		e.metricInc(MetricPasswordSessionRejected)
		e.emitAudit(ctx, auditEventPasswordSessionRejected, false, user.ID, MethodNone, ErrInvalidCredentials, nil)
		return "", ErrInvalidCredentials
	}

	token := newOpaqueID()
	if err := e.store.Set(ctx, tokenstore.PasswordSessionKey(user.ID), []byte(token), e.config.Setup.PasswordSessionTTL); err != nil {
		return "", e.backendError("verify_password", user.ID, err)
	}

	e.metricInc(MetricPasswordSessionIssued)
	e.emitAudit(ctx, auditEventPasswordSessionIssued, true, user.ID, MethodNone, nil, nil)
	return token, nil
}

// checkPasswordSession fails with ErrSessionInvalid unless token is the
// caller's live password session.
func (e *Engine) checkPasswordSession(ctx context.Context, op, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrSessionInvalid
	}
	stored, err := e.store.Get(ctx, tokenstore.PasswordSessionKey(userID))
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return ErrSessionInvalid
		}
		return e.backendError(op, userID, err)
	}
	if !tokensEqual(string(stored), token) {
		return ErrSessionInvalid
	}
	return nil
}

// consumePasswordSession ends a password session after the privileged
// action it authorised has been persisted.
func (e *Engine) consumePasswordSession(ctx context.Context, userID, token string) {
	keys := []string{
		tokenstore.PasswordSessionKey(userID),
		tokenstore.TOTPSecretKey(userID, token),
		tokenstore.TOTPFailedAttemptsKey(userID, token),
	}
	for _, key := range keys {
		if err := e.store.Delete(ctx, key); err != nil {
			e.logger.Warn().Err(err).Str("op", "consume_password_session").Str("user_id", userID).Msg("evict session entry")
		}
	}
}

// exhaustSetupSession ends the password session whose confirmation attempts
// ran out. The pending secret is left to expire. The session goes before the
// counter so a reservation on the fresh counter fails the session check.
func (e *Engine) exhaustSetupSession(ctx context.Context, userID, attemptKey string) {
	for _, key := range []string{tokenstore.PasswordSessionKey(userID), attemptKey} {
		if err := e.store.Delete(ctx, key); err != nil {
			e.logger.Warn().Err(err).Str("op", "confirm_totp_setup").Str("user_id", userID).Msg("evict exhausted session entry")
		}
	}
}

// SetupTOTP issues a fresh authenticator secret for the password session
// token. Calling it again for the same session replaces the pending secret,
// so codes from the earlier secret stop working.
func (e *Engine) SetupTOTP(ctx context.Context, callerID, sessionToken string) (TOTPSetup, error) {
	if err := e.ready(); err != nil {
		return TOTPSetup{}, err
	}
	user, err := e.loadCaller(ctx, "setup_totp", callerID)
	if err != nil {
		return TOTPSetup{}, err
	}
	if err := e.checkPasswordSession(ctx, "setup_totp", user.ID, sessionToken); err != nil {
		e.metricInc(MetricTOTPSetupFailure)
		e.emitAudit(ctx, auditEventTOTPSetupFailure, false, user.ID, MethodTOTP, err, nil)
		return TOTPSetup{}, err
	}
	sessionToken = strings.TrimSpace(sessionToken)

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return TOTPSetup{}, fmt.Errorf("generate totp secret: %w", err)
	}

	account := user.Email
	if account == "" {
		account = user.UserName
	}
	uri := e.totp.ProvisioningURI(secret, account)
	qr, err := totp.QRCodeDataURL(uri, e.config.TOTP.QRCodeSize)
	if err != nil {
		e.logger.Error().Err(err).Str("op", "setup_totp").Str("user_id", user.ID).Msg("render qr code")
		return TOTPSetup{}, fmt.Errorf("render qr code: %w", err)
	}

	if err := e.store.Set(ctx, tokenstore.TOTPSecretKey(user.ID, sessionToken), []byte(secret), e.config.Setup.SecretTTL); err != nil {
		return TOTPSetup{}, e.backendError("setup_totp", user.ID, err)
	}

	e.metricInc(MetricTOTPSetupIssued)
	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, user.ID, MethodTOTP, nil, nil)

	return TOTPSetup{
		SessionID:       sessionToken,
		ManualEntryKey:  totp.FormatManualKey(secret),
		ProvisioningURI: uri,
		QRCodeDataURL:   qr,
		ExpiresAt:       e.now().Add(e.config.Setup.SecretTTL),
	}, nil
}

// ConfirmTOTPSetup checks code against the pending secret of the session and,
// on success, turns authenticator sign-in on for the caller.
//
// Every attempt counts against the session before the code is checked. The
// call after Setup.MaxAttempts failures fails with ErrTooManyAttempts whatever
// the code and ends the password session, so enrolment restarts from
// VerifyPassword.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, callerID, sessionToken, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if !otp.WellFormed(code, e.config.TOTP.Digits) {
		return ErrValidation
	}

	user, err := e.loadCaller(ctx, "confirm_totp_setup", callerID)
	if err != nil {
		return err
	}
	if err := e.checkPasswordSession(ctx, "confirm_totp_setup", user.ID, sessionToken); err != nil {
		return err
	}
	sessionToken = strings.TrimSpace(sessionToken)

	attemptKey := tokenstore.TOTPFailedAttemptsKey(user.ID, sessionToken)
	if _, err := e.setupAttempts.Reserve(ctx, attemptKey); err != nil {
		err = e.limiterError("confirm_totp_setup", user.ID, err)
		if errors.Is(err, ErrTooManyAttempts) {
			e.exhaustSetupSession(ctx, user.ID, attemptKey)
			e.metricInc(MetricTwoFactorAttemptsExceeded)
			e.emitAudit(ctx, auditEventTOTPSetupFailure, false, user.ID, MethodTOTP, err, nil)
		}
		return err
	}
	// Exhaustion may have ended the session since the first check.
	if err := e.checkPasswordSession(ctx, "confirm_totp_setup", user.ID, sessionToken); err != nil {
		return err
	}

	started := time.Now()
	secret, err := e.store.Get(ctx, tokenstore.TOTPSecretKey(user.ID, sessionToken))
	if err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
		return e.backendError("confirm_totp_setup", user.ID, err)
	}
	var (
		ok   bool
		step int64
	)
	if err == nil {
		ok, step = e.totp.Verify(string(secret), code, e.now())
	}
	e.metrics.Observe(MetricCodeVerifyLatency, time.Since(started))

	if !ok {
		e.metricInc(MetricTOTPSetupFailure)
		e.emitAudit(ctx, auditEventTOTPSetupFailure, false, user.ID, MethodTOTP, ErrCodeInvalid, nil)
		return ErrCodeInvalid
	}

	user.TwoFactorSecretKey = string(secret)
	user.TwoFactorMethod = MethodTOTP
	user.TwoFactorEnabled = true
	if err := e.credentials.PersistUser(ctx, user); err != nil {
		return e.backendError("confirm_totp_setup", user.ID, err)
	}

	e.consumePasswordSession(ctx, user.ID, sessionToken)
	if e.config.TOTP.EnforceReplayProtection {
		e.rememberTOTPStep(ctx, user.ID, step)
	}

	e.metricInc(MetricTOTPEnabled)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, user.ID, MethodTOTP, nil, nil)
	return nil
}

// ResetTwoFactor turns two-factor sign-in off and forgets the authenticator
// secret.
func (e *Engine) ResetTwoFactor(ctx context.Context, callerID, sessionToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.loadCaller(ctx, "reset_two_factor", callerID)
	if err != nil {
		return err
	}
	if err := e.checkPasswordSession(ctx, "reset_two_factor", user.ID, sessionToken); err != nil {
		return err
	}

	previous := user.TwoFactorMethod
	user.TwoFactorEnabled = false
	user.TwoFactorMethod = MethodNone
	user.TwoFactorSecretKey = ""
	if err := e.credentials.PersistUser(ctx, user); err != nil {
		return e.backendError("reset_two_factor", user.ID, err)
	}

	e.consumePasswordSession(ctx, user.ID, strings.TrimSpace(sessionToken))
	if err := e.store.Delete(ctx, tokenstore.TOTPUsedStepKey(user.ID)); err != nil {
		e.logger.Warn().Err(err).Str("op", "reset_two_factor").Str("user_id", user.ID).Msg("evict used step")
	}

	e.metricInc(MetricTwoFactorReset)
	e.emitAudit(ctx, auditEventTwoFactorReset, true, user.ID, previous, nil, nil)
	return nil
}

// EnableEmailTwoFactor switches the caller to emailed sign-in codes. The
// account's email address must be confirmed. Any authenticator secret is
// discarded.
func (e *Engine) EnableEmailTwoFactor(ctx context.Context, callerID, sessionToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	user, err := e.loadCaller(ctx, "enable_email_two_factor", callerID)
	if err != nil {
		return err
	}
	if err := e.checkPasswordSession(ctx, "enable_email_two_factor", user.ID, sessionToken); err != nil {
		return err
	}
	if strings.TrimSpace(user.Email) == "" || !user.EmailConfirmed {
		return ErrNotAllowed
	}

	user.TwoFactorEnabled = true
	user.TwoFactorMethod = MethodEmail
	user.TwoFactorSecretKey = ""
	if err := e.credentials.PersistUser(ctx, user); err != nil {
		return e.backendError("enable_email_two_factor", user.ID, err)
	}

	e.consumePasswordSession(ctx, user.ID, strings.TrimSpace(sessionToken))

	e.metricInc(MetricEmailTwoFactorEnabled)
	e.emitAudit(ctx, auditEventEmailTwoFactorEnabled, true, user.ID, MethodEmail, nil, nil)
	return nil
}

// TwoFactorStatus reports the caller's second-factor settings.
func (e *Engine) TwoFactorStatus(ctx context.Context, callerID string) (TwoFactorStatus, error) {
	if err := e.ready(); err != nil {
		return TwoFactorStatus{}, err
	}
	user, err := e.loadCaller(ctx, "two_factor_status", callerID)
	if err != nil {
		return TwoFactorStatus{}, err
	}
	return TwoFactorStatus{
		Enabled:          user.TwoFactorEnabled,
		Method:           user.TwoFactorMethod,
		HasAuthenticator: e.totpProvider.CanGenerate(user),
		EmailConfirmed:   user.EmailConfirmed,
	}, nil
}
