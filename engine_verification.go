package twofa

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/MrEthical07/twofa/internal/limiters"
	"github.com/MrEthical07/twofa/internal/otp"
	"github.com/MrEthical07/twofa/internal/records"
	"github.com/MrEthical07/twofa/tokenstore"
)

// codeIssue describes one emailed code.
type codeIssue struct {
	op         string
	scope      string
	userID     string
	name       string
	to         string
	subject    string
	kind       codeEmailKind
	limiterKey string
	codeKey    string
	ttl        time.Duration
}

// issueCode rate-limits, stores and mails a fresh code. The stored record
// keeps only the code hash and the destination address. A code that could
// not be delivered is withdrawn again.
func (e *Engine) issueCode(ctx context.Context, c codeIssue) error {
	if err := e.sendLimiter.Allow(ctx, c.limiterKey); err != nil {
		err = e.limiterError(c.op, c.userID, err)
		if errors.Is(err, ErrRateLimited) {
			e.emitRateLimit(ctx, c.scope, c.userID, err)
		}
		return err
	}

	code, err := otp.Generate()
	if err != nil {
		return e.backendError(c.op, c.userID, err)
	}
	encoded, err := records.EncodeCode(&records.Code{
		CodeHash: otp.Hash(code),
		Email:    c.to,
		IssuedAt: e.now().Unix(),
	})
	if err != nil {
		return e.backendError(c.op, c.userID, err)
	}
	body, err := renderCodeEmail(c.kind, c.name, code, c.ttl)
	if err != nil {
		return e.backendError(c.op, c.userID, err)
	}

	if err := e.store.Set(ctx, c.codeKey, encoded, c.ttl); err != nil {
		return e.backendError(c.op, c.userID, err)
	}
	if err := e.deliver(ctx, c.op, c.userID, c.to, c.subject, body); err != nil {
		if delErr := e.store.Delete(ctx, c.codeKey); delErr != nil {
			e.logger.Warn().Err(delErr).Str("op", c.op).Str("user_id", c.userID).Msg("withdraw undelivered code")
		}
		return err
	}
	return nil
}

// redeemCode checks code against the record under codeKey and consumes the
// record when it matches. Every attempt is reserved under attemptKey before
// the check; past the cap the record is dropped and ErrTooManyAttempts is
// returned.
func (e *Engine) redeemCode(ctx context.Context, op, userID, codeKey, attemptKey, code string) (*records.Code, error) {
	if _, err := e.verificationAttempts.Reserve(ctx, attemptKey); err != nil {
		if !errors.Is(err, limiters.ErrAttemptsExceeded) {
			return nil, e.backendError(op, userID, err)
		}
		// The record goes before the counter so a reservation on the
		// fresh counter finds nothing to match.
		for _, key := range []string{codeKey, attemptKey} {
			if delErr := e.store.Delete(ctx, key); delErr != nil {
				e.logger.Warn().Err(delErr).Str("op", op).Str("user_id", userID).Msg("evict exhausted code")
			}
		}
		e.metricInc(MetricTwoFactorAttemptsExceeded)
		return nil, ErrTooManyAttempts
	}

	raw, err := e.store.Get(ctx, codeKey)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, ErrCodeInvalid
		}
		return nil, e.backendError(op, userID, err)
	}
	record, err := records.DecodeCode(raw)
	if err != nil {
		return nil, ErrCodeInvalid
	}
	started := time.Now()
	ok := otp.Matches(record.CodeHash, code)
	e.metrics.Observe(MetricCodeVerifyLatency, time.Since(started))
	if !ok {
		return nil, ErrCodeInvalid
	}
	if _, err := e.store.Take(ctx, codeKey); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, ErrCodeInvalid
		}
		return nil, e.backendError(op, userID, err)
	}
	if err := e.verificationAttempts.Reset(ctx, attemptKey); err != nil {
		e.logger.Warn().Err(err).Str("op", op).Str("user_id", userID).Msg("reset attempt counter")
	}
	return record, nil
}

func normalizeAddress(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := mail.ParseAddress(raw)
	if err != nil || parsed.Address != raw {
		return "", false
	}
	return raw, true
}

/*
====================================
REGISTRATION EMAIL VERIFICATION
====================================
*/

// SendVerificationEmail mails a confirmation code to a registered but
// unconfirmed address. Unknown and already confirmed addresses are accepted
// silently so the call cannot be used to probe for accounts.
func (e *Engine) SendVerificationEmail(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	address, ok := normalizeAddress(email)
	if !ok {
		return ErrValidation
	}

	user, err := e.credentials.FindUserByNameOrEmail(ctx, address)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return e.backendError("send_verification_email", "", err)
	}
	if user.EmailConfirmed || !strings.EqualFold(user.Email, address) {
		return nil
	}

	err = e.issueCode(ctx, codeIssue{
		op:         "send_verification_email",
		scope:      "email_verification",
		userID:     user.ID,
		name:       user.UserName,
		to:         user.Email,
		subject:    e.config.Verification.RegistrationSubject,
		kind:       codeEmailRegistration,
		limiterKey: tokenstore.VerificationRateLimitKey(address),
		codeKey:    tokenstore.VerificationKey(address),
		ttl:        e.config.Verification.RegistrationTTL,
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricVerificationSent)
	e.emitAudit(ctx, auditEventVerificationRequest, true, user.ID, MethodNone, nil, nil)
	return nil
}

// ConfirmVerificationEmail marks the address confirmed when code matches.
func (e *Engine) ConfirmVerificationEmail(ctx context.Context, email, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	address, ok := normalizeAddress(email)
	code = strings.TrimSpace(code)
	if !ok || !otp.WellFormed(code, otp.Digits) {
		return ErrValidation
	}

	_, err := e.redeemCode(ctx, "confirm_verification_email", "",
		tokenstore.VerificationKey(address),
		tokenstore.VerificationFailedAttemptsKey(address),
		code)
	if err != nil {
		e.emitAudit(ctx, auditEventVerificationConfirm, false, "", MethodNone, err, nil)
		return err
	}

	user, err := e.credentials.FindUserByNameOrEmail(ctx, address)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrCodeInvalid
		}
		return e.backendError("confirm_verification_email", "", err)
	}
	user.EmailConfirmed = true
	if err := e.credentials.PersistUser(ctx, user); err != nil {
		return e.backendError("confirm_verification_email", user.ID, err)
	}

	e.metricInc(MetricVerificationConfirmed)
	e.emitAudit(ctx, auditEventVerificationConfirm, true, user.ID, MethodNone, nil, nil)
	return nil
}

/*
====================================
PASSWORD RESET CODE
====================================
*/

// RequestPasswordReset mails a reset code to the account matching
// identifier. Unknown identifiers succeed without sending anything.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	if err := e.ready(); err != nil {
		return err
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ErrValidation
	}

	user, err := e.credentials.FindUserByNameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", MethodNone, ErrUserNotFound, nil)
			return nil
		}
		return e.backendError("request_password_reset", "", err)
	}
	if strings.TrimSpace(user.Email) == "" {
		return nil
	}

	err = e.issueCode(ctx, codeIssue{
		op:         "request_password_reset",
		scope:      "password_reset",
		userID:     user.ID,
		name:       user.UserName,
		to:         user.Email,
		subject:    e.config.Verification.PasswordResetSubject,
		kind:       codeEmailPasswordReset,
		limiterKey: tokenstore.PasswordResetRateLimitKey(user.ID),
		codeKey:    tokenstore.PasswordResetKey(user.ID),
		ttl:        e.config.Verification.PasswordResetTTL,
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricPasswordResetRequested)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, MethodNone, nil, nil)
	return nil
}

// VerifyPasswordResetCode consumes the reset code of the account matching
// identifier and returns the account's id. The caller then lets the user
// choose a new password.
func (e *Engine) VerifyPasswordResetCode(ctx context.Context, identifier, code string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	identifier = strings.TrimSpace(identifier)
	code = strings.TrimSpace(code)
	if identifier == "" || !otp.WellFormed(code, otp.Digits) {
		return "", ErrValidation
	}

	user, err := e.credentials.FindUserByNameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrCodeInvalid
		}
		return "", e.backendError("verify_password_reset", "", err)
	}

	_, err = e.redeemCode(ctx, "verify_password_reset", user.ID,
		tokenstore.PasswordResetKey(user.ID),
		tokenstore.PasswordResetFailedAttemptsKey(user.ID),
		code)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordResetVerify, false, user.ID, MethodNone, err, nil)
		return "", err
	}

	e.metricInc(MetricPasswordResetVerified)
	e.emitAudit(ctx, auditEventPasswordResetVerify, true, user.ID, MethodNone, nil, nil)
	return user.ID, nil
}

/*
====================================
EMAIL CHANGE
====================================
*/

// RequestEmailChange mails a code to newEmail and returns the id of the
// change session the code belongs to.
func (e *Engine) RequestEmailChange(ctx context.Context, callerID, newEmail string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	address, ok := normalizeAddress(newEmail)
	if !ok {
		return "", ErrValidation
	}
	user, err := e.loadCaller(ctx, "request_email_change", callerID)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(address, user.Email) {
		return "", ErrValidation
	}

	sessionID := newOpaqueID()
	err = e.issueCode(ctx, codeIssue{
		op:         "request_email_change",
		scope:      "email_change",
		userID:     user.ID,
		name:       user.UserName,
		to:         address,
		subject:    e.config.Verification.EmailChangeSubject,
		kind:       codeEmailEmailChange,
		limiterKey: tokenstore.EmailChangeRateLimitKey(user.ID),
		codeKey:    tokenstore.EmailVerificationKey(user.ID, sessionID),
		ttl:        e.config.Verification.EmailChangeTTL,
	})
	if err != nil {
		return "", err
	}

	e.metricInc(MetricEmailChangeRequested)
	e.emitAudit(ctx, auditEventEmailChangeRequest, true, user.ID, MethodNone, nil, nil)
	return sessionID, nil
}

// ConfirmEmailChange switches the caller to the address the change session
// was opened for. The new address counts as confirmed.
func (e *Engine) ConfirmEmailChange(ctx context.Context, callerID, sessionID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)
	code = strings.TrimSpace(code)
	if sessionID == "" || !otp.WellFormed(code, otp.Digits) {
		return ErrValidation
	}
	user, err := e.loadCaller(ctx, "confirm_email_change", callerID)
	if err != nil {
		return err
	}

	record, err := e.redeemCode(ctx, "confirm_email_change", user.ID,
		tokenstore.EmailVerificationKey(user.ID, sessionID),
		tokenstore.EmailChangeFailedAttemptsKey(user.ID, sessionID),
		code)
	if err != nil {
		e.emitAudit(ctx, auditEventEmailChangeConfirm, false, user.ID, MethodNone, err, nil)
		return err
	}

	user.Email = record.Email
	user.EmailConfirmed = true
	if err := e.credentials.PersistUser(ctx, user); err != nil {
		return e.backendError("confirm_email_change", user.ID, err)
	}

	e.metricInc(MetricEmailChangeConfirmed)
	e.emitAudit(ctx, auditEventEmailChangeConfirm, true, user.ID, MethodNone, nil, nil)
	return nil
}
