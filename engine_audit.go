package twofa

import (
	"context"
	"errors"
)

const (
	auditEventPasswordSessionIssued   = "password_session_issued"
	auditEventPasswordSessionRejected = "password_session_rejected"
	auditEventTOTPSetupRequested      = "totp_setup_requested"
	auditEventTOTPSetupFailure        = "totp_setup_failure"
	auditEventTOTPEnabled             = "totp_enabled"
	auditEventEmailTwoFactorEnabled   = "email_two_factor_enabled"
	auditEventTwoFactorReset          = "two_factor_reset"
	auditEventLoginSuccess            = "login_success"
	auditEventLoginFailure            = "login_failure"
	auditEventLoginLockedOut          = "login_locked_out"
	auditEventLoginNotAllowed         = "login_not_allowed"
	auditEventTwoFactorRequired       = "two_factor_required"
	auditEventTwoFactorSuccess        = "two_factor_success"
	auditEventTwoFactorFailure        = "two_factor_failure"
	auditEventTwoFactorExceeded       = "two_factor_attempts_exceeded"
	auditEventEmailOTPSent            = "email_otp_sent"
	auditEventRateLimitTriggered      = "rate_limit_triggered"
	auditEventVerificationRequest     = "email_verification_request"
	auditEventVerificationConfirm     = "email_verification_confirm"
	auditEventPasswordResetRequest    = "password_reset_request"
	auditEventPasswordResetVerify     = "password_reset_verify"
	auditEventEmailChangeRequest      = "email_change_request"
	auditEventEmailChangeConfirm      = "email_change_confirm"
)

// ErrorCode is the stable, client-safe name of an engine error. It is what
// audit events and HTTP responses carry instead of error text.
type ErrorCode string

const (
	CodeNone               ErrorCode = ""
	CodeUnauthorized       ErrorCode = "unauthorized"
	CodeInvalidCredentials ErrorCode = "invalid_credentials"
	CodeSessionInvalid     ErrorCode = "session_invalid"
	CodeCodeInvalid        ErrorCode = "code_invalid"
	CodeAttemptsExceeded   ErrorCode = "attempts_exceeded"
	CodeRateLimited        ErrorCode = "rate_limited"
	CodeLockedOut          ErrorCode = "locked_out"
	CodeNotAllowed         ErrorCode = "not_allowed"
	CodeValidation         ErrorCode = "validation_failed"
	CodeNotEnabled         ErrorCode = "two_factor_not_enabled"
	CodeMailUnavailable    ErrorCode = "mail_unavailable"
	CodeUnavailable        ErrorCode = "backend_unavailable"
	CodeInternal           ErrorCode = "internal_error"
)

// ClassifyError maps err onto its ErrorCode. Errors the engine does not
// recognise become CodeInternal.
func ClassifyError(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}

	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUserNotFound):
		return CodeInvalidCredentials
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrSessionInvalid):
		return CodeSessionInvalid
	case errors.Is(err, ErrCodeInvalid):
		return CodeCodeInvalid
	case errors.Is(err, ErrTooManyAttempts):
		return CodeAttemptsExceeded
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrLockedOut):
		return CodeLockedOut
	case errors.Is(err, ErrNotAllowed):
		return CodeNotAllowed
	case errors.Is(err, ErrTwoFactorNotEnabled):
		return CodeNotEnabled
	case errors.Is(err, ErrMailUnavailable):
		return CodeMailUnavailable
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	method TwoFactorMethod,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		RequestID: requestIDFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if method != MethodNone {
		event.Method = method.String()
	}
	if code := ClassifyError(err); code != CodeNone {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, userID string, err error) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, userID, MethodNone, err, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}
