package twofa

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/twofa/internal/limiters"
	"github.com/MrEthical07/twofa/internal/otp"
	"github.com/MrEthical07/twofa/internal/records"
	"github.com/MrEthical07/twofa/tokenstore"
)

var errStepReplayed = errors.New("totp step already used")

// Login runs the password step of a sign-in.
//
// The returned result always carries a State. Unknown users and wrong
// passwords both end in LoginRejected with ErrInvalidCredentials. When the
// user has two-factor sign-in enabled the result is LoginTwoFactorRequired
// and a pending challenge is held for Login.ChallengeTTL; for the email
// method a code is mailed straight away, and a delivery failure is returned
// alongside the challenge so the client can ask for a resend.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if err := e.ready(); err != nil {
		return LoginResult{State: LoginRejected}, err
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		return LoginResult{State: LoginRejected}, ErrValidation
	}
	returnURL := req.ReturnURL
	if !isLocalURL(returnURL) {
		returnURL = ""
	}

	user, err := e.credentials.FindUserByNameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Hash anyway so unknown identifiers answer as slowly as known ones.
			_, _ = e.credentials.CheckPassword(ctx, "", req.Password)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", MethodNone, ErrInvalidCredentials, nil)
			return LoginResult{State: LoginRejected}, ErrInvalidCredentials
		}
		return LoginResult{State: LoginRejected}, e.backendError("login", "", err)
	}

	now := e.now()
	lockedUntil, err := e.credentials.LockoutStatus(ctx, user.ID)
	if err != nil {
		return LoginResult{State: LoginRejected}, e.backendError("login", user.ID, err)
	}
	if lockedUntil.After(now) {
		return e.lockedOut(ctx, user.ID, lockedUntil)
	}

	ok, err := e.credentials.CheckPassword(ctx, user.ID, req.Password)
	if err != nil {
		return LoginResult{State: LoginRejected}, e.backendError("login", user.ID, err)
	}
	if !ok {
		lockedUntil, err := e.credentials.RecordPasswordFailure(ctx, user.ID)
		if err != nil {
			return LoginResult{State: LoginRejected}, e.backendError("login", user.ID, err)
		}
		if lockedUntil.After(now) {
			return e.lockedOut(ctx, user.ID, lockedUntil)
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, MethodNone, ErrInvalidCredentials, nil)
		return LoginResult{State: LoginRejected}, ErrInvalidCredentials
	}

	if e.config.Login.RequireConfirmedEmail && !user.EmailConfirmed {
		e.metricInc(MetricLoginNotAllowed)
		e.emitAudit(ctx, auditEventLoginNotAllowed, false, user.ID, MethodNone, ErrNotAllowed, nil)
		return LoginResult{State: LoginNotAllowed, UserID: user.ID}, ErrNotAllowed
	}

	if err := e.credentials.ResetPasswordFailures(ctx, user.ID); err != nil {
		e.logger.Warn().Err(err).Str("op", "login").Str("user_id", user.ID).Msg("reset password failures")
	}

	if !user.TwoFactorEnabled || user.TwoFactorMethod == MethodNone {
		return e.authenticated(ctx, user, MethodNone, req.RememberMe, returnURL)
	}

	return e.challenge(ctx, user, req.RememberMe, returnURL)
}

func (e *Engine) lockedOut(ctx context.Context, userID string, until time.Time) (LoginResult, error) {
	err := &LockoutError{Until: until}
	e.metricInc(MetricLoginLockedOut)
	e.emitAudit(ctx, auditEventLoginLockedOut, false, userID, MethodNone, err, func() map[string]string {
		return map[string]string{"locked_until": until.UTC().Format(time.RFC3339)}
	})
	return LoginResult{State: LoginLockedOut, UserID: userID, LockedUntil: until}, err
}

func (e *Engine) authenticated(ctx context.Context, user UserProfile, method TwoFactorMethod, rememberMe bool, returnURL string) (LoginResult, error) {
	token, expiresAt, err := e.issueSession(ctx, user, method, rememberMe)
	if err != nil {
		return LoginResult{State: LoginRejected}, err
	}

	if method == MethodNone {
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, MethodNone, nil, nil)
	} else {
		e.metricInc(MetricTwoFactorSuccess)
		e.emitAudit(ctx, auditEventTwoFactorSuccess, true, user.ID, method, nil, nil)
	}

	return LoginResult{
		State:       LoginAuthenticated,
		Method:      method,
		UserID:      user.ID,
		Email:       maskEmail(user.Email),
		Role:        user.Role,
		RememberMe:  rememberMe,
		ReturnURL:   returnURL,
		RedirectTo:  e.landingPath(user.Role, returnURL),
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}

func (e *Engine) challenge(ctx context.Context, user UserProfile, rememberMe bool, returnURL string) (LoginResult, error) {
	method := user.TwoFactorMethod
	pending := &records.Challenge{
		ChallengeID: newOpaqueID(),
		Method:      uint8(method),
		RememberMe:  rememberMe,
		ReturnURL:   returnURL,
	}
	encoded, err := records.EncodeChallenge(pending)
	if err != nil {
		return LoginResult{State: LoginRejected}, e.backendError("login", user.ID, err)
	}
	if err := e.store.Set(ctx, tokenstore.PendingTwoFactorKey(user.ID), encoded, e.config.Login.ChallengeTTL); err != nil {
		return LoginResult{State: LoginRejected}, e.backendError("login", user.ID, err)
	}

	result := LoginResult{
		State:       LoginTwoFactorRequired,
		Method:      method,
		ChallengeID: pending.ChallengeID,
		UserID:      user.ID,
		Email:       maskEmail(user.Email),
		Role:        user.Role,
		RememberMe:  rememberMe,
		ReturnURL:   returnURL,
	}
	result.RedirectTo = e.challengePath(result)

	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventTwoFactorRequired, true, user.ID, method, nil, nil)

	if method == MethodEmail {
		if err := e.sendEmailCode(ctx, user); err != nil {
			return result, err
		}
	}
	return result, nil
}

// SendEmailOTP mails a new sign-in code for the user's pending email
// challenge and returns the challenge id. email, when non-empty, must be the
// account's address or its masked form. Sends are rate limited per user
// unless Security.DevelopmentMode is set.
func (e *Engine) SendEmailOTP(ctx context.Context, userID, email string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrValidation
	}

	pending, err := e.loadChallenge(ctx, userID)
	if err != nil {
		return "", err
	}
	if TwoFactorMethod(pending.Method) != MethodEmail {
		return "", ErrSessionInvalid
	}

	user, err := e.credentials.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrSessionInvalid
		}
		return "", e.backendError("send_email_otp", userID, err)
	}
	email = strings.TrimSpace(email)
	if email != "" && !strings.EqualFold(email, user.Email) && email != maskEmail(user.Email) {
		return "", ErrSessionInvalid
	}

	if err := e.sendEmailCode(ctx, user); err != nil {
		return "", err
	}
	return pending.ChallengeID, nil
}

// sendEmailCode stores a fresh sign-in code for user and mails it.
func (e *Engine) sendEmailCode(ctx context.Context, user UserProfile) error {
	if strings.TrimSpace(user.Email) == "" {
		return ErrNotAllowed
	}
	err := e.issueCode(ctx, codeIssue{
		op:         "send_email_otp",
		scope:      "email_otp",
		userID:     user.ID,
		name:       user.UserName,
		to:         user.Email,
		subject:    e.config.EmailOTP.Subject,
		kind:       codeEmailSignIn,
		limiterKey: tokenstore.OTPRateLimitKey(user.ID),
		codeKey:    tokenstore.TwoFactorEmailKey(user.ID),
		ttl:        e.config.EmailOTP.CodeTTL,
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricEmailOTPSent)
	e.emitAudit(ctx, auditEventEmailOTPSent, true, user.ID, MethodEmail, nil, nil)
	return nil
}

// deliver hands a message to the mail transport. Any status other than
// MailSuccess becomes ErrMailUnavailable; nothing is retried.
func (e *Engine) deliver(ctx context.Context, op, userID, to, subject, body string) error {
	status := e.mail.Send(ctx, to, subject, body)
	if status == MailSuccess {
		return nil
	}
	e.metricInc(MetricMailFailure)
	e.logger.Error().
		Str("op", op).
		Str("user_id", userID).
		Str("mail_status", status.String()).
		Msg("mail delivery failed")
	return ErrMailUnavailable
}

// VerifyLoginTOTP completes a pending sign-in with an authenticator code.
func (e *Engine) VerifyLoginTOTP(ctx context.Context, userID, challengeID, code string) (LoginResult, error) {
	return e.completeTwoFactor(ctx, MethodTOTP, userID, challengeID, code)
}

// VerifyEmailOTP completes a pending sign-in with an emailed code. A code
// works once.
func (e *Engine) VerifyEmailOTP(ctx context.Context, userID, challengeID, code string) (LoginResult, error) {
	return e.completeTwoFactor(ctx, MethodEmail, userID, challengeID, code)
}

func (e *Engine) completeTwoFactor(ctx context.Context, method TwoFactorMethod, userID, challengeID, code string) (LoginResult, error) {
	rejected := LoginResult{State: LoginRejected, Method: method, UserID: userID}
	if err := e.ready(); err != nil {
		return rejected, err
	}

	digits := otp.Digits
	if method == MethodTOTP {
		digits = e.config.TOTP.Digits
	}
	code = strings.TrimSpace(code)
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(challengeID) == "" || !otp.WellFormed(code, digits) {
		return rejected, ErrValidation
	}

	pending, err := e.loadChallenge(ctx, userID)
	if err != nil {
		return rejected, err
	}
	if !tokensEqual(pending.ChallengeID, strings.TrimSpace(challengeID)) || TwoFactorMethod(pending.Method) != method {
		return rejected, ErrSessionInvalid
	}

	user, err := e.credentials.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return rejected, ErrSessionInvalid
		}
		return rejected, e.backendError("verify_two_factor", userID, err)
	}
	if !user.TwoFactorEnabled || user.TwoFactorMethod != method {
		return rejected, ErrSessionInvalid
	}

	counter, attemptKey := e.loginAttempts(method, userID)
	if _, err := counter.Reserve(ctx, attemptKey); err != nil {
		if !errors.Is(err, limiters.ErrAttemptsExceeded) {
			return rejected, e.backendError("verify_two_factor", userID, err)
		}
		// The password step has to be repeated after exhaustion. The
		// challenge goes before the counter so a reservation on the fresh
		// counter can no longer find it.
		e.dropChallenge(ctx, userID)
		if err := counter.Reset(ctx, attemptKey); err != nil {
			e.logger.Warn().Err(err).Str("op", "verify_two_factor").Str("user_id", userID).Msg("evict attempt counter")
		}
		e.metricInc(MetricTwoFactorAttemptsExceeded)
		e.emitAudit(ctx, auditEventTwoFactorExceeded, false, userID, method, ErrTooManyAttempts, nil)
		return LoginResult{State: LoginTooManyAttempts, Method: method, UserID: userID}, ErrTooManyAttempts
	}
	current, err := e.loadChallenge(ctx, userID)
	if err != nil {
		return rejected, err
	}
	if !tokensEqual(current.ChallengeID, pending.ChallengeID) {
		return rejected, ErrSessionInvalid
	}

	started := time.Now()
	ok, err := e.validateAndConsume(ctx, method, user, code)
	e.metrics.Observe(MetricCodeVerifyLatency, time.Since(started))
	if err != nil {
		return rejected, e.backendError("verify_two_factor", userID, err)
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, userID, method, ErrCodeInvalid, nil)
		return rejected, ErrCodeInvalid
	}

	if err := counter.Reset(ctx, attemptKey); err != nil {
		e.logger.Warn().Err(err).Str("op", "verify_two_factor").Str("user_id", userID).Msg("reset attempt counter")
	}
	if err := e.store.Delete(ctx, tokenstore.PendingTwoFactorKey(userID)); err != nil {
		e.logger.Warn().Err(err).Str("op", "verify_two_factor").Str("user_id", userID).Msg("evict pending challenge")
	}

	return e.authenticated(ctx, user, method, pending.RememberMe, pending.ReturnURL)
}

// validateAndConsume checks code with the method's provider and, when it
// matches, spends it so the same code cannot complete a second sign-in.
func (e *Engine) validateAndConsume(ctx context.Context, method TwoFactorMethod, user UserProfile, code string) (bool, error) {
	switch provider := e.Provider(method).(type) {
	case *TOTPProvider:
		ok, step := provider.match(user.TwoFactorSecretKey, code)
		if !ok || !e.config.TOTP.EnforceReplayProtection {
			return ok, nil
		}
		claimed, err := e.claimTOTPStep(ctx, user.ID, step)
		if err != nil {
			return false, err
		}
		if !claimed {
			e.metricInc(MetricTOTPReplayRejected)
		}
		return claimed, nil

	case *EmailProvider:
		ok, err := provider.Validate(ctx, user, code)
		if err != nil || !ok {
			return false, err
		}
		// Take is the single point of consumption: of two concurrent
		// requests with the right code only one gets the entry.
		if _, err := e.store.Take(ctx, tokenstore.TwoFactorEmailKey(user.ID)); err != nil {
			if errors.Is(err, tokenstore.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil

	default:
		return provider.Validate(ctx, user, code)
	}
}

func (e *Engine) loginAttempts(method TwoFactorMethod, userID string) (*limiters.AttemptCounter, string) {
	if method == MethodTOTP {
		return e.totpLoginAttempts, tokenstore.TOTPLoginFailedAttemptsKey(userID)
	}
	return e.emailLoginAttempts, tokenstore.EmailLoginFailedAttemptsKey(userID)
}

func (e *Engine) loadChallenge(ctx context.Context, userID string) (*records.Challenge, error) {
	raw, err := e.store.Get(ctx, tokenstore.PendingTwoFactorKey(userID))
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, e.backendError("load_challenge", userID, err)
	}
	pending, err := records.DecodeChallenge(raw)
	if err != nil {
		e.dropChallenge(ctx, userID)
		return nil, ErrSessionInvalid
	}
	return pending, nil
}

func (e *Engine) dropChallenge(ctx context.Context, userID string) {
	for _, key := range []string{
		tokenstore.PendingTwoFactorKey(userID),
		tokenstore.TwoFactorEmailKey(userID),
	} {
		if err := e.store.Delete(ctx, key); err != nil {
			e.logger.Warn().Err(err).Str("op", "drop_challenge").Str("user_id", userID).Msg("evict challenge entry")
		}
	}
}

// usedStepTTL covers every step the verification window can still accept.
func (e *Engine) usedStepTTL() time.Duration {
	return time.Duration(2*e.config.TOTP.Skew+2) * time.Duration(e.config.TOTP.Period) * time.Second
}

// claimTOTPStep atomically records step as the user's latest accepted step.
// It returns false when that step or a later one was already accepted.
func (e *Engine) claimTOTPStep(ctx context.Context, userID string, step int64) (bool, error) {
	err := e.store.Update(ctx, tokenstore.TOTPUsedStepKey(userID), e.usedStepTTL(), func(current []byte, found bool) ([]byte, error) {
		if found {
			last, err := strconv.ParseInt(string(current), 10, 64)
			if err == nil && step <= last {
				return nil, errStepReplayed
			}
		}
		return []byte(strconv.FormatInt(step, 10)), nil
	})
	if errors.Is(err, errStepReplayed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) rememberTOTPStep(ctx context.Context, userID string, step int64) {
	if _, err := e.claimTOTPStep(ctx, userID, step); err != nil {
		e.logger.Warn().Err(err).Str("op", "remember_totp_step").Str("user_id", userID).Msg("record used step")
	}
}

// challengePath builds the redirect to the method's challenge page.
func (e *Engine) challengePath(r LoginResult) string {
	path := e.config.Login.TOTPChallengePath
	if r.Method == MethodEmail {
		path = e.config.Login.EmailChallengePath
	}
	q := url.Values{}
	q.Set("userId", r.UserID)
	q.Set("sessionId", r.ChallengeID)
	q.Set("email", r.Email)
	q.Set("rememberMe", strconv.FormatBool(r.RememberMe))
	if r.ReturnURL != "" {
		q.Set("returnUrl", r.ReturnURL)
	}
	return path + "?" + q.Encode()
}

// landingPath picks where a signed-in user goes: a local return URL first,
// then the role's landing page, then the default.
func (e *Engine) landingPath(role, returnURL string) string {
	if returnURL != "" && isLocalURL(returnURL) {
		return returnURL
	}
	if path, ok := e.config.Login.RoleLandingPaths[role]; ok && path != "" {
		return path
	}
	return e.config.Login.DefaultLandingPath
}

// isLocalURL accepts app-relative paths ("/x", "~/x") and rejects anything
// that could leave the site, including protocol-relative "//host" forms.
func isLocalURL(raw string) bool {
	if raw == "" {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < 0x20 || raw[i] == 0x7f {
			return false
		}
	}
	switch {
	case raw == "/":
		return true
	case strings.HasPrefix(raw, "~/"):
		return true
	case raw[0] == '/':
		return raw[1] != '/' && raw[1] != '\\'
	default:
		return false
	}
}

// maskEmail keeps the first character of the local part: "a***@example.com".
func maskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	_, size := utf8.DecodeRuneInString(email)
	return email[:size] + "***" + email[at:]
}
