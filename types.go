package twofa

import (
	"context"
	"strings"
	"time"
)

// TwoFactorMethod identifies the second factor a user signs in with.
type TwoFactorMethod uint8

const (
	MethodNone TwoFactorMethod = iota
	MethodTOTP
	MethodEmail
)

func (m TwoFactorMethod) String() string {
	switch m {
	case MethodTOTP:
		return "totp"
	case MethodEmail:
		return "email"
	default:
		return "none"
	}
}

// ParseTwoFactorMethod maps a stored or user-supplied name back to a method.
// Unknown names map to MethodNone.
func ParseTwoFactorMethod(s string) TwoFactorMethod {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "totp", "authenticator":
		return MethodTOTP
	case "email":
		return MethodEmail
	default:
		return MethodNone
	}
}

// UserProfile is the slice of an account the engine reads and writes.
//
// TwoFactorEnabled implies TwoFactorMethod != MethodNone. TwoFactorSecretKey
// is set only while TwoFactorMethod is MethodTOTP.
type UserProfile struct {
	ID                 string
	UserName           string
	Email              string
	EmailConfirmed     bool
	Role               string
	TwoFactorEnabled   bool
	TwoFactorMethod    TwoFactorMethod
	TwoFactorSecretKey string
	LastLoginAt        time.Time
}

// CredentialStore is implemented by the application's account database.
//
// Lockout bookkeeping lives with the accounts: RecordPasswordFailure returns
// the instant the account stays locked until, or the zero time when the
// failure did not trigger a lockout. LockoutStatus returns the zero time for
// accounts that are not locked.
//
// CheckPassword for an unknown userID must cost as much as a wrong password
// and return ErrUserNotFound. Login calls it with an empty userID when the
// identifier matches no account.
//
//	Reference implementations: credstore.Memory, credstore.Postgres
type CredentialStore interface {
	FindUserByNameOrEmail(ctx context.Context, identifier string) (UserProfile, error)
	FindUserByID(ctx context.Context, userID string) (UserProfile, error)
	CheckPassword(ctx context.Context, userID, password string) (bool, error)
	PersistUser(ctx context.Context, user UserProfile) error
	LockoutStatus(ctx context.Context, userID string) (time.Time, error)
	RecordPasswordFailure(ctx context.Context, userID string) (time.Time, error)
	ResetPasswordFailures(ctx context.Context, userID string) error
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}

// MailStatus is the outcome of a delivery attempt.
type MailStatus int

const (
	MailSuccess MailStatus = iota
	MailSMTPConnectionError
	MailAuthenticationError
	MailSendError
	MailFailure
)

func (s MailStatus) String() string {
	switch s {
	case MailSuccess:
		return "success"
	case MailSMTPConnectionError:
		return "smtp_connection_error"
	case MailAuthenticationError:
		return "authentication_error"
	case MailSendError:
		return "send_error"
	default:
		return "failure"
	}
}

// MailTransport delivers HTML messages. Implementations must not retry on
// their own; every non-success status becomes a "could not send code" result.
type MailTransport interface {
	Send(ctx context.Context, to, subject, htmlBody string) MailStatus
}

// LoginState is where a sign-in attempt ended up.
type LoginState uint8

const (
	LoginRejected LoginState = iota
	LoginAuthenticated
	LoginTwoFactorRequired
	LoginLockedOut
	LoginNotAllowed
	LoginTooManyAttempts
)

func (s LoginState) String() string {
	switch s {
	case LoginAuthenticated:
		return "authenticated"
	case LoginTwoFactorRequired:
		return "two_factor_required"
	case LoginLockedOut:
		return "locked_out"
	case LoginNotAllowed:
		return "not_allowed"
	case LoginTooManyAttempts:
		return "too_many_attempts"
	default:
		return "rejected"
	}
}

// LoginRequest is the first step of a sign-in.
type LoginRequest struct {
	Identifier string
	Password   string
	RememberMe bool
	ReturnURL  string
}

// LoginResult describes the state reached by a sign-in step.
//
// For LoginTwoFactorRequired, ChallengeID, UserID, Email (masked), Method
// and RedirectTo tell the client where to collect the second factor. For
// LoginAuthenticated, AccessToken and RedirectTo are set.
type LoginResult struct {
	State       LoginState
	Method      TwoFactorMethod
	ChallengeID string
	UserID      string
	Email       string
	Role        string
	RememberMe  bool
	ReturnURL   string
	RedirectTo  string
	AccessToken string
	ExpiresAt   time.Time
	LockedUntil time.Time
}

// TOTPSetup is handed to the user while enrolling an authenticator app.
type TOTPSetup struct {
	SessionID       string
	ManualEntryKey  string
	ProvisioningURI string
	QRCodeDataURL   string
	ExpiresAt       time.Time
}

// TwoFactorStatus summarizes a user's second-factor settings.
type TwoFactorStatus struct {
	Enabled          bool
	Method           TwoFactorMethod
	HasAuthenticator bool
	EmailConfirmed   bool
}
