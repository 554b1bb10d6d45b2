package twofa

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/twofa/internal/otp"
	"github.com/MrEthical07/twofa/internal/records"
	"github.com/MrEthical07/twofa/tokenstore"
	"github.com/MrEthical07/twofa/totp"
)

// TokenProvider is one way of proving the second factor.
//
// The set is closed: *TOTPProvider, *EmailProvider and *GenericProvider are
// the only implementations. Validate returns an error only when a backend
// failed; a wrong, expired or missing code is (false, nil).
type TokenProvider interface {
	Method() TwoFactorMethod
	CanGenerate(user UserProfile) bool
	Generate(ctx context.Context, user UserProfile) (string, error)
	Validate(ctx context.Context, user UserProfile, code string) (bool, error)
	sealed()
}

var (
	_ TokenProvider = (*TOTPProvider)(nil)
	_ TokenProvider = (*EmailProvider)(nil)
	_ TokenProvider = (*GenericProvider)(nil)
)

/*
====================================
TOTP PROVIDER
====================================
*/

// TOTPProvider validates codes from an authenticator app against the user's
// persisted secret. Codes are produced on the user's device, never here.
type TOTPProvider struct {
	engine *totp.Engine
	now    func() time.Time
}

func (*TOTPProvider) sealed() {}

func (*TOTPProvider) Method() TwoFactorMethod { return MethodTOTP }

func (*TOTPProvider) CanGenerate(user UserProfile) bool {
	return strings.TrimSpace(user.TwoFactorSecretKey) != ""
}

// Generate always fails. Calling it is a programming error.
func (*TOTPProvider) Generate(context.Context, UserProfile) (string, error) {
	return "", ErrGenerateUnsupported
}

func (p *TOTPProvider) Validate(_ context.Context, user UserProfile, code string) (bool, error) {
	ok, _ := p.match(user.TwoFactorSecretKey, code)
	return ok, nil
}

// match also reports the accepted step so callers can refuse replays.
func (p *TOTPProvider) match(secret, code string) (bool, int64) {
	if strings.TrimSpace(secret) == "" {
		return false, 0
	}
	return p.engine.Verify(secret, code, p.now())
}

/*
====================================
EMAIL PROVIDER
====================================
*/

// EmailProvider validates a code previously mailed by the engine and kept in
// the token store under TwoFactorEmail_{userId}.
//
// A successful Validate leaves the entry in place. The caller must consume
// it to stop the code being replayed.
type EmailProvider struct {
	store tokenstore.Store
}

func (*EmailProvider) sealed() {}

func (*EmailProvider) Method() TwoFactorMethod { return MethodEmail }

func (*EmailProvider) CanGenerate(UserProfile) bool { return true }

// Generate always fails: email codes are created and delivered together by
// Engine.SendEmailOTP.
func (*EmailProvider) Generate(context.Context, UserProfile) (string, error) {
	return "", ErrGenerateUnsupported
}

func (p *EmailProvider) Validate(ctx context.Context, user UserProfile, code string) (bool, error) {
	raw, err := p.store.Get(ctx, tokenstore.TwoFactorEmailKey(user.ID))
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	record, err := records.DecodeCode(raw)
	if err != nil {
		// Unreadable entries are dropped and treated as absent.
		_ = p.store.Delete(ctx, tokenstore.TwoFactorEmailKey(user.ID))
		return false, nil
	}
	if record.Email != "" && !strings.EqualFold(record.Email, user.Email) {
		return false, nil
	}
	return otp.Matches(record.CodeHash, code), nil
}

/*
====================================
GENERIC PROVIDER
====================================
*/

// GenericProvider is the stateless fallback. Validate only checks that the
// code is six ASCII digits; it proves nothing on its own.
type GenericProvider struct{}

func (*GenericProvider) sealed() {}

func (*GenericProvider) Method() TwoFactorMethod { return MethodNone }

func (*GenericProvider) CanGenerate(UserProfile) bool { return true }

func (*GenericProvider) Generate(context.Context, UserProfile) (string, error) {
	return otp.Generate()
}

func (*GenericProvider) Validate(_ context.Context, _ UserProfile, code string) (bool, error) {
	return otp.WellFormed(code, otp.Digits), nil
}

// Provider returns the provider for method. MethodNone and unknown methods
// get the generic provider.
func (e *Engine) Provider(method TwoFactorMethod) TokenProvider {
	switch method {
	case MethodTOTP:
		return e.totpProvider
	case MethodEmail:
		return e.emailProvider
	default:
		return e.genericProvider
	}
}
