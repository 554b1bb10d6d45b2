package twofa

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/twofa/tokenstore"
)

func otherCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestRegistrationEmailVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.creds.add(UserProfile{ID: "user-bob", UserName: "bob", Email: "bob@example.com"}, "bob-password")

	if err := h.engine.SendVerificationEmail(ctx, "bob@example.com"); err != nil {
		t.Fatalf("SendVerificationEmail failed: %v", err)
	}
	msg := h.mail.last(t)
	if msg.To != "bob@example.com" || msg.Subject != h.engine.config.Verification.RegistrationSubject {
		t.Fatalf("unexpected mail %+v", msg)
	}
	if !strings.Contains(msg.Body, "Hello bob,") {
		t.Fatal("expected the greeting to use the user name")
	}

	if err := h.engine.ConfirmVerificationEmail(ctx, "bob@example.com", otherCode(msg.Code())); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
	if err := h.engine.ConfirmVerificationEmail(ctx, "bob@example.com", msg.Code()); err != nil {
		t.Fatalf("ConfirmVerificationEmail failed: %v", err)
	}
	if !h.creds.user("user-bob").EmailConfirmed {
		t.Fatal("expected the address to be confirmed")
	}
	if err := h.engine.ConfirmVerificationEmail(ctx, "bob@example.com", msg.Code()); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected the code to work once, got %v", err)
	}
}

func TestSendVerificationEmailIsSilentForUnknownAndConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.engine.SendVerificationEmail(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("expected silent success for unknown address, got %v", err)
	}
	if err := h.engine.SendVerificationEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("expected silent success for confirmed address, got %v", err)
	}
	if h.mail.count() != 0 {
		t.Fatalf("expected no mail, got %d", h.mail.count())
	}
	if err := h.engine.SendVerificationEmail(ctx, "not an address"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestConfirmVerificationEmailAttemptCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.creds.add(UserProfile{ID: "user-bob", UserName: "bob", Email: "bob@example.com"}, "bob-password")

	if err := h.engine.SendVerificationEmail(ctx, "bob@example.com"); err != nil {
		t.Fatalf("SendVerificationEmail failed: %v", err)
	}
	code := h.mail.last(t).Code()
	for i := 1; i <= h.engine.config.Verification.MaxAttempts; i++ {
		if err := h.engine.ConfirmVerificationEmail(ctx, "bob@example.com", otherCode(code)); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("attempt %d: expected ErrCodeInvalid, got %v", i, err)
		}
	}
	if err := h.engine.ConfirmVerificationEmail(ctx, "bob@example.com", code); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
	if _, err := h.store.Get(ctx, tokenstore.VerificationKey("bob@example.com")); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Fatalf("expected the code to be dropped, got %v", err)
	}
	if h.creds.user("user-bob").EmailConfirmed {
		t.Fatal("address must stay unconfirmed")
	}
}

func TestPasswordResetCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.engine.RequestPasswordReset(ctx, "nobody"); err != nil {
		t.Fatalf("expected silent success for unknown identifier, got %v", err)
	}
	if h.mail.count() != 0 {
		t.Fatal("no mail may be sent for unknown identifiers")
	}

	if err := h.engine.RequestPasswordReset(ctx, "alice"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := h.mail.last(t).Code()

	if _, err := h.engine.VerifyPasswordResetCode(ctx, "alice", otherCode(code)); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
	if _, err := h.engine.VerifyPasswordResetCode(ctx, "nobody", code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid for unknown identifier, got %v", err)
	}

	userID, err := h.engine.VerifyPasswordResetCode(ctx, "alice@example.com", code)
	if err != nil {
		t.Fatalf("VerifyPasswordResetCode failed: %v", err)
	}
	if userID != aliceID {
		t.Fatalf("expected %q, got %q", aliceID, userID)
	}
	if _, err := h.engine.VerifyPasswordResetCode(ctx, "alice", code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected the code to work once, got %v", err)
	}
}

func TestPasswordResetCodeExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.engine.RequestPasswordReset(ctx, "alice"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := h.mail.last(t).Code()
	h.clock.Advance(h.engine.config.Verification.PasswordResetTTL)

	if _, err := h.engine.VerifyPasswordResetCode(ctx, "alice", code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid after expiry, got %v", err)
	}
}

func TestPasswordResetRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < h.engine.config.RateLimit.MaxAttempts; i++ {
		if err := h.engine.RequestPasswordReset(ctx, "alice"); err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
	}
	err := h.engine.RequestPasswordReset(ctx, "alice")
	var limited *RateLimitError
	if !errors.As(err, &limited) {
		t.Fatalf("expected *RateLimitError, got %v", err)
	}
	if limited.RetryAfter <= 0 || limited.RetryAfter > h.engine.config.RateLimit.Window {
		t.Fatalf("unexpected retry after %v", limited.RetryAfter)
	}
}

func TestEmailChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.RequestEmailChange(ctx, aliceID, "alice@example.com"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for the current address, got %v", err)
	}
	if _, err := h.engine.RequestEmailChange(ctx, "", "new@example.com"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	sessionID, err := h.engine.RequestEmailChange(ctx, aliceID, "new@example.com")
	if err != nil {
		t.Fatalf("RequestEmailChange failed: %v", err)
	}
	msg := h.mail.last(t)
	if msg.To != "new@example.com" {
		t.Fatalf("expected the code to go to the new address, got %q", msg.To)
	}

	if err := h.engine.ConfirmEmailChange(ctx, aliceID, "other-session", msg.Code()); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid for a foreign session, got %v", err)
	}
	if err := h.engine.ConfirmEmailChange(ctx, aliceID, sessionID, msg.Code()); err != nil {
		t.Fatalf("ConfirmEmailChange failed: %v", err)
	}

	user := h.creds.user(aliceID)
	if user.Email != "new@example.com" || !user.EmailConfirmed {
		t.Fatalf("expected the new confirmed address, got %+v", user)
	}
}

func TestEmailChangeMailFailureWithdrawsCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mail.fail(MailAuthenticationError)

	_, err := h.engine.RequestEmailChange(ctx, aliceID, "new@example.com")
	if !errors.Is(err, ErrMailUnavailable) {
		t.Fatalf("expected ErrMailUnavailable, got %v", err)
	}
	// Only the rate window remains.
	if h.store.Len() != 1 {
		t.Fatalf("expected only the rate window to be stored, got %d entries", h.store.Len())
	}
}

func TestRenderCodeEmail(t *testing.T) {
	body, err := renderCodeEmail(codeEmailSignIn, "<b>eve</b>", "123456", 90*time.Second)
	if err != nil {
		t.Fatalf("renderCodeEmail failed: %v", err)
	}
	if strings.Contains(body, "<b>eve</b>") {
		t.Fatal("user name must be escaped")
	}
	if !strings.Contains(body, ">123456<") || !strings.Contains(body, "2 minutes") {
		t.Fatalf("unexpected body %s", body)
	}

	if _, err := renderCodeEmail(codeEmailKind("bogus"), "", "123456", time.Minute); err == nil {
		t.Fatal("expected an error for an unknown kind")
	}
}
