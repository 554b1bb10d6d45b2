package totp

import (
	"strings"
	"testing"
	"time"

	"github.com/xlzd/gotp"
)

func b32(raw string) string {
	return secretEncoding.EncodeToString([]byte(raw))
}

func TestVerifyRFCVectorsSHA1(t *testing.T) {
	e := New(Config{Digits: 8, Period: 30, Algorithm: "SHA1"})
	secret := b32("12345678901234567890")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	for _, tc := range cases {
		ok, step := e.VerifyWindow(secret, tc.code, time.Unix(tc.ts, 0), 0)
		if !ok {
			t.Fatalf("SHA1 vector failed at t=%d", tc.ts)
		}
		if step != tc.ts/30 {
			t.Fatalf("unexpected matched step %d at t=%d", step, tc.ts)
		}
	}
}

func TestVerifyRFCVectorsSHA256(t *testing.T) {
	e := New(Config{Digits: 8, Period: 30, Algorithm: "SHA256"})
	secret := b32("12345678901234567890123456789012")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "46119246"},
		{1111111109, "68084774"},
		{1234567890, "91819424"},
		{20000000000, "77737706"},
	}

	for _, tc := range cases {
		if ok, _ := e.VerifyWindow(secret, tc.code, time.Unix(tc.ts, 0), 0); !ok {
			t.Fatalf("SHA256 vector failed at t=%d", tc.ts)
		}
	}
}

func TestComputeMatchesIndependentImplementation(t *testing.T) {
	e := New(DefaultConfig())
	secret, err := e.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	oracle := gotp.NewDefaultTOTP(secret)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 20; i++ {
		at := base.Add(time.Duration(i) * 37 * time.Second)
		got, err := e.Compute(secret, e.Step(at))
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		if want := oracle.AtTime(at); got != want {
			t.Fatalf("code mismatch at %v: got %s want %s", at, got, want)
		}
	}
}

func TestVerifyRoundTripWithinNinetySeconds(t *testing.T) {
	e := New(DefaultConfig())
	secret, _ := e.GenerateSecret()
	issued := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	code, err := e.Compute(secret, e.Step(issued))
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	for _, d := range []time.Duration{-90 * time.Second, -30 * time.Second, 0, 29 * time.Second, 90 * time.Second, 119 * time.Second} {
		if ok, step := e.Verify(secret, code, issued.Add(d)); !ok || step != e.Step(issued) {
			t.Fatalf("expected code accepted at offset %v (ok=%v step=%d)", d, ok, step)
		}
	}
	for _, d := range []time.Duration{-91 * time.Second, -2 * time.Minute, 2 * time.Minute, 10 * time.Minute} {
		if ok, _ := e.Verify(secret, code, issued.Add(d)); ok {
			t.Fatalf("expected code rejected at offset %v", d)
		}
	}
}

func TestVerifyPrefersNearestStep(t *testing.T) {
	e := New(DefaultConfig())
	secret := b32("12345678901234567890")
	now := time.Unix(1234567890, 0)
	current := e.Step(now)

	code, _ := e.Compute(secret, current-1)
	ok, step := e.Verify(secret, code, now)
	if !ok || step != current-1 {
		t.Fatalf("expected match on previous step, ok=%v step=%d", ok, step)
	}
}

func TestVerifyCollapsesErrorsToFalse(t *testing.T) {
	e := New(DefaultConfig())
	now := time.Now()
	cases := []struct {
		name   string
		secret string
		code   string
	}{
		{"empty secret", "", "123456"},
		{"bad base32", "!!!not-base32!!!", "123456"},
		{"short code", "JBSWY3DPEHPK3PXP", "12345"},
		{"alpha code", "JBSWY3DPEHPK3PXP", "12a456"},
		{"empty code", "JBSWY3DPEHPK3PXP", ""},
	}
	for _, tc := range cases {
		if ok, step := e.Verify(tc.secret, tc.code, now); ok || step != 0 {
			t.Fatalf("%s: expected false/0, got %v/%d", tc.name, ok, step)
		}
	}
}

func TestGenerateSecretIs160BitsUnpadded(t *testing.T) {
	e := New(DefaultConfig())
	secret, err := e.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if strings.Contains(secret, "=") {
		t.Fatalf("secret should not be padded: %s", secret)
	}
	raw, err := DecodeSecret(secret)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	if len(raw) != SecretBytes {
		t.Fatalf("expected %d bytes, got %d", SecretBytes, len(raw))
	}
}

func TestNormalizeSecretAcceptsHandTypedForm(t *testing.T) {
	e := New(DefaultConfig())
	secret, _ := e.GenerateSecret()
	typed := FormatManualKey(secret)

	at := time.Unix(1700000000, 0)
	want, _ := e.Compute(secret, e.Step(at))
	got, err := e.Compute(typed, e.Step(at))
	if err != nil {
		t.Fatalf("Compute on typed secret failed: %v", err)
	}
	if got != want {
		t.Fatalf("typed secret produced %s, want %s", got, want)
	}
}

func TestProvisioningURIAndQRCode(t *testing.T) {
	e := New(Config{Issuer: "Acme Market"})
	secret := "JBSWY3DPEHPK3PXP"
	uri := e.ProvisioningURI(secret, "alice@example.com")

	if !strings.HasPrefix(uri, "otpauth://totp/Acme%20Market:alice@example.com?") {
		t.Fatalf("unexpected uri prefix: %s", uri)
	}
	for _, part := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=Acme+Market", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(uri, part) {
			t.Fatalf("uri %s missing %s", uri, part)
		}
	}

	dataURL, err := QRCodeDataURL(uri, 0)
	if err != nil {
		t.Fatalf("QRCodeDataURL failed: %v", err)
	}
	if !strings.HasPrefix(dataURL, "data:image/png;base64,") {
		t.Fatalf("unexpected data url prefix: %.40s", dataURL)
	}
}
