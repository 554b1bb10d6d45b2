package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var hsKey = []byte("0123456789abcdef0123456789abcdef")

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestCreateAndParseHS256(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    hsKey,
		Issuer:        "twofa",
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, exp, err := m.CreateAccess(Session{
		UserID:    "u1",
		SessionID: "s1",
		Role:      "admin",
		AMR:       []string{"pwd", "otp"},
	})
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if !exp.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UID != "u1" || claims.SID != "s1" || claims.Role != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if len(claims.AMR) != 2 || claims.AMR[1] != "otp" {
		t.Fatalf("unexpected amr %v", claims.AMR)
	}

	now = now.Add(16 * time.Minute)
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestCreateAccessTTLOverride(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    hsKey,
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	_, exp, err := m.CreateAccess(Session{UserID: "u1", SessionID: "s1", RememberMe: true, TTL: 24 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if !exp.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("expected ttl override, got %v", exp)
	}
}

func TestCreateAccessRequiresIDs(t *testing.T) {
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: hsKey})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.CreateAccess(Session{UserID: "u1"}); err == nil {
		t.Fatal("expected missing session id to fail")
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AccessClaims{UID: "u1", SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(hsKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseAccessIssuerAndAudience(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "twofa",
		Audience:      "web",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, _, err := m.CreateAccess(Session{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(access); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	forge := func(issuer, audience string) string {
		c := AccessClaims{UID: "u1", SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  gjwt.ClaimStrings{audience},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		}}
		s, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		return s
	}
	if _, err := m.ParseAccess(forge("other", "web")); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}
	if _, err := m.ParseAccess(forge("twofa", "other")); err == nil {
		t.Fatal("expected wrong audience to fail")
	}
}

func TestParseAccessKeyRotation(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, priv2 := newEdKeys(t)

	old, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv1, PublicKey: pub1, KeyID: "k1"})
	if err != nil {
		t.Fatal(err)
	}
	current, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv2,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": pub1, "k2": pub2},
	})
	if err != nil {
		t.Fatal(err)
	}

	oldToken, _, err := old.CreateAccess(Session{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := current.ParseAccess(oldToken); err != nil {
		t.Fatalf("expected rotated key to verify: %v", err)
	}

	stranger, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv2, PublicKey: pub2, KeyID: "k3"})
	if err != nil {
		t.Fatal(err)
	}
	strangerToken, _, _ := stranger.CreateAccess(Session{UserID: "u1", SessionID: "s1"})
	if _, err := current.ParseAccess(strangerToken); err == nil {
		t.Fatal("expected unknown kid to fail")
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []Config{
		{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: hsKey},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519},
		{AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: hsKey},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: hsKey, Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
