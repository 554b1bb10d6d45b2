package twofa

import (
	"context"
	"testing"
	"time"
)

func BenchmarkLoginPasswordOnly(b *testing.B) {
	h := newHarness(b)
	ctx := context.Background()
	req := LoginRequest{Identifier: "alice", Password: alicePassword}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.engine.Login(ctx, req); err != nil {
			b.Fatalf("Login failed: %v", err)
		}
	}
}

func BenchmarkLoginEmailChallenge(b *testing.B) {
	h := newHarness(b, func(c *Config) { c.Security.DevelopmentMode = true })
	ctx := context.Background()
	user := h.creds.user(aliceID)
	user.TwoFactorEnabled = true
	user.TwoFactorMethod = MethodEmail
	if err := h.creds.PersistUser(ctx, user); err != nil {
		b.Fatalf("PersistUser failed: %v", err)
	}
	req := LoginRequest{Identifier: "alice", Password: alicePassword}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		result, err := h.engine.Login(ctx, req)
		if err != nil || result.State != LoginTwoFactorRequired {
			b.Fatalf("Login = %v, %v", result.State, err)
		}
	}
}

func BenchmarkTOTPValidate(b *testing.B) {
	h := newHarness(b)
	ctx := context.Background()
	secret, err := h.engine.totp.GenerateSecret()
	if err != nil {
		b.Fatalf("GenerateSecret failed: %v", err)
	}
	code, err := h.engine.totp.Compute(secret, h.engine.totp.Step(h.clock.Now()))
	if err != nil {
		b.Fatalf("Compute failed: %v", err)
	}
	user := UserProfile{ID: aliceID, TwoFactorSecretKey: secret}
	provider := h.engine.Provider(MethodTOTP)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if ok, _ := provider.Validate(ctx, user, code); !ok {
			b.Fatal("expected the code to validate")
		}
	}
}

func BenchmarkMetricsIncParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricTwoFactorSuccess)
			m.Observe(MetricCodeVerifyLatency, 3*time.Millisecond)
		}
	})
}
