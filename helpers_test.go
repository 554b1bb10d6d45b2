package twofa

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/twofa/tokenstore"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 4, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeAccount struct {
	profile     UserProfile
	password    string
	failures    int
	lockedUntil time.Time
}

// fakeCredentials locks an account for lockFor after maxFailures wrong
// passwords in a row.
type fakeCredentials struct {
	mu          sync.Mutex
	clock       *testClock
	maxFailures int
	lockFor     time.Duration
	accounts    map[string]*fakeAccount
	findErr     error
	findDelay   time.Duration
	persistErr  error
	persisted   int
	pwChecks    int
}

func newFakeCredentials(clock *testClock) *fakeCredentials {
	return &fakeCredentials{
		clock:       clock,
		maxFailures: 3,
		lockFor:     15 * time.Minute,
		accounts:    make(map[string]*fakeAccount),
	}
}

func (f *fakeCredentials) add(profile UserProfile, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[profile.ID] = &fakeAccount{profile: profile, password: password}
}

func (f *fakeCredentials) user(id string) UserProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id].profile
}

func (f *fakeCredentials) FindUserByNameOrEmail(_ context.Context, identifier string) (UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return UserProfile{}, f.findErr
	}
	for _, acct := range f.accounts {
		if strings.EqualFold(acct.profile.UserName, identifier) || strings.EqualFold(acct.profile.Email, identifier) {
			return acct.profile, nil
		}
	}
	return UserProfile{}, ErrUserNotFound
}

func (f *fakeCredentials) FindUserByID(_ context.Context, userID string) (UserProfile, error) {
	if f.findDelay > 0 {
		time.Sleep(f.findDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return UserProfile{}, f.findErr
	}
	acct, ok := f.accounts[userID]
	if !ok {
		return UserProfile{}, ErrUserNotFound
	}
	return acct.profile, nil
}

func (f *fakeCredentials) CheckPassword(_ context.Context, userID, password string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pwChecks++
	acct, ok := f.accounts[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	return acct.password == password, nil
}

func (f *fakeCredentials) PersistUser(_ context.Context, user UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return f.persistErr
	}
	acct, ok := f.accounts[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	acct.profile = user
	f.persisted++
	return nil
}

func (f *fakeCredentials) LockoutStatus(_ context.Context, userID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[userID]
	if !ok {
		return time.Time{}, ErrUserNotFound
	}
	if acct.lockedUntil.After(f.clock.Now()) {
		return acct.lockedUntil, nil
	}
	return time.Time{}, nil
}

func (f *fakeCredentials) RecordPasswordFailure(_ context.Context, userID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[userID]
	if !ok {
		return time.Time{}, ErrUserNotFound
	}
	acct.failures++
	if f.maxFailures > 0 && acct.failures >= f.maxFailures {
		acct.failures = 0
		acct.lockedUntil = f.clock.Now().Add(f.lockFor)
		return acct.lockedUntil, nil
	}
	return time.Time{}, nil
}

func (f *fakeCredentials) ResetPasswordFailures(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct, ok := f.accounts[userID]; ok {
		acct.failures = 0
		acct.lockedUntil = time.Time{}
	}
	return nil
}

func (f *fakeCredentials) RecordLogin(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct, ok := f.accounts[userID]; ok {
		acct.profile.LastLoginAt = at
	}
	return nil
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

var mailedCode = regexp.MustCompile(`>(\d{6})<`)

// Code extracts the six digit code from the rendered message.
func (m sentMail) Code() string {
	match := mailedCode.FindStringSubmatch(m.Body)
	if match == nil {
		return ""
	}
	return match[1]
}

type captureMail struct {
	mu     sync.Mutex
	status MailStatus
	sent   []sentMail
}

func (c *captureMail) Send(_ context.Context, to, subject, body string) MailStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != MailSuccess {
		return c.status
	}
	c.sent = append(c.sent, sentMail{To: to, Subject: subject, Body: body})
	return MailSuccess
}

func (c *captureMail) fail(status MailStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

func (c *captureMail) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *captureMail) last(t *testing.T) sentMail {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("expected a mail to have been sent")
	}
	return c.sent[len(c.sent)-1]
}

// failingStore fails every operation with a backend error.
type failingStore struct{}

var errBackendDown = errors.New("backend down")

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}
func (failingStore) Delete(context.Context, string) error         { return errBackendDown }
func (failingStore) Take(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errBackendDown
}
func (failingStore) Update(context.Context, string, time.Duration, tokenstore.UpdateFunc) error {
	return errBackendDown
}

type testHarness struct {
	engine *Engine
	clock  *testClock
	creds  *fakeCredentials
	mail   *captureMail
	store  *tokenstore.Memory
	audit  *ChannelSink
}

const (
	aliceID       = "user-alice"
	alicePassword = "s3cret-password"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.PrivateKey = append([]byte(nil), testSigningKey...)
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newHarness(t testing.TB, mutate ...func(*Config)) *testHarness {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	clock := newTestClock()
	creds := newFakeCredentials(clock)
	creds.add(UserProfile{
		ID:             aliceID,
		UserName:       "alice",
		Email:          "alice@example.com",
		EmailConfirmed: true,
		Role:           "member",
	}, alicePassword)

	h := &testHarness{
		clock: clock,
		creds: creds,
		mail:  &captureMail{},
		store: tokenstore.NewMemory(tokenstore.WithClock(clock.Now)),
	}

	builder := New().
		WithConfig(cfg).
		WithStore(h.store).
		WithCredentialStore(creds).
		WithMailTransport(h.mail).
		WithClock(clock.Now)
	if cfg.Audit.Enabled {
		h.audit = NewChannelSink(256)
		builder = builder.WithAuditSink(h.audit)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// currentCode computes the authenticator code for secret at the harness time.
func (h *testHarness) currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := h.engine.totp.Compute(secret, h.engine.totp.Step(h.clock.Now()))
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	return code
}

// enrollTOTP turns authenticator sign-in on for alice and returns the secret.
func (h *testHarness) enrollTOTP(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	session, err := h.engine.VerifyPassword(ctx, aliceID, alicePassword)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	setup, err := h.engine.SetupTOTP(ctx, aliceID, session)
	if err != nil {
		t.Fatalf("SetupTOTP failed: %v", err)
	}
	secret := strings.ReplaceAll(setup.ManualEntryKey, " ", "")
	if err := h.engine.ConfirmTOTPSetup(ctx, aliceID, session, h.currentCode(t, secret)); err != nil {
		t.Fatalf("ConfirmTOTPSetup failed: %v", err)
	}
	// Move past the step consumed by the confirmation.
	h.clock.Advance(time.Duration(h.engine.config.TOTP.Period) * time.Second)
	return secret
}

// enableEmail switches alice to emailed sign-in codes.
func (h *testHarness) enableEmail(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	session, err := h.engine.VerifyPassword(ctx, aliceID, alicePassword)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if err := h.engine.EnableEmailTwoFactor(ctx, aliceID, session); err != nil {
		t.Fatalf("EnableEmailTwoFactor failed: %v", err)
	}
}

func (h *testHarness) drainAudit() []AuditEvent {
	h.engine.Close()
	var events []AuditEvent
	for {
		select {
		case ev := <-h.audit.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

// wrongCode returns a well-formed code that does not verify for secret at
// the harness time.
func (h *testHarness) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	for _, candidate := range []string{"000000", "111111", "222222", "333333", "444444"} {
		if ok, _ := h.engine.totp.Verify(secret, candidate, h.clock.Now()); !ok {
			return candidate
		}
	}
	t.Fatal("could not find a non-matching code")
	return ""
}
