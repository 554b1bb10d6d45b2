package credstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/password"
)

var ErrDuplicateUser = errors.New("user name or email already registered")

var (
	_ twofa.CredentialStore = (*Memory)(nil)
	_ twofa.CredentialStore = (*Postgres)(nil)
)

type memoryAccount struct {
	profile      twofa.UserProfile
	passwordHash string
	failures     int
	lockedUntil  time.Time
}

// Memory keeps accounts in process memory.
type Memory struct {
	mu      sync.RWMutex
	hasher  *password.Argon2
	lockout LockoutPolicy
	now     func() time.Time

	accounts map[string]*memoryAccount
	byName   map[string]string
	byEmail  map[string]string
}

type MemoryOption func(*Memory)

func WithLockoutPolicy(p LockoutPolicy) MemoryOption {
	return func(m *Memory) { m.lockout = p }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(hasher *password.Argon2, opts ...MemoryOption) *Memory {
	m := &Memory{
		hasher:   hasher,
		lockout:  DefaultLockoutPolicy(),
		now:      time.Now,
		accounts: make(map[string]*memoryAccount),
		byName:   make(map[string]string),
		byEmail:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func lookupKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CreateUser registers profile with the given plaintext password.
func (m *Memory) CreateUser(_ context.Context, profile twofa.UserProfile, plaintext string) error {
	if strings.TrimSpace(profile.ID) == "" || strings.TrimSpace(profile.UserName) == "" {
		return errors.New("user id and user name are required")
	}
	hash, err := m.hasher.Hash(plaintext)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[profile.ID]; ok {
		return ErrDuplicateUser
	}
	if _, ok := m.byName[lookupKey(profile.UserName)]; ok {
		return ErrDuplicateUser
	}
	if profile.Email != "" {
		if _, ok := m.byEmail[lookupKey(profile.Email)]; ok {
			return ErrDuplicateUser
		}
		m.byEmail[lookupKey(profile.Email)] = profile.ID
	}
	m.byName[lookupKey(profile.UserName)] = profile.ID
	m.accounts[profile.ID] = &memoryAccount{profile: profile, passwordHash: hash}
	return nil
}

func (m *Memory) FindUserByNameOrEmail(_ context.Context, identifier string) (twofa.UserProfile, error) {
	key := lookupKey(identifier)
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[key]
	if !ok {
		id, ok = m.byEmail[key]
	}
	if !ok {
		return twofa.UserProfile{}, twofa.ErrUserNotFound
	}
	return m.accounts[id].profile, nil
}

func (m *Memory) FindUserByID(_ context.Context, userID string) (twofa.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return twofa.UserProfile{}, twofa.ErrUserNotFound
	}
	return acct.profile, nil
}

func (m *Memory) CheckPassword(_ context.Context, userID, plaintext string) (bool, error) {
	m.mu.RLock()
	acct, ok := m.accounts[userID]
	var hash string
	if ok {
		hash = acct.passwordHash
	}
	m.mu.RUnlock()

	if !ok {
		m.hasher.VerifyMissing(plaintext)
		return false, twofa.ErrUserNotFound
	}
	match, err := m.hasher.Verify(plaintext, hash)
	if errors.Is(err, password.ErrPasswordLength) {
		return false, nil
	}
	return match, err
}

// PersistUser replaces the stored profile. The email index follows address
// changes.
func (m *Memory) PersistUser(_ context.Context, user twofa.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[user.ID]
	if !ok {
		return twofa.ErrUserNotFound
	}
	oldEmail := lookupKey(acct.profile.Email)
	newEmail := lookupKey(user.Email)
	if oldEmail != newEmail {
		if owner, taken := m.byEmail[newEmail]; taken && owner != user.ID && newEmail != "" {
			return ErrDuplicateUser
		}
		delete(m.byEmail, oldEmail)
		if newEmail != "" {
			m.byEmail[newEmail] = user.ID
		}
	}
	acct.profile = user
	return nil
}

func (m *Memory) LockoutStatus(_ context.Context, userID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return time.Time{}, twofa.ErrUserNotFound
	}
	if !acct.lockedUntil.After(m.now()) {
		return time.Time{}, nil
	}
	return acct.lockedUntil, nil
}

func (m *Memory) RecordPasswordFailure(_ context.Context, userID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return time.Time{}, twofa.ErrUserNotFound
	}
	acct.failures, acct.lockedUntil = m.lockout.next(acct.failures, m.now())
	return acct.lockedUntil, nil
}

func (m *Memory) ResetPasswordFailures(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return twofa.ErrUserNotFound
	}
	acct.failures = 0
	acct.lockedUntil = time.Time{}
	return nil
}

func (m *Memory) RecordLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return twofa.ErrUserNotFound
	}
	acct.profile.LastLoginAt = at
	return nil
}
