package credstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set TWOFA_TEST_DATABASE_URL to run against a live database.
func postgresForTest(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("TWOFA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TWOFA_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Connect(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgres(pool, testHasher(t), LockoutPolicy{Enabled: true, MaxFailures: 2, Duration: time.Hour})
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestPostgresRoundTrip(t *testing.T) {
	store := postgresForTest(t)
	ctx := context.Background()

	id := uuid.NewString()
	name := "user-" + id[:8]
	err := store.CreateUser(ctx, twofa.UserProfile{
		ID:       id,
		UserName: name,
		Email:    name + "@example.com",
	}, "correct horse battery")
	require.NoError(t, err)

	err = store.CreateUser(ctx, twofa.UserProfile{ID: uuid.NewString(), UserName: name}, "correct horse battery")
	assert.ErrorIs(t, err, ErrDuplicateUser)

	got, err := store.FindUserByNameOrEmail(ctx, name+"@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	ok, err := store.CheckPassword(ctx, id, "correct horse battery")
	require.NoError(t, err)
	assert.True(t, ok)

	got.TwoFactorEnabled = true
	got.TwoFactorMethod = twofa.MethodTOTP
	got.TwoFactorSecretKey = "JBSWY3DPEHPK3PXP"
	require.NoError(t, store.PersistUser(ctx, got))

	reloaded, err := store.FindUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, twofa.MethodTOTP, reloaded.TwoFactorMethod)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", reloaded.TwoFactorSecretKey)

	until, err := store.RecordPasswordFailure(ctx, id)
	require.NoError(t, err)
	assert.True(t, until.IsZero())
	until, err = store.RecordPasswordFailure(ctx, id)
	require.NoError(t, err)
	assert.False(t, until.IsZero())

	status, err := store.LockoutStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, status.IsZero())

	require.NoError(t, store.ResetPasswordFailures(ctx, id))
	status, err = store.LockoutStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.IsZero())

	_, err = store.FindUserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, twofa.ErrUserNotFound)
}
