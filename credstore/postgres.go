package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/password"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the table the Postgres store reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS twofa_users (
	id                 TEXT PRIMARY KEY,
	user_name          TEXT NOT NULL,
	email              TEXT NOT NULL DEFAULT '',
	email_confirmed    BOOLEAN NOT NULL DEFAULT FALSE,
	role               TEXT NOT NULL DEFAULT '',
	password_hash      TEXT NOT NULL,
	two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	two_factor_method  SMALLINT NOT NULL DEFAULT 0,
	two_factor_secret  TEXT NOT NULL DEFAULT '',
	failed_attempts    INTEGER NOT NULL DEFAULT 0,
	lockout_end        TIMESTAMPTZ,
	last_login_at      TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS twofa_users_user_name_idx ON twofa_users (LOWER(user_name));
CREATE UNIQUE INDEX IF NOT EXISTS twofa_users_email_idx ON twofa_users (LOWER(email)) WHERE email <> '';
`

const profileColumns = `id, user_name, email, email_confirmed, role,
	two_factor_enabled, two_factor_method, two_factor_secret, last_login_at`

// Querier is the subset of pgx used by Postgres. *pgxpool.Pool, *pgx.Conn
// and pgx.Tx all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*pgxpool.Pool)(nil)

// Postgres stores accounts in PostgreSQL.
type Postgres struct {
	db      Querier
	hasher  *password.Argon2
	lockout LockoutPolicy
	now     func() time.Time
}

func NewPostgres(db Querier, hasher *password.Argon2, lockout LockoutPolicy) *Postgres {
	return &Postgres{db: db, hasher: hasher, lockout: lockout, now: time.Now}
}

// Connect opens a pool for dsn and checks it with a ping.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies Schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, Schema)
	return err
}

func (p *Postgres) CreateUser(ctx context.Context, profile twofa.UserProfile, plaintext string) error {
	hash, err := p.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO twofa_users (id, user_name, email, email_confirmed, role, password_hash,
			two_factor_enabled, two_factor_method, two_factor_secret)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = p.db.Exec(ctx, q,
		profile.ID,
		profile.UserName,
		profile.Email,
		profile.EmailConfirmed,
		profile.Role,
		hash,
		profile.TwoFactorEnabled,
		int16(profile.TwoFactorMethod),
		profile.TwoFactorSecretKey,
	)
	return mapWriteError(err)
}

func (p *Postgres) FindUserByNameOrEmail(ctx context.Context, identifier string) (twofa.UserProfile, error) {
	q := `SELECT ` + profileColumns + ` FROM twofa_users
		WHERE LOWER(user_name) = LOWER($1) OR (email <> '' AND LOWER(email) = LOWER($1))
		ORDER BY (LOWER(user_name) = LOWER($1)) DESC
		LIMIT 1`
	return p.scanProfile(p.db.QueryRow(ctx, q, strings.TrimSpace(identifier)))
}

func (p *Postgres) FindUserByID(ctx context.Context, userID string) (twofa.UserProfile, error) {
	q := `SELECT ` + profileColumns + ` FROM twofa_users WHERE id = $1`
	return p.scanProfile(p.db.QueryRow(ctx, q, userID))
}

func (p *Postgres) scanProfile(row pgx.Row) (twofa.UserProfile, error) {
	var (
		u         twofa.UserProfile
		method    int16
		lastLogin *time.Time
	)
	err := row.Scan(
		&u.ID,
		&u.UserName,
		&u.Email,
		&u.EmailConfirmed,
		&u.Role,
		&u.TwoFactorEnabled,
		&method,
		&u.TwoFactorSecretKey,
		&lastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return twofa.UserProfile{}, twofa.ErrUserNotFound
		}
		return twofa.UserProfile{}, err
	}
	u.TwoFactorMethod = twofa.TwoFactorMethod(method)
	if lastLogin != nil {
		u.LastLoginAt = *lastLogin
	}
	return u, nil
}

func (p *Postgres) CheckPassword(ctx context.Context, userID, plaintext string) (bool, error) {
	var hash string
	err := p.db.QueryRow(ctx, `SELECT password_hash FROM twofa_users WHERE id = $1`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			p.hasher.VerifyMissing(plaintext)
			return false, twofa.ErrUserNotFound
		}
		return false, err
	}
	ok, err := p.hasher.Verify(plaintext, hash)
	if errors.Is(err, password.ErrPasswordLength) {
		return false, nil
	}
	return ok, err
}

func (p *Postgres) PersistUser(ctx context.Context, user twofa.UserProfile) error {
	const q = `
		UPDATE twofa_users
		SET user_name = $2,
			email = $3,
			email_confirmed = $4,
			role = $5,
			two_factor_enabled = $6,
			two_factor_method = $7,
			two_factor_secret = $8,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := p.db.Exec(ctx, q,
		user.ID,
		user.UserName,
		user.Email,
		user.EmailConfirmed,
		user.Role,
		user.TwoFactorEnabled,
		int16(user.TwoFactorMethod),
		user.TwoFactorSecretKey,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return twofa.ErrUserNotFound
	}
	return nil
}

func (p *Postgres) LockoutStatus(ctx context.Context, userID string) (time.Time, error) {
	var until *time.Time
	err := p.db.QueryRow(ctx, `SELECT lockout_end FROM twofa_users WHERE id = $1`, userID).Scan(&until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, twofa.ErrUserNotFound
		}
		return time.Time{}, err
	}
	if until == nil || !until.After(p.now()) {
		return time.Time{}, nil
	}
	return *until, nil
}

// RecordPasswordFailure increments the failure count in one statement so
// concurrent failures cannot lose updates.
func (p *Postgres) RecordPasswordFailure(ctx context.Context, userID string) (time.Time, error) {
	now := p.now()
	max := p.lockout.MaxFailures
	if !p.lockout.Enabled || max <= 0 {
		max = 0
	}
	const q = `
		UPDATE twofa_users
		SET failed_attempts = CASE WHEN $2 > 0 AND failed_attempts + 1 >= $2 THEN 0 ELSE failed_attempts + 1 END,
			lockout_end = CASE WHEN $2 > 0 AND failed_attempts + 1 >= $2 THEN $3::timestamptz ELSE lockout_end END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING lockout_end`
	var until *time.Time
	err := p.db.QueryRow(ctx, q, userID, max, now.Add(p.lockout.Duration)).Scan(&until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, twofa.ErrUserNotFound
		}
		return time.Time{}, err
	}
	if until == nil || !until.After(now) {
		return time.Time{}, nil
	}
	return *until, nil
}

func (p *Postgres) ResetPasswordFailures(ctx context.Context, userID string) error {
	_, err := p.db.Exec(ctx,
		`UPDATE twofa_users SET failed_attempts = 0, lockout_end = NULL WHERE id = $1`, userID)
	return err
}

func (p *Postgres) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := p.db.Exec(ctx,
		`UPDATE twofa_users SET last_login_at = $2 WHERE id = $1`, userID, at)
	return err
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateUser
	}
	return err
}
