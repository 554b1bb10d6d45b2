package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/credstore"
	"github.com/MrEthical07/twofa/internal/config"
	"github.com/MrEthical07/twofa/mail"
	"github.com/MrEthical07/twofa/password"
	"github.com/MrEthical07/twofa/tokenstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type dependencies struct {
	engine  *twofa.Engine
	closers []func()
}

// close releases resources in reverse order of acquisition.
func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func (d *dependencies) onClose(fn func()) {
	d.closers = append(d.closers, fn)
}

func wire(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *dependencies, err error) {
	deps := &dependencies{}
	defer func() {
		if err != nil {
			deps.close()
		}
	}()

	builder := twofa.New().
		WithConfig(cfg.Engine()).
		WithLogger(logger.With().Str("component", "engine").Logger())

	builder, err = wireStore(ctx, deps, builder, cfg, logger)
	if err != nil {
		return nil, err
	}

	creds, err := wireCredentials(ctx, deps, cfg, logger)
	if err != nil {
		return nil, err
	}
	builder = builder.WithCredentialStore(creds)

	transport, err := wireMail(cfg, logger)
	if err != nil {
		return nil, err
	}
	builder = builder.WithMailTransport(transport)

	if cfg.AuditEnabled {
		builder = builder.WithAuditSink(twofa.NewLogSink(logger.With().Str("component", "audit").Logger()))
	}

	engine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	deps.engine = engine
	deps.onClose(engine.Close)
	return deps, nil
}

func wireStore(ctx context.Context, deps *dependencies, builder *twofa.Builder, cfg *config.Config, logger zerolog.Logger) (*twofa.Builder, error) {
	switch cfg.Store {
	case "memory":
		store := tokenstore.NewMemory()
		janitorCtx, cancel := context.WithCancel(context.Background())
		done := store.StartJanitor(janitorCtx, time.Minute)
		deps.onClose(func() {
			cancel()
			<-done
		})
		return builder.WithStore(store), nil

	case "miniredis":
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		deps.onClose(mr.Close)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		deps.onClose(func() { _ = client.Close() })
		logger.Warn().Str("addr", mr.Addr()).Msg("using embedded miniredis; tokens are lost on restart")
		return builder.WithRedis(client, cfg.RedisPrefix), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		deps.onClose(func() { _ = client.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
		}
		return builder.WithRedis(client, cfg.RedisPrefix), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

type seedableStore interface {
	twofa.CredentialStore
	CreateUser(ctx context.Context, profile twofa.UserProfile, plaintext string) error
}

func wireCredentials(ctx context.Context, deps *dependencies, cfg *config.Config, logger zerolog.Logger) (twofa.CredentialStore, error) {
	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	var store seedableStore
	if cfg.DatabaseURL != "" {
		pool, err := credstore.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		deps.onClose(pool.Close)
		pg := credstore.NewPostgres(pool, hasher, credstore.DefaultLockoutPolicy())
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		store = pg
	} else {
		store = credstore.NewMemory(hasher)
		if cfg.SeedUser == "" {
			logger.Warn().Msg("in-memory credential store without TWOFA_SEED_USER; nobody can sign in")
		}
	}

	if cfg.SeedUser != "" {
		profile := twofa.UserProfile{
			ID:             uuid.NewString(),
			UserName:       cfg.SeedUser,
			Email:          cfg.SeedEmail,
			EmailConfirmed: cfg.SeedEmail != "",
			Role:           "member",
		}
		err := store.CreateUser(ctx, profile, cfg.SeedPassword)
		switch {
		case err == nil:
			logger.Info().Str("user_name", profile.UserName).Msg("seed user created")
		case errors.Is(err, credstore.ErrDuplicateUser):
			logger.Debug().Str("user_name", profile.UserName).Msg("seed user already present")
		default:
			return nil, fmt.Errorf("seed user: %w", err)
		}
	}
	return store, nil
}

func wireMail(cfg *config.Config, logger zerolog.Logger) (twofa.MailTransport, error) {
	mailLogger := logger.With().Str("component", "mail").Logger()
	switch cfg.MailTransport {
	case "smtp":
		return mail.NewSMTP(mail.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			From:        cfg.MailFrom,
			FromName:    cfg.MailFromName,
			ImplicitTLS: cfg.SMTPImplicitTLS,
		}, mailLogger)
	case "sendgrid":
		return mail.NewSendGrid(mail.SendGridConfig{
			APIKey:   cfg.SendGridAPIKey,
			From:     cfg.MailFrom,
			FromName: cfg.MailFromName,
		}, mailLogger)
	default:
		return mail.NewLog(mailLogger, cfg.LogMailBodies), nil
	}
}
