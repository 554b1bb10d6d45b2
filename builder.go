package twofa

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/twofa/internal/audit"
	"github.com/MrEthical07/twofa/internal/limiters"
	"github.com/MrEthical07/twofa/jwt"
	"github.com/MrEthical07/twofa/tokenstore"
	"github.com/MrEthical07/twofa/totp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultRedisPrefix = "2fa"

// Builder collects the collaborators of an Engine. A Builder can be built once.
type Builder struct {
	config Config

	store       tokenstore.Store
	redis       redis.UniversalClient
	redisPrefix string

	credentials CredentialStore
	mail        MailTransport
	auditSink   AuditSink
	logger      *zerolog.Logger
	clock       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the token store directly. It takes precedence over WithRedis.
func (b *Builder) WithStore(store tokenstore.Store) *Builder {
	b.store = store
	return b
}

// WithRedis backs the token store with Redis. Keys are prefixed with prefix,
// or "2fa" when prefix is empty.
func (b *Builder) WithRedis(client redis.UniversalClient, prefix string) *Builder {
	b.redis = client
	b.redisPrefix = prefix
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

func (b *Builder) WithMailTransport(transport MailTransport) *Builder {
	b.mail = transport
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = &logger
	return b
}

// WithClock replaces time.Now. Intended for tests; the same clock should be
// handed to a memory token store.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	if b.mail == nil {
		return nil, errors.New("mail transport required")
	}

	// -------- TOKEN STORE --------
	store := b.store
	if store == nil {
		if b.redis == nil {
			return nil, errors.New("token store or redis client required")
		}
		prefix := b.redisPrefix
		if strings.TrimSpace(prefix) == "" {
			prefix = defaultRedisPrefix
		}
		store = tokenstore.NewRedis(b.redis, prefix)
	}

	// -------- SESSION TOKENS --------
	jwtCfg := cfg.jwtConfig()
	jwtCfg.Now = b.clock
	jwtManager, err := jwt.NewManager(jwtCfg)
	if err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := zerolog.Nop()
	if b.logger != nil {
		logger = *b.logger
	}

	totpEngine := totp.New(totp.Config{
		Issuer:    cfg.TOTP.Issuer,
		Period:    cfg.TOTP.Period,
		Digits:    cfg.TOTP.Digits,
		Skew:      cfg.TOTP.Skew,
		Algorithm: strings.ToUpper(cfg.TOTP.Algorithm),
	})

	e := &Engine{
		config:      cfg,
		store:       store,
		credentials: b.credentials,
		mail:        b.mail,
		totp:        totpEngine,
		jwtManager:  jwtManager,
		metrics:     NewMetrics(cfg.Metrics),
		logger:      logger.With().Str("component", "twofa").Logger(),
		clock:       clock,

		totpProvider:    &TOTPProvider{engine: totpEngine, now: clock},
		emailProvider:   &EmailProvider{store: store},
		genericProvider: &GenericProvider{},

		setupAttempts: limiters.NewAttemptCounter(store, limiters.AttemptConfig{
			MaxAttempts: cfg.Setup.MaxAttempts,
			TTL:         cfg.Setup.AttemptTTL,
		}),
		totpLoginAttempts: limiters.NewAttemptCounter(store, limiters.AttemptConfig{
			MaxAttempts: cfg.Login.TOTPMaxAttempts,
			TTL:         cfg.Login.TOTPAttemptTTL,
		}),
		emailLoginAttempts: limiters.NewAttemptCounter(store, limiters.AttemptConfig{
			MaxAttempts: cfg.EmailOTP.MaxAttempts,
			TTL:         cfg.EmailOTP.AttemptTTL,
		}),
		verificationAttempts: limiters.NewAttemptCounter(store, limiters.AttemptConfig{
			MaxAttempts: cfg.Verification.MaxAttempts,
			TTL:         cfg.Verification.PasswordResetTTL,
		}),
		sendLimiter: limiters.NewSendLimiter(store, limiters.SendConfig{
			MaxAttempts: cfg.RateLimit.MaxAttempts,
			Window:      cfg.RateLimit.Window,
			Bypass:      cfg.Security.DevelopmentMode,
		}, clock),
	}

	if cfg.Audit.Enabled {
		e.audit = audit.NewDispatcher(audit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink)
	}

	b.built = true
	return e, nil
}
