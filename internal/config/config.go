// Package config loads the server configuration from the environment and an
// optional .env file using godotenv and Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every variable name, e.g. TWOFA_HTTP_ADDR.
const EnvPrefix = "TWOFA"

// Config is the twofa-server configuration.
type Config struct {
	HTTPAddr   string `mapstructure:"HTTP_ADDR"`
	Env        string `mapstructure:"APP_ENV"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogFormat  string `mapstructure:"LOG_FORMAT"`
	TrustProxy bool   `mapstructure:"TRUST_PROXY"`

	// SigningKey is the HS256 key for access tokens; at least 32 bytes.
	SigningKey    string        `mapstructure:"SIGNING_KEY"`
	Issuer        string        `mapstructure:"ISSUER"`
	AccessTTL     time.Duration `mapstructure:"ACCESS_TTL"`
	RememberMeTTL time.Duration `mapstructure:"REMEMBER_ME_TTL"`

	TOTPIssuer            string        `mapstructure:"TOTP_ISSUER"`
	TOTPSkew              int           `mapstructure:"TOTP_SKEW"`
	RequireConfirmedEmail bool          `mapstructure:"REQUIRE_CONFIRMED_EMAIL"`
	SendLimit             int           `mapstructure:"SEND_LIMIT"`
	SendWindow            time.Duration `mapstructure:"SEND_WINDOW"`
	// DisableSendLimit turns off code send throttling. Development only.
	DisableSendLimit bool `mapstructure:"DISABLE_SEND_LIMIT"`

	// Store is "memory", "miniredis" or "redis".
	Store         string `mapstructure:"STORE"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	// DatabaseURL selects the Postgres credential store. Empty means the
	// in-memory store seeded with the dev user.
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32  `mapstructure:"DB_MAX_CONNS"`
	AutoMigrate  bool   `mapstructure:"AUTO_MIGRATE"`
	SeedUser     string `mapstructure:"SEED_USER"`
	SeedEmail    string `mapstructure:"SEED_EMAIL"`
	SeedPassword string `mapstructure:"SEED_PASSWORD"`

	// MailTransport is "log", "smtp" or "sendgrid".
	MailTransport   string `mapstructure:"MAIL_TRANSPORT"`
	MailFrom        string `mapstructure:"MAIL_FROM"`
	MailFromName    string `mapstructure:"MAIL_FROM_NAME"`
	SMTPHost        string `mapstructure:"SMTP_HOST"`
	SMTPPort        int    `mapstructure:"SMTP_PORT"`
	SMTPUsername    string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword    string `mapstructure:"SMTP_PASSWORD"`
	SMTPImplicitTLS bool   `mapstructure:"SMTP_IMPLICIT_TLS"`
	SendGridAPIKey  string `mapstructure:"SENDGRID_API_KEY"`
	LogMailBodies   bool   `mapstructure:"LOG_MAIL_BODIES"`

	ThrottleRPS   float64 `mapstructure:"THROTTLE_RPS"`
	ThrottleBurst int     `mapstructure:"THROTTLE_BURST"`

	AuditEnabled   bool   `mapstructure:"AUDIT_ENABLED"`
	MetricsEnabled bool   `mapstructure:"METRICS_ENABLED"`
	MetricsPath    string `mapstructure:"METRICS_PATH"`
}

var defaults = map[string]any{
	"HTTP_ADDR":               ":8080",
	"APP_ENV":                 "development",
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "json",
	"TRUST_PROXY":             false,
	"SIGNING_KEY":             "",
	"ISSUER":                  "twofa",
	"ACCESS_TTL":              "15m",
	"REMEMBER_ME_TTL":         "336h",
	"TOTP_ISSUER":             "twofa",
	"TOTP_SKEW":               3,
	"REQUIRE_CONFIRMED_EMAIL": false,
	"SEND_LIMIT":              5,
	"SEND_WINDOW":             "15m",
	"DISABLE_SEND_LIMIT":      false,
	"STORE":                   "memory",
	"REDIS_ADDR":              "",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"REDIS_PREFIX":            "twofa:",
	"DATABASE_URL":            "",
	"DB_MAX_CONNS":            10,
	"AUTO_MIGRATE":            false,
	"SEED_USER":               "",
	"SEED_EMAIL":              "",
	"SEED_PASSWORD":           "",
	"MAIL_TRANSPORT":          "log",
	"MAIL_FROM":               "",
	"MAIL_FROM_NAME":          "",
	"SMTP_HOST":               "",
	"SMTP_PORT":               587,
	"SMTP_USERNAME":           "",
	"SMTP_PASSWORD":           "",
	"SMTP_IMPLICIT_TLS":       false,
	"SENDGRID_API_KEY":        "",
	"LOG_MAIL_BODIES":         false,
	"THROTTLE_RPS":            5.0,
	"THROTTLE_BURST":          10,
	"AUDIT_ENABLED":           true,
	"METRICS_ENABLED":         true,
	"METRICS_PATH":            "/metrics",
}

// Load reads envFile (".env" when empty) into the process environment
// without overriding variables that are already set, then builds Config
// from TWOFA_* variables. A missing default .env is ignored; a missing
// explicitly named file is an error.
func Load(envFile string) (*Config, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.MailTransport = strings.ToLower(strings.TrimSpace(c.MailTransport))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Production reports whether APP_ENV is production.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if len(c.SigningKey) < 32 {
		return errors.New("config: SIGNING_KEY must be at least 32 bytes")
	}

	switch c.Store {
	case "memory", "miniredis":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR is required when STORE=redis")
		}
	default:
		return fmt.Errorf("config: unknown STORE %q", c.Store)
	}

	switch c.MailTransport {
	case "log":
	case "smtp":
		if c.SMTPHost == "" || c.MailFrom == "" {
			return errors.New("config: SMTP_HOST and MAIL_FROM are required when MAIL_TRANSPORT=smtp")
		}
	case "sendgrid":
		if c.SendGridAPIKey == "" || c.MailFrom == "" {
			return errors.New("config: SENDGRID_API_KEY and MAIL_FROM are required when MAIL_TRANSPORT=sendgrid")
		}
	default:
		return fmt.Errorf("config: unknown MAIL_TRANSPORT %q", c.MailTransport)
	}

	if c.Production() {
		if c.Store != "redis" {
			return errors.New("config: APP_ENV=production requires STORE=redis")
		}
		if c.DatabaseURL == "" {
			return errors.New("config: APP_ENV=production requires DATABASE_URL")
		}
		if c.DisableSendLimit {
			return errors.New("config: DISABLE_SEND_LIMIT is not allowed when APP_ENV=production")
		}
		if c.MailTransport == "log" || c.LogMailBodies {
			return errors.New("config: APP_ENV=production requires a real MAIL_TRANSPORT and LOG_MAIL_BODIES=false")
		}
	}
	return nil
}

// Engine maps the server settings onto a twofa.Config.
func (c *Config) Engine() twofa.Config {
	cfg := twofa.DefaultConfig()
	cfg.TOTP.Issuer = c.TOTPIssuer
	cfg.TOTP.Skew = c.TOTPSkew
	cfg.Login.RequireConfirmedEmail = c.RequireConfirmedEmail
	cfg.RateLimit.MaxAttempts = c.SendLimit
	cfg.RateLimit.Window = c.SendWindow
	cfg.Session.PrivateKey = []byte(c.SigningKey)
	cfg.Session.Issuer = c.Issuer
	cfg.Session.AccessTTL = c.AccessTTL
	cfg.Session.RememberMeTTL = c.RememberMeTTL
	cfg.Audit.Enabled = c.AuditEnabled
	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.MetricsEnabled
	cfg.Security.ProductionMode = c.Production()
	cfg.Security.DevelopmentMode = c.DisableSendLimit
	return cfg
}
