package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SecretBytes is the size of generated secrets (160 bits).
const SecretBytes = 20

var (
	ErrEmptySecret          = errors.New("empty totp secret")
	ErrInvalidSecret        = errors.New("invalid totp secret encoding")
	ErrUnsupportedAlgorithm = errors.New("unsupported totp algorithm")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config holds the parameters shared by the authenticator app and the server.
type Config struct {
	Issuer    string
	Period    int
	Digits    int
	Skew      int
	Algorithm string
}

// DefaultConfig returns the parameters every mainstream authenticator app
// understands: SHA1, 6 digits, 30 second steps, three steps of skew.
func DefaultConfig() Config {
	return Config{
		Issuer:    "twofa",
		Period:    30,
		Digits:    6,
		Skew:      3,
		Algorithm: "SHA1",
	}
}

// Engine computes and verifies time-based codes.
type Engine struct {
	config Config
}

// New creates an engine. Zero-value fields in cfg fall back to [DefaultConfig].
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.Digits <= 0 {
		cfg.Digits = def.Digits
	}
	if cfg.Skew < 0 {
		cfg.Skew = 0
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = def.Algorithm
	}
	if cfg.Issuer == "" {
		cfg.Issuer = def.Issuer
	}
	return &Engine{config: cfg}
}

func (e *Engine) Config() Config {
	return e.config
}

// GenerateSecret returns a fresh random secret in unpadded Base32.
func (e *Engine) GenerateSecret() (string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

// NormalizeSecret upper-cases a Base32 secret and strips separators and padding
// so that secrets typed by hand decode the same as generated ones.
func NormalizeSecret(secret string) string {
	var b strings.Builder
	b.Grow(len(secret))
	for _, r := range secret {
		switch {
		case r == ' ' || r == '-' || r == '=' || r == '\t':
			continue
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DecodeSecret decodes a Base32 secret after normalization.
func DecodeSecret(secret string) ([]byte, error) {
	normalized := NormalizeSecret(secret)
	if normalized == "" {
		return nil, ErrEmptySecret
	}
	raw, err := secretEncoding.DecodeString(normalized)
	if err != nil {
		return nil, ErrInvalidSecret
	}
	if len(raw) == 0 {
		return nil, ErrEmptySecret
	}
	return raw, nil
}

// Step returns the time step containing t.
func (e *Engine) Step(t time.Time) int64 {
	return t.Unix() / int64(e.config.Period)
}

// Compute returns the code for a Base32 secret at the given time step.
func (e *Engine) Compute(secret string, step int64) (string, error) {
	raw, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(raw, step, e.config.Digits, e.config.Algorithm)
}

// Verify checks code against the configured window around now.
//
// Steps are tried nearest first so that when two steps would match the one
// closest to now is reported. Any decode or compute failure yields false.
func (e *Engine) Verify(secret, code string, now time.Time) (bool, int64) {
	return e.VerifyWindow(secret, code, now, e.config.Skew)
}

// VerifyWindow is [Engine.Verify] with an explicit window in steps.
func (e *Engine) VerifyWindow(secret, code string, now time.Time, window int) (bool, int64) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != e.config.Digits || !isNumeric(trimmed) {
		return false, 0
	}
	raw, err := DecodeSecret(secret)
	if err != nil {
		return false, 0
	}
	if window < 0 {
		window = 0
	}

	current := e.Step(now)
	for _, offset := range nearestFirst(window) {
		step := current + int64(offset)
		if step < 0 {
			continue
		}
		generated, err := hotpCode(raw, step, e.config.Digits, e.config.Algorithm)
		if err != nil {
			return false, 0
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, step
		}
	}
	return false, 0
}

// ProvisioningURI builds the otpauth:// URI encoded in setup QR codes.
func (e *Engine) ProvisioningURI(secret, account string) string {
	issuer := e.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", NormalizeSecret(secret))
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(e.config.Period))
	v.Set("digits", strconv.Itoa(e.config.Digits))
	v.Set("algorithm", strings.ToUpper(e.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// FormatManualKey groups a secret in blocks of four for display next to the
// QR code.
func FormatManualKey(secret string) string {
	normalized := strings.ToLower(NormalizeSecret(secret))
	var b strings.Builder
	for i := 0; i < len(normalized); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(normalized) {
			end = len(normalized)
		}
		b.WriteString(normalized[i:end])
	}
	return b.String()
}

func nearestFirst(window int) []int {
	offsets := make([]int, 0, 2*window+1)
	offsets = append(offsets, 0)
	for i := 1; i <= window; i++ {
		offsets = append(offsets, -i, i)
	}
	return offsets
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
