// Command twofa-loadtest measures sign-in throughput against a Redis-backed
// engine. It seeds users for each sign-in method and then runs one phase per
// method: password only, authenticator code and emailed code.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/credstore"
	"github.com/MrEthical07/twofa/password"
	"github.com/MrEthical07/twofa/totp"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const userPassword = "load-test-password"

func main() {
	var (
		users       = flag.Int("users", 2000, "users to seed per sign-in method")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "twofa-load:", "token key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "users and concurrency must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	// The cheapest parameters Argon2 accepts keep the password check from
	// dominating the numbers.
	hasher, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
	if err != nil {
		fmt.Fprintf(os.Stderr, "hasher: %v\n", err)
		os.Exit(1)
	}
	creds := credstore.NewMemory(hasher)
	box := newInbox()

	cfg := twofa.DefaultConfig()
	cfg.Session.PrivateKey = []byte("load-test-signing-key-0123456789abcdef")
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := twofa.New().
		WithConfig(cfg).
		WithRedis(client, *prefix).
		WithCredentialStore(creds).
		WithMailTransport(box).
		WithLogger(zerolog.Nop()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := run(ctx, engine, creds, box, *users, *concurrency); err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, engine *twofa.Engine, creds *credstore.Memory, box *inbox, users, concurrency int) error {
	generator := totp.New(totp.DefaultConfig())

	fmt.Printf("seeding %d users per method...\n", users)
	startSeed := time.Now()
	plain, err := seed(ctx, creds, "plain", users, twofa.MethodNone, nil)
	if err != nil {
		return err
	}
	tokens, err := seed(ctx, creds, "totp", users, twofa.MethodTOTP, generator)
	if err != nil {
		return err
	}
	mailed, err := seed(ctx, creds, "email", users, twofa.MethodEmail, nil)
	if err != nil {
		return err
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	passwordStats := runPhase(plain, concurrency, func(u string) error {
		return loginPasswordOnly(ctx, engine, u)
	})
	totpStats := runPhase(tokens, concurrency, func(u string) error {
		return loginWithTOTP(ctx, engine, creds, generator, u)
	})
	emailStats := runPhase(mailed, concurrency, func(u string) error {
		return loginWithEmail(ctx, engine, box, u)
	})

	fmt.Println("---- results ----")
	printStats("password", passwordStats)
	printStats("totp", totpStats)
	printStats("email", emailStats)
	printSnapshot(engine.MetricsSnapshot())
	return nil
}

// seed creates n users named <kind>-<i> and returns their user names.
func seed(ctx context.Context, creds *credstore.Memory, kind string, n int, method twofa.TwoFactorMethod, generator *totp.Engine) ([]string, error) {
	names := make([]string, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s-%d", kind, i)
		profile := twofa.UserProfile{
			ID:               "id-" + name,
			UserName:         name,
			Email:            name + "@load.test",
			EmailConfirmed:   true,
			TwoFactorEnabled: method != twofa.MethodNone,
			TwoFactorMethod:  method,
		}
		if method == twofa.MethodTOTP {
			secret, err := generator.GenerateSecret()
			if err != nil {
				return nil, err
			}
			profile.TwoFactorSecretKey = secret
		}
		if err := creds.CreateUser(ctx, profile, userPassword); err != nil {
			return nil, err
		}
		names[i] = name
	}
	return names, nil
}

func loginPasswordOnly(ctx context.Context, engine *twofa.Engine, user string) error {
	result, err := engine.Login(ctx, twofa.LoginRequest{Identifier: user, Password: userPassword})
	if err != nil {
		return err
	}
	if result.State != twofa.LoginAuthenticated {
		return fmt.Errorf("unexpected state %s", result.State)
	}
	return nil
}

func loginWithTOTP(ctx context.Context, engine *twofa.Engine, creds *credstore.Memory, generator *totp.Engine, user string) error {
	result, err := engine.Login(ctx, twofa.LoginRequest{Identifier: user, Password: userPassword})
	if err != nil {
		return err
	}
	if result.State != twofa.LoginTwoFactorRequired {
		return fmt.Errorf("unexpected state %s", result.State)
	}
	profile, err := creds.FindUserByID(ctx, result.UserID)
	if err != nil {
		return err
	}
	code, err := generator.Compute(profile.TwoFactorSecretKey, generator.Step(time.Now()))
	if err != nil {
		return err
	}
	_, err = engine.VerifyLoginTOTP(ctx, result.UserID, result.ChallengeID, code)
	return err
}

func loginWithEmail(ctx context.Context, engine *twofa.Engine, box *inbox, user string) error {
	result, err := engine.Login(ctx, twofa.LoginRequest{Identifier: user, Password: userPassword})
	if err != nil {
		return err
	}
	if result.State != twofa.LoginTwoFactorRequired {
		return fmt.Errorf("unexpected state %s", result.State)
	}
	code, ok := box.code(user + "@load.test")
	if !ok {
		return fmt.Errorf("no code mailed to %s", user)
	}
	_, err = engine.VerifyEmailOTP(ctx, result.UserID, result.ChallengeID, code)
	return err
}

var mailedCode = regexp.MustCompile(`>(\d{6})<`)

// inbox keeps the last code mailed to each address.
type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func newInbox() *inbox {
	return &inbox{codes: make(map[string]string)}
}

func (b *inbox) Send(_ context.Context, to, _, body string) twofa.MailStatus {
	match := mailedCode.FindStringSubmatch(body)
	if match == nil {
		return twofa.MailSendError
	}
	b.mu.Lock()
	b.codes[to] = match[1]
	b.mu.Unlock()
	return twofa.MailSuccess
}

func (b *inbox) code(to string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	code, ok := b.codes[to]
	return code, ok
}

// runPhase signs in every user once. Authenticator codes are single use
// per step, so users are never repeated within a phase.
func runPhase(users []string, concurrency int, op func(user string) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(users))
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(users) {
					return
				}
				t0 := time.Now()
				err := op(users[i])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func printSnapshot(s twofa.MetricsSnapshot) {
	fmt.Printf("engine: login_success=%d two_factor_required=%d two_factor_success=%d two_factor_failure=%d replay_rejected=%d\n",
		s.Counters[twofa.MetricLoginSuccess],
		s.Counters[twofa.MetricTwoFactorRequired],
		s.Counters[twofa.MetricTwoFactorSuccess],
		s.Counters[twofa.MetricTwoFactorFailure],
		s.Counters[twofa.MetricTOTPReplayRejected],
	)
}
