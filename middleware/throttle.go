package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 30 * time.Minute

// ThrottleConfig sizes the per-client token bucket.
type ThrottleConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
	// IdleTTL is how long an unused bucket is kept before Sweep drops it.
	IdleTTL time.Duration
	// Key picks the bucket for a request. Defaults to [ClientIP].
	Key func(*http.Request) string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttler hands out one rate.Limiter per client key.
type Throttler struct {
	cfg ThrottleConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewThrottler(cfg ThrottleConfig) *Throttler {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.Key == nil {
		cfg.Key = ClientIP
	}
	return &Throttler{cfg: cfg, now: time.Now, buckets: make(map[string]*bucket)}
}

// Allow reports whether key may proceed. When it may not, the returned
// duration is how long until a token is available.
func (t *Throttler) Allow(key string) (bool, time.Duration) {
	if t == nil || t.cfg.RequestsPerSecond <= 0 {
		return true, 0
	}
	now := t.now()

	t.mu.Lock()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(t.cfg.RequestsPerSecond), t.cfg.Burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now
	t.mu.Unlock()

	if b.limiter.AllowN(now, 1) {
		return true, 0
	}
	res := b.limiter.ReserveN(now, 1)
	wait := res.DelayFrom(now)
	res.CancelAt(now)
	return false, wait
}

// Sweep drops buckets idle for longer than IdleTTL and returns how many
// remain.
func (t *Throttler) Sweep() int {
	cutoff := t.now().Add(-t.cfg.IdleTTL)
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, b := range t.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(t.buckets, key)
		}
	}
	return len(t.buckets)
}

// StartSweeper runs Sweep every interval until the returned stop function
// is called.
func (t *Throttler) StartSweeper(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-ticker.C:
				t.Sweep()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// Throttle rejects requests over the limit with 429 and a Retry-After header.
func Throttle(t *Throttler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if t == nil {
				next.ServeHTTP(w, r)
				return
			}
			ok, wait := t.Allow(t.cfg.Key(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
