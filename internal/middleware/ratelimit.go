package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/accountgraph/server/internal/apperr"
)

const limiterIdleTTL = 30 * time.Minute

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// RateLimiter keeps a token bucket per key
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	every   time.Duration
	burst   int
}

// NewRateLimiter allows one request per every, with bursts up to burst, for each key
func NewRateLimiter(every time.Duration, burst int) *RateLimiter {
	rl := &RateLimiter{
		entries: make(map[string]*limiterEntry),
		every:   every,
		burst:   burst,
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	e, ok := rl.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(rl.every), rl.burst)}
		rl.entries[key] = e
	}
	e.lastUse = time.Now()
	rl.mu.Unlock()

	return e.limiter.Allow()
}

// cleanup periodically drops limiters that have been idle for a while
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.prune(time.Now())
	}
}

func (rl *RateLimiter) prune(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, e := range rl.entries {
		if now.Sub(e.lastUse) > limiterIdleTTL {
			delete(rl.entries, key)
		}
	}
}

// RateLimitMiddleware creates a rate limiting middleware
func RateLimitMiddleware(limiter *RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r)) {
				respondWithError(w, apperr.RateLimit("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIPKey keys requests by client IP. chi's RealIP middleware has already resolved
// X-Forwarded-For into RemoteAddr.
func GetIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
