package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window. Zero disables
	// limiting.
	Max    int
	Window time.Duration
	// KeyFunc extracts the client key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Skip exempts requests from limiting. Gateway notifications are
	// exempted so provider retries are never rejected.
	Skip func(*http.Request) bool
	// Now overrides the clock in tests.
	Now func() time.Time
}

// SkipPrefix exempts requests whose path starts with any prefix.
func SkipPrefix(prefixes ...string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(r.URL.Path, p) {
				return true
			}
		}
		return false
	}
}

// window holds request counts of the current and previous fixed windows.
type window struct {
	prev      float64
	curr      float64
	currStart time.Time
}

type rateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	windows map[string]*window
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &rateLimiter{cfg: cfg, windows: make(map[string]*window)}
}

// allow counts a request for key. The previous window is weighted by how
// much of it still overlaps the sliding window ending at now.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	size := rl.cfg.Window
	start := now.Truncate(size)
	w, found := rl.windows[key]
	switch {
	case !found:
		w = &window{currStart: start}
		rl.windows[key] = w
	case start.Sub(w.currStart) >= 2*size:
		w.prev, w.curr, w.currStart = 0, 0, start
	case start.After(w.currStart):
		w.prev, w.curr, w.currStart = w.curr, 0, start
	}

	overlap := 1 - float64(now.Sub(w.currStart))/float64(size)
	effective := w.prev*max(overlap, 0) + w.curr
	resetAt = w.currStart.Add(size)
	if effective >= float64(rl.cfg.Max) {
		return 0, resetAt, false
	}
	w.curr++
	return max(int(float64(rl.cfg.Max)-effective-1), 0), resetAt, true
}

// cleanup drops clients idle for two windows.
func (rl *rateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, w := range rl.windows {
		if now.Sub(w.currStart) >= 2*rl.cfg.Window {
			delete(rl.windows, key)
		}
	}
}

func (rl *rateLimiter) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(2 * rl.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup(rl.cfg.Now())
		}
	}
}

// RateLimit enforces a per-client sliding window limit and answers 429
// with Retry-After once it is exceeded.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a goroutine evicting idle
// clients until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go rl.runCleanup(ctx)
	return rl.middleware
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	if rl.cfg.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cfg.Skip != nil && rl.cfg.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		now := rl.cfg.Now()
		remaining, resetAt, ok := rl.allow(rl.cfg.KeyFunc(r), now)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if !ok {
			retry := max(resetAt.Sub(now), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
