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

	"golang.org/x/time/rate"
)

// RateLimitConfig configures a per-key token bucket: Max requests may burst
// at once and the bucket refills at Max per Window.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc extracts the bucket key from a request; the client IP is used
	// when nil. Requests with an empty key are not limited.
	KeyFunc func(*http.Request) string
}

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type limiter struct {
	cfg   RateLimitConfig
	every rate.Limit

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &limiter{
		cfg:      cfg,
		every:    rate.Every(cfg.Window / time.Duration(cfg.Max)),
		visitors: make(map[string]*visitor),
	}
}

// take spends one token from key's bucket. When the bucket is empty it
// returns how long until a token is available.
func (l *limiter) take(key string, now time.Time) (remaining int, retryAfter time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, found := l.visitors[key]
	if !found {
		v = &visitor{lim: rate.NewLimiter(l.every, l.cfg.Max)}
		l.visitors[key] = v
	}
	v.lastSeen = now

	if v.lim.AllowN(now, 1) {
		return int(v.lim.TokensAt(now)), 0, true
	}
	r := v.lim.ReserveN(now, 1)
	retryAfter = r.DelayFrom(now)
	r.CancelAt(now)
	return 0, retryAfter, false
}

// evict drops buckets idle for a full window; they are full again by then,
// so forgetting them changes nothing.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) >= l.cfg.Window {
			delete(l.visitors, key)
		}
	}
}

// RateLimit limits requests per key. Rejected requests get 429 with a
// Retry-After header; every limited response carries X-RateLimit-Limit and
// X-RateLimit-Remaining. A non-positive Max disables limiting.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a goroutine that evicts idle
// buckets once per window until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return RateLimit(cfg)
	}
	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.evict(now)
			}
		}
	}()
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.cfg.KeyFunc(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		remaining, retryAfter, ok := l.take(key, time.Now())
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			secs := max(int(math.Ceil(retryAfter.Seconds())), 1)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
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
