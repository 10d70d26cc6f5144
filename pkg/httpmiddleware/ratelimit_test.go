package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type hitOpt func(*http.Request)

func from(addr string) hitOpt { return func(r *http.Request) { r.RemoteAddr = addr } }

func header(k, v string) hitOpt { return func(r *http.Request) { r.Header.Set(k, v) } }

func hit(h http.Handler, opts ...hitOpt) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, o := range opts {
		o(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_Burst(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	for i, want := range []string{"2", "1", "0"} {
		w := hit(h, from("192.168.1.1:1234"))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
	}

	w := hit(h, from("192.168.1.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	// One token refills every 20s.
	assert.Equal(t, "20", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"reason":"rate_limited","message":"rate limit exceeded"}`, w.Body.String())
}

func TestRateLimit_Keys(t *testing.T) {
	tests := []struct {
		name  string
		cfg   RateLimitConfig
		first []hitOpt
		same  []hitOpt
		other []hitOpt
	}{
		{
			name:  "RemoteAddr",
			first: []hitOpt{from("10.0.0.1:1234")},
			same:  []hitOpt{from("10.0.0.1:5678")},
			other: []hitOpt{from("10.0.0.2:1234")},
		},
		{
			name:  "XForwardedFor",
			first: []hitOpt{from("192.168.1.1:1"), header("X-Forwarded-For", "203.0.113.50, 70.41.3.18")},
			same:  []hitOpt{from("192.168.1.2:2"), header("X-Forwarded-For", "203.0.113.50")},
			other: []hitOpt{from("192.168.1.1:1"), header("X-Forwarded-For", "203.0.113.51")},
		},
		{
			name:  "XRealIP",
			first: []hitOpt{header("X-Real-IP", "198.51.100.7")},
			same:  []hitOpt{header("X-Real-IP", "198.51.100.7")},
			other: []hitOpt{header("X-Real-IP", "198.51.100.8")},
		},
		{
			name:  "CustomKeyFunc",
			cfg:   RateLimitConfig{KeyFunc: func(r *http.Request) string { return r.Header.Get("api_key") }},
			first: []hitOpt{header("api_key", "key-a")},
			same:  []hitOpt{header("api_key", "key-a"), from("10.9.9.9:1")},
			other: []hitOpt{header("api_key", "key-b")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.Max, cfg.Window = 1, time.Minute
			h := RateLimit(cfg)(okHandler())

			assert.Equal(t, http.StatusOK, hit(h, tt.first...).Code)
			assert.Equal(t, http.StatusTooManyRequests, hit(h, tt.same...).Code)
			assert.Equal(t, http.StatusOK, hit(h, tt.other...).Code)
		})
	}
}

func TestRateLimit_EmptyKeySkipped(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: func(*http.Request) string { return "" },
	})(okHandler())

	for range 3 {
		w := hit(h)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(RateLimitConfig{})(okHandler())
	for range 5 {
		assert.Equal(t, http.StatusOK, hit(h, from("10.0.0.1:1")).Code)
	}
}

func TestLimiter_Refill(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	_, _, ok := l.take("k", now)
	require.True(t, ok)
	_, _, ok = l.take("k", now)
	require.True(t, ok)

	_, retry, ok := l.take("k", now)
	require.False(t, ok)
	assert.Equal(t, 30*time.Second, retry)

	// A rejected request does not consume the refill.
	remaining, _, ok := l.take("k", now.Add(30*time.Second))
	require.True(t, ok)
	assert.Equal(t, 0, remaining)
}

func TestLimiter_Evict(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	l.take("idle", now)
	l.take("busy", now.Add(50*time.Second))

	l.evict(now.Add(time.Minute))
	assert.NotContains(t, l.visitors, "idle")
	assert.Contains(t, l.visitors, "busy")
}
