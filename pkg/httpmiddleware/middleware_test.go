package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, calls)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	t.Run("Generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
		id, err := uuid.Parse(seen)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), id.Version())
	})
	t.Run("Reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, "abc-123", seen)
	})
	for name, bad := range map[string]string{
		"ControlChar": "bad\x01id",
		"TooLong":     strings.Repeat("a", 129),
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, bad)
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.NotEqual(t, bad, seen)
			assert.NotEmpty(t, seen)
		})
	}
}

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := chi.NewRouter()
	r.Get("/api/order/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := Wrap(r, RequestID(), InjectLogger(zap.New(core)), LogRequests())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/order/42", nil))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, "Request", entry.Message)
	assert.Equal(t, int64(http.StatusNotFound), fields["status"])
	assert.Equal(t, "/api/order/{id}", fields["route"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestRecovery(t *testing.T) {
	t.Run("Panic", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}), InjectLogger(zap.New(core)), Recovery())

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "close", w.Header().Get("Connection"))
		assert.JSONEq(t, `{"code":500,"reason":"internal","message":"internal server error"}`, w.Body.String())
		require.Equal(t, 1, logs.FilterMessage("Handler panic").Len())
		assert.Equal(t, false, logs.All()[0].ContextMap()["response_started"])
	})
	t.Run("ResponseStarted", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			panic("late")
		}), InjectLogger(zap.New(core)), Recovery())

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, 1, logs.FilterMessage("Handler panic").Len())
	})
	t.Run("AbortHandler", func(t *testing.T) {
		h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})
}

func TestInjectLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := InjectLogger(zap.New(core))(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("hello")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, 1, logs.FilterMessage("hello").Len())
}

func TestCORS(t *testing.T) {
	restricted := CORS(CORSConfig{AllowOrigins: []string{"https://Shop.example"}, MaxAge: 60})(okHandler())
	open := CORS(CORSConfig{})(okHandler())
	withCreds := CORS(CORSConfig{AllowCredentials: true, AllowHeaders: []string{"Content-Type", "api_key"}})(okHandler())

	preflight := func(origin string) *http.Request {
		req := httptest.NewRequest(http.MethodOptions, "/api/order", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type, api_key")
		return req
	}
	get := func(origin string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/order/1", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	tests := []struct {
		name        string
		h           http.Handler
		req         *http.Request
		wantCode    int
		wantOrigin  string
		wantHeaders map[string]string
		wantVary    []string
	}{
		{
			name:       "PreflightAllowed",
			h:          restricted,
			req:        preflight("https://shop.example"),
			wantCode:   http.StatusNoContent,
			wantOrigin: "https://Shop.example",
			wantHeaders: map[string]string{
				"Access-Control-Allow-Methods": "GET, POST, PATCH, OPTIONS",
				"Access-Control-Allow-Headers": "Content-Type, api_key",
				"Access-Control-Max-Age":       "60",
			},
			wantVary: []string{"Origin", "Access-Control-Request-Method", "Access-Control-Request-Headers"},
		},
		{
			name:     "PreflightDisallowed",
			h:        restricted,
			req:      preflight("https://evil.example"),
			wantCode: http.StatusNoContent,
			wantHeaders: map[string]string{
				"Access-Control-Allow-Methods": "",
			},
			wantVary: []string{"Origin", "Access-Control-Request-Method", "Access-Control-Request-Headers"},
		},
		{
			name:     "SimpleDisallowed",
			h:        restricted,
			req:      get("https://evil.example"),
			wantCode: http.StatusOK,
			wantVary: []string{"Origin"},
		},
		{
			name:       "SimpleWildcard",
			h:          open,
			req:        get("https://any.example"),
			wantCode:   http.StatusOK,
			wantOrigin: "*",
			wantHeaders: map[string]string{
				"Access-Control-Expose-Headers": "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After, Location",
			},
		},
		{
			name:       "CredentialsEchoOrigin",
			h:          withCreds,
			req:        get("https://any.example"),
			wantCode:   http.StatusOK,
			wantOrigin: "https://any.example",
			wantHeaders: map[string]string{
				"Access-Control-Allow-Credentials": "true",
			},
			wantVary: []string{"Origin"},
		},
		{
			name:     "NoOrigin",
			h:        restricted,
			req:      get(""),
			wantCode: http.StatusOK,
			wantVary: []string{"Origin"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.h.ServeHTTP(w, tt.req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			for k, v := range tt.wantHeaders {
				assert.Equal(t, v, w.Header().Get(k), k)
			}
			assert.Equal(t, tt.wantVary, w.Header().Values("Vary"))
		})
	}
}
