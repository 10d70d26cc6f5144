package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// APIKeyHeader is the request header carrying the raw API key.
const APIKeyHeader = "api_key"

// authenticate resolves the API key by the HMAC-SHA256 of the provided value
// and stores it in the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(APIKeyHeader)
		if raw == "" {
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing api key")
			return
		}

		hexHash := auth.HashKey(h.cfg.APIKeyPepper, raw)
		info, err := h.apikeys.FindByHash(r.Context(), hexHash)
		if err != nil {
			if !errors.Is(err, auth.ErrKeyNotFound) {
				zctx.From(r.Context()).Error("Find api key", zap.Error(err))
			}
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
			return
		}

		// The repository matched on the hash; compare again in constant time
		// in case it returned a different row.
		want, err := hex.DecodeString(info.KeyHash)
		got, _ := hex.DecodeString(hexHash)
		if err != nil || subtle.ConstantTimeCompare(got, want) != 1 {
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithKey(r.Context(), info)))
	})
}

func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := auth.KeyFrom(r.Context())
			if !ok || !key.HasScope(scope) {
				httpmiddleware.WriteError(w, http.StatusForbidden, "forbidden", "api key lacks the "+scope+" scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// apiKeyID keys the coupon rate limiter.
func apiKeyID(r *http.Request) string {
	if key, ok := auth.KeyFrom(r.Context()); ok {
		return key.ID
	}
	return ""
}
