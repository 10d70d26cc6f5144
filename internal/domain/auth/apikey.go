package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// Scopes granted to API keys.
const (
	// ScopeStore allows pricing, placing and paying for orders and
	// redeeming coupons.
	ScopeStore = "store"
	// ScopeAdmin allows coupon management and order status changes.
	ScopeAdmin = "admin"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope. Admin keys hold every
// scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope) || slices.Contains(k.Scopes, ScopeAdmin)
}

// HashKey returns the hex HMAC-SHA256 of a raw API key under pepper, the form
// keys are stored in.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type keyCtx struct{}

// WithKey returns a context carrying the authenticated key.
func WithKey(ctx context.Context, k *APIKeyInfo) context.Context {
	return context.WithValue(ctx, keyCtx{}, k)
}

// KeyFrom returns the authenticated key stored in ctx, if any.
func KeyFrom(ctx context.Context) (*APIKeyInfo, bool) {
	k, ok := ctx.Value(keyCtx{}).(*APIKeyInfo)
	return k, ok
}
