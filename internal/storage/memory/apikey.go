package memory

import (
	"context"
	"sync"

	"github.com/xenking/storefront/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository implements auth.Repository in memory.
type APIKeyRepository struct {
	mu     sync.RWMutex
	byHash map[string]auth.APIKeyInfo
}

// NewAPIKeyRepository creates an APIKeyRepository holding keys.
func NewAPIKeyRepository(keys ...auth.APIKeyInfo) *APIKeyRepository {
	r := &APIKeyRepository{byHash: make(map[string]auth.APIKeyInfo, len(keys))}
	for _, k := range keys {
		r.byHash[k.KeyHash] = k
	}
	return r
}

// FindByHash implements auth.Repository.
func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.byHash[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return &k, nil
}
