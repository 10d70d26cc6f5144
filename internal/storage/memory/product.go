package memory

import (
	"context"
	"sync"

	"github.com/xenking/storefront/internal/domain/product"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository in memory.
type ProductRepository struct {
	mu   sync.RWMutex
	byID map[string]product.Product
}

// NewProductRepository creates a ProductRepository holding products.
func NewProductRepository(products ...product.Product) *ProductRepository {
	r := &ProductRepository{byID: make(map[string]product.Product, len(products))}
	for _, p := range products {
		r.byID[p.ID] = p
	}
	return r
}

// Put stores or replaces p.
func (r *ProductRepository) Put(p product.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = p
}

// GetByIDs implements product.Repository.
func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := r.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
