package memory

import (
	"context"
	"sync"

	"github.com/xenking/storefront/internal/domain/coupon"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository in memory.
type CouponRepository struct {
	mu     sync.Mutex
	byID   map[string]*coupon.Coupon
	byCode map[string]string
}

// NewCouponRepository creates an empty CouponRepository.
func NewCouponRepository() *CouponRepository {
	return &CouponRepository{
		byID:   make(map[string]*coupon.Coupon),
		byCode: make(map[string]string),
	}
}

// FindByCode implements coupon.Repository.
func (r *CouponRepository) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byCode[coupon.NormalizeCode(code)]
	if !ok || !r.byID[id].Active {
		return nil, coupon.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

// FindByID returns the coupon with the given id regardless of its active
// flag. Tests use it to inspect use counters.
func (r *CouponRepository) FindByID(_ context.Context, id string) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// InsertIfAbsent implements coupon.Repository.
func (r *CouponRepository) InsertIfAbsent(_ context.Context, c *coupon.Coupon) (*coupon.Coupon, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := coupon.NormalizeCode(c.Code)
	if id, ok := r.byCode[code]; ok {
		cp := *r.byID[id]
		return &cp, false, nil
	}
	stored := *c
	stored.Code = code
	r.byID[stored.ID] = &stored
	r.byCode[code] = stored.ID

	cp := stored
	return &cp, true, nil
}

// CodeExists implements coupon.Repository.
func (r *CouponRepository) CodeExists(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.byCode[coupon.NormalizeCode(code)]
	return ok, nil
}

// IncrementUses implements coupon.Repository.
func (r *CouponRepository) IncrementUses(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return 0, coupon.ErrNotFound
	}
	if c.Uses >= c.MaxUses {
		return c.Uses, coupon.ErrExhaustedUses
	}
	c.Uses++
	return c.Uses, nil
}

// DecrementUses implements coupon.Repository.
func (r *CouponRepository) DecrementUses(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return coupon.ErrNotFound
	}
	if c.Uses > 0 {
		c.Uses--
	}
	return nil
}

// SetActive implements coupon.Repository.
func (r *CouponRepository) SetActive(_ context.Context, code string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byCode[coupon.NormalizeCode(code)]
	if !ok {
		return coupon.ErrNotFound
	}
	r.byID[id].Active = active
	return nil
}
