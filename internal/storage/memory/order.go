package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository in memory.
type OrderRepository struct {
	mu       sync.Mutex
	byID     map[string]*order.Order
	tracking map[string]struct{}
	now      func() time.Time
}

// NewOrderRepository creates an empty OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		byID:     make(map[string]*order.Order),
		tracking: make(map[string]struct{}),
		now:      time.Now,
	}
}

func clone(o *order.Order) *order.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	return &cp
}

// Create implements order.Repository.
func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[o.ID]; ok {
		return errors.Errorf("order %s already exists", o.ID)
	}
	now := r.now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	r.byID[o.ID] = clone(o)
	if o.TrackingCode != "" {
		r.tracking[o.TrackingCode] = struct{}{}
	}
	return nil
}

// Get implements order.Repository.
func (r *OrderRepository) Get(_ context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return clone(o), nil
}

// TrackingCodeExists implements order.Repository.
func (r *OrderRepository) TrackingCodeExists(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.tracking[code]
	return ok, nil
}

// update applies fn to order id under the lock when cond holds.
func (r *OrderRepository) update(id string, cond func(*order.Order) bool, fn func(*order.Order)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.byID[id]
	if !ok {
		return order.ErrNotFound
	}
	if !cond(o) {
		return order.ErrStatusConflict
	}
	fn(o)
	o.UpdatedAt = r.now().UTC()
	return nil
}

// BeginPayment implements order.Repository.
func (r *OrderRepository) BeginPayment(_ context.Context, id string, from order.PaymentState, p order.Pricing) (int, error) {
	var attempt int
	err := r.update(id,
		func(o *order.Order) bool {
			return o.Status == order.StatusPending && o.PaymentState == from
		},
		func(o *order.Order) {
			o.CouponID = p.CouponID
			o.CouponCode = p.CouponCode
			o.Subtotal = p.Subtotal
			o.DiscountApplied = p.DiscountApplied
			o.DeliveryFee = p.DeliveryFee
			o.TotalPrice = p.TotalPrice
			o.PaymentState = order.PaymentAwaiting
			o.PaymentAttempt++
			o.PaymentRef = ""
			attempt = o.PaymentAttempt
		},
	)
	return attempt, err
}

// SetPayment implements order.Repository.
func (r *OrderRepository) SetPayment(_ context.Context, id string, from, to order.PaymentState, ref string) error {
	return r.update(id,
		func(o *order.Order) bool {
			return o.Status == order.StatusPending && o.PaymentState == from
		},
		func(o *order.Order) {
			o.PaymentState = to
			if ref != "" {
				o.PaymentRef = ref
			}
		},
	)
}

// MarkPaid implements order.Repository.
func (r *OrderRepository) MarkPaid(_ context.Context, id, ref string) error {
	return r.update(id,
		func(o *order.Order) bool {
			return o.Status == order.StatusPending
		},
		func(o *order.Order) {
			o.Status = order.StatusSubmitted
			o.PaymentState = order.PaymentPaid
			if ref != "" {
				o.PaymentRef = ref
			}
		},
	)
}

// SetStatus implements order.Repository.
func (r *OrderRepository) SetStatus(_ context.Context, id string, from, to order.Status) error {
	return r.update(id,
		func(o *order.Order) bool { return o.Status == from },
		func(o *order.Order) { o.Status = to },
	)
}
