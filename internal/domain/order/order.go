package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrStatusConflict is returned by compare-and-set updates when the order
	// changed concurrently.
	ErrStatusConflict = errors.New("order was modified concurrently")
)

// PaymentState tracks the payment side of an order independently of the
// fulfilment status.
type PaymentState string

const (
	PaymentNone PaymentState = "none"
	// PaymentAwaiting covers a capture in flight and a capture waiting for
	// the customer to finish a redirect.
	PaymentAwaiting PaymentState = "awaiting"
	// PaymentReconciling means the capture outcome is unknown. The order must
	// not be treated as paid until Reconcile settles it.
	PaymentReconciling PaymentState = "reconciling"
	PaymentPaid        PaymentState = "paid"
	PaymentFailed      PaymentState = "failed"
)

// Order represents a customer order with the pricing it was last charged at.
type Order struct {
	ID     string
	UserID string
	Status Status
	Items  []Item
	// CouponID is set once the coupon validated at pricing time.
	CouponID   string
	CouponCode string
	Subtotal   decimal.Decimal
	// DiscountApplied is the tiered plus coupon discount, kept for audit.
	DiscountApplied decimal.Decimal
	DeliveryFee     decimal.Decimal
	TotalPrice      decimal.Decimal
	TrackingCode    string
	PaymentState    PaymentState
	// PaymentAttempt counts checkout attempts; it is part of the payment
	// idempotency key.
	PaymentAttempt int
	PaymentRef     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Item represents a single line item in an order. UnitPrice is the price
// snapshot taken when the order was created.
type Item struct {
	ProductID string
	SizeID    string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Lines converts the items into pricing lines.
func (o *Order) Lines() []pricing.Line {
	lines := make([]pricing.Line, len(o.Items))
	for i, it := range o.Items {
		lines[i] = pricing.Line{
			ProductID: it.ProductID,
			SizeID:    it.SizeID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	return lines
}

// Pricing is the persisted result of a pricing run.
type Pricing struct {
	CouponID        string
	CouponCode      string
	Subtotal        decimal.Decimal
	DiscountApplied decimal.Decimal
	DeliveryFee     decimal.Decimal
	TotalPrice      decimal.Decimal
}

// PricingFromQuote extracts the persisted fields from a quote.
func PricingFromQuote(q *pricing.Quote) Pricing {
	p := Pricing{
		CouponID:        q.CouponID(),
		Subtotal:        q.Breakdown.Subtotal,
		DiscountApplied: q.DiscountApplied,
		DeliveryFee:     q.Breakdown.DeliveryFee,
		TotalPrice:      q.TotalPrice,
	}
	if q.Coupon != nil {
		p.CouponCode = q.Coupon.Code
	}
	return p
}

func (o *Order) applyPricing(p Pricing) {
	o.CouponID = p.CouponID
	o.CouponCode = p.CouponCode
	o.Subtotal = p.Subtotal
	o.DiscountApplied = p.DiscountApplied
	o.DeliveryFee = p.DeliveryFee
	o.TotalPrice = p.TotalPrice
}

// Repository defines persistence operations for orders. Every mutating
// method except Create is a conditional update and returns ErrStatusConflict
// when its precondition no longer holds.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	TrackingCodeExists(ctx context.Context, code string) (bool, error)
	// BeginPayment stores the recomputed pricing, bumps the payment attempt
	// and moves the payment state to awaiting, provided the order is still
	// pending with payment state from.
	BeginPayment(ctx context.Context, id string, from PaymentState, p Pricing) (attempt int, err error)
	// SetPayment moves the payment state from one value to another while the
	// order is pending. ref is kept when empty.
	SetPayment(ctx context.Context, id string, from, to PaymentState, ref string) error
	// MarkPaid moves a pending order to order_submitted with payment state
	// paid.
	MarkPaid(ctx context.Context, id, ref string) error
	// SetStatus moves the order from one status to another.
	SetStatus(ctx context.Context, id string, from, to Status) error
}

// Notifier is informed of order lifecycle events, e.g. to send receipts.
type Notifier interface {
	StatusChanged(ctx context.Context, o *Order, from Status)
}

type nopNotifier struct{}

func (nopNotifier) StatusChanged(context.Context, *Order, Status) {}
