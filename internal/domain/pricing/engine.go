package pricing

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// ErrEmptyCart is returned when an order has no line items.
var ErrEmptyCart = errors.New("order has no items")

// InvalidQuantityError is returned when a line quantity is not positive.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s", e.Quantity, e.ProductID)
}

// ProductPriceMissingError is returned when a line has no usable unit price.
type ProductPriceMissingError struct {
	ProductID string
}

func (e *ProductPriceMissingError) Error() string {
	return fmt.Sprintf("product %s has no price", e.ProductID)
}

// CouponError wraps a coupon rejection with the code the caller supplied.
// Unwrap exposes the coupon sentinel (coupon.ErrExpired and friends).
type CouponError struct {
	Code string
	Err  error
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %s: %s", e.Code, e.Err)
}

func (e *CouponError) Unwrap() error { return e.Err }

// Line is a priced order or cart line. UnitPrice is the snapshot taken when
// the line was added, never a live catalog lookup.
type Line struct {
	ProductID string
	SizeID    string
	Quantity  int
	UnitPrice decimal.Decimal
}

// CouponValidator is the read-only part of the coupon ledger the engine needs.
type CouponValidator interface {
	ValidateForRedemption(ctx context.Context, code, userID string, subtotal decimal.Decimal) (*coupon.Coupon, error)
}

// Quote is the priced result for an order.
type Quote struct {
	TotalPrice      decimal.Decimal
	DiscountApplied decimal.Decimal
	// Coupon is nil when no coupon code was supplied.
	Coupon    *coupon.Coupon
	Breakdown Breakdown
}

// CouponID returns the applied coupon id, or "" without a coupon.
func (q *Quote) CouponID() string {
	if q.Coupon == nil {
		return ""
	}
	return q.Coupon.ID
}

// Engine prices orders by combining line items, the coupon ledger and the
// pricing policy.
type Engine struct {
	policy  Policy
	coupons CouponValidator
}

// NewEngine creates an Engine.
func NewEngine(policy Policy, coupons CouponValidator) *Engine {
	return &Engine{policy: policy, coupons: coupons}
}

// Policy returns the engine's pricing policy.
func (e *Engine) Policy() Policy { return e.policy }

// Subtotal sums UnitPrice * Quantity over lines, validating each line.
func Subtotal(lines []Line) (decimal.Decimal, error) {
	if len(lines) == 0 {
		return decimal.Zero, ErrEmptyCart
	}
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity < 1 {
			return decimal.Zero, &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
		}
		if l.UnitPrice.IsNegative() {
			return decimal.Zero, &ProductPriceMissingError{ProductID: l.ProductID}
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return subtotal, nil
}

// PriceOrder computes the chargeable total for lines. When couponCode is
// non-empty the coupon must validate for userID; a rejected coupon is
// returned as *CouponError and never silently dropped. Ledger failures are
// returned as plain errors. Callers that want to
// proceed without the coupon call PriceOrder again with an empty code.
func (e *Engine) PriceOrder(ctx context.Context, lines []Line, couponCode, userID string) (*Quote, error) {
	subtotal, err := Subtotal(lines)
	if err != nil {
		return nil, err
	}

	var c *coupon.Coupon
	if code := coupon.NormalizeCode(couponCode); code != "" {
		c, err = e.coupons.ValidateForRedemption(ctx, code, userID, subtotal)
		switch {
		case coupon.Rejected(err):
			return nil, &CouponError{Code: code, Err: err}
		case err != nil:
			return nil, errors.Wrap(err, "validate coupon")
		}
	}

	b := e.policy.Compute(subtotal, c)
	return &Quote{
		TotalPrice:      b.FinalTotal,
		DiscountApplied: b.Discount(),
		Coupon:          c,
		Breakdown:       b,
	}, nil
}
