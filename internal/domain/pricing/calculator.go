// Package pricing computes order totals: tiered volume discounts, coupon
// discounts, delivery fees and the final chargeable amount.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// Tier grants Percent off the subtotal once it reaches Threshold.
type Tier struct {
	Threshold decimal.Decimal
	Percent   decimal.Decimal
}

// Policy holds the pricing parameters. The zero value is not usable; start
// from DefaultPolicy.
type Policy struct {
	// Tiers must be sorted by descending Threshold.
	Tiers                 []Tier
	DeliveryFee           decimal.Decimal
	FreeDeliveryThreshold decimal.Decimal
	// Places is the currency minor-unit precision every intermediate amount
	// is rounded to.
	Places int32
}

// DefaultPolicy returns the storefront pricing policy: 15/10/5% off from
// 3000/2500/2000, a delivery fee of 100 below 1000, whole-unit rounding.
func DefaultPolicy() Policy {
	return Policy{
		Tiers: []Tier{
			{Threshold: decimal.NewFromInt(3000), Percent: decimal.NewFromInt(15)},
			{Threshold: decimal.NewFromInt(2500), Percent: decimal.NewFromInt(10)},
			{Threshold: decimal.NewFromInt(2000), Percent: decimal.NewFromInt(5)},
		},
		DeliveryFee:           decimal.NewFromInt(100),
		FreeDeliveryThreshold: decimal.NewFromInt(1000),
		Places:                0,
	}
}

// Breakdown is the result of applying a Policy to a subtotal.
type Breakdown struct {
	Subtotal      decimal.Decimal
	TieredPercent decimal.Decimal
	TieredAmount  decimal.Decimal
	CouponAmount  decimal.Decimal
	DeliveryFee   decimal.Decimal
	FinalTotal    decimal.Decimal
}

// Discount is the total discount recorded on an order: tiered plus coupon.
func (b Breakdown) Discount() decimal.Decimal {
	return b.TieredAmount.Add(b.CouponAmount)
}

var hundred = decimal.NewFromInt(100)

// Compute applies the policy to subtotal and an optional coupon. Stages run
// in a fixed order:
//
//  1. tiered discount on the raw subtotal;
//  2. coupon discount on the total left after the tiered discount;
//  3. delivery fee, decided by the raw subtotal;
//  4. clamp at zero.
//
// Compute never fails: a zero subtotal or a discount larger than the
// subtotal resolves to a zero final total.
func (p Policy) Compute(subtotal decimal.Decimal, c *coupon.Coupon) Breakdown {
	subtotal = p.round(subtotal)
	b := Breakdown{
		Subtotal:      subtotal,
		TieredPercent: decimal.Zero,
		TieredAmount:  decimal.Zero,
		CouponAmount:  decimal.Zero,
		DeliveryFee:   decimal.Zero,
	}

	running := subtotal

	b.TieredPercent = p.tierPercent(subtotal)
	if b.TieredPercent.IsPositive() {
		b.TieredAmount = p.round(subtotal.Mul(b.TieredPercent).Div(hundred))
		running = running.Sub(b.TieredAmount)
	}

	if c != nil {
		b.CouponAmount = p.couponAmount(running, c)
		running = running.Sub(b.CouponAmount)
	}

	if subtotal.LessThan(p.FreeDeliveryThreshold) {
		b.DeliveryFee = p.round(p.DeliveryFee)
	}

	b.FinalTotal = decimal.Max(running.Add(b.DeliveryFee), decimal.Zero)
	return b
}

func (p Policy) tierPercent(subtotal decimal.Decimal) decimal.Decimal {
	for _, t := range p.Tiers {
		if subtotal.GreaterThanOrEqual(t.Threshold) {
			return t.Percent
		}
	}
	return decimal.Zero
}

func (p Policy) couponAmount(running decimal.Decimal, c *coupon.Coupon) decimal.Decimal {
	switch c.DiscountType {
	case coupon.DiscountPercentage:
		if !running.IsPositive() {
			return decimal.Zero
		}
		return p.round(running.Mul(c.DiscountValue).Div(hundred))
	case coupon.DiscountFixed:
		return p.round(c.DiscountValue)
	default:
		return decimal.Zero
	}
}

// round rounds half-up. Amounts reaching round are never negative, where
// decimal's half-away-from-zero rounding is the same thing.
func (p Policy) round(d decimal.Decimal) decimal.Decimal {
	return d.Round(p.Places)
}
