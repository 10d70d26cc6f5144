package pricing

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
)

type mockValidator struct {
	coupon *coupon.Coupon
	err    error

	gotCode     string
	gotUserID   string
	gotSubtotal decimal.Decimal
	calls       int
}

func (m *mockValidator) ValidateForRedemption(_ context.Context, code, userID string, subtotal decimal.Decimal) (*coupon.Coupon, error) {
	m.calls++
	m.gotCode, m.gotUserID, m.gotSubtotal = code, userID, subtotal
	return m.coupon, m.err
}

func TestEngine_PriceOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("no coupon", func(t *testing.T) {
		v := &mockValidator{}
		e := NewEngine(DefaultPolicy(), v)

		q, err := e.PriceOrder(ctx, []Line{
			{ProductID: "p1", Quantity: 2, UnitPrice: d("1000")},
			{ProductID: "p2", Quantity: 1, UnitPrice: d("1000")},
		}, "", "u1")
		require.NoError(t, err)
		assert.True(t, q.TotalPrice.Equal(d("2550")))
		assert.True(t, q.DiscountApplied.Equal(d("450")))
		assert.Empty(t, q.CouponID())
		assert.Zero(t, v.calls)
	})

	t.Run("valid coupon", func(t *testing.T) {
		v := &mockValidator{coupon: pct(10)}
		e := NewEngine(DefaultPolicy(), v)

		q, err := e.PriceOrder(ctx, []Line{{ProductID: "p1", Quantity: 5, UnitPrice: d("100")}}, " save10 ", "u1")
		require.NoError(t, err)
		assert.True(t, q.TotalPrice.Equal(d("550")))
		assert.True(t, q.DiscountApplied.Equal(d("50")))
		assert.Equal(t, "c", q.CouponID())

		assert.Equal(t, "SAVE10", v.gotCode)
		assert.Equal(t, "u1", v.gotUserID)
		assert.True(t, v.gotSubtotal.Equal(d("500")), "coupon is validated against the raw subtotal")
	})

	t.Run("invalid coupon surfaces error", func(t *testing.T) {
		e := NewEngine(DefaultPolicy(), &mockValidator{err: coupon.ErrExpired})

		_, err := e.PriceOrder(ctx, []Line{{ProductID: "p1", Quantity: 1, UnitPrice: d("100")}}, "OLD", "u1")
		require.ErrorIs(t, err, coupon.ErrExpired)

		var ce *CouponError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "OLD", ce.Code)
	})

	t.Run("ledger failure is not a coupon rejection", func(t *testing.T) {
		dbErr := errors.New("connection refused")
		e := NewEngine(DefaultPolicy(), &mockValidator{err: errors.Wrap(dbErr, "lookup coupon")})

		_, err := e.PriceOrder(ctx, []Line{{ProductID: "p1", Quantity: 1, UnitPrice: d("100")}}, "SAVE10", "u1")
		require.ErrorIs(t, err, dbErr)

		var ce *CouponError
		assert.False(t, errors.As(err, &ce))
	})

	t.Run("empty cart", func(t *testing.T) {
		e := NewEngine(DefaultPolicy(), &mockValidator{})
		_, err := e.PriceOrder(ctx, nil, "", "u1")
		require.ErrorIs(t, err, ErrEmptyCart)
	})

	t.Run("invalid quantity", func(t *testing.T) {
		e := NewEngine(DefaultPolicy(), &mockValidator{})
		_, err := e.PriceOrder(ctx, []Line{{ProductID: "p1", Quantity: 0, UnitPrice: d("100")}}, "", "u1")

		var qe *InvalidQuantityError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, "p1", qe.ProductID)
	})

	t.Run("negative price", func(t *testing.T) {
		e := NewEngine(DefaultPolicy(), &mockValidator{})
		_, err := e.PriceOrder(ctx, []Line{{ProductID: "p1", Quantity: 1, UnitPrice: d("-1")}}, "", "u1")

		var pe *ProductPriceMissingError
		require.ErrorAs(t, err, &pe)
	})
}

func TestSubtotal(t *testing.T) {
	got, err := Subtotal([]Line{
		{ProductID: "a", Quantity: 3, UnitPrice: d("12.50")},
		{ProductID: "b", Quantity: 1, UnitPrice: d("0")},
	})
	require.NoError(t, err)
	assert.True(t, got.Equal(d("37.5")))
}
