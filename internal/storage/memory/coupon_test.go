package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
)

func TestCouponRepository_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	r := NewCouponRepository()

	c, created, err := r.InsertIfAbsent(ctx, &coupon.Coupon{ID: "1", Code: "save", MaxUses: 1, Active: true})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "SAVE", c.Code)

	again, created, err := r.InsertIfAbsent(ctx, &coupon.Coupon{ID: "2", Code: "SAVE", MaxUses: 5, Active: true})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "1", again.ID)
	assert.Equal(t, 1, again.MaxUses)

	exists, err := r.CodeExists(ctx, "Save")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCouponRepository_InactiveHiddenFromFindByCode(t *testing.T) {
	ctx := context.Background()
	r := NewCouponRepository()
	_, _, err := r.InsertIfAbsent(ctx, &coupon.Coupon{ID: "1", Code: "OFF", MaxUses: 1, Active: true})
	require.NoError(t, err)

	require.NoError(t, r.SetActive(ctx, "off", false))
	_, err = r.FindByCode(ctx, "OFF")
	require.ErrorIs(t, err, coupon.ErrNotFound)

	byID, err := r.FindByID(ctx, "1")
	require.NoError(t, err)
	assert.False(t, byID.Active)
}

func TestCouponRepository_IncrementUses_Concurrent(t *testing.T) {
	ctx := context.Background()
	r := NewCouponRepository()
	_, _, err := r.InsertIfAbsent(ctx, &coupon.Coupon{
		ID: "1", Code: "FIVE", MaxUses: 5, Active: true,
		DiscountType: coupon.DiscountFixed, DiscountValue: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.IncrementUses(ctx, "1"); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	c, err := r.FindByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 5, c.Uses)

	require.NoError(t, r.DecrementUses(ctx, "1"))
	c, err = r.FindByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 4, c.Uses)
}
