//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "storefront",
				"POSTGRES_PASSWORD": "storefront",
				"POSTGRES_DB":       "storefront",
			},
			Tmpfs: map[string]string{"/var/lib/postgresql/data": "rw"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://storefront:storefront@%s:%s/storefront?sslmode=disable", host, port.Port())
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func TestPostgres(t *testing.T) {
	pool := startPostgres(t)

	t.Run("migrations", func(t *testing.T) { testMigrations(t, pool) })
	t.Run("coupons", func(t *testing.T) { testCoupons(t, pool) })
	t.Run("coupon contention", func(t *testing.T) { testCouponContention(t, pool) })
	t.Run("products", func(t *testing.T) { testProducts(t, pool) })
	t.Run("orders", func(t *testing.T) { testOrders(t, pool) })
	t.Run("api keys", func(t *testing.T) { testAPIKeys(t, pool) })
}

func testMigrations(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	require.NoError(t, RunMigrations(ctx, pool))

	var applied int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM schema_migrations").Scan(&applied))
	ms, err := db.Migrations()
	require.NoError(t, err)
	assert.Equal(t, len(ms), applied)
}

func newCoupon(code string, maxUses int) *coupon.Coupon {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	return &coupon.Coupon{
		ID:            uuid.NewString(),
		Code:          code,
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		MinOrderValue: decimal.Zero,
		MaxUses:       maxUses,
		ExpiresAt:     &expires,
		Reason:        coupon.ReasonManual,
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}
}

func testCoupons(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	r := NewCouponRepository(pool)

	c, created, err := r.InsertIfAbsent(ctx, newCoupon("pg-save", 2))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "PG-SAVE", c.Code)
	require.NotNil(t, c.ExpiresAt)

	dup, created, err := r.InsertIfAbsent(ctx, newCoupon("PG-SAVE", 9))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c.ID, dup.ID)
	assert.Equal(t, 2, dup.MaxUses)

	found, err := r.FindByCode(ctx, "pg-save")
	require.NoError(t, err)
	assert.True(t, found.DiscountValue.Equal(decimal.NewFromInt(10)))

	uses, err := r.IncrementUses(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, uses)
	uses, err = r.IncrementUses(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, uses)
	_, err = r.IncrementUses(ctx, c.ID)
	require.ErrorIs(t, err, coupon.ErrExhaustedUses)
	_, err = r.IncrementUses(ctx, "missing")
	require.ErrorIs(t, err, coupon.ErrNotFound)

	require.NoError(t, r.DecrementUses(ctx, c.ID))
	byCode, err := r.FindByCode(ctx, "PG-SAVE")
	require.NoError(t, err)
	assert.Equal(t, 1, byCode.Uses)

	require.NoError(t, r.SetActive(ctx, "PG-SAVE", false))
	_, err = r.FindByCode(ctx, "PG-SAVE")
	require.ErrorIs(t, err, coupon.ErrNotFound)
	exists, err := r.CodeExists(ctx, "pg-save")
	require.NoError(t, err)
	assert.True(t, exists)
	require.ErrorIs(t, r.SetActive(ctx, "NOPE", true), coupon.ErrNotFound)
}

func testCouponContention(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	r := NewCouponRepository(pool)
	c, _, err := r.InsertIfAbsent(ctx, newCoupon("PG-ONCE", 1))
	require.NoError(t, err)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.IncrementUses(ctx, c.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, coupon.ErrExhaustedUses):
				exhausted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, exhausted)
}

func testProducts(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	r := NewProductRepository(pool)

	require.NoError(t, r.Upsert(ctx, product.Product{
		ID: "pg-p1", Name: "Jacket", Category: "outerwear",
		Price: decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		Sizes: []product.Size{
			{ID: "m", Label: "M"},
			{ID: "xl", Label: "XL", Price: decimal.NewNullDecimal(decimal.NewFromInt(1200))},
		},
	}))
	require.NoError(t, r.Upsert(ctx, product.Product{ID: "pg-draft", Name: "Draft"}))

	got, err := r.GetByIDs(ctx, []string{"pg-p1", "pg-draft", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[string]product.Product{}
	for _, p := range got {
		byID[p.ID] = p
	}
	p1 := byID["pg-p1"]
	require.Len(t, p1.Sizes, 2)
	xl, ok := p1.Size("xl")
	require.True(t, ok)
	price, ok := p1.UnitPrice(xl)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(1200)))

	assert.False(t, byID["pg-draft"].Price.Valid)
}

func testOrders(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	r := NewOrderRepository(pool)

	o := &order.Order{
		ID:     uuid.NewString(),
		UserID: "u1",
		Status: order.StatusPending,
		Items: []order.Item{
			{ProductID: "p1", SizeID: "m", Quantity: 2, UnitPrice: decimal.RequireFromString("1000")},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("12.50")},
		},
		Subtotal:     decimal.RequireFromString("2012.50"),
		TotalPrice:   decimal.RequireFromString("1912"),
		TrackingCode: "TRK-" + uuid.NewString()[:8],
		PaymentState: order.PaymentNone,
	}
	require.NoError(t, r.Create(ctx, o))
	assert.False(t, o.CreatedAt.IsZero())

	got, err := r.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "m", got.Items[0].SizeID)
	assert.True(t, got.Items[1].UnitPrice.Equal(decimal.RequireFromString("12.5")))
	assert.Empty(t, got.CouponID)

	exists, err := r.TrackingCodeExists(ctx, o.TrackingCode)
	require.NoError(t, err)
	assert.True(t, exists)

	attempt, err := r.BeginPayment(ctx, o.ID, order.PaymentNone, order.Pricing{
		Subtotal: o.Subtotal, TotalPrice: decimal.NewFromInt(1900), DiscountApplied: decimal.NewFromInt(112),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)

	_, err = r.BeginPayment(ctx, o.ID, order.PaymentNone, order.Pricing{})
	require.ErrorIs(t, err, order.ErrStatusConflict)
	_, err = r.BeginPayment(ctx, "missing", order.PaymentNone, order.Pricing{})
	require.ErrorIs(t, err, order.ErrNotFound)

	require.NoError(t, r.SetPayment(ctx, o.ID, order.PaymentAwaiting, order.PaymentReconciling, "pi_1"))
	require.NoError(t, r.SetPayment(ctx, o.ID, order.PaymentReconciling, order.PaymentReconciling, ""))
	require.NoError(t, r.MarkPaid(ctx, o.ID, ""))

	got, err = r.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusSubmitted, got.Status)
	assert.Equal(t, order.PaymentPaid, got.PaymentState)
	assert.Equal(t, "pi_1", got.PaymentRef)
	assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(1900)))

	require.NoError(t, r.SetStatus(ctx, o.ID, order.StatusSubmitted, order.StatusPreparing))
	require.ErrorIs(t, r.SetStatus(ctx, o.ID, order.StatusSubmitted, order.StatusPreparing), order.ErrStatusConflict)
}

func testAPIKeys(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	r := NewAPIKeyRepository(pool)
	hash := auth.HashKey([]byte("pepper"), "sk_test")

	require.NoError(t, r.Upsert(ctx, auth.APIKeyInfo{ID: uuid.NewString(), KeyHash: hash, Name: "test", Scopes: []string{auth.ScopeStore}}))

	info, err := r.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "test", info.Name)
	assert.True(t, info.HasScope(auth.ScopeStore))
	assert.False(t, info.HasScope(auth.ScopeAdmin))

	_, err = r.FindByHash(ctx, "nope")
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}
