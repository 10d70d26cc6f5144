package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const couponColumns = `id, code, discount_type, discount_value, owner_user_id, min_order_value,
	max_uses, uses, expires_at, description, reason, subject, active, created_at`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 AND active = TRUE`

	insertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (code) DO NOTHING
		RETURNING ` + couponColumns

	getAnyCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	couponCodeExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`

	// The WHERE clause is the redemption guard: concurrent statements
	// serialize on the row lock and re-check uses < max_uses, so at most
	// max_uses of them ever match.
	incrementCouponUsesSQL = `UPDATE coupons SET uses = uses + 1
		WHERE id = $1 AND uses < max_uses
		RETURNING uses`

	decrementCouponUsesSQL = `UPDATE coupons SET uses = uses - 1 WHERE id = $1 AND uses > 0`

	setCouponActiveSQL = `UPDATE coupons SET active = $2 WHERE code = $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func (r *CouponRepository) queryOne(ctx context.Context, sql string, args ...any) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindByCode looks up an active coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, err := r.queryOne(ctx, getCouponByCodeSQL, coupon.NormalizeCode(code))
	if err != nil && !errors.Is(err, coupon.ErrNotFound) {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return c, err
}

// InsertIfAbsent inserts c unless its code is taken. The unique constraint
// on code arbitrates concurrent issuers: the loser reads back the winner's
// row.
func (r *CouponRepository) InsertIfAbsent(ctx context.Context, c *coupon.Coupon) (*coupon.Coupon, bool, error) {
	code := coupon.NormalizeCode(c.Code)
	created, err := r.queryOne(ctx, insertCouponSQL,
		c.ID, code, string(c.DiscountType), c.DiscountValue, c.OwnerUserID, c.MinOrderValue,
		c.MaxUses, c.ExpiresAt, c.Description, string(c.Reason), c.Subject, c.Active, c.CreatedAt,
	)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, coupon.ErrNotFound) {
		return nil, false, fmt.Errorf("inserting coupon %q: %w", code, err)
	}

	existing, err := r.queryOne(ctx, getAnyCouponByCodeSQL, code)
	if err != nil {
		return nil, false, fmt.Errorf("reading existing coupon %q: %w", code, err)
	}
	return existing, false, nil
}

// CodeExists reports whether any coupon uses code.
func (r *CouponRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, couponCodeExistsSQL, coupon.NormalizeCode(code)).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking coupon code %q: %w", code, err)
	}
	return exists, nil
}

// IncrementUses consumes one use with a single conditional UPDATE.
func (r *CouponRepository) IncrementUses(ctx context.Context, id string) (int, error) {
	var uses int32
	err := r.pool.QueryRow(ctx, incrementCouponUsesSQL, id).Scan(&uses)
	if err == nil {
		return int(uses), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("incrementing uses for coupon %q: %w", id, err)
	}

	// No row matched: either the coupon is gone or it has no uses left.
	exists, err := r.exists(ctx, id)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, coupon.ErrNotFound
	}
	return 0, coupon.ErrExhaustedUses
}

// DecrementUses gives one use back when uses > 0.
func (r *CouponRepository) DecrementUses(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, decrementCouponUsesSQL, id)
	if err != nil {
		return fmt.Errorf("decrementing uses for coupon %q: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return coupon.ErrNotFound
	}
	return nil
}

// SetActive toggles the active flag for code.
func (r *CouponRepository) SetActive(ctx context.Context, code string, active bool) error {
	tag, err := r.pool.Exec(ctx, setCouponActiveSQL, coupon.NormalizeCode(code), active)
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (r *CouponRepository) exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, couponExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking coupon %q: %w", id, err)
	}
	return exists, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		reason       string
		maxUses      int32
		uses         int32
		expiresAt    *time.Time
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &c.DiscountValue, &c.OwnerUserID, &c.MinOrderValue,
		&maxUses, &uses, &expiresAt, &c.Description, &reason, &c.Subject, &c.Active, &c.CreatedAt,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.Reason = coupon.Reason(reason)
	c.MaxUses = int(maxUses)
	c.Uses = int(uses)
	c.ExpiresAt = expiresAt
	return c, err
}
