package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

const orderColumns = `id, user_id, status, items, COALESCE(coupon_id, ''), coupon_code,
	subtotal, discount_applied, delivery_fee, total_price, tracking_code,
	payment_state, payment_attempt, payment_ref, created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, status, items, coupon_id, coupon_code,
		subtotal, discount_applied, delivery_fee, total_price, tracking_code, payment_state)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	trackingCodeExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE tracking_code = $1)`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	beginPaymentSQL = `UPDATE orders SET
		coupon_id = NULLIF($3, ''), coupon_code = $4,
		subtotal = $5, discount_applied = $6, delivery_fee = $7, total_price = $8,
		payment_state = 'awaiting', payment_attempt = payment_attempt + 1, payment_ref = '',
		updated_at = now()
		WHERE id = $1 AND status = 'pending' AND payment_state = $2
		RETURNING payment_attempt`

	setPaymentSQL = `UPDATE orders SET
		payment_state = $3,
		payment_ref = CASE WHEN $4 = '' THEN payment_ref ELSE $4 END,
		updated_at = now()
		WHERE id = $1 AND status = 'pending' AND payment_state = $2`

	markPaidSQL = `UPDATE orders SET
		status = 'order_submitted', payment_state = 'paid',
		payment_ref = CASE WHEN $2 = '' THEN payment_ref ELSE $2 END,
		updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	setStatusSQL = `UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The order items are stored as a JSON array
// in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := r.pool.QueryRow(ctx, createOrderSQL,
		o.ID, o.UserID, string(o.Status), encodeItems(o.Items), o.CouponID, o.CouponCode,
		o.Subtotal, o.DiscountApplied, o.DeliveryFee, o.TotalPrice, o.TrackingCode, string(o.PaymentState),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns the order with the given id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// TrackingCodeExists reports whether an order already uses code.
func (r *OrderRepository) TrackingCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, trackingCodeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking tracking code: %w", err)
	}
	return exists, nil
}

// BeginPayment stores the recomputed pricing and claims the order for a
// payment attempt.
func (r *OrderRepository) BeginPayment(ctx context.Context, id string, from order.PaymentState, p order.Pricing) (int, error) {
	var attempt int32
	err := r.pool.QueryRow(ctx, beginPaymentSQL,
		id, string(from), p.CouponID, p.CouponCode,
		p.Subtotal, p.DiscountApplied, p.DeliveryFee, p.TotalPrice,
	).Scan(&attempt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, r.conflict(ctx, id)
		}
		return 0, fmt.Errorf("beginning payment for order %q: %w", id, err)
	}
	return int(attempt), nil
}

// SetPayment moves the payment state of a pending order.
func (r *OrderRepository) SetPayment(ctx context.Context, id string, from, to order.PaymentState, ref string) error {
	return r.exec(ctx, id, setPaymentSQL, id, string(from), string(to), ref)
}

// MarkPaid moves a pending order to order_submitted and records the payment.
func (r *OrderRepository) MarkPaid(ctx context.Context, id, ref string) error {
	return r.exec(ctx, id, markPaidSQL, id, ref)
}

// SetStatus moves the order between statuses.
func (r *OrderRepository) SetStatus(ctx context.Context, id string, from, to order.Status) error {
	return r.exec(ctx, id, setStatusSQL, id, string(from), string(to))
}

func (r *OrderRepository) exec(ctx context.Context, id, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.conflict(ctx, id)
	}
	return nil
}

// conflict tells a failed precondition apart from a missing order.
func (r *OrderRepository) conflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStatusConflict
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o            order.Order
		status       string
		paymentState string
		attempt      int32
		items        []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &status, &items, &o.CouponID, &o.CouponCode,
		&o.Subtotal, &o.DiscountApplied, &o.DeliveryFee, &o.TotalPrice, &o.TrackingCode,
		&paymentState, &attempt, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	o.PaymentState = order.PaymentState(paymentState)
	o.PaymentAttempt = int(attempt)
	o.Items, err = decodeItems(items)
	return o, err
}

func encodeItems(items []order.Item) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, it := range items {
		e.Obj(func(e *jx.Encoder) {
			e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
			if it.SizeID != "" {
				e.Field("size_id", func(e *jx.Encoder) { e.Str(it.SizeID) })
			}
			e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
			e.Field("unit_price", func(e *jx.Encoder) { e.Str(it.UnitPrice.String()) })
		})
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeItems(data []byte) ([]order.Item, error) {
	var items []order.Item
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var it order.Item
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "product_id":
				it.ProductID, err = d.Str()
			case "size_id":
				it.SizeID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			case "unit_price":
				var s string
				if s, err = d.Str(); err == nil {
					it.UnitPrice, err = decimal.NewFromString(s)
				}
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decoding order items: %w", err)
	}
	return items, nil
}
