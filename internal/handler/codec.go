package handler

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
)

const maxBodySize = 1 << 20

// decodeBody decodes a JSON object body field by field. An empty body is
// accepted only when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, optional bool, f func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return badRequest("read body: %v", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if optional {
			return nil
		}
		return badRequest("request body is required")
	}
	if err := jx.DecodeBytes(body).Obj(f); err != nil {
		if errors.Is(err, errBadRequest) {
			return err
		}
		return badRequest("decode body: %v", err)
	}
	return nil
}

// readDecimal accepts a JSON number or a numeric string.
func readDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(string(n))
	default:
		return decimal.Decimal{}, badRequest("expected a number")
	}
}

func readTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, badRequest("invalid time %q", s)
	}
	return &t, nil
}

func readItems(d *jx.Decoder) ([]order.ItemRequest, error) {
	var items []order.ItemRequest
	err := d.Arr(func(d *jx.Decoder) error {
		var it order.ItemRequest
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				it.ProductID, err = d.Str()
			case "sizeId":
				it.SizeID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		})
		items = append(items, it)
		return err
	})
	return items, err
}

func writeJSON(w http.ResponseWriter, status int, f func(e *jx.Encoder)) {
	var e jx.Encoder
	f(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.String()))
}

func optStr(e *jx.Encoder, name, v string) {
	if v != "" {
		e.Field(name, func(e *jx.Encoder) { e.Str(v) })
	}
}

func encodeItems(e *jx.Encoder, items []order.Item) {
	e.Arr(func(e *jx.Encoder) {
		for _, it := range items {
			e.Obj(func(e *jx.Encoder) {
				e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
				optStr(e, "sizeId", it.SizeID)
				e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
				e.Field("unitPrice", func(e *jx.Encoder) { encodeMoney(e, it.UnitPrice) })
			})
		}
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		optStr(e, "userId", o.UserID)
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("items", func(e *jx.Encoder) { encodeItems(e, o.Items) })
		optStr(e, "couponId", o.CouponID)
		optStr(e, "couponCode", o.CouponCode)
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, o.Subtotal) })
		e.Field("discountApplied", func(e *jx.Encoder) { encodeMoney(e, o.DiscountApplied) })
		e.Field("deliveryFee", func(e *jx.Encoder) { encodeMoney(e, o.DeliveryFee) })
		e.Field("totalPrice", func(e *jx.Encoder) { encodeMoney(e, o.TotalPrice) })
		optStr(e, "trackingCode", o.TrackingCode)
		e.Field("paymentState", func(e *jx.Encoder) { e.Str(string(o.PaymentState)) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
	})
}

func encodeQuote(e *jx.Encoder, items []order.Item, q *pricing.Quote) {
	b := q.Breakdown
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) { encodeItems(e, items) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, b.Subtotal) })
		e.Field("tieredPercent", func(e *jx.Encoder) { encodeMoney(e, b.TieredPercent) })
		e.Field("tieredDiscount", func(e *jx.Encoder) { encodeMoney(e, b.TieredAmount) })
		e.Field("couponDiscount", func(e *jx.Encoder) { encodeMoney(e, b.CouponAmount) })
		e.Field("deliveryFee", func(e *jx.Encoder) { encodeMoney(e, b.DeliveryFee) })
		e.Field("discountApplied", func(e *jx.Encoder) { encodeMoney(e, q.DiscountApplied) })
		e.Field("totalPrice", func(e *jx.Encoder) { encodeMoney(e, q.TotalPrice) })
		optStr(e, "couponId", q.CouponID())
	})
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("discountType", func(e *jx.Encoder) { e.Str(string(c.DiscountType)) })
		e.Field("discountValue", func(e *jx.Encoder) { encodeMoney(e, c.DiscountValue) })
		optStr(e, "ownerUserId", c.OwnerUserID)
		if c.MinOrderValue.IsPositive() {
			e.Field("minOrderValue", func(e *jx.Encoder) { encodeMoney(e, c.MinOrderValue) })
		}
		e.Field("maxUses", func(e *jx.Encoder) { e.Int(c.MaxUses) })
		e.Field("uses", func(e *jx.Encoder) { e.Int(c.Uses) })
		if c.ExpiresAt != nil {
			e.Field("expiresAt", func(e *jx.Encoder) { e.Str(c.ExpiresAt.UTC().Format(time.RFC3339)) })
		}
		optStr(e, "description", c.Description)
		optStr(e, "reason", string(c.Reason))
		e.Field("active", func(e *jx.Encoder) { e.Bool(c.Active) })
	})
}
