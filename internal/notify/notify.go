// Package notify informs downstream systems about order lifecycle events.
package notify

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

var (
	_ order.Notifier = (*Log)(nil)
	_ order.Notifier = (*Metrics)(nil)
	_ order.Notifier = Fanout(nil)
)

// Log writes a receipt line for every status change. It stands in for the
// e-mail and fulfilment integrations.
type Log struct {
	lg *zap.Logger
}

// NewLog creates a Log notifier. A nil logger falls back to the logger in the
// event context.
func NewLog(lg *zap.Logger) *Log {
	return &Log{lg: lg}
}

// StatusChanged implements order.Notifier.
func (l *Log) StatusChanged(ctx context.Context, o *order.Order, from order.Status) {
	lg := l.lg
	if lg == nil {
		lg = zctx.From(ctx)
	}
	fields := []zap.Field{
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
		zap.String("total_price", o.TotalPrice.StringFixed(2)),
		zap.String("discount_applied", o.DiscountApplied.StringFixed(2)),
	}
	if o.TrackingCode != "" {
		fields = append(fields, zap.String("tracking_code", o.TrackingCode))
	}
	if o.CouponCode != "" {
		fields = append(fields, zap.String("coupon_code", o.CouponCode))
	}

	switch o.Status {
	case order.StatusSubmitted:
		lg.Info("Order receipt", fields...)
	case order.StatusCanceled:
		lg.Info("Order canceled", fields...)
	default:
		lg.Info("Order update", fields...)
	}
}

// Metrics counts status changes by source and target status.
type Metrics struct {
	transitions metric.Int64Counter
}

// NewMetrics creates a Metrics notifier on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	c, err := mp.Meter("storefront/notify").Int64Counter("storefront.order.transitions",
		metric.WithDescription("Order status changes"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "order transitions counter")
	}
	return &Metrics{transitions: c}, nil
}

// StatusChanged implements order.Notifier.
func (m *Metrics) StatusChanged(ctx context.Context, o *order.Order, from order.Status) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(o.Status)),
	))
}

// Fanout delivers every event to each notifier in order.
type Fanout []order.Notifier

// StatusChanged implements order.Notifier.
func (f Fanout) StatusChanged(ctx context.Context, o *order.Order, from order.Status) {
	for _, n := range f {
		n.StatusChanged(ctx, o, from)
	}
}
