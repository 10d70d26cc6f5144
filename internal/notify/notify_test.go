package notify

import (
	"context"
	"testing"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/storefront/internal/domain/order"
)

func TestLog_StatusChanged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLog(zap.New(core))

	o := &order.Order{
		ID:              "o1",
		UserID:          "u1",
		Status:          order.StatusSubmitted,
		TotalPrice:      decimal.NewFromInt(2550),
		DiscountApplied: decimal.NewFromInt(450),
		TrackingCode:    "TRK-ABCDEFGH",
	}
	n.StatusChanged(context.Background(), o, order.StatusPending)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Order receipt", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "2550.00", fields["total_price"])
	assert.Equal(t, "450.00", fields["discount_applied"])
	assert.Equal(t, "pending", fields["from"])
	assert.Equal(t, "order_submitted", fields["to"])
	assert.NotContains(t, fields, "coupon_code")
}

func TestLog_ContextLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	NewLog(nil).StatusChanged(ctx, &order.Order{ID: "o1", Status: order.StatusCanceled}, order.StatusPreparing)

	assert.Equal(t, 1, logs.FilterMessage("Order canceled").Len())
}

type counter struct{ n int }

func (c *counter) StatusChanged(context.Context, *order.Order, order.Status) { c.n++ }

func TestFanout(t *testing.T) {
	a, b := &counter{}, &counter{}
	Fanout{a, b}.StatusChanged(context.Background(), &order.Order{}, order.StatusPending)

	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}

func TestMetrics_StatusChanged(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	ctx := context.Background()
	m.StatusChanged(ctx, &order.Order{Status: order.StatusSubmitted}, order.StatusPending)
	m.StatusChanged(ctx, &order.Order{Status: order.StatusSubmitted}, order.StatusPending)
	m.StatusChanged(ctx, &order.Order{Status: order.StatusCanceled}, order.StatusPending)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		to, _ := dp.Attributes.Value("to")
		got[to.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"order_submitted": 2, "canceled": 1}, got)
}
