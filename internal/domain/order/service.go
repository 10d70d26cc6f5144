package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/codegen"
)

// Checkout errors.
var (
	ErrNotPending        = errors.New("order is no longer pending")
	ErrPaymentInProgress = errors.New("a payment for this order is already in progress")
	ErrNothingToSettle   = errors.New("order has no payment to reconcile")
	ErrNotPaid           = errors.New("order cannot advance before its payment is captured")
)

// ProductNotFoundError indicates a requested product or size does not exist.
type ProductNotFoundError struct {
	ProductID string
	SizeID    string
}

func (e *ProductNotFoundError) Error() string {
	if e.SizeID != "" {
		return fmt.Sprintf("product %s has no size %s", e.ProductID, e.SizeID)
	}
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// CouponLedger is the part of the coupon ledger that mutates coupons.
type CouponLedger interface {
	Redeem(ctx context.Context, couponID string) error
	Release(ctx context.Context, couponID string) error
	Issue(ctx context.Context, reason coupon.Reason, subject, owner string) (*coupon.Coupon, bool, error)
}

// ItemRequest is a requested line before prices are resolved.
type ItemRequest struct {
	ProductID string
	SizeID    string
	Quantity  int
}

// QuoteRequest holds the input for pricing or placing an order.
type QuoteRequest struct {
	UserID     string
	Items      []ItemRequest
	CouponCode string
}

// QuoteResult is a priced but unsaved order.
type QuoteResult struct {
	Items []Item
	Quote *pricing.Quote
}

// Outcome summarizes a checkout or reconcile call.
type Outcome string

const (
	OutcomePaid           Outcome = "paid"
	OutcomeDeclined       Outcome = "declined"
	OutcomeRequiresAction Outcome = "requires_action"
	// OutcomePending means the capture result is unknown and the order awaits
	// reconciliation.
	OutcomePending Outcome = "pending"
)

// CheckoutRequest holds the input for Checkout.
type CheckoutRequest struct {
	OrderID string
	UserID  string
	// DropCoupon makes Checkout proceed without the order's coupon when it
	// no longer validates, instead of failing.
	DropCoupon bool
}

// CheckoutResult holds the output of Checkout and Reconcile.
type CheckoutResult struct {
	Order         *Order
	Outcome       Outcome
	RedirectURL   string
	DeclineReason string
	CouponDropped bool
}

// Service encapsulates order placement, checkout and lifecycle logic.
type Service struct {
	products product.Repository
	orders   Repository
	engine   *pricing.Engine
	coupons  CouponLedger
	payments payment.Processor

	notifier       Notifier
	tracking       *codegen.Generator
	currency       string
	paymentTimeout time.Duration

	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the lifecycle notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithCurrency sets the ISO currency code sent to the payment processor.
func WithCurrency(currency string) Option {
	return func(s *Service) { s.currency = currency }
}

// WithPaymentTimeout bounds every call to the payment processor.
func WithPaymentTimeout(d time.Duration) Option {
	return func(s *Service) { s.paymentTimeout = d }
}

// WithTracerProvider enables checkout tracing.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("storefront/order") }
}

// WithMeterProvider enables checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		counter, err := mp.Meter("storefront/order").Int64Counter(
			"storefront.checkout.outcomes",
			metric.WithDescription("Checkout and reconcile results by outcome"),
		)
		if err == nil {
			s.outcomes = counter
		}
	}
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	orders Repository,
	engine *pricing.Engine,
	coupons CouponLedger,
	payments payment.Processor,
	opts ...Option,
) *Service {
	s := &Service{
		products:       products,
		orders:         orders,
		engine:         engine,
		coupons:        coupons,
		payments:       payments,
		notifier:       nopNotifier{},
		tracking:       codegen.New("TRK-"),
		currency:       "USD",
		paymentTimeout: 10 * time.Second,
		tracer:         tracenoop.NewTracerProvider().Tracer(""),
	}
	s.outcomes, _ = metricnoop.NewMeterProvider().Meter("").Int64Counter("")
	for _, o := range opts {
		o(s)
	}
	return s
}

// resolveItems snapshots catalog prices for the requested lines, fetching
// every product in a single batch.
func (s *Service) resolveItems(ctx context.Context, req []ItemRequest) ([]Item, error) {
	if len(req) == 0 {
		return nil, pricing.ErrEmptyCart
	}

	ids := make([]string, len(req))
	for i, item := range req {
		if item.Quantity <= 0 {
			return nil, &pricing.InvalidQuantityError{ProductID: item.ProductID, Quantity: item.Quantity}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	byID := make(map[string]*product.Product, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}

	items := make([]Item, len(req))
	for i, item := range req {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		var size product.Size
		if item.SizeID != "" {
			if size, ok = p.Size(item.SizeID); !ok {
				return nil, &ProductNotFoundError{ProductID: item.ProductID, SizeID: item.SizeID}
			}
		}
		price, ok := p.UnitPrice(size)
		if !ok {
			return nil, &pricing.ProductPriceMissingError{ProductID: item.ProductID}
		}
		items[i] = Item{
			ProductID: item.ProductID,
			SizeID:    item.SizeID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		}
	}
	return items, nil
}

// Quote prices the requested items without persisting anything. An invalid
// coupon is returned as *pricing.CouponError.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	items, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	o := Order{Items: items}
	q, err := s.engine.PriceOrder(ctx, o.Lines(), req.CouponCode, req.UserID)
	if err != nil {
		return nil, err
	}
	return &QuoteResult{Items: items, Quote: q}, nil
}

// PlaceOrder prices the requested items, assigns a tracking code and stores
// the order as pending. The coupon is validated but not redeemed; redemption
// happens at checkout.
func (s *Service) PlaceOrder(ctx context.Context, req QuoteRequest) (*Order, error) {
	qr, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}

	tracking, err := s.tracking.Generate(ctx, s.orders.TrackingCodeExists)
	if err != nil {
		return nil, fmt.Errorf("generate tracking code: %w", err)
	}

	o := &Order{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		Status:       StatusPending,
		Items:        qr.Items,
		TrackingCode: tracking,
		PaymentState: PaymentNone,
	}
	o.applyPricing(PricingFromQuote(qr.Quote))

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("total", o.TotalPrice.String()),
		zap.String("coupon", o.CouponCode),
	)
	return o, nil
}

// Get returns the order with the given id. A non-empty userID must match the
// order owner.
func (s *Service) Get(ctx context.Context, id, userID string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// Checkout recomputes the order total, redeems its coupon and captures the
// payment.
//
// The total is always recomputed through the full pricing pipeline right
// before capture. A capture whose outcome is unknown leaves the order
// pending with payment state reconciling and the coupon still redeemed; it
// is never treated as paid until Reconcile confirms it.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (_ *CheckoutResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout",
		trace.WithAttributes(attribute.String("order.id", req.OrderID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	o, err := s.Get(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, ErrNotPending
	}
	if o.PaymentState != PaymentNone && o.PaymentState != PaymentFailed {
		return nil, ErrPaymentInProgress
	}

	q, dropped, err := s.reprice(ctx, o, req.DropCoupon)
	if err != nil {
		return nil, err
	}
	p := PricingFromQuote(q)

	attempt, err := s.orders.BeginPayment(ctx, o.ID, o.PaymentState, p)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, ErrPaymentInProgress
		}
		return nil, fmt.Errorf("begin payment: %w", err)
	}
	prevState := o.PaymentState
	o.applyPricing(p)
	o.PaymentAttempt = attempt
	o.PaymentState = PaymentAwaiting

	if p.CouponID != "" {
		if err := s.coupons.Redeem(ctx, p.CouponID); err != nil {
			if serr := s.orders.SetPayment(context.WithoutCancel(ctx), o.ID, PaymentAwaiting, prevState, ""); serr != nil {
				zctx.From(ctx).Error("Revert payment state", zap.String("order_id", o.ID), zap.Error(serr))
			}
			return nil, &pricing.CouponError{Code: p.CouponCode, Err: err}
		}
	}

	res, err := s.capture(ctx, o)
	out, err := s.settle(ctx, o, res, err)
	if err != nil {
		return nil, err
	}
	out.CouponDropped = dropped
	return out, nil
}

func (s *Service) reprice(ctx context.Context, o *Order, dropCoupon bool) (*pricing.Quote, bool, error) {
	q, err := s.engine.PriceOrder(ctx, o.Lines(), o.CouponCode, o.UserID)
	if err == nil {
		return q, false, nil
	}
	var ce *pricing.CouponError
	if !dropCoupon || !errors.As(err, &ce) {
		return nil, false, err
	}
	zctx.From(ctx).Info("Dropping coupon at checkout",
		zap.String("order_id", o.ID),
		zap.String("coupon", o.CouponCode),
		zap.Error(ce.Err),
	)
	q, err = s.engine.PriceOrder(ctx, o.Lines(), "", o.UserID)
	if err != nil {
		return nil, false, err
	}
	return q, true, nil
}

func (s *Service) paymentRequest(o *Order) payment.Request {
	return payment.Request{
		OrderID:        o.ID,
		IdempotencyKey: fmt.Sprintf("%s:%d", o.ID, o.PaymentAttempt),
		Amount:         payment.MinorUnits(o.TotalPrice, s.engine.Policy().Places),
		Currency:       s.currency,
		Description:    "Order " + o.TrackingCode,
	}
}

func (s *Service) capture(ctx context.Context, o *Order) (*payment.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()
	return s.payments.Capture(ctx, s.paymentRequest(o))
}

// settle records a processor response on the order. Writes are detached from
// the request context so a client disconnect cannot leave the order
// half-updated after money moved.
func (s *Service) settle(ctx context.Context, o *Order, res *payment.Result, perr error) (*CheckoutResult, error) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.Int("attempt", o.PaymentAttempt))
	wctx := context.WithoutCancel(ctx)
	from := o.PaymentState

	var ref string
	if res != nil {
		ref = res.Ref
	}

	switch {
	case errors.Is(perr, payment.ErrRejected):
		lg.Warn("Payment rejected", zap.Error(perr))
		return s.decline(ctx, o, from, ref, "processor_rejected")

	case perr != nil || res == nil || res.Status == payment.StatusProcessing:
		if perr != nil {
			lg.Warn("Payment outcome unknown", zap.Error(perr))
		}
		if err := s.orders.SetPayment(wctx, o.ID, from, PaymentReconciling, ref); err != nil {
			return nil, fmt.Errorf("mark reconciling: %w", err)
		}
		o.PaymentState = PaymentReconciling
		return s.result(ctx, o, OutcomePending, ref), nil

	case res.Status == payment.StatusSucceeded:
		if err := s.orders.MarkPaid(wctx, o.ID, ref); err != nil {
			return nil, fmt.Errorf("mark paid: %w", err)
		}
		prev := o.Status
		o.Status = StatusSubmitted
		o.PaymentState = PaymentPaid
		lg.Info("Payment captured", zap.String("total", o.TotalPrice.String()))
		s.notifier.StatusChanged(wctx, o, prev)
		return s.result(ctx, o, OutcomePaid, ref), nil

	case res.Status == payment.StatusRequiresAction:
		if err := s.orders.SetPayment(wctx, o.ID, from, PaymentAwaiting, ref); err != nil {
			return nil, fmt.Errorf("mark awaiting: %w", err)
		}
		o.PaymentState = PaymentAwaiting
		out := s.result(ctx, o, OutcomeRequiresAction, ref)
		out.RedirectURL = res.RedirectURL
		return out, nil

	default:
		lg.Info("Payment declined", zap.String("reason", res.DeclineReason))
		return s.decline(ctx, o, from, ref, res.DeclineReason)
	}
}

// decline records a definitive payment failure. The coupon use is given back
// only after the order no longer claims it.
func (s *Service) decline(ctx context.Context, o *Order, from PaymentState, ref, reason string) (*CheckoutResult, error) {
	wctx := context.WithoutCancel(ctx)
	if err := s.orders.SetPayment(wctx, o.ID, from, PaymentFailed, ref); err != nil {
		return nil, fmt.Errorf("mark failed: %w", err)
	}
	o.PaymentState = PaymentFailed
	if o.CouponID != "" {
		if err := s.coupons.Release(wctx, o.CouponID); err != nil {
			zctx.From(ctx).Error("Release coupon after decline",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	}
	out := s.result(ctx, o, OutcomeDeclined, ref)
	out.DeclineReason = reason
	return out, nil
}

func (s *Service) result(ctx context.Context, o *Order, outcome Outcome, ref string) *CheckoutResult {
	if ref != "" {
		o.PaymentRef = ref
	}
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	return &CheckoutResult{Order: o, Outcome: outcome}
}

// Reconcile asks the processor for the final state of an order whose payment
// outcome was left open and settles the order accordingly. Without a
// processor handle the original capture is replayed under the same
// idempotency key, which returns the original result instead of charging
// again.
func (s *Service) Reconcile(ctx context.Context, orderID string) (_ *CheckoutResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Reconcile",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch o.PaymentState {
	case PaymentPaid:
		return &CheckoutResult{Order: o, Outcome: OutcomePaid}, nil
	case PaymentReconciling, PaymentAwaiting:
	default:
		return nil, ErrNothingToSettle
	}

	pctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	var res *payment.Result
	if o.PaymentRef != "" {
		res, err = s.payments.Lookup(pctx, o.PaymentRef)
		if errors.Is(err, payment.ErrRejected) {
			// A refused lookup says nothing about the charge itself.
			err = errors.Wrap(payment.ErrOutcomeUnknown, err.Error())
		}
	} else {
		res, err = s.payments.Capture(pctx, s.paymentRequest(o))
	}
	return s.settle(ctx, o, res, err)
}

// Transition moves an order to another status. override allows an admin to
// skip forward steps. A pending order leaves pending only through a captured
// payment or cancellation, and nothing moves while a payment is open.
// Reaching delivered issues the customer a thank-you coupon.
func (s *Service) Transition(ctx context.Context, orderID string, to Status, override bool) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := CanTransition(o.Status, to, override); err != nil {
		return nil, err
	}
	if o.PaymentState == PaymentAwaiting || o.PaymentState == PaymentReconciling {
		return nil, ErrPaymentInProgress
	}
	if o.Status == StatusPending && to != StatusCanceled {
		return nil, ErrNotPaid
	}

	if err := s.orders.SetStatus(ctx, o.ID, o.Status, to); err != nil {
		return nil, err
	}
	from := o.Status
	o.Status = to

	lg := zctx.From(ctx)
	lg.Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Bool("override", override),
	)
	s.notifier.StatusChanged(ctx, o, from)

	if to == StatusDelivered && o.UserID != "" {
		if _, _, err := s.coupons.Issue(ctx, coupon.ReasonOrderCompleted, o.ID, o.UserID); err != nil {
			lg.Error("Issue order completed coupon", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return o, nil
}
