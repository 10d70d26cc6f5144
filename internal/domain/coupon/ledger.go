package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/pkg/codegen"
)

// Ledger owns coupon records: it validates redemptions, consumes uses
// atomically and issues coupons idempotently.
type Ledger struct {
	repo   Repository
	secret []byte
	codes  *codegen.Generator
	now    func() time.Time

	redemptions metric.Int64Counter
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMeterProvider enables redemption metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(l *Ledger) {
		counter, err := mp.Meter("storefront/coupon").Int64Counter(
			"storefront.coupon.redemptions",
			metric.WithDescription("Coupon redemption attempts by result"),
		)
		if err == nil {
			l.redemptions = counter
		}
	}
}

// WithCodeGenerator overrides the random code generator used by Create.
func WithCodeGenerator(g *codegen.Generator) Option {
	return func(l *Ledger) { l.codes = g }
}

// NewLedger creates a Ledger backed by repo. secret keys deterministic code
// derivation and must stay stable across deployments.
func NewLedger(repo Repository, secret []byte, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		secret: secret,
		codes:  codegen.New("CPN-"),
		now:    time.Now,
	}
	counter, _ := noop.NewMeterProvider().Meter("").Int64Counter("")
	l.redemptions = counter
	for _, o := range opts {
		o(l)
	}
	return l
}

// ValidateForRedemption checks whether code can be redeemed by userID on an
// order with the given subtotal. It never mutates the coupon.
//
// Checks run in a fixed order so the reported reason is stable: existence,
// expiry, remaining uses, ownership, minimum order value.
func (l *Ledger) ValidateForRedemption(ctx context.Context, code, userID string, subtotal decimal.Decimal) (*Coupon, error) {
	c, err := l.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if c.ExpiresAt != nil && l.now().After(*c.ExpiresAt) {
		return nil, ErrExpired
	}
	if c.Uses >= c.MaxUses {
		return nil, ErrExhaustedUses
	}
	if c.OwnerUserID != "" && c.OwnerUserID != userID {
		return nil, ErrNotOwnedByUser
	}
	if subtotal.LessThan(c.MinOrderValue) {
		return nil, ErrBelowMinimumOrder
	}
	return c, nil
}

// Redeem consumes one use of the coupon. Concurrent calls against a coupon
// with a single use left result in exactly one success; the others get
// ErrExhaustedUses.
func (l *Ledger) Redeem(ctx context.Context, couponID string) error {
	uses, err := l.repo.IncrementUses(ctx, couponID)
	if err != nil {
		l.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultOf(err))))
		if errors.Is(err, ErrExhaustedUses) || errors.Is(err, ErrNotFound) {
			return err
		}
		return errors.Wrap(err, "increment coupon uses")
	}
	l.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	zctx.From(ctx).Info("Coupon redeemed",
		zap.String("coupon_id", couponID),
		zap.Int("uses", uses),
	)
	return nil
}

// RedeemCode validates code for userID and subtotal, then consumes one use.
func (l *Ledger) RedeemCode(ctx context.Context, code, userID string, subtotal decimal.Decimal) (*Coupon, error) {
	c, err := l.ValidateForRedemption(ctx, code, userID, subtotal)
	if err != nil {
		return nil, err
	}
	if err := l.Redeem(ctx, c.ID); err != nil {
		return nil, err
	}
	c.Uses++
	return c, nil
}

// Release gives back one use consumed by Redeem. It is only meant for
// redemptions whose order was definitively not paid.
func (l *Ledger) Release(ctx context.Context, couponID string) error {
	if err := l.repo.DecrementUses(ctx, couponID); err != nil {
		return errors.Wrap(err, "decrement coupon uses")
	}
	zctx.From(ctx).Info("Coupon use released", zap.String("coupon_id", couponID))
	return nil
}

// IssueIfAbsent returns the coupon stored under code, creating it from rule
// when no such coupon exists. Calling it again with the same code returns
// the same coupon and changes nothing. The boolean reports whether this call
// created it.
func (l *Ledger) IssueIfAbsent(ctx context.Context, code string, rule Rule) (*Coupon, bool, error) {
	if err := rule.Validate(); err != nil {
		return nil, false, err
	}
	code = NormalizeCode(code)
	if code == "" {
		return nil, false, errors.Wrap(ErrInvalidRule, "empty code")
	}

	c, created, err := l.repo.InsertIfAbsent(ctx, l.newCoupon(code, rule))
	if err != nil {
		return nil, false, errors.Wrap(err, "insert coupon")
	}
	if created {
		zctx.From(ctx).Info("Coupon issued",
			zap.String("code", c.Code),
			zap.String("reason", string(c.Reason)),
			zap.String("subject", c.Subject),
		)
	}
	return c, created, nil
}

// Issue creates (or returns) the coupon for an issuance event, using the
// deterministic code for (reason, subject) and the reason's default rule.
// The boolean reports whether this call created it.
func (l *Ledger) Issue(ctx context.Context, reason Reason, subject, owner string) (*Coupon, bool, error) {
	if !reason.Valid() || reason == ReasonManual {
		return nil, false, errors.Wrapf(ErrInvalidRule, "cannot issue for reason %q", reason)
	}
	if subject == "" {
		return nil, false, errors.Wrap(ErrInvalidRule, "issuance subject required")
	}
	code := DeterministicCode(l.secret, reason, subject)
	return l.IssueIfAbsent(ctx, code, DefaultRule(reason, subject, owner, l.now()))
}

// Issued reports whether the coupon for an issuance event already exists.
func (l *Ledger) Issued(ctx context.Context, reason Reason, subject string) (bool, error) {
	ok, err := l.repo.CodeExists(ctx, DeterministicCode(l.secret, reason, subject))
	if err != nil {
		return false, errors.Wrap(err, "check coupon code")
	}
	return ok, nil
}

// Create stores a new coupon under a freshly generated random code.
func (l *Ledger) Create(ctx context.Context, rule Rule) (*Coupon, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if rule.Reason == "" {
		rule.Reason = ReasonManual
	}

	code, err := l.codes.Generate(ctx, l.repo.CodeExists)
	if err != nil {
		return nil, errors.Wrap(err, "generate coupon code")
	}
	c, created, err := l.repo.InsertIfAbsent(ctx, l.newCoupon(code, rule))
	if err != nil {
		return nil, errors.Wrap(err, "insert coupon")
	}
	if !created {
		// Lost a race for the same random code between CodeExists and insert.
		return nil, errors.Errorf("coupon code %s already taken", code)
	}
	return c, nil
}

// SetActive enables or disables redemption of code.
func (l *Ledger) SetActive(ctx context.Context, code string, active bool) error {
	return l.repo.SetActive(ctx, NormalizeCode(code), active)
}

func (l *Ledger) newCoupon(code string, rule Rule) *Coupon {
	return &Coupon{
		ID:            uuid.New().String(),
		Code:          code,
		DiscountType:  rule.DiscountType,
		DiscountValue: rule.DiscountValue,
		OwnerUserID:   rule.OwnerUserID,
		MinOrderValue: rule.MinOrderValue,
		MaxUses:       rule.MaxUses,
		ExpiresAt:     rule.ExpiresAt,
		Description:   rule.Description,
		Reason:        rule.Reason,
		Subject:       rule.Subject,
		Active:        true,
		CreatedAt:     l.now().UTC(),
	}
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ErrExhaustedUses):
		return "exhausted"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
