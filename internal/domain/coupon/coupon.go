package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the running order total.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a flat amount off the running order total.
	DiscountFixed DiscountType = "fixed"
)

// Redemption failures. Every one of them is user-facing: the message is
// safe to show as-is and the caller decides whether to reject the action or
// proceed without the coupon.
var (
	ErrNotFound          = errors.New("coupon not found")
	ErrExpired           = errors.New("coupon has expired")
	ErrExhaustedUses     = errors.New("coupon has no uses left")
	ErrNotOwnedByUser    = errors.New("coupon belongs to another customer")
	ErrBelowMinimumOrder = errors.New("order total is below the coupon minimum")
)

// Rejected reports whether err is a redemption failure, as opposed to an
// error reaching the ledger.
func Rejected(err error) bool {
	for _, target := range []error{ErrNotFound, ErrExpired, ErrExhaustedUses, ErrNotOwnedByUser, ErrBelowMinimumOrder} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrInvalidRule is returned when a coupon rule cannot be persisted.
var ErrInvalidRule = errors.New("invalid coupon rule")

// Coupon is a redeemable discount record.
type Coupon struct {
	ID            string
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	// OwnerUserID restricts redemption to a single customer when set.
	OwnerUserID string
	// MinOrderValue blocks redemption below this subtotal; zero means none.
	MinOrderValue decimal.Decimal
	MaxUses       int
	Uses          int
	ExpiresAt     *time.Time
	Description   string
	Reason        Reason
	Subject       string
	Active        bool
	CreatedAt     time.Time
}

// Rule describes a coupon to be created. It is the mutable subset of Coupon
// an issuer controls.
type Rule struct {
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	OwnerUserID   string
	MinOrderValue decimal.Decimal
	MaxUses       int
	ExpiresAt     *time.Time
	Description   string
	Reason        Reason
	Subject       string
}

// Validate checks the rule invariants.
func (r Rule) Validate() error {
	switch r.DiscountType {
	case DiscountPercentage:
		if r.DiscountValue.IsNegative() || r.DiscountValue.GreaterThan(hundred) {
			return errors.Wrap(ErrInvalidRule, "percentage must be between 0 and 100")
		}
	case DiscountFixed:
		if r.DiscountValue.IsNegative() {
			return errors.Wrap(ErrInvalidRule, "fixed discount must not be negative")
		}
	default:
		return errors.Wrapf(ErrInvalidRule, "unsupported discount type %q", r.DiscountType)
	}
	if r.MaxUses < 1 {
		return errors.Wrap(ErrInvalidRule, "max uses must be positive")
	}
	if r.MinOrderValue.IsNegative() {
		return errors.Wrap(ErrInvalidRule, "minimum order value must not be negative")
	}
	return nil
}

// Remaining returns the number of redemptions still available.
func (c *Coupon) Remaining() int {
	if n := c.MaxUses - c.Uses; n > 0 {
		return n
	}
	return 0
}

var hundred = decimal.NewFromInt(100)

// NormalizeCode canonicalizes a coupon code. Codes compare case-insensitively,
// so every boundary stores and looks them up upper-cased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository persists coupons. Implementations must make IncrementUses and
// DecrementUses atomic conditional updates.
type Repository interface {
	// FindByCode returns the active coupon with the given normalized code, or
	// ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// InsertIfAbsent stores c unless a coupon with the same code exists, in
	// which case the stored coupon is returned untouched. The boolean reports
	// whether c was created.
	InsertIfAbsent(ctx context.Context, c *Coupon) (*Coupon, bool, error)
	// CodeExists reports whether any coupon, active or not, uses code.
	CodeExists(ctx context.Context, code string) (bool, error)
	// IncrementUses adds one use when uses < max_uses. It returns
	// ErrExhaustedUses when no use is left and ErrNotFound for unknown ids.
	IncrementUses(ctx context.Context, id string) (int, error)
	// DecrementUses gives one use back when uses > 0.
	DecrementUses(ctx context.Context, id string) error
	// SetActive toggles the active flag for code.
	SetActive(ctx context.Context, code string, active bool) error
}
