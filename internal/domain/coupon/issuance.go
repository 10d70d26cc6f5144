package coupon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Reason identifies why a coupon was issued.
type Reason string

const (
	ReasonOrderCompleted Reason = "order_completed"
	ReasonReview         Reason = "review"
	ReasonNewsletter     Reason = "newsletter"
	ReasonAdminBulk      Reason = "admin_bulk"
	// ReasonManual marks coupons created by an admin with a random code.
	ReasonManual Reason = "manual"
)

// prefixes keep deterministic codes readable for support staff.
var prefixes = map[Reason]string{
	ReasonOrderCompleted: "THANKS",
	ReasonReview:         "REVIEW",
	ReasonNewsletter:     "NEWS",
	ReasonAdminBulk:      "PROMO",
}

// Valid reports whether r is a known issuance reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonOrderCompleted, ReasonReview, ReasonNewsletter, ReasonAdminBulk, ReasonManual:
		return true
	}
	return false
}

const deterministicSuffixLen = 10

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// DeterministicCode derives the coupon code for a (reason, subject) pair.
// The same secret, reason and subject always produce the same code, which is
// what makes issuance idempotent: a second issuance collides on the unique
// code instead of creating another live coupon.
func DeterministicCode(secret []byte, reason Reason, subject string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(reason))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(subject))))
	sum := codeEncoding.EncodeToString(mac.Sum(nil))

	prefix, ok := prefixes[reason]
	if !ok {
		prefix = "CPN"
	}
	return prefix + "-" + sum[:deterministicSuffixLen]
}

// ReviewSubject builds the issuance subject for a product review coupon.
func ReviewSubject(userID, productID string) string {
	return userID + "/" + productID
}

// CampaignSubject builds the issuance subject for a bulk campaign recipient.
func CampaignSubject(campaign, recipient string) string {
	return campaign + "/" + recipient
}

// DefaultRule returns the rule template used for an issuance reason. owner
// may be empty for coupons that are not tied to an account (newsletter).
func DefaultRule(reason Reason, subject, owner string, now time.Time) Rule {
	rule := Rule{
		DiscountType: DiscountPercentage,
		MaxUses:      1,
		OwnerUserID:  owner,
		Reason:       reason,
		Subject:      subject,
	}

	var ttl time.Duration
	switch reason {
	case ReasonOrderCompleted:
		rule.DiscountValue = decimal.NewFromInt(10)
		rule.Description = "10% off your next order"
		ttl = 60 * 24 * time.Hour
	case ReasonReview:
		rule.DiscountValue = decimal.NewFromInt(5)
		rule.Description = "5% off for reviewing a product"
		ttl = 30 * 24 * time.Hour
	case ReasonNewsletter:
		rule.DiscountValue = decimal.NewFromInt(10)
		rule.MinOrderValue = decimal.NewFromInt(500)
		rule.Description = "Welcome: 10% off orders over 500"
		ttl = 30 * 24 * time.Hour
	default:
		rule.DiscountValue = decimal.NewFromInt(5)
		rule.Description = "5% off"
		ttl = 14 * 24 * time.Hour
	}

	expires := now.Add(ttl)
	rule.ExpiresAt = &expires
	return rule
}
