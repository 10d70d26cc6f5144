package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
)

func decodeRedemption(w http.ResponseWriter, r *http.Request) (code string, subtotal decimal.Decimal, err error) {
	err = decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		case "subtotal":
			subtotal, err = readDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && code == "" {
		err = badRequest("code is required")
	}
	return code, subtotal, err
}

// ValidateCoupon checks whether a coupon can be redeemed by the caller for a
// subtotal, without redeeming it.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	code, subtotal, err := decodeRedemption(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.coupons.ValidateForRedemption(r.Context(), code, r.Header.Get(UserHeader), subtotal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// RedeemCoupon validates and redeems a coupon in one step.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	code, subtotal, err := decodeRedemption(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.coupons.RedeemCode(r.Context(), code, r.Header.Get(UserHeader), subtotal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// CreateCoupon creates a coupon with a random code.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	rule := coupon.Rule{MaxUses: 1, Reason: coupon.ReasonManual}
	err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "discountType":
			var s string
			s, err = d.Str()
			rule.DiscountType = coupon.DiscountType(s)
		case "discountValue":
			rule.DiscountValue, err = readDecimal(d)
		case "ownerUserId":
			rule.OwnerUserID, err = d.Str()
		case "minOrderValue":
			rule.MinOrderValue, err = readDecimal(d)
		case "maxUses":
			rule.MaxUses, err = d.Int()
		case "expiresAt":
			rule.ExpiresAt, err = readTime(d)
		case "description":
			rule.Description, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.coupons.Create(r.Context(), rule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// IssueCoupon issues the deterministic coupon for an issuance event. Issuing
// the same event twice returns the existing coupon.
func (h *Handler) IssueCoupon(w http.ResponseWriter, r *http.Request) {
	var reason coupon.Reason
	var subject, owner, productID, campaign string
	err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "reason":
			var s string
			s, err = d.Str()
			reason = coupon.Reason(s)
		case "subject":
			subject, err = d.Str()
		case "ownerUserId":
			owner, err = d.Str()
		case "productId":
			productID, err = d.Str()
		case "campaign":
			campaign, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch reason {
	case coupon.ReasonReview:
		if owner == "" || productID == "" {
			writeError(w, r, badRequest("review coupons need ownerUserId and productId"))
			return
		}
		subject = coupon.ReviewSubject(owner, productID)
	case coupon.ReasonAdminBulk:
		if campaign != "" {
			subject = coupon.CampaignSubject(campaign, subject)
		}
	}

	c, created, err := h.coupons.Issue(r.Context(), reason, subject, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// UpdateCoupon activates or deactivates a coupon.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var active *bool
	err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		if key != "active" {
			return d.Skip()
		}
		v, err := d.Bool()
		active = &v
		return err
	})
	if err == nil && active == nil {
		err = badRequest("active is required")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.coupons.SetActive(r.Context(), chi.URLParam(r, "code"), *active); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
