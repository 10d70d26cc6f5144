package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

func decodeQuoteRequest(w http.ResponseWriter, r *http.Request) (order.QuoteRequest, error) {
	req := order.QuoteRequest{UserID: r.Header.Get(UserHeader)}
	err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = readItems(d)
		case "couponCode":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.CouponCode, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

// QuoteOrder prices a cart without saving it.
func (h *Handler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuoteRequest(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.orders.Quote(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, res.Items, res.Quote) })
}

// PlaceOrder creates a pending order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuoteRequest(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/order/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// GetOrder returns an order owned by the caller.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"), r.Header.Get(UserHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// CheckoutOrder recomputes the order total and captures the payment.
func (h *Handler) CheckoutOrder(w http.ResponseWriter, r *http.Request) {
	req := order.CheckoutRequest{
		OrderID: chi.URLParam(r, "id"),
		UserID:  r.Header.Get(UserHeader),
	}
	err := decodeBody(w, r, true, func(d *jx.Decoder, key string) error {
		if key == "dropCoupon" {
			var err error
			req.DropCoupon, err = d.Bool()
			return err
		}
		return d.Skip()
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.orders.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCheckout(w, res)
}

// ReconcileOrder settles a payment whose outcome was unknown or waiting on
// the customer.
func (h *Handler) ReconcileOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"), r.Header.Get(UserHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.orders.Reconcile(r.Context(), o.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCheckout(w, res)
}

// checkoutStatus maps an outcome to the response status: 200 when paid, 202
// while the payment is still open and 402 when declined.
func checkoutStatus(o order.Outcome) int {
	switch o {
	case order.OutcomePaid:
		return http.StatusOK
	case order.OutcomeDeclined:
		return http.StatusPaymentRequired
	default:
		return http.StatusAccepted
	}
}

func writeCheckout(w http.ResponseWriter, res *order.CheckoutResult) {
	writeJSON(w, checkoutStatus(res.Outcome), func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("outcome", func(e *jx.Encoder) { e.Str(string(res.Outcome)) })
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
			optStr(e, "redirectUrl", res.RedirectURL)
			optStr(e, "declineReason", res.DeclineReason)
			if res.CouponDropped {
				e.Field("couponDropped", func(e *jx.Encoder) { e.Bool(true) })
			}
		})
	})
}

// UpdateOrderStatus moves an order through its lifecycle.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var (
		to       order.Status
		override bool
	)
	err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			to = order.Status(s)
			return err
		case "override":
			var err error
			override, err = d.Bool()
			return err
		default:
			return d.Skip()
		}
	})
	if err == nil && !to.Valid() {
		err = badRequest("unknown status %q", to)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Transition(r.Context(), chi.URLParam(r, "id"), to, override)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
