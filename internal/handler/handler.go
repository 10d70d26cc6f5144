// Package handler exposes the order and coupon services over a JSON HTTP
// API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// UserHeader carries the customer id. Sessions are handled by the calling
// storefront, which is trusted through its API key.
const UserHeader = "X-User-ID"

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// APIKeyPepper is the HMAC key API keys are hashed with.
	APIKeyPepper []byte
	// CouponRateLimit limits coupon validation and redemption per API key to
	// slow down code guessing. A zero Max disables the limit.
	CouponRateLimit httpmiddleware.RateLimitConfig
}

// Handler maps HTTP requests onto the order service and coupon ledger.
type Handler struct {
	orders  *order.Service
	coupons *coupon.Ledger
	apikeys auth.Repository
	cfg     HandlerConfig
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	orders *order.Service,
	coupons *coupon.Ledger,
	apikeys auth.Repository,
) *Handler {
	return &Handler{
		orders:  orders,
		coupons: coupons,
		apikeys: apikeys,
		cfg:     cfg,
	}
}

// Routes mounts the API under r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(httpmiddleware.Labeler)
		r.Use(h.authenticate)
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			httpmiddleware.WriteError(w, http.StatusNotFound, "not_found", "no such endpoint")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
			httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		})

		r.Group(func(r chi.Router) {
			r.Use(requireScope(auth.ScopeStore))

			r.Post("/order/quote", h.QuoteOrder)
			r.Post("/order", h.PlaceOrder)
			r.Get("/order/{id}", h.GetOrder)
			r.Post("/order/{id}/checkout", h.CheckoutOrder)
			r.Post("/order/{id}/reconcile", h.ReconcileOrder)

			r.Group(func(r chi.Router) {
				if h.cfg.CouponRateLimit.Max > 0 {
					cfg := h.cfg.CouponRateLimit
					cfg.KeyFunc = apiKeyID
					r.Use(httpmiddleware.RateLimit(cfg))
				}
				r.Post("/coupon/validate", h.ValidateCoupon)
				r.Post("/coupon/redeem", h.RedeemCoupon)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireScope(auth.ScopeAdmin))

			r.Post("/coupon", h.CreateCoupon)
			r.Post("/coupon/issue", h.IssueCoupon)
			r.Patch("/coupon/{code}", h.UpdateCoupon)
			r.Patch("/order/{id}/status", h.UpdateOrderStatus)
		})
	})
}
