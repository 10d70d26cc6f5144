package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return errors.Wrapf(errBadRequest, format, args...)
}

// apiError is the HTTP rendition of a domain error.
type apiError struct {
	status  int
	reason  string
	message string
}

// couponReasons lists redemption failures in the order they are checked.
var couponReasons = []struct {
	err    error
	reason string
}{
	{coupon.ErrNotFound, "coupon_not_found"},
	{coupon.ErrExpired, "coupon_expired"},
	{coupon.ErrExhaustedUses, "coupon_exhausted"},
	{coupon.ErrNotOwnedByUser, "coupon_not_owned"},
	{coupon.ErrBelowMinimumOrder, "below_minimum_order"},
}

// classify maps err to a status, a stable reason code and a message that is
// safe to show to the end user.
func classify(err error) (apiError, bool) {
	for _, c := range couponReasons {
		if errors.Is(err, c.err) {
			return apiError{http.StatusUnprocessableEntity, c.reason, c.err.Error()}, true
		}
	}

	var (
		qtyErr     *pricing.InvalidQuantityError
		priceErr   *pricing.ProductPriceMissingError
		productErr *order.ProductNotFoundError
		fsmErr     *order.InvalidTransitionError
	)
	switch {
	case errors.Is(err, errBadRequest):
		return apiError{http.StatusBadRequest, "invalid_request", err.Error()}, true
	case errors.Is(err, pricing.ErrEmptyCart):
		return apiError{http.StatusUnprocessableEntity, "empty_cart", err.Error()}, true
	case errors.As(err, &qtyErr):
		return apiError{http.StatusUnprocessableEntity, "invalid_quantity", qtyErr.Error()}, true
	case errors.As(err, &priceErr):
		return apiError{http.StatusUnprocessableEntity, "product_price_missing", priceErr.Error()}, true
	case errors.As(err, &productErr):
		return apiError{http.StatusUnprocessableEntity, "product_not_found", productErr.Error()}, true
	case errors.Is(err, coupon.ErrInvalidRule):
		return apiError{http.StatusUnprocessableEntity, "invalid_coupon_rule", err.Error()}, true
	case errors.Is(err, order.ErrNotFound):
		return apiError{http.StatusNotFound, "order_not_found", err.Error()}, true
	case errors.As(err, &fsmErr):
		return apiError{http.StatusConflict, "invalid_transition", fsmErr.Error()}, true
	case errors.Is(err, order.ErrNotPending):
		return apiError{http.StatusConflict, "order_not_pending", err.Error()}, true
	case errors.Is(err, order.ErrNotPaid):
		return apiError{http.StatusConflict, "order_not_paid", err.Error()}, true
	case errors.Is(err, order.ErrPaymentInProgress):
		return apiError{http.StatusConflict, "payment_in_progress", err.Error()}, true
	case errors.Is(err, order.ErrNothingToSettle):
		return apiError{http.StatusConflict, "nothing_to_settle", err.Error()}, true
	case errors.Is(err, order.ErrStatusConflict):
		return apiError{http.StatusConflict, "conflict", err.Error()}, true
	case errors.Is(err, payment.ErrRejected):
		return apiError{http.StatusBadGateway, "payment_error", "payment processor rejected the request"}, true
	}
	return apiError{}, false
}

// writeError renders err. Unknown errors are logged and hidden behind a
// generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := classify(err)
	if !ok {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		e = apiError{http.StatusInternalServerError, "internal", "internal server error"}
	}
	httpmiddleware.WriteError(w, e.status, e.reason, e.message)
}
