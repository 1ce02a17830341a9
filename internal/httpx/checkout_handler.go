package httpx

import (
	"github.com/ariefcatur/go-checkout-saga/internal/checkout"
	"github.com/go-chi/chi/v5"
	"log/slog"
	"net/http"
)

type CheckoutHandler struct {
	Checkout *checkout.Coordinator
	Logger   *slog.Logger
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout", h.processCheckout)
	r.Post("/checkout/payment-order", h.createPaymentOrder)
	r.Get("/checkout/summary", h.summary)
}

// processCheckout takes the user from X-User-Id and the idempotency key from
// the Idempotency-Key header, which wins over the body field.
func (h *CheckoutHandler) processCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	req.UserID = r.Header.Get(HeaderUserID)
	if k := r.Header.Get(HeaderIdempotencyKey); k != "" {
		req.IdempotencyKey = k
	}

	o, err := h.Checkout.ProcessCheckout(r.Context(), req)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

type paymentOrderReq struct {
	CouponCode string `json:"coupon_code"`
}

func (h *CheckoutHandler) createPaymentOrder(w http.ResponseWriter, r *http.Request) {
	var req paymentOrderReq
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, r, h.Logger, err)
			return
		}
	}
	po, err := h.Checkout.CreatePaymentOrder(r.Context(), r.Header.Get(HeaderUserID), req.CouponCode, r.Header.Get(HeaderIdempotencyKey))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, po)
}

func (h *CheckoutHandler) summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Checkout.Summary(r.Context(), r.Header.Get(HeaderUserID), r.URL.Query().Get("coupon"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
