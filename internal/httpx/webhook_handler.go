package httpx

import (
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/gateway"
	"github.com/ariefcatur/go-checkout-saga/internal/metrics"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"io"
	"log/slog"
	"net/http"
)

// WebhookHandler verifies provider notifications and hands them to the
// reconciler through payment.webhook. Nothing is applied inline.
type WebhookHandler struct {
	Gateway gateway.Gateway
	Events  orders.Publisher
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Service string
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/payments", h.receive)
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, r, h.Logger, apperr.Invalid("INVALID_BODY", "could not read body"))
		return
	}
	if err := h.Gateway.VerifyWebhookSignature(body, r.Header.Get(HeaderSignature)); err != nil {
		h.Metrics.Webhook("rejected")
		h.Logger.WarnContext(r.Context(), "webhook signature mismatch",
			slog.String("request_id", middleware.GetReqID(r.Context())))
		writeError(w, r, h.Logger, apperr.Invalid(apperr.CodeSignatureMismatch, "webhook signature mismatch"))
		return
	}
	ev, err := h.Gateway.DecodeWebhook(body)
	if err != nil {
		h.Metrics.Webhook("malformed")
		writeError(w, r, h.Logger, apperr.Invalid("INVALID_WEBHOOK", err.Error()))
		return
	}

	key := ev.ID
	if ev.Payment != nil && ev.Payment.OrderID != "" {
		key = ev.Payment.OrderID
	}
	env, err := orders.NewEnvelope(orders.EventPaymentWebhookReceived, h.Service, key, middleware.GetReqID(r.Context()),
		orders.PaymentWebhookPayload{EventID: ev.ID, Event: ev.Event, Body: body})
	if err == nil {
		err = h.Events.Publish(r.Context(), orders.TopicPaymentWebhook, []byte(key), env)
	}
	if err != nil {
		// The provider redelivers on non-2xx.
		h.Logger.ErrorContext(r.Context(), "queue webhook failed",
			slog.String("event_id", ev.ID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]errorBody{"error": {Code: "RETRY_LATER", Message: "webhook not queued"}})
		return
	}
	h.Metrics.Webhook("queued")
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": ev.ID})
}
