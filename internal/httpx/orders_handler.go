package httpx

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/ariefcatur/go-checkout-saga/internal/payments"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"log/slog"
	"net/http"
	"time"
)

type OrdersHandler struct {
	Orders       orders.Repository
	Status       *orders.StatusService
	Transactions payments.Repository
	Redis        redis.Cmdable
	Logger       *slog.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Get("/orders/{id}/payments", h.listPayments)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Post("/orders/status/bulk", h.bulkStatus)
	r.Get("/payments/{id}", h.getPayment)
}

// statusView is what the status cache holds.
type statusView struct {
	OrderID   string        `json:"order_id"`
	Number    string        `json:"order_number"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (h *OrdersHandler) load(ctx context.Context, id string) (*orders.Order, error) {
	o, err := h.Orders.Get(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		o, err = h.Orders.GetByNumber(ctx, id)
	}
	if errors.Is(err, orders.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeNotFound, "order "+id+" not found")
	}
	if err != nil {
		return nil, apperr.Storage(err, "could not load order")
	}
	return o, nil
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus serves from the Redis cache and falls back to the database.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	id := chi.URLParam(r, "id")
	key := redisx.OrderStatusKey(id)

	var v statusView
	if h.Redis != nil {
		if ok, err := redisx.GetJSON(ctx, h.Redis, key, &v); err == nil && ok {
			w.Header().Set("X-Cache", "hit")
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	o, err := h.load(ctx, id)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	v = statusView{OrderID: o.ID, Number: o.Number, Status: o.Status, UpdatedAt: o.UpdatedAt}
	if h.Redis != nil {
		_ = redisx.SetJSON(ctx, h.Redis, key, v, redisx.TTLStatusCache)
	}
	w.Header().Set("X-Cache", "miss")
	writeJSON(w, http.StatusOK, v)
}

type statusReq struct {
	Status string `json:"status"`
}

type bulkStatusReq struct {
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
}

func actor(r *http.Request) string {
	if u := r.Header.Get(HeaderUserID); u != "" {
		return u
	}
	return "admin"
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	id := chi.URLParam(r, "id")
	o, err := h.Status.Transition(r.Context(), id, req.Status, actor(r))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	h.invalidate(r.Context(), id, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) bulkStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, h.Logger, apperr.Invalid("MISSING_IDS", "ids are required"))
		return
	}
	res := h.Status.BulkTransition(r.Context(), req.IDs, req.Status, actor(r))
	for _, br := range res {
		h.invalidate(r.Context(), br.ID, br.Order)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": res})
}

func (h *OrdersHandler) invalidate(ctx context.Context, id string, o *orders.Order) {
	if h.Redis == nil {
		return
	}
	keys := []string{id}
	if o != nil {
		keys = append(keys, o.ID, o.PublicID, o.Number)
	}
	for _, k := range keys {
		if err := redisx.Forget(ctx, h.Redis, redisx.OrderStatusKey(k)); err != nil && h.Logger != nil {
			h.Logger.WarnContext(ctx, "status cache invalidation failed",
				slog.String("order_id", k), slog.String("error", err.Error()))
		}
	}
}

func (h *OrdersHandler) listPayments(w http.ResponseWriter, r *http.Request) {
	o, err := h.load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	txns, err := h.Transactions.ListByOrder(r.Context(), o.ID)
	if err != nil {
		writeError(w, r, h.Logger, apperr.Storage(err, "could not list payments"))
		return
	}
	if txns == nil {
		txns = []*payments.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

func (h *OrdersHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.Transactions.Get(r.Context(), id)
	if errors.Is(err, payments.ErrNotFound) {
		writeError(w, r, h.Logger, apperr.NotFound(apperr.CodeNotFound, "payment "+id+" not found"))
		return
	}
	if err != nil {
		writeError(w, r, h.Logger, apperr.Storage(err, "could not load payment"))
		return
	}
	writeJSON(w, http.StatusOK, t)
}
