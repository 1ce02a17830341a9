package checkout

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"log/slog"
)

// replay is what the idempotency store keeps for a checkout key: either the
// committed order or the terminal error of a compensated attempt.
type replay struct {
	Order *orders.Order `json:"order,omitempty"`
	Error *replayError  `json:"error,omitempty"`
}

type replayError struct {
	Kind    apperr.Kind `json:"kind"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

func (r *replay) result() (*orders.Order, error) {
	if r.Error != nil {
		return nil, apperr.New(r.Error.Kind, r.Error.Code, r.Error.Message)
	}
	return r.Order, nil
}

// replayKey scopes the caller's key to the user, so a key presented by
// someone else never finds another user's checkout.
func replayKey(req Request) string {
	if req.IdempotencyKey == "" {
		return ""
	}
	return req.UserID + ":" + req.IdempotencyKey
}

// lookup never fails the checkout: an unreachable or unreadable store is
// treated as a miss.
func (c *Coordinator) lookup(ctx context.Context, req Request) (*replay, bool) {
	key := replayKey(req)
	if key == "" || c.Idempotency == nil {
		return nil, false
	}
	b, ok, err := c.Idempotency.Get(ctx, key)
	if err != nil {
		c.Logger.WarnContext(ctx, "idempotency lookup failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var r replay
	if err := json.Unmarshal(b, &r); err != nil || (r.Order == nil && r.Error == nil) {
		c.Logger.WarnContext(ctx, "idempotency record unreadable", slog.String("key", key))
		return nil, false
	}
	return &r, true
}

func (c *Coordinator) remember(ctx context.Context, req Request, o *orders.Order, failure error) {
	key := replayKey(req)
	if key == "" || c.Idempotency == nil {
		return
	}
	r := replay{Order: o}
	if failure != nil {
		r.Error = &replayError{
			Kind:    apperr.KindOf(failure),
			Code:    apperr.CodeOf(failure),
			Message: apperr.Message(failure),
		}
	}
	b, err := json.Marshal(r)
	if err == nil {
		err = c.Idempotency.Save(ctx, key, b)
	}
	if err != nil {
		c.Logger.WarnContext(ctx, "idempotency save failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
