package orders

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/cockroachdb/errors"
	"log/slog"
)

// StatusService applies operator and return-flow transitions. The checkout
// saga advances pending orders through the repository directly inside its
// unit of work.
type StatusService struct {
	Repo    Repository
	Events  Publisher
	Logger  *slog.Logger
	Service string
}

func (s *StatusService) Transition(ctx context.Context, id, target, actor string) (*Order, error) {
	to, err := ParseStatus(target)
	if err != nil {
		return nil, apperr.Invalid(apperr.CodeInvalidStatus, err.Error())
	}
	o, err := s.Repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, apperr.Storage(err, "could not load order")
	}
	from := o.Status
	if from == to {
		return o, nil
	}
	if !CanTransition(from, to) {
		return nil, apperr.Conflict(apperr.CodeInvalidTransition, "cannot move order from "+string(from)+" to "+string(to))
	}

	switch err := s.Repo.UpdateStatus(ctx, o.ID, from, to, actor); {
	case errors.Is(err, ErrStatusConflict):
		return nil, apperr.Conflict(apperr.CodeInvalidTransition, "order status changed concurrently, retry")
	case errors.Is(err, ErrNotFound):
		return nil, apperr.NotFound(apperr.CodeNotFound, "order not found")
	case err != nil:
		return nil, apperr.Storage(err, "could not update order status")
	}
	o.Status = to
	o.UpdatedBy = actor

	s.publish(ctx, o, from, actor)
	return o, nil
}

type BulkResult struct {
	ID     string `json:"id"`
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	// Order is the transitioned order, nil on error.
	Order *Order `json:"-"`
}

// BulkTransition applies the same target to every id; one failure does not
// stop the rest.
func (s *StatusService) BulkTransition(ctx context.Context, ids []string, target, actor string) []BulkResult {
	out := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		o, err := s.Transition(ctx, id, target, actor)
		if err != nil {
			out = append(out, BulkResult{ID: id, Error: apperr.Message(err)})
			continue
		}
		out = append(out, BulkResult{ID: id, Status: o.Status, Order: o})
	}
	return out
}

func (s *StatusService) publish(ctx context.Context, o *Order, from Status, actor string) {
	if s.Events == nil {
		return
	}
	env, err := NewEnvelope(EventOrderStatusChanged, s.Service, o.ID, "", OrderStatusChangedPayload{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		From:        from,
		To:          o.Status,
		Actor:       actor,
		Items:       ItemsQty(o.Items),
	})
	if err == nil {
		err = s.Events.Publish(ctx, TopicOrderStatusChanged, PartitionKey(o.ID), env)
	}
	if err != nil && s.Logger != nil {
		s.Logger.ErrorContext(ctx, "publish order status change failed",
			slog.String("order_id", o.ID), slog.String("error", err.Error()))
	}
}
