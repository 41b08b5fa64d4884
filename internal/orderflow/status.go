package orderflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/imrishuroy/quickcart-orderflow/internal/notify"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
)

type StatusStore interface {
	FindByID(ctx context.Context, orderID string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID, from, to string) (*orders.Order, error)
}

// StatusNotifier tells customers about status changes. Unlike placement,
// a failed email here is returned to the caller.
type StatusNotifier struct {
	store    StatusStore
	notifier *Notifier
}

func NewStatusNotifier(store StatusStore, notifier *Notifier) *StatusNotifier {
	return &StatusNotifier{store: store, notifier: notifier}
}

func validateStatusRequest(orderID, newStatus string) error {
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	if newStatus == "" {
		return fmt.Errorf("%w: new status is required", ErrInvalidRequest)
	}
	if !orders.IsValidStatus(newStatus) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, newStatus)
	}
	return nil
}

// Notify emails the order's address about newStatus without changing the order.
func (s *StatusNotifier) Notify(ctx context.Context, orderID, newStatus string) (notify.Result, error) {
	if err := validateStatusRequest(orderID, newStatus); err != nil {
		return notify.Result{}, err
	}
	o, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		return notify.Result{}, err
	}
	return s.dispatch(ctx, *o, newStatus)
}

// Advance moves the order to newStatus if the transition is allowed, then
// notifies the customer. The updated order is returned even if the email fails.
func (s *StatusNotifier) Advance(ctx context.Context, orderID, newStatus string) (*orders.Order, notify.Result, error) {
	if err := validateStatusRequest(orderID, newStatus); err != nil {
		return nil, notify.Result{}, err
	}
	current, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, notify.Result{}, err
	}
	if !orders.CanTransition(current.Status, newStatus) {
		return nil, notify.Result{}, fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, current.Status, newStatus)
	}

	updated, err := s.store.UpdateStatus(ctx, orderID, current.Status, newStatus)
	if err != nil {
		return nil, notify.Result{}, err
	}
	slog.InfoContext(ctx, "[status] order updated", "order_id", orderID, "from", current.Status, "to", newStatus)

	res, err := s.dispatch(ctx, *updated, newStatus)
	return updated, res, err
}

func (s *StatusNotifier) dispatch(ctx context.Context, o orders.Order, newStatus string) (notify.Result, error) {
	res := s.notifier.StatusChanged(ctx, o, newStatus)
	if !res.Success {
		return res, res.Err
	}
	return res, nil
}
