package orderflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/quickcart-orderflow/internal/notify"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
	"github.com/imrishuroy/quickcart-orderflow/internal/pricing"
)

// Mode selects how an accepted order reaches the store.
type Mode string

const (
	// ModeDirect persists and notifies within the request.
	ModeDirect Mode = "direct"
	// ModeBatch hands events to the in-process batcher.
	ModeBatch Mode = "batch"
	// ModeQueue publishes events to SQS for the worker.
	ModeQueue Mode = "queue"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDirect, ModeBatch, ModeQueue:
		return m, nil
	}
	return "", fmt.Errorf("unknown dispatch mode %q", s)
}

type Pricer interface {
	Resolve(ctx context.Context, lines []pricing.CartLine) (pricing.Quote, error)
}

type OrderCreator interface {
	Create(ctx context.Context, d orders.Draft) (*orders.Order, error)
}

type CartClearer interface {
	ClearCart(ctx context.Context, userID string) error
}

// EventSink accepts an order event for later persistence.
type EventSink interface {
	Publish(ctx context.Context, ev orders.CreatedEvent) error
}

type IntakeDeps struct {
	Pricer   Pricer
	Store    OrderCreator
	Sink     EventSink
	Carts    CartClearer
	Notifier *Notifier
}

type PlaceResult struct {
	OrderID       string          `json:"orderId,omitempty"`
	EventID       string          `json:"eventId,omitempty"`
	Enqueued      bool            `json:"enqueued,omitempty"`
	Message       string          `json:"message"`
	Amount        int64           `json:"amount"`
	EmailSent     *bool           `json:"emailSent,omitempty"`
	Notifications []notify.Result `json:"-"`
}

type Intake struct {
	mode       Mode
	deps       IntakeDeps
	validate   *validator.Validate
	newEventID func() string
	nowFunc    func() time.Time
}

func NewIntake(mode Mode, deps IntakeDeps) (*Intake, error) {
	if deps.Pricer == nil || deps.Carts == nil {
		return nil, errors.New("intake: pricer and cart clearer are required")
	}
	switch mode {
	case ModeDirect:
		if deps.Store == nil || deps.Notifier == nil {
			return nil, errors.New("intake: direct mode needs a store and a notifier")
		}
	case ModeBatch, ModeQueue:
		if deps.Sink == nil {
			return nil, fmt.Errorf("intake: %s mode needs an event sink", mode)
		}
	default:
		return nil, fmt.Errorf("intake: unknown mode %q", mode)
	}
	return &Intake{
		mode:       mode,
		deps:       deps,
		validate:   validator.New(),
		newEventID: uuid.NewString,
		nowFunc:    time.Now,
	}, nil
}

func (in *Intake) Mode() Mode { return in.mode }

// PlaceOrder prices the cart, hands the order to the configured mode and clears
// the caller's cart once the order has been accepted.
func (in *Intake) PlaceOrder(ctx context.Context, callerID string, addr *orders.Address, lines []pricing.CartLine) (PlaceResult, error) {
	if callerID == "" {
		return PlaceResult{}, fmt.Errorf("%w: caller is required", ErrInvalidRequest)
	}
	if addr == nil {
		return PlaceResult{}, fmt.Errorf("%w: address is required", ErrInvalidRequest)
	}
	if err := in.validate.Struct(addr); err != nil {
		return PlaceResult{}, fmt.Errorf("%w: address: %w", ErrInvalidRequest, err)
	}
	if len(lines) == 0 {
		return PlaceResult{}, fmt.Errorf("%w: cart is empty", ErrInvalidRequest)
	}

	quote, err := in.deps.Pricer.Resolve(ctx, lines)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidQuantity) {
			return PlaceResult{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return PlaceResult{}, err
	}

	draft := orders.Draft{
		UserID:  callerID,
		Items:   quote.Items,
		Amount:  quote.Amount,
		Address: *addr,
		Date:    in.nowFunc().UTC(),
	}

	var res PlaceResult
	if in.mode == ModeDirect {
		res, err = in.placeDirect(ctx, draft)
	} else {
		res, err = in.enqueue(ctx, draft)
	}
	if err != nil {
		return PlaceResult{}, err
	}
	res.Amount = quote.Amount

	if err := in.deps.Carts.ClearCart(ctx, callerID); err != nil {
		slog.WarnContext(ctx, "[intake] clear cart failed", "user_id", callerID, "order_id", res.OrderID, "error", err)
	}
	return res, nil
}

func (in *Intake) placeDirect(ctx context.Context, d orders.Draft) (PlaceResult, error) {
	o, err := in.deps.Store.Create(ctx, d)
	if err != nil {
		return PlaceResult{}, err
	}
	slog.InfoContext(ctx, "[intake] order created", "order_id", o.ID, "user_id", o.UserID, "amount", o.Amount)

	_, results := in.deps.Notifier.OrderPlaced(ctx, *o)
	sent := results[0].Success
	if !sent {
		slog.WarnContext(ctx, "[intake] confirmation email not sent", "order_id", o.ID, "error", results[0].Error)
	}
	return PlaceResult{
		OrderID:       o.ID,
		Message:       "Order Placed",
		EmailSent:     &sent,
		Notifications: results,
	}, nil
}

func (in *Intake) enqueue(ctx context.Context, d orders.Draft) (PlaceResult, error) {
	ev := orders.CreatedEvent{
		EventID: in.newEventID(),
		UserID:  d.UserID,
		Address: d.Address,
		Items:   d.Items,
		Amount:  d.Amount,
		Date:    d.Date,
	}
	if err := in.deps.Sink.Publish(ctx, ev); err != nil {
		return PlaceResult{}, fmt.Errorf("%w: enqueue order event: %w", orders.ErrPersistence, err)
	}
	slog.InfoContext(ctx, "[intake] order enqueued", "event_id", ev.EventID, "user_id", ev.UserID, "mode", in.mode)
	return PlaceResult{
		EventID:  ev.EventID,
		Enqueued: true,
		Message:  "Order Placed",
	}, nil
}
