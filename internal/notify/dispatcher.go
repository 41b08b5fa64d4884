package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var ErrNotification = errors.New("notification delivery failed")

// Transport delivers a rendered payload and returns the provider message id.
type Transport interface {
	Deliver(ctx context.Context, p Payload) (string, error)
}

// Result is the outcome of one send. Err wraps ErrNotification on failure.
type Result struct {
	Kind      Kind   `json:"kind"`
	To        string `json:"to"`
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	Err       error  `json:"-"`
}

func Failed(p Payload, err error) Result {
	if !errors.Is(err, ErrNotification) {
		err = fmt.Errorf("%w: %w", ErrNotification, err)
	}
	return Result{Kind: p.Kind, To: p.To, Error: err.Error(), Err: err}
}

// Dispatcher sends payloads through a Transport. Send never panics and never
// returns an error; callers decide what a failed Result means.
type Dispatcher struct {
	transport Transport
}

func NewDispatcher(t Transport) *Dispatcher {
	return &Dispatcher{transport: t}
}

func (d *Dispatcher) Send(ctx context.Context, p Payload) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "[notify] transport panic", "kind", p.Kind, "to", p.To, "panic", r)
			res = Failed(p, fmt.Errorf("transport panic: %v", r))
		}
	}()

	id, err := d.transport.Deliver(ctx, p)
	if err != nil {
		slog.WarnContext(ctx, "[notify] delivery failed", "kind", p.Kind, "to", p.To, "error", err)
		return Failed(p, err)
	}
	slog.InfoContext(ctx, "[notify] email sent", "kind", p.Kind, "to", p.To, "message_id", id)
	return Result{Kind: p.Kind, To: p.To, Success: true, MessageID: id}
}
