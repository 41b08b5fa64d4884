// Package orderflow wires pricing, persistence and notification into the
// order placement, batch processing and status update flows.
package orderflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/imrishuroy/quickcart-orderflow/internal/identity"
	"github.com/imrishuroy/quickcart-orderflow/internal/notify"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
)

var ErrInvalidRequest = errors.New("invalid request")

type UserFinder interface {
	FindUser(ctx context.Context, userID string) (*identity.User, error)
}

type Sender interface {
	Send(ctx context.Context, p notify.Payload) notify.Result
}

// Notifier renders and sends the emails for one order. It never fails the
// caller; every attempt comes back as a notify.Result.
type Notifier struct {
	renderer   *notify.Renderer
	sender     Sender
	users      UserFinder
	adminEmail string
	nowFunc    func() time.Time
}

// NewNotifier builds a Notifier. users may be nil, in which case the address
// email is always used. An empty adminEmail disables admin alerts.
func NewNotifier(r *notify.Renderer, s Sender, users UserFinder, adminEmail string) *Notifier {
	return &Notifier{renderer: r, sender: s, users: users, adminEmail: adminEmail, nowFunc: time.Now}
}

// recipient prefers the email on the user's profile and falls back to the
// one captured with the address.
func (n *Notifier) recipient(ctx context.Context, o orders.Order) (email, name string) {
	if n.users != nil && o.UserID != "" {
		u, err := n.users.FindUser(ctx, o.UserID)
		switch {
		case err == nil && u != nil && u.Email != "":
			return u.Email, u.Name
		case err != nil && !errors.Is(err, identity.ErrUserNotFound):
			slog.WarnContext(ctx, "[notify] user lookup failed, using address email",
				"order_id", o.ID, "user_id", o.UserID, "error", err)
		}
	}
	return o.Address.Email, o.Address.FullName
}

func (n *Notifier) send(ctx context.Context, kind notify.Kind, o orders.Order, c notify.Context) notify.Result {
	p, err := n.renderer.Render(kind, o, c)
	if err != nil {
		slog.ErrorContext(ctx, "[notify] render failed", "order_id", o.ID, "kind", kind, "error", err)
		return notify.Failed(notify.Payload{Kind: kind, To: c.Recipient}, err)
	}
	return n.sender.Send(ctx, p)
}

// OrderPlaced sends the customer confirmation, then the admin alert when one
// is configured. The confirmation is always the first result.
func (n *Notifier) OrderPlaced(ctx context.Context, o orders.Order) (string, []notify.Result) {
	to, name := n.recipient(ctx, o)
	results := []notify.Result{
		n.send(ctx, notify.KindConfirmation, o, notify.Context{Recipient: to, CustomerName: name}),
	}
	if n.adminEmail != "" {
		results = append(results, n.send(ctx, notify.KindAdminAlert, o, notify.Context{Recipient: n.adminEmail}))
	}
	return to, results
}

// StatusChanged sends the status update to the email on the order's address.
func (n *Notifier) StatusChanged(ctx context.Context, o orders.Order, status string) notify.Result {
	return n.send(ctx, notify.KindStatusUpdate, o, notify.Context{
		Recipient: o.Address.Email,
		NewStatus: status,
		At:        n.nowFunc(),
	})
}
