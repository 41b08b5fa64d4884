package notify

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
)

//go:embed templates/*.html
var templateFS embed.FS

var ErrNoRecipient = errors.New("no recipient")

const dateLayout = "02 Jan 2006, 15:04 MST"

var statusMessages = map[string]string{
	orders.StatusPlaced:     "We have received your order and will start preparing it shortly.",
	orders.StatusProcessing: "Your order is being prepared.",
	orders.StatusShipped:    "Your order is on its way.",
	orders.StatusDelivered:  "Your order has been delivered. Enjoy!",
	orders.StatusCancelled:  "Your order has been cancelled. Contact support if this is unexpected.",
}

type lineView struct {
	Name      string
	Quantity  int
	UnitPrice string
	LineTotal string
}

type view struct {
	OrderID       string
	UserID        string
	CustomerName  string
	Date          string
	Items         []lineView
	Total         string
	Address       orders.Address
	Status        string
	StatusMessage string
	UpdatedOn     string
}

// Renderer turns an order into a Payload. It does no I/O.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func money(d decimal.Decimal) string { return "$" + d.StringFixed(2) }

func buildView(o orders.Order, c Context) view {
	lines := make([]lineView, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, lineView{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: money(it.UnitPrice),
			LineTotal: money(it.LineTotal()),
		})
	}
	name := c.CustomerName
	if name == "" {
		name = o.Address.FullName
	}
	v := view{
		OrderID:       o.ID,
		UserID:        o.UserID,
		CustomerName:  name,
		Date:          o.Date.UTC().Format(dateLayout),
		Items:         lines,
		Total:         money(decimal.NewFromInt(o.Amount)),
		Address:       o.Address,
		Status:        c.NewStatus,
		StatusMessage: statusMessages[c.NewStatus],
	}
	if !c.At.IsZero() {
		v.UpdatedOn = c.At.UTC().Format(dateLayout)
	}
	return v
}

func (r *Renderer) Render(kind Kind, o orders.Order, c Context) (Payload, error) {
	p := Payload{Kind: kind, Audience: AudienceCustomer, To: o.Address.Email}
	var name string
	switch kind {
	case KindConfirmation:
		name = "confirmation.html"
		p.Subject = fmt.Sprintf("Order Confirmation - Order #%s", o.ID)
		if c.Recipient != "" {
			p.To = c.Recipient
		}
	case KindStatusUpdate:
		if c.NewStatus == "" {
			return Payload{}, fmt.Errorf("render %s: new status is required", kind)
		}
		if c.At.IsZero() {
			return Payload{}, fmt.Errorf("render %s: update time is required", kind)
		}
		name = "status_update.html"
		p.Subject = fmt.Sprintf("Order Update - Order #%s: %s", o.ID, c.NewStatus)
		if c.Recipient != "" {
			p.To = c.Recipient
		}
	case KindAdminAlert:
		name = "admin_alert.html"
		p.Audience = AudienceAdmin
		p.Subject = fmt.Sprintf("New Order Received - Order #%s", o.ID)
		p.To = c.Recipient
	default:
		return Payload{}, fmt.Errorf("render: unknown kind %q", kind)
	}
	if p.To == "" {
		return Payload{}, fmt.Errorf("render %s for order %s: %w", kind, o.ID, ErrNoRecipient)
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, buildView(o, c)); err != nil {
		return Payload{}, fmt.Errorf("render %s: %w", kind, err)
	}
	p.Body = buf.String()
	return p, nil
}
