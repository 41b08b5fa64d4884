package orderflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/quickcart-orderflow/internal/catalog"
	"github.com/imrishuroy/quickcart-orderflow/internal/identity"
	"github.com/imrishuroy/quickcart-orderflow/internal/notify"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
	"github.com/imrishuroy/quickcart-orderflow/internal/pricing"
)

// journal records collaborator calls in order across fakes.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type mapCatalog map[string]catalog.Product

func (m mapCatalog) Lookup(ctx context.Context, ref string) (*catalog.Product, error) {
	p, ok := m[ref]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func testCatalog() mapCatalog {
	return mapCatalog{
		"p1": {ID: "p1", Name: "Widget", UnitPrice: decimal.NewFromInt(100)},
		"p2": {ID: "p2", Name: "Gadget", UnitPrice: decimal.RequireFromString("19.99")},
	}
}

type fakeStore struct {
	mu      sync.Mutex
	j       *journal
	orders  map[string]orders.Order
	seq     int
	failErr error
}

func newFakeStore(j *journal) *fakeStore {
	return &fakeStore{j: j, orders: map[string]orders.Order{}}
}

func (s *fakeStore) materialize(d orders.Draft) orders.Order {
	s.seq++
	return orders.Order{
		ID:      fmt.Sprintf("order-%d", s.seq),
		UserID:  d.UserID,
		Items:   d.Items,
		Amount:  d.Amount,
		Address: d.Address,
		Status:  orders.StatusPlaced,
		Date:    d.Date,
	}
}

func (s *fakeStore) Create(ctx context.Context, d orders.Draft) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		s.j.add("create:failed")
		return nil, s.failErr
	}
	o := s.materialize(d)
	s.orders[o.ID] = o
	s.j.add("create:%s", o.ID)
	return &o, nil
}

func (s *fakeStore) BulkCreate(ctx context.Context, drafts []orders.Draft) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		s.j.add("bulk:failed")
		return nil, s.failErr
	}
	out := make([]orders.Order, 0, len(drafts))
	for _, d := range drafts {
		o := s.materialize(d)
		s.orders[o.ID] = o
		out = append(out, o)
	}
	s.j.add("bulk:%d", len(out))
	return out, nil
}

func (s *fakeStore) FindByID(ctx context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &o, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id, from, status string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	if o.Status != from {
		s.j.add("update:%s:lost", id)
		return nil, fmt.Errorf("%w: %s is %s", orders.ErrInvalidTransition, id, o.Status)
	}
	o.Status = status
	s.orders[id] = o
	s.j.add("update:%s:%s", id, status)
	return &o, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type fakeCarts struct {
	j   *journal
	err error
}

func (c *fakeCarts) ClearCart(ctx context.Context, userID string) error {
	c.j.add("clear:%s", userID)
	return c.err
}

type fakeUsers map[string]identity.User

func (f fakeUsers) FindUser(ctx context.Context, id string) (*identity.User, error) {
	if id == "broken" {
		return nil, errors.New("users table unavailable")
	}
	u, ok := f[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return &u, nil
}

// fakeTransport fails deliveries to addresses in failFor.
type fakeTransport struct {
	mu      sync.Mutex
	j       *journal
	failFor map[string]bool
	sent    []notify.Payload
}

func (f *fakeTransport) Deliver(ctx context.Context, p notify.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	if f.j != nil {
		f.j.add("send:%s:%s", p.Kind, p.To)
	}
	if f.failFor[p.To] {
		return "", errors.New("550 mailbox unavailable")
	}
	return fmt.Sprintf("<msg-%d@test>", len(f.sent)), nil
}

func (f *fakeTransport) deliveries() []notify.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Payload(nil), f.sent...)
}

func newTestNotifier(t *testing.T, tr *fakeTransport, users UserFinder, admin string) *Notifier {
	t.Helper()
	r, err := notify.NewRenderer()
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	n := NewNotifier(r, notify.NewDispatcher(tr), users, admin)
	n.nowFunc = func() time.Time { return time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC) }
	return n
}

func testAddress(email string) *orders.Address {
	return &orders.Address{
		FullName: "Asha Rao", PhoneNumber: "9876543210", Email: email,
		Pincode: "560001", Area: "MG Road", City: "Bengaluru", State: "KA",
	}
}

func testResolver() *pricing.Resolver {
	return pricing.NewResolver(testCatalog())
}
