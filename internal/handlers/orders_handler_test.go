package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/quickcart-orderflow/internal/idempotency"
	"github.com/imrishuroy/quickcart-orderflow/internal/identity"
	"github.com/imrishuroy/quickcart-orderflow/internal/notify"
	"github.com/imrishuroy/quickcart-orderflow/internal/orderflow"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
	"github.com/imrishuroy/quickcart-orderflow/internal/pricing"
)

type fakePlacer struct {
	calls  int
	result orderflow.PlaceResult
	err    error
	lines  []pricing.CartLine
}

func (f *fakePlacer) PlaceOrder(ctx context.Context, callerID string, addr *orders.Address, lines []pricing.CartLine) (orderflow.PlaceResult, error) {
	f.calls++
	f.lines = lines
	return f.result, f.err
}

type fakeStatus struct {
	notifyRes  notify.Result
	notifyErr  error
	advanced   *orders.Order
	advanceRes notify.Result
	advanceErr error
}

func (f *fakeStatus) Notify(ctx context.Context, orderID, newStatus string) (notify.Result, error) {
	return f.notifyRes, f.notifyErr
}

func (f *fakeStatus) Advance(ctx context.Context, orderID, newStatus string) (*orders.Order, notify.Result, error) {
	return f.advanced, f.advanceRes, f.advanceErr
}

type fakeReader map[string]*orders.Order

func (f fakeReader) FindByID(ctx context.Context, id string) (*orders.Order, error) {
	if o, ok := f[id]; ok {
		return o, nil
	}
	return nil, orders.ErrNotFound
}

type memIdempotency struct {
	mu      sync.Mutex
	records map[string]*idempotency.Record
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{records: map[string]*idempotency.Record{}}
}

func (m *memIdempotency) CreateIfNotExists(ctx context.Context, key, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.records[key] = &idempotency.Record{IdempotencyKey: key, UserID: userID, Status: idempotency.StatusInProgress}
	return true, nil
}

func (m *memIdempotency) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memIdempotency) MarkDone(ctx context.Context, key, orderID, body string, status int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[key]
	rec.Status, rec.OrderID, rec.ResponseBody, rec.ResponseStatus = idempotency.StatusDone, orderID, body, status
	return nil
}

func (m *memIdempotency) MarkFailed(ctx context.Context, key, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[key]
	rec.Status, rec.Note = idempotency.StatusFailed, note
	return nil
}

const testSecret = "handler-test-secret"

type testEnv struct {
	router   *gin.Engine
	verifier *identity.JWTVerifier
	placer   *fakePlacer
	status   *fakeStatus
	idem     *memIdempotency
}

func newTestEnv(readerOrders fakeReader) *testEnv {
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		router:   gin.New(),
		verifier: identity.NewJWTVerifier(testSecret, time.Hour),
		placer:   &fakePlacer{},
		status:   &fakeStatus{},
		idem:     newMemIdempotency(),
	}
	RegisterOrdersRoutes(env.router, HandlerConfig{
		Intake:      env.placer,
		Status:      env.status,
		Orders:      readerOrders,
		Idempotency: env.idem,
		Verifier:    env.verifier,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, caller identity.Caller, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := e.verifier.Issue(caller)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

const validOrderBody = `{
	"address": {"fullName":"Asha Rao","phoneNumber":"9876543210","email":"asha@example.com",
		"pincode":"560001","area":"MG Road","city":"Bengaluru","state":"KA"},
	"items": [{"product":"p1","quantity":2}]
}`

var customer = identity.Caller{UserID: "u1"}

func TestCreateOrder_Direct(t *testing.T) {
	env := newTestEnv(nil)
	sent := true
	env.placer.result = orderflow.PlaceResult{OrderID: "o1", Message: "Order Placed", Amount: 204, EmailSent: &sent}

	w := env.do(t, http.MethodPost, "/api/order/create", validOrderBody, customer, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["success"] != true || body["orderId"] != "o1" || body["emailSent"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	if w.Header().Get("Location") != "/api/order/o1" {
		t.Fatalf("location = %q", w.Header().Get("Location"))
	}
	if len(env.placer.lines) != 1 || env.placer.lines[0].ProductRef != "p1" || env.placer.lines[0].Quantity != 2 {
		t.Fatalf("lines passed = %+v", env.placer.lines)
	}
}

func TestCreateOrder_Enqueued(t *testing.T) {
	env := newTestEnv(nil)
	env.placer.result = orderflow.PlaceResult{EventID: "ev1", Enqueued: true, Message: "Order Placed", Amount: 204}

	w := env.do(t, http.MethodPost, "/api/order/create", validOrderBody, customer, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decode(t, w); body["enqueued"] != true || body["orderId"] != nil {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestCreateOrder_Unauthenticated(t *testing.T) {
	env := newTestEnv(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/order/create", strings.NewReader(validOrderBody))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized || env.placer.calls != 0 {
		t.Fatalf("status = %d, calls = %d", w.Code, env.placer.calls)
	}
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", fmt.Errorf("%w: cart is empty", orderflow.ErrInvalidRequest), http.StatusBadRequest},
		{"unknown product", fmt.Errorf("%w: ghost", pricing.ErrReferenceNotFound), http.StatusNotFound},
		{"persistence", fmt.Errorf("%w: put item", orders.ErrPersistence), http.StatusInternalServerError},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(nil)
			env.placer.err = tt.err
			w := env.do(t, http.MethodPost, "/api/order/create", validOrderBody, customer, nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if decode(t, w)["success"] != false {
				t.Fatal("expected success=false")
			}
		})
	}
}

func TestCreateOrder_BadBodyNeverReachesIntake(t *testing.T) {
	env := newTestEnv(nil)
	w := env.do(t, http.MethodPost, "/api/order/create", `{"items":[]}`, customer, nil)
	if w.Code != http.StatusBadRequest || env.placer.calls != 0 {
		t.Fatalf("status = %d, calls = %d", w.Code, env.placer.calls)
	}
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	env := newTestEnv(nil)
	env.placer.result = orderflow.PlaceResult{OrderID: "o1", Message: "Order Placed", Amount: 204}
	hdr := map[string]string{"Idempotency-Key": "k1"}

	first := env.do(t, http.MethodPost, "/api/order/create", validOrderBody, customer, hdr)
	second := env.do(t, http.MethodPost, "/api/order/create", validOrderBody, customer, hdr)

	if env.placer.calls != 1 {
		t.Fatalf("expected one placement, got %d", env.placer.calls)
	}
	if second.Code != first.Code || second.Body.String() != first.Body.String() {
		t.Fatalf("replay differs: %d %s vs %d %s", first.Code, first.Body, second.Code, second.Body)
	}
}

func TestCreateOrder_IdempotencyStates(t *testing.T) {
	tests := []struct {
		name   string
		rec    idempotency.Record
		caller identity.Caller
		want   int
	}{
		{"in progress", idempotency.Record{UserID: "u1", Status: idempotency.StatusInProgress}, customer, http.StatusAccepted},
		{"failed", idempotency.Record{UserID: "u1", Status: idempotency.StatusFailed, Note: "boom"}, customer, http.StatusConflict},
		{"other user", idempotency.Record{UserID: "u2", Status: idempotency.StatusDone}, customer, http.StatusConflict},
		{"done without body", idempotency.Record{UserID: "u1", Status: idempotency.StatusDone, OrderID: "o9"}, customer, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(nil)
			rec := tt.rec
			rec.IdempotencyKey = "k1"
			env.idem.records["k1"] = &rec

			w := env.do(t, http.MethodPost, "/api/order/create", validOrderBody, tt.caller, map[string]string{"Idempotency-Key": "k1"})
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
			if env.placer.calls != 0 {
				t.Fatal("intake must not run for a reused key")
			}
		})
	}
}

func TestCreateOrder_FailureMarksKeyFailed(t *testing.T) {
	env := newTestEnv(nil)
	env.placer.err = fmt.Errorf("%w: throttled", orders.ErrPersistence)

	env.do(t, http.MethodPost, "/api/order/create", validOrderBody, customer, map[string]string{"Idempotency-Key": "k1"})
	if rec := env.idem.records["k1"]; rec.Status != idempotency.StatusFailed || rec.Note == "" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestSendStatusEmail(t *testing.T) {
	body := `{"orderId":"o1","newStatus":"Shipped"}`
	admin := identity.Caller{UserID: "ops", Role: identity.RoleAdmin}

	t.Run("requires admin", func(t *testing.T) {
		env := newTestEnv(nil)
		env.status.notifyRes = notify.Result{Success: true, MessageID: "m1"}
		w := env.do(t, http.MethodPost, "/api/order/send-status-email", body, customer, nil)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("sent", func(t *testing.T) {
		env := newTestEnv(nil)
		env.status.notifyRes = notify.Result{Success: true, MessageID: "<m1@quickcart>"}
		w := env.do(t, http.MethodPost, "/api/order/send-status-email", body, admin, nil)
		if w.Code != http.StatusOK || decode(t, w)["messageId"] != "<m1@quickcart>" {
			t.Fatalf("status = %d body=%s", w.Code, w.Body)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		env := newTestEnv(nil)
		env.status.notifyErr = orders.ErrNotFound
		w := env.do(t, http.MethodPost, "/api/order/send-status-email", body, admin, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("delivery failed", func(t *testing.T) {
		env := newTestEnv(nil)
		err := fmt.Errorf("%w: smtp down", notify.ErrNotification)
		env.status.notifyRes = notify.Result{Error: err.Error(), Err: err}
		env.status.notifyErr = err
		w := env.do(t, http.MethodPost, "/api/order/send-status-email", body, admin, nil)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("status = %d", w.Code)
		}
		if got := decode(t, w); got["message"] != "Failed to send email" || got["error"] == nil {
			t.Fatalf("body = %v", got)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		env := newTestEnv(nil)
		w := env.do(t, http.MethodPost, "/api/order/send-status-email", `{"orderId":"o1","newStatus":"Teleported"}`, admin, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", w.Code)
		}
	})
}

func TestAdvanceStatus(t *testing.T) {
	body := `{"orderId":"o1","newStatus":"Shipped"}`
	admin := identity.Caller{UserID: "ops", Role: identity.RoleAdmin}

	t.Run("requires admin", func(t *testing.T) {
		env := newTestEnv(nil)
		w := env.do(t, http.MethodPost, "/api/order/status", body, customer, nil)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("updated and emailed", func(t *testing.T) {
		env := newTestEnv(nil)
		env.status.advanced = &orders.Order{ID: "o1", Status: orders.StatusShipped}
		env.status.advanceRes = notify.Result{Success: true, MessageID: "m1"}
		w := env.do(t, http.MethodPost, "/api/order/status", body, admin, nil)
		if w.Code != http.StatusOK || decode(t, w)["emailSent"] != true {
			t.Fatalf("status = %d body=%s", w.Code, w.Body)
		}
	})

	t.Run("email failure keeps update", func(t *testing.T) {
		env := newTestEnv(nil)
		err := fmt.Errorf("%w: smtp down", notify.ErrNotification)
		env.status.advanced = &orders.Order{ID: "o1", Status: orders.StatusShipped}
		env.status.advanceRes = notify.Result{Error: err.Error(), Err: err}
		env.status.advanceErr = err
		w := env.do(t, http.MethodPost, "/api/order/status", body, admin, nil)
		got := decode(t, w)
		if w.Code != http.StatusOK || got["emailSent"] != false || got["success"] != true {
			t.Fatalf("status = %d body=%v", w.Code, got)
		}
	})

	t.Run("invalid transition", func(t *testing.T) {
		env := newTestEnv(nil)
		env.status.advanceErr = fmt.Errorf("%w: Delivered -> Shipped", orders.ErrInvalidTransition)
		w := env.do(t, http.MethodPost, "/api/order/status", body, admin, nil)
		if w.Code != http.StatusConflict {
			t.Fatalf("status = %d", w.Code)
		}
	})
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(fakeReader{"o1": {ID: "o1", UserID: "u1", Status: orders.StatusPlaced}})

	if w := env.do(t, http.MethodGet, "/api/order/o1", "", customer, nil); w.Code != http.StatusOK {
		t.Fatalf("owner: status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/order/o1", "", identity.Caller{UserID: "u2"}, nil); w.Code != http.StatusNotFound {
		t.Fatalf("stranger: status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/order/o1", "", identity.Caller{UserID: "ops", Role: identity.RoleAdmin}, nil); w.Code != http.StatusOK {
		t.Fatalf("admin: status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/order/missing", "", customer, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing: status = %d", w.Code)
	}
}
