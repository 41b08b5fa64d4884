package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/quickcart-orderflow/internal/httpx"
	"github.com/imrishuroy/quickcart-orderflow/internal/idempotency"
	"github.com/imrishuroy/quickcart-orderflow/internal/identity"
	"github.com/imrishuroy/quickcart-orderflow/internal/notify"
	"github.com/imrishuroy/quickcart-orderflow/internal/orderflow"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
	"github.com/imrishuroy/quickcart-orderflow/internal/pricing"
	"github.com/imrishuroy/quickcart-orderflow/internal/validation"
)

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, callerID string, addr *orders.Address, lines []pricing.CartLine) (orderflow.PlaceResult, error)
}

type StatusService interface {
	Notify(ctx context.Context, orderID, newStatus string) (notify.Result, error)
	Advance(ctx context.Context, orderID, newStatus string) (*orders.Order, notify.Result, error)
}

type OrderReader interface {
	FindByID(ctx context.Context, orderID string) (*orders.Order, error)
}

// IdempotencyStore is satisfied by *idempotency.Store.
type IdempotencyStore interface {
	CreateIfNotExists(ctx context.Context, key, userID string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// HandlerConfig groups dependencies for the orders handler.
// Idempotency is optional; without it the Idempotency-Key header is ignored.
type HandlerConfig struct {
	Intake      OrderPlacer
	Status      StatusService
	Orders      OrderReader
	Idempotency IdempotencyStore
	Verifier    identity.TokenVerifier
}

type placeResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	OrderID   string `json:"orderId,omitempty"`
	EventID   string `json:"eventId,omitempty"`
	Enqueued  bool   `json:"enqueued,omitempty"`
	Amount    int64  `json:"amount"`
	EmailSent *bool  `json:"emailSent,omitempty"`
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	api := r.Group("/api/order", httpx.Auth(cfg.Verifier))

	api.POST("/create", func(c *gin.Context) {
		ctx := c.Request.Context()
		caller := httpx.CallerFrom(c)

		var req validation.PlaceOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey != "" && cfg.Idempotency != nil {
			if replayed := claimIdempotencyKey(c, cfg.Idempotency, idempKey, caller.UserID); replayed {
				return
			}
		}

		lines := make([]pricing.CartLine, 0, len(req.Items))
		for _, it := range req.Items {
			lines = append(lines, pricing.CartLine{ProductRef: it.Product, Quantity: it.Quantity})
		}

		res, err := cfg.Intake.PlaceOrder(ctx, caller.UserID, req.Address, lines)
		if err != nil {
			status, body := errorBody(ctx, err)
			if idempKey != "" && cfg.Idempotency != nil {
				if merr := cfg.Idempotency.MarkFailed(ctx, idempKey, err.Error()); merr != nil {
					slog.WarnContext(ctx, "[http] mark idempotency failed", "key", idempKey, "error", merr)
				}
			}
			c.JSON(status, body)
			return
		}

		status := http.StatusCreated
		if res.Enqueued {
			status = http.StatusAccepted
		}
		body, _ := json.Marshal(placeResponse{
			Success:   true,
			Message:   res.Message,
			OrderID:   res.OrderID,
			EventID:   res.EventID,
			Enqueued:  res.Enqueued,
			Amount:    res.Amount,
			EmailSent: res.EmailSent,
		})
		if idempKey != "" && cfg.Idempotency != nil {
			if merr := cfg.Idempotency.MarkDone(ctx, idempKey, res.OrderID, string(body), status); merr != nil {
				slog.WarnContext(ctx, "[http] mark idempotency done", "key", idempKey, "error", merr)
			}
		}
		if res.OrderID != "" {
			c.Header("Location", fmt.Sprintf("/api/order/%s", res.OrderID))
		}
		c.Data(status, "application/json; charset=utf-8", body)
	})

	api.POST("/send-status-email", httpx.RequireAdmin(), func(c *gin.Context) {
		ctx := c.Request.Context()
		var req validation.StatusRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		res, err := cfg.Status.Notify(ctx, req.OrderID, req.NewStatus)
		if err != nil {
			status, body := errorBody(ctx, err)
			if errors.Is(err, notify.ErrNotification) {
				body["message"] = "Failed to send email"
				body["error"] = res.Error
			}
			c.JSON(status, body)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"message":   "Status update email sent",
			"messageId": res.MessageID,
		})
	})

	api.POST("/status", httpx.RequireAdmin(), func(c *gin.Context) {
		ctx := c.Request.Context()
		var req validation.StatusRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		updated, res, err := cfg.Status.Advance(ctx, req.OrderID, req.NewStatus)
		if err != nil && updated == nil {
			status, body := errorBody(ctx, err)
			c.JSON(status, body)
			return
		}
		body := gin.H{
			"success":   true,
			"message":   "Status updated",
			"order":     updated,
			"emailSent": res.Success,
		}
		if res.Success {
			body["messageId"] = res.MessageID
		} else {
			body["error"] = res.Error
		}
		c.JSON(http.StatusOK, body)
	})

	api.GET("/:id", func(c *gin.Context) {
		ctx := c.Request.Context()
		caller := httpx.CallerFrom(c)

		o, err := cfg.Orders.FindByID(ctx, c.Param("id"))
		if err != nil {
			status, body := errorBody(ctx, err)
			c.JSON(status, body)
			return
		}
		// other users' orders look exactly like missing ones
		if o.UserID != caller.UserID && !caller.IsAdmin() {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": orders.ErrNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "order": o})
	})
}

// claimIdempotencyKey reserves key for userID. When the key was already used it
// writes the replayed or conflict response and returns true.
func claimIdempotencyKey(c *gin.Context, store IdempotencyStore, key, userID string) bool {
	ctx := c.Request.Context()

	created, err := store.CreateIfNotExists(ctx, key, userID)
	if err != nil {
		slog.ErrorContext(ctx, "[http] idempotency check failed", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "idempotency_check_failed"})
		return true
	}
	if created {
		return false
	}

	rec, err := store.Get(ctx, key)
	if err != nil {
		slog.ErrorContext(ctx, "[http] idempotency lookup failed", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "idempotency_check_failed"})
		return true
	}
	if rec == nil {
		// expired between the put and the get
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "idempotency key expired, retry"})
		return true
	}
	if rec.UserID != userID {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "idempotency key already used"})
		return true
	}

	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return true
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Order Placed", "orderId": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"success": false, "message": "request already in progress"})
	case idempotency.StatusFailed:
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "previous attempt failed, retry with a new key", "error": rec.Note})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "unknown_idempotency_status"})
	}
	return true
}

// errorBody maps pipeline errors onto an HTTP status and a failure body.
// Server-side failures are logged and not echoed to the client.
func errorBody(ctx context.Context, err error) (int, gin.H) {
	var status int
	switch {
	case errors.Is(err, orderflow.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, pricing.ErrReferenceNotFound), errors.Is(err, orders.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orders.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, notify.ErrNotification):
		status = http.StatusBadGateway
	default:
		slog.ErrorContext(ctx, "[http] request failed", "error", err)
		return http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"}
	}
	return status, gin.H{"success": false, "message": err.Error()}
}
