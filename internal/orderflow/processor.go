package orderflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/imrishuroy/quickcart-orderflow/internal/aws"
	"github.com/imrishuroy/quickcart-orderflow/internal/notify"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
	"github.com/imrishuroy/quickcart-orderflow/internal/telemetry"
)

type BulkCreator interface {
	BulkCreate(ctx context.Context, drafts []orders.Draft) ([]orders.Order, error)
}

// BatchMetrics records the outcome of one processed batch.
type BatchMetrics interface {
	RecordBatch(ctx context.Context, processed, notificationFailures int) error
}

// OrderOutcome is the notification outcome for one persisted order.
type OrderOutcome struct {
	OrderID       string          `json:"orderId"`
	EventID       string          `json:"eventId"`
	Recipient     string          `json:"recipient"`
	Notifications []notify.Result `json:"notifications"`
}

func (o OrderOutcome) Notified() bool {
	for _, r := range o.Notifications {
		if !r.Success {
			return false
		}
	}
	return len(o.Notifications) > 0
}

type BatchResult struct {
	Processed int            `json:"processed"`
	Outcomes  []OrderOutcome `json:"outcomes"`
}

func (r BatchResult) NotificationFailures() int {
	n := 0
	for _, o := range r.Outcomes {
		for _, res := range o.Notifications {
			if !res.Success {
				n++
			}
		}
	}
	return n
}

// Processor persists a batch of order events and notifies each order.
type Processor struct {
	store    BulkCreator
	notifier *Notifier
	metrics  BatchMetrics
}

// NewProcessor builds a Processor. metrics may be nil.
func NewProcessor(store BulkCreator, notifier *Notifier, metrics BatchMetrics) *Processor {
	return &Processor{store: store, notifier: notifier, metrics: metrics}
}

// OnBatch stores every event in one all-or-nothing write, then notifies each
// order in batch order. A persistence failure fails the whole call; a failed
// notification is recorded and the loop moves on.
func (p *Processor) OnBatch(ctx context.Context, events []orders.CreatedEvent) (BatchResult, error) {
	if len(events) == 0 {
		return BatchResult{}, nil
	}

	drafts := make([]orders.Draft, 0, len(events))
	for _, ev := range events {
		drafts = append(drafts, ev.Draft())
	}
	created, err := p.store.BulkCreate(ctx, drafts)
	if err != nil {
		return BatchResult{}, fmt.Errorf("persist batch of %d: %w", len(events), err)
	}

	res := BatchResult{Processed: len(created), Outcomes: make([]OrderOutcome, 0, len(created))}
	for i, o := range created {
		octx := telemetry.WithEventID(ctx, events[i].EventID)
		to, results := p.notifier.OrderPlaced(octx, o)
		res.Outcomes = append(res.Outcomes, OrderOutcome{
			OrderID:       o.ID,
			EventID:       events[i].EventID,
			Recipient:     to,
			Notifications: results,
		})
	}

	failures := res.NotificationFailures()
	slog.InfoContext(ctx, "[worker] batch processed", "processed", res.Processed, "notification_failures", failures)
	if p.metrics != nil {
		if err := p.metrics.RecordBatch(ctx, res.Processed, failures); err != nil {
			slog.WarnContext(ctx, "[worker] publish metrics failed", "error", err)
		}
	}
	return res, nil
}

// Handle adapts OnBatch to a batcher handler. Events of a failed batch are
// logged by id since their callers were already told the order was accepted.
func (p *Processor) Handle(ctx context.Context, batch []orders.CreatedEvent) error {
	_, err := p.OnBatch(ctx, batch)
	if err != nil {
		ids := make([]string, 0, len(batch))
		for _, ev := range batch {
			ids = append(ids, ev.EventID)
		}
		slog.ErrorContext(ctx, "[worker] batch lost", "event_ids", ids, "error", err)
	}
	return err
}

// CloudWatchMetrics publishes batch outcomes as CloudWatch counts.
type CloudWatchMetrics struct {
	pub      *aws.MetricsPublisher
	pipeline string
}

func NewCloudWatchMetrics(pub *aws.MetricsPublisher, pipeline string) *CloudWatchMetrics {
	return &CloudWatchMetrics{pub: pub, pipeline: pipeline}
}

func (m *CloudWatchMetrics) RecordBatch(ctx context.Context, processed, notificationFailures int) error {
	return m.pub.PutCounts(ctx, map[string]float64{
		"OrdersProcessed":      float64(processed),
		"NotificationFailures": float64(notificationFailures),
	}, map[string]string{"Pipeline": m.pipeline})
}
