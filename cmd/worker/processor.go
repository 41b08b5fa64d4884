package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/quickcart-orderflow/internal/orderflow"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
	"github.com/imrishuroy/quickcart-orderflow/internal/telemetry"
)

// One DynamoDB transaction holds at most 100 orders.
const maxChunk = 100

type batchProcessor interface {
	OnBatch(ctx context.Context, events []orders.CreatedEvent) (orderflow.BatchResult, error)
}

// sqsHandler turns an SQS delivery into processor batches. Failed records are
// reported individually so SQS redelivers only those.
type sqsHandler struct {
	processor batchProcessor
}

type pendingEvent struct {
	messageID string
	event     orders.CreatedEvent
}

func (h *sqsHandler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	slog.InfoContext(ctx, "[worker] received messages", "count", len(ev.Records))

	var resp events.SQSEventResponse
	fail := func(messageID string) {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: messageID})
	}

	pending := make([]pendingEvent, 0, len(ev.Records))
	seen := make(map[string]bool, len(ev.Records))
	for _, rec := range ev.Records {
		e, err := decodeEvent(rec.Body)
		if err != nil {
			slog.ErrorContext(ctx, "[worker] rejecting message", "message_id", rec.MessageId, "error", err)
			fail(rec.MessageId)
			continue
		}
		// standard queues may hand the same event over twice in one delivery
		if seen[e.EventID] {
			slog.WarnContext(ctx, "[worker] duplicate event in batch", "event_id", e.EventID, "message_id", rec.MessageId)
			continue
		}
		seen[e.EventID] = true
		pending = append(pending, pendingEvent{messageID: rec.MessageId, event: e})
	}

	for start := 0; start < len(pending); start += maxChunk {
		chunk := pending[start:min(start+maxChunk, len(pending))]
		batch := make([]orders.CreatedEvent, 0, len(chunk))
		for _, p := range chunk {
			batch = append(batch, p.event)
		}

		res, err := h.processor.OnBatch(ctx, batch)
		if err != nil {
			slog.ErrorContext(ctx, "[worker] batch failed, will be redelivered", "size", len(batch), "error", err)
			for _, p := range chunk {
				fail(p.messageID)
			}
			continue
		}
		for _, o := range res.Outcomes {
			if !o.Notified() {
				slog.WarnContext(telemetry.WithEventID(ctx, o.EventID), "[worker] order stored, email not sent", "order_id", o.OrderID, "to", o.Recipient)
			}
		}
	}
	return resp, nil
}
