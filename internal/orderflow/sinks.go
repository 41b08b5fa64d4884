package orderflow

import (
	"context"
	"fmt"

	"github.com/imrishuroy/quickcart-orderflow/internal/aws"
	"github.com/imrishuroy/quickcart-orderflow/internal/batcher"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
)

// BatcherSink feeds events into an in-process batcher.
type BatcherSink struct {
	b *batcher.Batcher[orders.CreatedEvent]
}

func NewBatcherSink(b *batcher.Batcher[orders.CreatedEvent]) *BatcherSink {
	return &BatcherSink{b: b}
}

func (s *BatcherSink) Publish(ctx context.Context, ev orders.CreatedEvent) error {
	return s.b.Add(ev)
}

// QueueSink publishes events as JSON messages on the orders queue.
type QueueSink struct {
	pub *aws.Publisher
}

func NewQueueSink(pub *aws.Publisher) *QueueSink {
	return &QueueSink{pub: pub}
}

func (s *QueueSink) Publish(ctx context.Context, ev orders.CreatedEvent) error {
	_, err := s.pub.PublishJSON(ctx, ev, map[string]string{
		"event_id": ev.EventID,
		"user_id":  ev.UserID,
	})
	if err != nil {
		return fmt.Errorf("publish event %s: %w", ev.EventID, err)
	}
	return nil
}
