package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/quickcart-orderflow/internal/app"
	"github.com/imrishuroy/quickcart-orderflow/internal/aws"
	"github.com/imrishuroy/quickcart-orderflow/internal/config"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
	"github.com/imrishuroy/quickcart-orderflow/internal/telemetry"
)

func localEvent() events.SQSEvent {
	body := os.Getenv("LOCAL_SQS_BODY")
	if body == "" {
		b, _ := json.Marshal(orders.CreatedEvent{
			EventID: "local-event-1",
			UserID:  "local-user-1",
			Address: orders.Address{
				FullName: "Local Tester", PhoneNumber: "0000000000", Email: "tester@example.com",
				Pincode: "000000", Area: "Main St", City: "Springfield", State: "SP",
			},
			Items:  []orders.Item{{ProductRef: "local-product-1", Name: "Sample", Quantity: 1}},
			Amount: 0,
			Date:   time.Now().UTC(),
		})
		body = string(b)
	}
	return events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}}
}

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidatePipeline()
	}
	if err != nil {
		slog.Error("[worker] invalid configuration", "error", err)
		os.Exit(1)
	}
	telemetry.InitLogger(cfg.LogLevel)

	ctx := context.Background()
	clients, err := aws.NewClients(ctx)
	if err != nil {
		slog.Error("[worker] failed to init aws clients", "error", err)
		os.Exit(1)
	}
	processor, err := app.NewProcessor(cfg, clients, "queue")
	if err != nil {
		slog.Error("[worker] failed to build processor", "error", err)
		os.Exit(1)
	}
	h := &sqsHandler{processor: processor}

	// RUN_LOCAL processes one synthetic message and exits.
	if cfg.RunLocal {
		resp, err := h.Handle(ctx, localEvent())
		if err != nil || len(resp.BatchItemFailures) > 0 {
			slog.Error("[worker] local run failed", "error", err, "failures", len(resp.BatchItemFailures))
			os.Exit(1)
		}
		return
	}

	lambda.Start(h.Handle)
}
