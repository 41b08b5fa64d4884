// Package app wires configuration into the order pipeline for both entrypoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/quickcart-orderflow/internal/aws"
	"github.com/imrishuroy/quickcart-orderflow/internal/batcher"
	"github.com/imrishuroy/quickcart-orderflow/internal/catalog"
	"github.com/imrishuroy/quickcart-orderflow/internal/config"
	"github.com/imrishuroy/quickcart-orderflow/internal/handlers"
	"github.com/imrishuroy/quickcart-orderflow/internal/httpx"
	"github.com/imrishuroy/quickcart-orderflow/internal/idempotency"
	"github.com/imrishuroy/quickcart-orderflow/internal/identity"
	"github.com/imrishuroy/quickcart-orderflow/internal/notify"
	"github.com/imrishuroy/quickcart-orderflow/internal/orderflow"
	"github.com/imrishuroy/quickcart-orderflow/internal/orders"
	"github.com/imrishuroy/quickcart-orderflow/internal/pricing"
)

// App is the assembled API process.
type App struct {
	Router    *gin.Engine
	Processor *orderflow.Processor
	Mode      orderflow.Mode

	closers []func(context.Context) error
}

// Close flushes the batcher and releases connections, in reverse build order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRouter builds the gin engine with the shared middleware and health route.
func NewRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)
	return r
}

// NewNotifier builds the renderer, SMTP transport and dispatcher.
func NewNotifier(cfg config.Config, users orderflow.UserFinder) (*orderflow.Notifier, error) {
	renderer, err := notify.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("renderer: %w", err)
	}
	transport, err := notify.NewSMTPTransport(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Secure:   cfg.SMTP.Secure,
		Username: cfg.SMTP.User,
		Password: cfg.SMTP.Pass,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		return nil, err
	}
	return orderflow.NewNotifier(renderer, notify.NewDispatcher(transport), users, cfg.AdminEmail), nil
}

// NewProcessor builds the batch processor used by the in-process batcher and
// the SQS worker. CloudWatch metrics are published only when a namespace is set.
func NewProcessor(cfg config.Config, clients *aws.Clients, pipeline string) (*orderflow.Processor, error) {
	users := identity.NewDynamoDirectory(clients.DynamoDB, cfg.UsersTable)
	notifier, err := NewNotifier(cfg, users)
	if err != nil {
		return nil, err
	}

	var metrics orderflow.BatchMetrics
	if cfg.MetricsNamespace != "" {
		metrics = orderflow.NewCloudWatchMetrics(aws.NewMetricsPublisher(clients.CloudWatch, cfg.MetricsNamespace), pipeline)
	}
	return orderflow.NewProcessor(orders.NewStore(clients.DynamoDB, cfg.OrdersTable), notifier, metrics), nil
}

// NewCatalog connects the Postgres catalog, fronted by Redis when REDIS_ADDR is set.
func NewCatalog(ctx context.Context, cfg config.Config) (catalog.Catalog, []func(context.Context) error, error) {
	if cfg.CatalogPostgresDSN == "" {
		return nil, nil, errors.New("CATALOG_POSTGRES_DSN is required")
	}
	pool, err := pgxpool.New(ctx, cfg.CatalogPostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog pool: %w", err)
	}
	closers := []func(context.Context) error{
		func(context.Context) error { pool.Close(); return nil },
	}

	var cat catalog.Catalog = catalog.NewPGCatalog(pool)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, func(context.Context) error { return rdb.Close() })
		cat = catalog.NewCachedCatalog(cat, rdb, cfg.CatalogCacheTTL)
	}
	return cat, closers, nil
}

// Build assembles the API: catalog, stores, notifier and the intake for the
// configured dispatch mode.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	mode, err := orderflow.ParseMode(cfg.DispatchMode)
	if err != nil {
		return nil, err
	}

	clients, err := aws.NewClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws clients: %w", err)
	}

	cat, closers, err := NewCatalog(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Mode: mode, closers: closers}

	users := identity.NewDynamoDirectory(clients.DynamoDB, cfg.UsersTable)
	store := orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	notifier, err := NewNotifier(cfg, users)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	deps := orderflow.IntakeDeps{
		Pricer:   pricing.NewResolver(cat),
		Store:    store,
		Carts:    users,
		Notifier: notifier,
	}
	switch mode {
	case orderflow.ModeBatch:
		a.Processor, err = NewProcessor(cfg, clients, string(mode))
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		b := batcher.New[orders.CreatedEvent](batcher.Config{
			MaxSize: cfg.BatchMaxSize,
			Window:  cfg.BatchWindow,
			Buffer:  cfg.BatchBuffer,
		}, a.Processor.Handle)
		a.closers = append(a.closers, b.Close)
		deps.Sink = orderflow.NewBatcherSink(b)
	case orderflow.ModeQueue:
		deps.Sink = orderflow.NewQueueSink(aws.NewPublisher(clients.SQS, cfg.OrdersQueueURL))
	}

	intake, err := orderflow.NewIntake(mode, deps)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.Router = NewRouter(handlers.HandlerConfig{
		Intake:      intake,
		Status:      orderflow.NewStatusNotifier(store, notifier),
		Orders:      store,
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		Verifier:    identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTTTL),
	})
	slog.InfoContext(ctx, "[app] built", "mode", mode, "catalog_cache", cfg.RedisAddr != "", "metrics", cfg.MetricsNamespace != "")
	return a, nil
}
