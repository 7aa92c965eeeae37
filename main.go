package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos_engine/api"
	"pos_engine/internal/checkout"
	"pos_engine/internal/config"
	"pos_engine/internal/events"
	"pos_engine/internal/inventory"
	"pos_engine/internal/observability"
	"pos_engine/internal/platform/database"
	"pos_engine/internal/reports"
	"pos_engine/internal/sales"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const webhookTimeout = 5 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Errorf("error loading configuration: %v", err))
	}

	logger, err := observability.NewLogger(cfg.IsProduction())
	if err != nil {
		panic(fmt.Errorf("error creating logger: %v", err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName: config.ServiceName,
		Endpoint:    cfg.OtelEndpoint,
		AuthHeader:  cfg.OtelAuthHeader,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	store, salesStorage, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("sale number node: %w", err)
	}

	salesService := sales.NewService(salesStorage, logger)
	checkoutService, err := checkout.NewService(store, salesService, cfg.RateConfig(), logger,
		checkout.WithPublisher(publisher),
		checkout.WithNode(node),
		checkout.WithRetryPolicy(checkout.RetryPolicy{
			CommitRetries:  cfg.CommitRetries,
			PersistRetries: cfg.PersistRetries,
			Interval:       cfg.RetryInterval,
		}),
	)
	if err != nil {
		return err
	}

	r := gin.Default()
	api.InitRoutes(r, api.Services{
		Checkout:  checkoutService,
		Sales:     salesService,
		Inventory: store,
		Reports:   reports.NewAggregator(salesStorage, store, cfg.MinorUnits, logger),
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.Store),
			zap.String("tax_rate", cfg.TaxRate.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("error trying to start server: %w", err)
	case <-stop:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if pending := checkoutService.PendingReconciliation(); len(pending) > 0 {
		logger.Error("sales still waiting for reconciliation at shutdown", zap.Int("count", len(pending)))
	}
	return nil
}

// openStores builds the inventory and sale storage for the configured backend.
func openStores(ctx context.Context, cfg *config.Config) (inventory.Store, sales.Storage, func(), error) {
	lockTimeout := inventory.WithLockTimeout(cfg.LockTimeout)

	switch cfg.Store {
	case config.StoreSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := inventory.NewSQLiteStore(ctx, db, lockTimeout)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		salesStorage, err := sales.NewSQLiteStorage(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return store, salesStorage, func() { db.Close() }, nil

	case config.StorePostgres:
		pool, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := inventory.NewPostgresStore(ctx, pool, lockTimeout)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		salesStorage, err := sales.NewPostgresStorage(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return store, salesStorage, pool.Close, nil

	default:
		return inventory.NewLocalStorage(lockTimeout), sales.NewLocalStorage(), func() {}, nil
	}
}

// newPublisher fans sale events out to Kafka and the webhook when configured.
func newPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	var publishers events.Multi
	if cfg.KafkaBrokers != "" {
		publishers = append(publishers, events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)))
		logger.Info("publishing sale events to kafka", zap.String("topic", cfg.KafkaTopic))
	}
	if cfg.WebhookURL != "" {
		publishers = append(publishers, events.NewWebhookPublisher(cfg.WebhookURL, webhookTimeout))
		logger.Info("publishing sale events to webhook", zap.String("url", cfg.WebhookURL))
	}
	switch len(publishers) {
	case 0:
		return events.NopPublisher{}
	case 1:
		return publishers[0]
	default:
		return publishers
	}
}
