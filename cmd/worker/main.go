package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angelmondragon/terminalpay/internal/bootstrap"
	"github.com/angelmondragon/terminalpay/internal/orders"
	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/outbox"
	"github.com/angelmondragon/terminalpay/pkg/outbox/idempotency"
	"github.com/angelmondragon/terminalpay/pkg/pubsub"
)

const serviceKind = "worker"

// processedEventTTL outlives Pub/Sub's default seven day redelivery window.
const processedEventTTL = 8 * 24 * time.Hour

func main() {
	cfg, logg, err := bootstrap.LoadConfig(serviceKind)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"subscription": cfg.PubSub.ChargesSubscription,
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	infra, err := bootstrap.OpenInfra(ctx, cfg, logg, true)
	if err != nil {
		return err
	}
	defer infra.Close(context.WithoutCancel(ctx))

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.RoleSubscriber, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	infra.Track("pubsub client", pubsubClient.Close)

	orderSvc, err := orders.NewService(orders.ServiceParams{
		DB:     infra.DB,
		Repo:   orders.NewRepository(infra.DB.DB()),
		Outbox: outbox.NewService(outbox.NewRepository(infra.DB.DB()), logg),
		Logger: logg,
	})
	if err != nil {
		return fmt.Errorf("orders service: %w", err)
	}
	manager, err := idempotency.NewManager(infra.Redis, infra.Redis.Keys(), processedEventTTL)
	if err != nil {
		return fmt.Errorf("idempotency manager: %w", err)
	}
	chargeConsumer, err := orders.NewConsumer(orderSvc, pubsubClient.ChargesSubscription(), manager, logg)
	if err != nil {
		return fmt.Errorf("charge event consumer: %w", err)
	}

	service, err := NewService(ServiceParams{
		Logger:    logg,
		DB:        infra.DB,
		Redis:     infra.Redis,
		PubSub:    pubsubClient,
		Consumers: map[string]consumer{"order-charge-events": chargeConsumer},
	})
	if err != nil {
		return fmt.Errorf("worker service: %w", err)
	}

	logg.Info(ctx, "starting worker")
	return service.Run(ctx)
}
