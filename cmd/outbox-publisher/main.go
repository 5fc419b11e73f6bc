package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/terminalpay/internal/bootstrap"
	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/outbox"
	"github.com/angelmondragon/terminalpay/pkg/outbox/registry"
	"github.com/angelmondragon/terminalpay/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	cfg, logg, err := bootstrap.LoadConfig(serviceKind)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"topic":       cfg.PubSub.ChargesTopic,
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	infra, err := bootstrap.OpenInfra(ctx, cfg, logg, false)
	if err != nil {
		return err
	}
	defer infra.Close(context.WithoutCancel(ctx))

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.RolePublisher, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	infra.Track("pubsub client", pubsubClient.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	dispatcher, err := NewDispatcher(DispatcherParams{
		Config:        cfg.Outbox,
		Logger:        logg,
		DB:            infra.DB,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(infra.DB.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(infra.DB.DB()),
	})
	if err != nil {
		return fmt.Errorf("outbox dispatcher: %w", err)
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"batch_size":   cfg.Outbox.BatchSize,
		"max_attempts": cfg.Outbox.MaxAttempts,
	}), "starting outbox publisher")
	return dispatcher.Run(ctx)
}
