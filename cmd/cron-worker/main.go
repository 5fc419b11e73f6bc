package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/terminalpay/internal/bootstrap"
	"github.com/angelmondragon/terminalpay/internal/cron"
	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/db"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/metrics"
	"github.com/angelmondragon/terminalpay/pkg/outbox"
)

const (
	serviceKind = "cron-worker"
	lockName    = "reconcile"
)

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
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	infra, err := bootstrap.OpenInfra(ctx, cfg, logg, true)
	if err != nil {
		return err
	}
	defer infra.Close(context.WithoutCancel(ctx))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	services, err := bootstrap.Build(ctx, bootstrap.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         infra.DB,
		Redis:      infra.Redis,
		Registerer: reg,
	})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	jobs, err := buildJobs(cfg, logg, infra.DB, services, reg)
	if err != nil {
		return fmt.Errorf("register cron jobs: %w", err)
	}
	lock, err := cron.NewRedisLock(infra.Redis, infra.Redis.Keys().CronLock(lockName), cfg.Reconciliation.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:      logg,
		Registry:    jobs,
		Lock:        lock,
		Metrics:     metrics.NewCronJobMetrics(reg),
		Interval:    cfg.Reconciliation.Interval,
		LockRefresh: lock.TTL() / 3,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	bootstrap.ServeMetrics(ctx, cfg.App.MetricsPort, reg, logg)
	logg.Info(logg.WithField(ctx, "jobs", jobs.Names()), "starting cron worker")
	return service.Run(ctx)
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *bootstrap.Services, reg prometheus.Registerer) (*cron.Registry, error) {
	reconcileJob, err := cron.NewChargeReconcileJob(cron.ChargeReconcileJobParams{
		Logger:     logg,
		Reconciler: services.Charges,
	})
	if err != nil {
		return nil, err
	}
	sweepJob, err := cron.NewAssignmentSweepJob(cron.AssignmentSweepJobParams{
		Logger:  logg,
		Sweeper: services.Terminals,
	})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Outbox:      outbox.NewRepository(dbClient.DB()),
		DLQ:         outbox.NewDLQRepository(dbClient.DB()),
		Metrics:     metrics.NewOutboxMetrics(reg),
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(reconcileJob, sweepJob, retentionJob), nil
}
