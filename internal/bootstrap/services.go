// Package bootstrap assembles the charge, terminal and order services from
// their infrastructure clients. The API and the cron worker share it.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/terminalpay/internal/charges"
	"github.com/angelmondragon/terminalpay/internal/idempotency"
	"github.com/angelmondragon/terminalpay/internal/orders"
	"github.com/angelmondragon/terminalpay/internal/pos"
	"github.com/angelmondragon/terminalpay/internal/reconciliation"
	"github.com/angelmondragon/terminalpay/internal/terminals"
	"github.com/angelmondragon/terminalpay/pkg/bold"
	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/db"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/metrics"
	"github.com/angelmondragon/terminalpay/pkg/outbox"
	"github.com/angelmondragon/terminalpay/pkg/redis"
)

// Services is the wired domain layer.
type Services struct {
	Charges   *reconciliation.Service
	Terminals *terminals.AssignmentService
	Leases    *terminals.LeaseManager
	Status    *terminals.StatusChecker
	Orders    *orders.Service
	POS       *pos.Service
	Outbox    *outbox.Service
}

// Params are the infrastructure handles the services are built on.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
	Gateway    *bold.Client
}

// Build wires every domain service. A nil Gateway is replaced by a client
// built from the Bold configuration.
func Build(ctx context.Context, params Params) (*Services, error) {
	cfg := params.Config
	logg := params.Logger
	keys := params.Redis.Keys()

	gateway := params.Gateway
	if gateway == nil {
		client, err := bold.NewClient(ctx, cfg.Bold)
		if err != nil {
			return nil, fmt.Errorf("bold client: %w", err)
		}
		gateway = client
	}

	outboxSvc := outbox.NewService(outbox.NewRepository(params.DB.DB()), logg)

	leases, err := terminals.NewLeaseManager(params.Redis, keys)
	if err != nil {
		return nil, fmt.Errorf("lease manager: %w", err)
	}
	status, err := terminals.NewStatusChecker(terminals.StatusCheckerParams{
		Store:    params.Redis,
		Keys:     keys,
		Leases:   leases,
		Gateway:  gateway,
		Logger:   logg,
		CacheTTL: cfg.Terminals.StatusCacheTTL,
		Timeout:  cfg.Reconciliation.PollTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("status checker: %w", err)
	}
	assignments, err := terminals.NewAssignmentService(terminals.AssignmentServiceParams{
		DB:       params.DB,
		Registry: terminals.NewRegistry(params.DB.DB()),
		Repo:     terminals.NewAssignmentRepository(params.DB.DB()),
		Store:    params.Redis,
		Keys:     keys,
		Status:   status,
		Logger:   logg,
		CacheTTL: cfg.Terminals.AssignmentCacheTTL,
		MaxAge:   cfg.Terminals.AssignmentMaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("assignment service: %w", err)
	}

	ledger, err := idempotency.NewLedger(params.Redis, keys, cfg.Reconciliation.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency ledger: %w", err)
	}
	chargeSvc, err := reconciliation.NewService(reconciliation.ServiceParams{
		DB:            params.DB,
		Charges:       charges.NewRepository(params.DB.DB()),
		Ledger:        ledger,
		Leases:        leases,
		Gateway:       gateway,
		Outbox:        outboxSvc,
		Logger:        logg,
		Metrics:       metrics.NewChargeMetrics(params.Registerer),
		WebhookSecret: cfg.Bold.WebhookSecret,
		Currency:      gateway.Currency(),
		PaymentWindow: cfg.Reconciliation.PaymentWindow,
		GraceWindow:   cfg.Reconciliation.GraceWindow,
		PollTimeout:   cfg.Reconciliation.PollTimeout,
		BatchSize:     cfg.Reconciliation.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("charge service: %w", err)
	}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		DB:     params.DB,
		Repo:   orders.NewRepository(params.DB.DB()),
		Outbox: outboxSvc,
		Logger: logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	posSvc, err := pos.NewService(pos.ServiceParams{
		Orders:    orderSvc,
		Terminals: assignments,
		Statuses:  status,
		Leases:    leases,
		Charges:   chargeSvc,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("pos service: %w", err)
	}

	return &Services{
		Charges:   chargeSvc,
		Terminals: assignments,
		Leases:    leases,
		Status:    status,
		Orders:    orderSvc,
		POS:       posSvc,
		Outbox:    outboxSvc,
	}, nil
}
