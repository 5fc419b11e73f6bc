package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/terminalpay/internal/reconciliation"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

type chargeReconciler interface {
	ReconcileAll(ctx context.Context) (reconciliation.ReconcileResult, error)
}

type ChargeReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler chargeReconciler
}

// NewChargeReconcileJob sweeps pending charges: it times out charges past
// the payment window and polls the gateway for the rest.
func NewChargeReconcileJob(params ChargeReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	return &chargeReconcileJob{logg: params.Logger, reconciler: params.Reconciler}, nil
}

type chargeReconcileJob struct {
	logg       *logger.Logger
	reconciler chargeReconciler
}

func (j *chargeReconcileJob) Name() string { return "charge-reconcile" }

func (j *chargeReconcileJob) Run(ctx context.Context) error {
	result, err := j.reconciler.ReconcileAll(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"processed": result.Processed,
		"timed_out": result.TimedOut,
		"polled":    result.Polled,
		"updated":   result.Updated,
		"failed":    result.Failed,
	})
	if err != nil {
		return fmt.Errorf("charge reconcile: %w", err)
	}
	if result.Processed > 0 {
		j.logg.Info(logCtx, "pending charges reconciled")
	}
	return nil
}
