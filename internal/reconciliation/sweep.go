package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/pkg/bold"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
)

// ReconcileResult summarizes one sweep.
type ReconcileResult struct {
	Processed int `json:"processed"`
	TimedOut  int `json:"timedOut"`
	Polled    int `json:"polled"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

// GetChargeStatus returns the charge, polling the gateway once when it is
// still pending inside the payment window.
func (s *Service) GetChargeStatus(ctx context.Context, chargeID string) (*ChargeView, error) {
	charge, err := s.findCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if charge.Status == enums.ChargeStatusPending && !charge.IsTimedOut(s.now(), s.paymentWindow) {
		polled, _, err := s.PollStatus(ctx, charge)
		if err != nil {
			s.logg.Warn(s.logg.WithCharge(ctx, charge.ChargeID, charge.TerminalID), "status poll failed")
		} else if polled != nil {
			charge = polled
		}
	}
	return NewChargeView(charge), nil
}

// PollStatus asks the gateway for the charge's current state and applies it.
// Charges without a provider transaction id are skipped. Poll bookkeeping is
// updated whether or not the gateway answered.
func (s *Service) PollStatus(ctx context.Context, charge *models.TerminalCharge) (*models.TerminalCharge, bool, error) {
	if charge == nil || charge.ProviderID() == "" {
		return charge, false, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	payment, gwErr := s.gateway.GetPayment(callCtx, charge.ProviderID())
	cancel()
	if gwErr != nil {
		s.metrics.IncPoll("error")
	} else {
		s.metrics.IncPoll("ok")
	}

	res, err := s.mutate(ctx, charge.ChargeID, sourcePoll, func(_ *gorm.DB, locked *models.TerminalCharge) (bool, error) {
		if locked.IsTerminal() {
			return false, nil
		}
		locked.MarkPolled(s.now())
		if gwErr == nil {
			s.applyPayment(ctx, locked, *payment)
		}
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}
	if gwErr != nil {
		return res.charge, false, fmt.Errorf("poll charge %s: %w", charge.ChargeID, gwErr)
	}
	return res.charge, res.transitioned, nil
}

// ReconcileAll resolves pending charges that neither a webhook nor a client
// poll settled within the grace window. Timed-out charges are closed without
// asking the gateway. A failure on one charge never stops the sweep.
func (s *Service) ReconcileAll(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult
	now := s.now()
	pending, err := s.charges.ListPendingForReconciliation(ctx, now.Add(-s.graceWindow), s.batchSize)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending charges")
	}

	var errs error
	for i := range pending {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		charge := &pending[i]
		result.Processed++

		changed, timedOut, err := s.reconcileOne(ctx, charge, now)
		if timedOut {
			result.TimedOut++
		} else {
			result.Polled++
		}
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, err)
			continue
		}
		if changed {
			result.Updated++
		}
	}

	if result.Processed > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"processed": result.Processed,
			"timed_out": result.TimedOut,
			"polled":    result.Polled,
			"updated":   result.Updated,
			"failed":    result.Failed,
		}), "charge reconciliation sweep finished")
	}
	return result, errs
}

// ReconcileCharge runs the sweep logic for a single charge on demand.
func (s *Service) ReconcileCharge(ctx context.Context, chargeID string) (*ChargeView, error) {
	charge, err := s.findCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if charge.IsTerminal() {
		return NewChargeView(charge), nil
	}
	if _, _, err := s.reconcileOne(ctx, charge, s.now()); err != nil {
		s.logg.Warn(s.logg.WithCharge(ctx, charge.ChargeID, charge.TerminalID), "manual reconciliation failed")
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, bold.UserMessage(err))
	}
	reloaded, err := s.findCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	return NewChargeView(reloaded), nil
}

func (s *Service) reconcileOne(ctx context.Context, charge *models.TerminalCharge, now time.Time) (changed, timedOut bool, err error) {
	if charge.IsTimedOut(now, s.paymentWindow) {
		res, err := s.mutate(ctx, charge.ChargeID, sourceTimeout, func(_ *gorm.DB, locked *models.TerminalCharge) (bool, error) {
			if !locked.AddStatusHistory(enums.ChargeStatusTimeout, timeoutReason, nil, s.now()) {
				return false, nil
			}
			locked.Reconciled = true
			return true, nil
		})
		if err != nil {
			return false, true, err
		}
		return res.transitioned, true, nil
	}
	_, changed, err = s.PollStatus(ctx, charge)
	return changed, false, err
}

func (s *Service) findCharge(ctx context.Context, chargeID string) (*models.TerminalCharge, error) {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge id is required")
	}
	charge, err := s.charges.FindByChargeID(ctx, chargeID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Charge not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load charge")
	}
	return charge, nil
}
