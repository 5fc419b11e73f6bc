package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/internal/charges"
	"github.com/angelmondragon/terminalpay/pkg/bold"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
	"github.com/angelmondragon/terminalpay/pkg/outbox"
)

const (
	sourceCreate  = "create"
	sourceWebhook = "webhook"
	sourcePoll    = "poll"
	sourceTimeout = "timeout"
	sourceManual  = "manual"

	timeoutReason = "Payment timed out after 2 minutes"
)

// mutation edits a locked charge inside the status transaction. It reports
// whether the row must be saved.
type mutation func(tx *gorm.DB, charge *models.TerminalCharge) (bool, error)

// outcome is what a committed mutation did to the charge.
type outcome struct {
	charge       *models.TerminalCharge
	transitioned bool
}

// UpdateStatus applies a provider payment report to the charge. Equal
// statuses and charges that already reached a terminal status are left
// untouched, so duplicate notifications are harmless.
func (s *Service) UpdateStatus(ctx context.Context, chargeID string, payment bold.Payment) (*models.TerminalCharge, error) {
	res, err := s.mutate(ctx, chargeID, sourceManual, func(_ *gorm.DB, charge *models.TerminalCharge) (bool, error) {
		return s.applyPayment(ctx, charge, payment), nil
	})
	if err != nil {
		return nil, err
	}
	return res.charge, nil
}

// mutate runs fn against the row-locked charge, persists it and queues the
// status event in the same transaction. Lease release, metrics and in-process
// subscribers run only after commit.
func (s *Service) mutate(ctx context.Context, chargeID, source string, fn mutation) (outcome, error) {
	var res outcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.charges.WithTx(tx)
		charge, err := repo.FindByChargeIDForUpdate(ctx, chargeID)
		if err != nil {
			return err
		}
		before := charge.Status

		dirty, err := fn(tx, charge)
		if err != nil {
			return err
		}
		res.charge = charge
		if !dirty {
			return nil
		}
		if err := repo.Save(ctx, charge); err != nil {
			return err
		}
		if charge.Status == before || !charge.IsTerminal() {
			return nil
		}
		res.transitioned = true
		return s.emitStatus(ctx, tx, charge, source)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return outcome{}, pkgerrors.New(pkgerrors.CodeNotFound, "Charge not found")
	}
	if err != nil {
		if pkgerrors.As(err) != nil {
			return outcome{}, err
		}
		return outcome{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update charge")
	}
	if res.transitioned {
		s.afterTransition(ctx, res.charge, source)
	}
	return res, nil
}

func (s *Service) emitStatus(ctx context.Context, tx *gorm.DB, charge *models.TerminalCharge, source string) error {
	eventType, ok := enums.ChargeEventFor(charge.Status)
	if !ok {
		return fmt.Errorf("no event for charge status %s", charge.Status)
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateCharge,
		AggregateID:   charge.ID,
		Source:        source,
		Data:          chargeEvent(charge),
		OccurredAt:    s.now().UTC(),
	})
}

func (s *Service) afterTransition(ctx context.Context, charge *models.TerminalCharge, source string) {
	logCtx := s.logg.WithFields(s.logg.WithCharge(ctx, charge.ChargeID, charge.TerminalID), map[string]any{
		"status": charge.Status.String(),
		"source": source,
	})
	s.logg.Info(logCtx, "charge status changed")
	s.metrics.IncTransition(charge.Status.String(), source)

	if err := s.leases.ReleaseBusy(ctx, charge.TerminalID, charge.ChargeID); err != nil {
		s.logg.Error(logCtx, "failed to release terminal busy lease", err)
	}

	event := chargeEvent(charge)
	for _, sub := range s.subscribers {
		if err := sub.HandleChargeEvent(ctx, event); err != nil {
			s.logg.Error(logCtx, "charge subscriber failed", err)
		}
	}
}

// applyPayment maps the provider report onto the charge. It returns false
// when nothing changed.
func (s *Service) applyPayment(ctx context.Context, charge *models.TerminalCharge, payment bold.Payment) bool {
	if !charges.IsKnownProviderStatus(payment.Status) {
		s.logg.Warn(s.logg.WithFields(s.logg.WithCharge(ctx, charge.ChargeID, charge.TerminalID), map[string]any{
			"provider_status": payment.Status,
		}), "unrecognized provider status mapped to error")
	}
	next := charges.MapProviderStatus(payment.Status)
	previous := charge.Status

	reason := strings.TrimSpace(payment.Message)
	if reason == "" {
		reason = fmt.Sprintf("Status changed from %s to %s", previous, next)
	}
	if !charge.AddStatusHistory(next, reason, payment.Raw, s.now()) {
		return false
	}

	switch next {
	case enums.ChargeStatusApproved:
		charge.PaymentDetails = &models.PaymentDetails{
			AuthorizationCode: payment.AuthorizationCode,
			CardBrand:         payment.CardBrand,
			LastFour:          payment.LastFour,
			CardholderName:    payment.CardholderName,
			PaymentMethod:     payment.PaymentMethod,
		}
	case enums.ChargeStatusDeclined, enums.ChargeStatusError:
		code := payment.FailureCode()
		charge.ErrorDetails = &models.ErrorDetails{
			Code:            code,
			Message:         charges.UserMessage(code),
			ProviderCode:    code,
			ProviderMessage: payment.Message,
		}
	}
	if charge.IsTerminal() {
		charge.Reconciled = true
	}
	return true
}
