package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/internal/charges"
	"github.com/angelmondragon/terminalpay/internal/idempotency"
	"github.com/angelmondragon/terminalpay/pkg/bold"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
	"github.com/angelmondragon/terminalpay/pkg/outbox"
)

const (
	initiatedReason = "Charge initiated"

	// A losing reservation may race the winner's insert; poll briefly for it.
	duplicateLookupAttempts = 5
	duplicateLookupBackoff  = 40 * time.Millisecond
)

// CreateChargeInput describes a charge for one ticket transaction. ChargeID
// is optional; callers holding the terminal busy lease pass the id they took
// the lease for so that settlement releases exactly that lease.
type CreateChargeInput struct {
	ChargeID      string
	TransactionID uuid.UUID
	TicketTierID  uuid.UUID
	AmountCents   int64
	TerminalID    string
	Metadata      models.ChargeMetadata
}

func (in CreateChargeInput) validate() error {
	if in.TransactionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if in.TicketTierID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "ticket tier id is required")
	}
	if in.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(in.TerminalID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "terminal id is required")
	}
	return nil
}

// CreateCharge starts a payment on the terminal. Repeated calls for the same
// (transaction, amount) within the idempotency window return the charge of the
// first call without contacting the gateway again. The caller owns the
// terminal busy lease; on gateway rejection the charge is closed as error and
// the lease released.
func (s *Service) CreateCharge(ctx context.Context, input CreateChargeInput) (*ChargeView, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	input.TerminalID = strings.TrimSpace(input.TerminalID)

	now := s.now()
	chargeID := strings.TrimSpace(input.ChargeID)
	if chargeID == "" {
		chargeID = charges.NewChargeID(now)
	}
	key := idempotency.Key{Reference: input.TransactionID.String(), AmountCents: input.AmountCents}

	existing, reserved, err := s.ledger.Reserve(ctx, key, chargeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store unavailable")
	}
	if !reserved {
		s.metrics.IncCreated("duplicate")
		return s.duplicateView(ctx, existing, input)
	}

	ctx = s.logg.WithCharge(ctx, chargeID, input.TerminalID)
	charge := &models.TerminalCharge{
		ChargeID:      chargeID,
		TransactionID: input.TransactionID,
		TicketTierID:  input.TicketTierID,
		AmountCents:   input.AmountCents,
		Currency:      s.currency,
		TerminalID:    input.TerminalID,
		Metadata:      input.Metadata,
		CreatedAt:     now.UTC(),
	}
	charge.SeedHistory(initiatedReason, now)
	if err := s.charges.Create(ctx, charge); err != nil {
		if releaseErr := s.ledger.Release(ctx, key, chargeID); releaseErr != nil {
			s.logg.Error(ctx, "failed to release idempotency key", releaseErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist charge")
	}

	payment, gwErr := s.gateway.CreatePayment(ctx, bold.PaymentRequest{
		Amount:      input.AmountCents,
		Currency:    s.currency,
		TerminalID:  input.TerminalID,
		ReferenceID: chargeID,
		Description: "Transaction " + input.TransactionID.String(),
		Metadata: map[string]string{
			"transaction_id": input.TransactionID.String(),
			"ticket_tier_id": input.TicketTierID.String(),
			"charge_id":      chargeID,
		},
	})
	if gwErr != nil {
		return nil, s.failCreate(ctx, key, chargeID, gwErr)
	}

	res, err := s.mutate(ctx, chargeID, sourceCreate, func(tx *gorm.DB, locked *models.TerminalCharge) (bool, error) {
		providerID := payment.ID
		locked.ProviderTransactionID = &providerID
		return true, s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventChargeInitiated,
			AggregateType: enums.AggregateCharge,
			AggregateID:   locked.ID,
			Source:        sourceCreate,
			Data:          chargeEvent(locked),
			OccurredAt:    s.now().UTC(),
		})
	})
	if err != nil {
		// The provider accepted the payment; the sweep picks the charge up by
		// timeout if the id could not be recorded.
		s.logg.Error(ctx, "failed to record provider transaction id", err)
		return nil, err
	}

	s.metrics.IncCreated("initiated")
	s.logg.Info(s.logg.WithField(ctx, "provider_transaction_id", payment.ID), "charge initiated")
	return NewChargeView(res.charge), nil
}

// failCreate closes the charge as error after a gateway failure and returns
// the typed error for the caller. The reservation is dropped only for a
// definite rejection; after a timeout or a 5xx the provider may hold the
// payment, so retries inside the window resolve to this charge.
func (s *Service) failCreate(ctx context.Context, key idempotency.Key, chargeID string, gwErr error) error {
	s.metrics.IncCreated("gateway_error")
	s.logg.Error(ctx, "gateway rejected charge", gwErr)

	message := bold.UserMessage(gwErr)
	details := &models.ErrorDetails{Code: "gateway_error", Message: message}
	var body json.RawMessage
	if httpErr, ok := bold.AsHTTPError(gwErr); ok {
		body = httpErr.Body
		details.ProviderCode = httpErr.ProviderCode
		details.ProviderMessage = httpErr.ProviderMessage
	}

	_, err := s.mutate(ctx, chargeID, sourceCreate, func(_ *gorm.DB, charge *models.TerminalCharge) (bool, error) {
		if !charge.AddStatusHistory(enums.ChargeStatusError, message, body, s.now()) {
			return false, nil
		}
		charge.ErrorDetails = details
		charge.Reconciled = true
		return true, nil
	})
	if err != nil {
		s.logg.Error(ctx, "failed to record gateway rejection", err)
	}
	if definiteRejection(gwErr) {
		if err := s.ledger.Release(ctx, key, chargeID); err != nil {
			s.logg.Error(ctx, "failed to release idempotency key", err)
		}
	}

	if typed := pkgerrors.As(gwErr); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, gwErr, message)
}

// definiteRejection reports whether the gateway answered with a 4xx that
// means the payment was not created.
func definiteRejection(err error) bool {
	httpErr, ok := bold.AsHTTPError(err)
	if !ok {
		return false
	}
	switch httpErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500
}

// duplicateView resolves the charge a winning reservation points at. When the
// winner has not committed its row yet, a provisional pending view is
// returned so every caller observes the same charge id.
func (s *Service) duplicateView(ctx context.Context, chargeID string, input CreateChargeInput) (*ChargeView, error) {
	for attempt := 0; attempt < duplicateLookupAttempts; attempt++ {
		charge, err := s.charges.FindByChargeID(ctx, chargeID)
		if err == nil {
			return NewChargeView(charge), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load charge")
		}
		select {
		case <-ctx.Done():
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, ctx.Err(), "load charge")
		case <-time.After(duplicateLookupBackoff):
		}
	}
	s.logg.Warn(s.logg.WithCharge(ctx, chargeID, input.TerminalID), "duplicate charge request resolved before the charge was stored")
	return &ChargeView{
		ChargeID:    chargeID,
		Status:      enums.ChargeStatusPending,
		AmountCents: input.AmountCents,
		Currency:    s.currency,
		TerminalID:  input.TerminalID,
	}, nil
}
