package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/internal/charges"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/outbox"
	"github.com/angelmondragon/terminalpay/pkg/outbox/payloads"
)

// DefaultProcessingTTL is how long an order stays locked to one cashier
// before another charge attempt may take it over.
const DefaultProcessingTTL = 2 * time.Minute

const ticketStatusValid = "valid"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	DB            txRunner
	Repo          Repository
	Outbox        outboxPublisher
	Logger        *logger.Logger
	ProcessingTTL time.Duration
	Now           func() time.Time
}

// Service runs the ticket transaction payment state machine:
// pending -> processing -> paid, with processing falling back to pending when
// a charge fails.
type Service struct {
	tx            txRunner
	repo          Repository
	outbox        outboxPublisher
	logg          *logger.Logger
	processingTTL time.Duration
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	svc := &Service{
		tx:            params.DB,
		repo:          params.Repo,
		outbox:        params.Outbox,
		logg:          params.Logger,
		processingTTL: params.ProcessingTTL,
		now:           params.Now,
	}
	if svc.processingTTL <= 0 {
		svc.processingTTL = DefaultProcessingTTL
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Get loads a transaction.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.TicketTransaction, error) {
	txn, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Transaction not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction")
	}
	return txn, nil
}

// LockForProcessing reserves the order for one cashier's charge attempt.
func (s *Service) LockForProcessing(ctx context.Context, id, cashierID uuid.UUID) (*models.TicketTransaction, error) {
	txn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.PaymentStatus == enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "Transaction is already paid")
	}

	now := s.now().UTC()
	locked, err := s.repo.LockForProcessing(ctx, id, cashierID, now, now.Add(-s.processingTTL))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock transaction")
	}
	if !locked {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "Transaction is not in pending state")
	}
	return s.Get(ctx, id)
}

// AttachCharge records the charge currently settling the order.
func (s *Service) AttachCharge(ctx context.Context, id uuid.UUID, chargeID string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		txn, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if txn.PaymentStatus != enums.PaymentStatusProcessing {
			return nil
		}
		txn.ChargeID = &chargeID
		return repo.Save(ctx, txn)
	})
}

// ReturnToPending releases a processing order after a failed attempt and
// records why it failed.
func (s *Service) ReturnToPending(ctx context.Context, id uuid.UUID, reason string) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		txn, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !s.resetToPending(txn, reason) {
			return nil
		}
		return repo.Save(ctx, txn)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "Transaction not found")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release transaction")
	}
	return nil
}

// ListPayable lists the event's orders waiting for a cashier.
func (s *Service) ListPayable(ctx context.Context, eventID uuid.UUID, limit int) ([]models.TicketTransaction, error) {
	rows, err := s.repo.ListPayable(ctx, eventID, s.now().UTC().Add(-s.processingTTL), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending orders")
	}
	return rows, nil
}

// HandleChargeEvent moves the order along with its charge: approved settles
// the order and issues its tickets; any other final status hands the order
// back to the cashiers. Replays are no-ops.
func (s *Service) HandleChargeEvent(ctx context.Context, event payloads.ChargeEvent) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"transaction_id": event.TransactionID.String(),
		"charge_id":      event.ChargeID,
		"status":         event.Status.String(),
	})
	if strings.TrimSpace(event.POSClient) == "" {
		s.logg.Debug(logCtx, "charge not originated by a point of sale, skipping order update")
		return nil
	}
	if !event.Status.IsTerminal() {
		return nil
	}

	var issued []uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		txn, err := repo.FindByIDForUpdate(ctx, event.TransactionID)
		if err != nil {
			return err
		}
		if txn.PaymentStatus == enums.PaymentStatusPaid {
			return nil
		}
		if txn.ChargeID != nil && *txn.ChargeID != "" && *txn.ChargeID != event.ChargeID {
			s.logg.Info(logCtx, "charge event for a superseded attempt ignored")
			return nil
		}

		if event.Status != enums.ChargeStatusApproved {
			if !s.resetToPending(txn, failureReason(event)) {
				return nil
			}
			return repo.Save(ctx, txn)
		}

		issued, err = s.settle(ctx, tx, repo, txn, event)
		return err
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logg.Warn(logCtx, "charge event for unknown transaction")
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply charge event")
	}
	if len(issued) > 0 {
		s.logg.Info(s.logg.WithField(logCtx, "tickets", len(issued)), "order paid and tickets issued")
	} else if event.Status != enums.ChargeStatusApproved {
		s.logg.Info(logCtx, "order returned to pending")
	}
	return nil
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, repo Repository, txn *models.TicketTransaction, event payloads.ChargeEvent) ([]uuid.UUID, error) {
	now := s.now().UTC()
	method := enums.PaymentMethodTerminal
	chargeID := event.ChargeID

	txn.PaymentStatus = enums.PaymentStatusPaid
	txn.PaidAt = &now
	txn.PaymentMethod = &method
	txn.ChargeID = &chargeID
	txn.ProcessingStartedAt = nil
	txn.ProcessingCashierID = nil
	txn.LastPaymentError = nil
	if err := repo.Save(ctx, txn); err != nil {
		return nil, err
	}

	tickets := make([]models.Ticket, 0, txn.Quantity)
	for i := 0; i < txn.Quantity; i++ {
		tickets = append(tickets, models.Ticket{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			EventID:       txn.EventID,
			TicketTierID:  txn.TicketTierID,
			UserID:        txn.UserID,
			Status:        ticketStatusValid,
			QRCode:        TicketQRCode(txn.ID, i, now),
			PurchasedAt:   now,
		})
	}
	if err := repo.CreateTickets(ctx, tickets); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(tickets))
	for _, ticket := range tickets {
		ids = append(ids, ticket.ID)
	}
	err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateTicketTransaction,
		AggregateID:   txn.ID,
		Data: payloads.OrderPaidEvent{
			TransactionID: txn.ID,
			EventID:       txn.EventID,
			ChargeID:      chargeID,
			TicketIDs:     ids,
		},
		OccurredAt: now,
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) resetToPending(txn *models.TicketTransaction, reason string) bool {
	if txn.PaymentStatus == enums.PaymentStatusPaid {
		return false
	}
	now := s.now().UTC()
	txn.PaymentStatus = enums.PaymentStatusPending
	txn.ProcessingStartedAt = nil
	txn.ProcessingCashierID = nil
	txn.LastPaymentAttemptAt = &now
	if reason != "" {
		txn.LastPaymentError = &reason
	}
	return true
}

func failureReason(event payloads.ChargeEvent) string {
	if event.ErrorDetails != nil && event.ErrorDetails.Message != "" {
		return event.ErrorDetails.Message
	}
	return fmt.Sprintf("Charge %s", event.Status)
}

// TicketQRCode builds the admission code printed on a ticket.
func TicketQRCode(transactionID uuid.UUID, index int, at time.Time) string {
	code := fmt.Sprintf("TKT-%s-%d-%d-%s", transactionID, index, at.UnixMilli(), charges.RandomBase36(9))
	return strings.ToUpper(code)
}
