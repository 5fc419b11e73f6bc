package pos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/internal/charges"
	"github.com/angelmondragon/terminalpay/internal/reconciliation"
	"github.com/angelmondragon/terminalpay/pkg/bold"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

// ClientName tags charges started from the box-office scanner.
const ClientName = "scanner-app"

const chargeSentMessage = "Cobro enviado al terminal. Esperando pago del cliente"

type orderBook interface {
	LockForProcessing(ctx context.Context, id, cashierID uuid.UUID) (*models.TicketTransaction, error)
	AttachCharge(ctx context.Context, id uuid.UUID, chargeID string) error
	ReturnToPending(ctx context.Context, id uuid.UUID, reason string) error
	ListPayable(ctx context.Context, eventID uuid.UUID, limit int) ([]models.TicketTransaction, error)
}

type terminalAuthorizer interface {
	AuthorizeTerminal(ctx context.Context, userID uuid.UUID, terminalID string) (*models.OrganizationTerminal, error)
}

type statusReader interface {
	Status(ctx context.Context, terminalID string) enums.TerminalStatus
}

type leaseManager interface {
	TryAcquireBusy(ctx context.Context, terminalID, owner string, ttl time.Duration) (bool, error)
	ReleaseBusy(ctx context.Context, terminalID, owner string) error
}

type chargeEngine interface {
	CreateCharge(ctx context.Context, input reconciliation.CreateChargeInput) (*reconciliation.ChargeView, error)
	GetChargeStatus(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error)
	PaymentWindow() time.Duration
}

type ServiceParams struct {
	Orders    orderBook
	Terminals terminalAuthorizer
	Statuses  statusReader
	Leases    leaseManager
	Charges   chargeEngine
	Logger    *logger.Logger
}

// Service runs the cashier flow: pick a pending order, push its total to
// the cashier's terminal and hand settlement over to the charge engine.
type Service struct {
	orders    orderBook
	terminals terminalAuthorizer
	statuses  statusReader
	leases    leaseManager
	charges   chargeEngine
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Orders == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	case params.Terminals == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "terminal authorizer required")
	case params.Statuses == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "terminal status checker required")
	case params.Leases == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lease manager required")
	case params.Charges == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "charge engine required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orders:    params.Orders,
		terminals: params.Terminals,
		statuses:  params.Statuses,
		leases:    params.Leases,
		charges:   params.Charges,
		logg:      params.Logger,
		now:       time.Now,
	}, nil
}

// ChargeOrderInput is a cashier's request to charge one order.
type ChargeOrderInput struct {
	TransactionID uuid.UUID
	TerminalID    string
	CashierID     uuid.UUID
	IPAddress     string
	UserAgent     string
}

// ChargeOrderResult is returned once the terminal has been asked to collect.
type ChargeOrderResult struct {
	TransactionID uuid.UUID                  `json:"transactionId"`
	Charge        *reconciliation.ChargeView `json:"charge"`
	Message       string                     `json:"message"`
}

// ChargeOrder charges a pending order on the cashier's terminal. On any
// failure after the order was locked, the terminal lease is released and the
// order goes back to pending.
func (s *Service) ChargeOrder(ctx context.Context, input ChargeOrderInput) (*ChargeOrderResult, error) {
	input.TerminalID = strings.TrimSpace(input.TerminalID)
	if input.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if input.TerminalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "terminal id is required")
	}
	if input.CashierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "cashier required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"transaction_id": input.TransactionID.String(),
		"terminal_id":    input.TerminalID,
		"cashier_id":     input.CashierID.String(),
	})

	if _, err := s.terminals.AuthorizeTerminal(ctx, input.CashierID, input.TerminalID); err != nil {
		return nil, err
	}
	switch s.statuses.Status(ctx, input.TerminalID) {
	case enums.TerminalStatusBusy:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, charges.UserMessage("terminal_busy"))
	case enums.TerminalStatusOffline:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, charges.UserMessage("terminal_offline"))
	}

	txn, err := s.orders.LockForProcessing(ctx, input.TransactionID, input.CashierID)
	if err != nil {
		return nil, err
	}

	chargeID := charges.NewChargeID(s.now())
	acquired, err := s.leases.TryAcquireBusy(ctx, input.TerminalID, chargeID, s.charges.PaymentWindow())
	if err != nil {
		s.returnOrder(ctx, txn.ID, "Terminal lease unavailable")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "terminal lease unavailable")
	}
	if !acquired {
		message := charges.UserMessage("terminal_busy")
		s.returnOrder(ctx, txn.ID, message)
		return nil, pkgerrors.New(pkgerrors.CodeConflict, message)
	}

	view, err := s.charges.CreateCharge(ctx, reconciliation.CreateChargeInput{
		ChargeID:      chargeID,
		TransactionID: txn.ID,
		TicketTierID:  txn.TicketTierID,
		AmountCents:   txn.TotalCents(),
		TerminalID:    input.TerminalID,
		Metadata: models.ChargeMetadata{
			IPAddress: input.IPAddress,
			UserAgent: input.UserAgent,
			POSClient: ClientName,
			EventID:   txn.EventID.String(),
			CashierID: input.CashierID.String(),
		},
	})
	if err != nil {
		s.releaseLease(ctx, input.TerminalID, chargeID)
		s.returnOrder(ctx, txn.ID, bold.UserMessage(err))
		return nil, err
	}
	if view.ChargeID != chargeID || view.Status.IsTerminal() {
		// The lease only guards a charge this call started.
		s.releaseLease(ctx, input.TerminalID, chargeID)
	}
	if view.Status.IsTerminal() {
		// A retry inside the idempotency window resolved to a closed charge.
		s.returnOrder(ctx, txn.ID, fmt.Sprintf("Charge %s", view.Status))
		return nil, pkgerrors.Newf(pkgerrors.CodeConflict, "Charge %s already finished with status %s", view.ChargeID, view.Status).
			WithDetails(view)
	}

	if err := s.orders.AttachCharge(ctx, txn.ID, view.ChargeID); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "charge_id", view.ChargeID), "failed to attach charge to order", err)
	}
	s.logg.Info(s.logg.WithField(ctx, "charge_id", view.ChargeID), "order sent to terminal")
	return &ChargeOrderResult{
		TransactionID: txn.ID,
		Charge:        view,
		Message:       chargeSentMessage,
	}, nil
}

// StartChargeInput is a direct charge request for an amount chosen by the
// client rather than derived from an order.
type StartChargeInput struct {
	TransactionID uuid.UUID
	TicketTierID  uuid.UUID
	AmountCents   int64
	TerminalID    string
	EventID       string
	UserID        uuid.UUID
	POSClient     string
	IPAddress     string
	UserAgent     string
}

// StartCharge takes the terminal lease and starts a charge without touching
// order state. The lease is released on every failure path.
func (s *Service) StartCharge(ctx context.Context, input StartChargeInput) (*reconciliation.ChargeView, error) {
	input.TerminalID = strings.TrimSpace(input.TerminalID)
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	if input.TerminalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "terminal id is required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"transaction_id": input.TransactionID.String(),
		"terminal_id":    input.TerminalID,
	})
	if _, err := s.terminals.AuthorizeTerminal(ctx, input.UserID, input.TerminalID); err != nil {
		return nil, err
	}

	chargeID := charges.NewChargeID(s.now())
	acquired, err := s.leases.TryAcquireBusy(ctx, input.TerminalID, chargeID, s.charges.PaymentWindow())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "terminal lease unavailable")
	}
	if !acquired {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, charges.UserMessage("terminal_busy"))
	}

	posClient := strings.TrimSpace(input.POSClient)
	if posClient == "" {
		posClient = "unknown"
	}
	view, err := s.charges.CreateCharge(ctx, reconciliation.CreateChargeInput{
		ChargeID:      chargeID,
		TransactionID: input.TransactionID,
		TicketTierID:  input.TicketTierID,
		AmountCents:   input.AmountCents,
		TerminalID:    input.TerminalID,
		Metadata: models.ChargeMetadata{
			IPAddress: input.IPAddress,
			UserAgent: input.UserAgent,
			POSClient: posClient,
			EventID:   input.EventID,
			CashierID: input.UserID.String(),
		},
	})
	if err != nil {
		s.releaseLease(ctx, input.TerminalID, chargeID)
		return nil, err
	}
	if view.ChargeID != chargeID || view.Status.IsTerminal() {
		s.releaseLease(ctx, input.TerminalID, chargeID)
	}
	return view, nil
}

// GetCharge returns the charge status as seen by the cashier.
func (s *Service) GetCharge(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error) {
	return s.charges.GetChargeStatus(ctx, chargeID)
}

// PendingOrders lists the event's orders a cashier may charge.
func (s *Service) PendingOrders(ctx context.Context, eventID uuid.UUID, limit int) ([]models.TicketTransaction, error) {
	if eventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	return s.orders.ListPayable(ctx, eventID, limit)
}

func (s *Service) releaseLease(ctx context.Context, terminalID, chargeID string) {
	if err := s.leases.ReleaseBusy(ctx, terminalID, chargeID); err != nil {
		s.logg.Error(ctx, "failed to release terminal lease", err)
	}
}

func (s *Service) returnOrder(ctx context.Context, id uuid.UUID, reason string) {
	if err := s.orders.ReturnToPending(ctx, id, reason); err != nil {
		s.logg.Error(ctx, "failed to return order to pending", err)
	}
}
