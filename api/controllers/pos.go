package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/api/responses"
	"github.com/angelmondragon/terminalpay/api/validators"
	"github.com/angelmondragon/terminalpay/internal/pos"
	"github.com/angelmondragon/terminalpay/internal/reconciliation"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

const (
	defaultPendingOrders = 50
	maxPendingOrders     = 200
)

type posService interface {
	ChargeOrder(ctx context.Context, input pos.ChargeOrderInput) (*pos.ChargeOrderResult, error)
	GetCharge(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error)
	PendingOrders(ctx context.Context, eventID uuid.UUID, limit int) ([]models.TicketTransaction, error)
}

type posChargeRequest struct {
	TransactionID string `json:"transactionId" validate:"required,uuid"`
	TerminalID    string `json:"terminalId" validate:"required,terminal_id"`
}

type pendingOrder struct {
	ID           uuid.UUID `json:"id"`
	TicketTierID uuid.UUID `json:"ticketTierId"`
	Quantity     int       `json:"quantity"`
	UnitPrice    string    `json:"unitPrice"`
	TotalAmount  int64     `json:"totalAmount"`
	CustomerName *string   `json:"customerName,omitempty"`
	LastError    *string   `json:"lastPaymentError,omitempty"`
}

// POSCharge sends a pending order's total to the cashier's terminal.
func POSCharge(svc posService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cashierID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body posChargeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ChargeOrder(r.Context(), pos.ChargeOrderInput{
			TransactionID: uuid.MustParse(body.TransactionID),
			TerminalID:    body.TerminalID,
			CashierID:     cashierID,
			IPAddress:     clientIP(r),
			UserAgent:     r.UserAgent(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func POSChargeStatus(svc posService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chargeID, err := validators.PathString(r, "chargeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.GetCharge(r.Context(), chargeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// POSPendingOrders lists the event's orders still waiting for payment.
func POSPendingOrders(svc posService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := validators.PathUUID(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultPendingOrders, 1, maxPendingOrders)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.PendingOrders(r.Context(), eventID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]pendingOrder, 0, len(rows))
		for _, row := range rows {
			out = append(out, pendingOrder{
				ID:           row.ID,
				TicketTierID: row.TicketTierID,
				Quantity:     row.Quantity,
				UnitPrice:    row.UnitPrice.StringFixed(2),
				TotalAmount:  row.TotalCents(),
				CustomerName: row.CustomerName,
				LastError:    row.LastPaymentError,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
