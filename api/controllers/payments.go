package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/api/responses"
	"github.com/angelmondragon/terminalpay/api/validators"
	"github.com/angelmondragon/terminalpay/internal/pos"
	"github.com/angelmondragon/terminalpay/internal/reconciliation"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

const posClientHeader = "X-POS-Client"

type chargeStarter interface {
	StartCharge(ctx context.Context, input pos.StartChargeInput) (*reconciliation.ChargeView, error)
}

type chargeReader interface {
	GetChargeStatus(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error)
	ReconcileCharge(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error)
}

type createChargeRequest struct {
	OrderID      string `json:"order_id" validate:"required,uuid"`
	TicketTierID string `json:"ticket_tier_id" validate:"required,uuid"`
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	TerminalID   string `json:"terminal_id" validate:"required,terminal_id"`
	EventID      string `json:"event_id" validate:"omitempty,max=64"`
}

// ChargeCreate starts a terminal charge for an explicit amount in cents.
func ChargeCreate(svc chargeStarter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body createChargeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.StartCharge(r.Context(), pos.StartChargeInput{
			TransactionID: uuid.MustParse(body.OrderID),
			TicketTierID:  uuid.MustParse(body.TicketTierID),
			AmountCents:   body.Amount,
			TerminalID:    body.TerminalID,
			EventID:       strings.TrimSpace(body.EventID),
			UserID:        userID,
			POSClient:     posClient(r),
			IPAddress:     clientIP(r),
			UserAgent:     r.UserAgent(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// ChargeStatus returns a charge, polling the gateway once while it is pending
// inside the payment window.
func ChargeStatus(svc chargeReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chargeID, err := validators.PathString(r, "chargeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.GetChargeStatus(r.Context(), chargeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// ChargeReconcile forces one reconciliation pass for a charge.
func ChargeReconcile(svc chargeReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chargeID, err := validators.PathString(r, "chargeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.ReconcileCharge(r.Context(), chargeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"message": "Reconciliation triggered",
			"charge":  view,
		})
	}
}
