package reconciliation

import (
	"time"

	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	"github.com/angelmondragon/terminalpay/pkg/outbox/payloads"
)

// ChargeView is the client-facing projection of a charge. Payment details are
// only present once approved; error details only on declined or error.
type ChargeView struct {
	ChargeID       string                 `json:"chargeId"`
	Status         enums.ChargeStatus     `json:"status"`
	AmountCents    int64                  `json:"amount"`
	Currency       string                 `json:"currency"`
	TerminalID     string                 `json:"terminalId"`
	PaymentDetails *models.PaymentDetails `json:"paymentDetails,omitempty"`
	ErrorDetails   *models.ErrorDetails   `json:"errorDetails,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// NewChargeView formats a stored charge.
func NewChargeView(charge *models.TerminalCharge) *ChargeView {
	if charge == nil {
		return nil
	}
	view := &ChargeView{
		ChargeID:    charge.ChargeID,
		Status:      charge.Status,
		AmountCents: charge.AmountCents,
		Currency:    charge.Currency,
		TerminalID:  charge.TerminalID,
		CreatedAt:   charge.CreatedAt,
		UpdatedAt:   charge.UpdatedAt,
	}
	switch charge.Status {
	case enums.ChargeStatusApproved:
		view.PaymentDetails = charge.PaymentDetails
	case enums.ChargeStatusDeclined, enums.ChargeStatusError:
		view.ErrorDetails = charge.ErrorDetails
	}
	return view
}

func chargeEvent(charge *models.TerminalCharge) payloads.ChargeEvent {
	event := payloads.ChargeEvent{
		ChargeID:      charge.ChargeID,
		TransactionID: charge.TransactionID,
		TicketTierID:  charge.TicketTierID,
		AmountCents:   charge.AmountCents,
		Currency:      charge.Currency,
		TerminalID:    charge.TerminalID,
		Status:        charge.Status,
		POSClient:     charge.Metadata.POSClient,
		CashierID:     charge.Metadata.CashierID,
	}
	if charge.Status == enums.ChargeStatusApproved && charge.PaymentDetails != nil {
		event.PaymentDetails = &payloads.PaymentDetails{
			AuthorizationCode: charge.PaymentDetails.AuthorizationCode,
			CardBrand:         charge.PaymentDetails.CardBrand,
			LastFour:          charge.PaymentDetails.LastFour,
			PaymentMethod:     charge.PaymentDetails.PaymentMethod,
		}
	}
	if charge.ErrorDetails != nil && (charge.Status == enums.ChargeStatusDeclined || charge.Status == enums.ChargeStatusError) {
		event.ErrorDetails = &payloads.ErrorDetails{
			Code:    charge.ErrorDetails.Code,
			Message: charge.ErrorDetails.Message,
		}
	}
	return event
}
