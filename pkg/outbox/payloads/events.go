package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/pkg/enums"
)

// ChargeEvent is published for every charge lifecycle transition.
type ChargeEvent struct {
	ChargeID       string             `json:"chargeId"`
	TransactionID  uuid.UUID          `json:"transactionId"`
	TicketTierID   uuid.UUID          `json:"ticketTierId"`
	AmountCents    int64              `json:"amount"`
	Currency       string             `json:"currency"`
	TerminalID     string             `json:"terminalId"`
	Status         enums.ChargeStatus `json:"status"`
	POSClient      string             `json:"posClient,omitempty"`
	CashierID      string             `json:"cashierId,omitempty"`
	PaymentDetails *PaymentDetails    `json:"paymentDetails,omitempty"`
	ErrorDetails   *ErrorDetails      `json:"errorDetails,omitempty"`
}

type PaymentDetails struct {
	AuthorizationCode string `json:"authorizationCode,omitempty"`
	CardBrand         string `json:"cardBrand,omitempty"`
	LastFour          string `json:"lastFour,omitempty"`
	PaymentMethod     string `json:"paymentMethod,omitempty"`
}

type ErrorDetails struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OrderPaidEvent is emitted once a ticket transaction is settled and its
// tickets issued.
type OrderPaidEvent struct {
	TransactionID uuid.UUID   `json:"transactionId"`
	EventID       uuid.UUID   `json:"eventId"`
	ChargeID      string      `json:"chargeId"`
	TicketIDs     []uuid.UUID `json:"ticketIds"`
}
