package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/pkg/enums"
)

// TicketTransaction is a box-office order awaiting or holding payment.
type TicketTransaction struct {
	ID                   uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	EventID              uuid.UUID            `gorm:"column:event_id;type:uuid;not null;index"`
	TicketTierID         uuid.UUID            `gorm:"column:ticket_tier_id;type:uuid;not null"`
	UserID               *uuid.UUID           `gorm:"column:user_id;type:uuid"`
	CustomerName         *string              `gorm:"column:customer_name"`
	Quantity             int                  `gorm:"column:quantity;not null"`
	UnitPrice            decimal.Decimal      `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Currency             string               `gorm:"column:currency;not null;default:'COP'"`
	PaymentStatus        enums.PaymentStatus  `gorm:"column:payment_status;not null;default:'pending'"`
	ProcessingStartedAt  *time.Time           `gorm:"column:processing_started_at"`
	ProcessingCashierID  *uuid.UUID           `gorm:"column:processing_cashier_id;type:uuid"`
	PaymentMethod        *enums.PaymentMethod `gorm:"column:payment_method"`
	ChargeID             *string              `gorm:"column:charge_id"`
	PaidAt               *time.Time           `gorm:"column:paid_at"`
	LastPaymentError     *string              `gorm:"column:last_payment_error"`
	LastPaymentAttemptAt *time.Time           `gorm:"column:last_payment_attempt_at"`
	CreatedAt            time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (TicketTransaction) TableName() string { return "ticket_transactions" }

// Ticket is an admission issued once its transaction is paid.
type Ticket struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID  `gorm:"column:transaction_id;type:uuid;not null;index"`
	EventID       uuid.UUID  `gorm:"column:event_id;type:uuid;not null"`
	TicketTierID  uuid.UUID  `gorm:"column:ticket_tier_id;type:uuid;not null"`
	UserID        *uuid.UUID `gorm:"column:user_id;type:uuid"`
	Status        string     `gorm:"column:status;not null;default:'active'"`
	QRCode        string     `gorm:"column:qr_code;not null;uniqueIndex"`
	PurchasedAt   time.Time  `gorm:"column:purchased_at;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Ticket) TableName() string { return "tickets" }

func (t *TicketTransaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.PaymentStatus == "" {
		t.PaymentStatus = enums.PaymentStatusPending
	}
	return nil
}

func (t *Ticket) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TotalCents is quantity times unit price in minor units.
func (t *TicketTransaction) TotalCents() int64 {
	return t.UnitPrice.Mul(decimal.NewFromInt(int64(t.Quantity))).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
