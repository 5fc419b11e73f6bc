package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/pkg/enums"
)

// TerminalCharge is one card-present payment attempt on a physical terminal.
// Rows are never deleted; status only moves forward from pending.
type TerminalCharge struct {
	ID                    uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ChargeID              string             `gorm:"column:charge_id;not null;uniqueIndex"`
	ProviderTransactionID *string            `gorm:"column:provider_transaction_id"`
	TransactionID         uuid.UUID          `gorm:"column:transaction_id;type:uuid;not null;index"`
	TicketTierID          uuid.UUID          `gorm:"column:ticket_tier_id;type:uuid;not null"`
	AmountCents           int64              `gorm:"column:amount_cents;not null"`
	Currency              string             `gorm:"column:currency;not null;default:'COP'"`
	TerminalID            string             `gorm:"column:terminal_id;not null;index"`
	Status                enums.ChargeStatus `gorm:"column:status;not null;default:'pending'"`
	StatusHistory         []StatusEntry      `gorm:"column:status_history;type:jsonb;serializer:json"`
	PaymentDetails        *PaymentDetails    `gorm:"column:payment_details;type:jsonb;serializer:json"`
	ErrorDetails          *ErrorDetails      `gorm:"column:error_details;type:jsonb;serializer:json"`
	WebhookEvents         []WebhookReceipt   `gorm:"column:webhook_events;type:jsonb;serializer:json"`
	Metadata              ChargeMetadata     `gorm:"column:metadata;type:jsonb;serializer:json"`
	LastPollAt            *time.Time         `gorm:"column:last_poll_at"`
	PollAttempts          int                `gorm:"column:poll_attempts;not null;default:0"`
	Reconciled            bool               `gorm:"column:reconciled;not null;default:false"`
	CreatedAt             time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (TerminalCharge) TableName() string { return "terminal_charges" }

func (c *TerminalCharge) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = enums.ChargeStatusPending
	}
	return nil
}

type StatusEntry struct {
	Status          enums.ChargeStatus `json:"status"`
	Timestamp       time.Time          `json:"timestamp"`
	Reason          string             `json:"reason,omitempty"`
	ProviderPayload json.RawMessage    `json:"provider_payload,omitempty"`
}

type PaymentDetails struct {
	AuthorizationCode string `json:"authorization_code,omitempty"`
	CardBrand         string `json:"card_brand,omitempty"`
	LastFour          string `json:"last_four,omitempty"`
	CardholderName    string `json:"cardholder_name,omitempty"`
	PaymentMethod     string `json:"payment_method,omitempty"`
}

type ErrorDetails struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	ProviderCode    string `json:"provider_code,omitempty"`
	ProviderMessage string `json:"provider_message,omitempty"`
}

type WebhookReceipt struct {
	EventType       string    `json:"event_type"`
	ReceivedAt      time.Time `json:"received_at"`
	ProviderEventID string    `json:"provider_event_id,omitempty"`
	Processed       bool      `json:"processed"`
}

type ChargeMetadata struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	POSClient string `json:"pos_client,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	CashierID string `json:"cashier_id,omitempty"`
}

// IsTerminal reports whether the charge has left pending.
func (c *TerminalCharge) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// AddStatusHistory moves the charge to status and records the transition. It
// returns false without touching the charge when the status is unchanged or
// the charge already reached a terminal state.
func (c *TerminalCharge) AddStatusHistory(status enums.ChargeStatus, reason string, payload json.RawMessage, at time.Time) bool {
	if status == c.Status || c.IsTerminal() {
		return false
	}
	c.Status = status
	c.StatusHistory = append(c.StatusHistory, StatusEntry{
		Status:          status,
		Timestamp:       at.UTC(),
		Reason:          reason,
		ProviderPayload: payload,
	})
	return true
}

// SeedHistory writes the initial pending entry of a fresh charge.
func (c *TerminalCharge) SeedHistory(reason string, at time.Time) {
	c.Status = enums.ChargeStatusPending
	c.StatusHistory = []StatusEntry{{
		Status:    enums.ChargeStatusPending,
		Timestamp: at.UTC(),
		Reason:    reason,
	}}
}

// HasWebhookEvent reports whether a provider event id was already received.
func (c *TerminalCharge) HasWebhookEvent(providerEventID string) bool {
	if providerEventID == "" {
		return false
	}
	for _, receipt := range c.WebhookEvents {
		if receipt.ProviderEventID == providerEventID {
			return true
		}
	}
	return false
}

// AddWebhookEvent appends a receipt; duplicates by provider event id are
// rejected and reported as false.
func (c *TerminalCharge) AddWebhookEvent(eventType, providerEventID string, processed bool, at time.Time) bool {
	if c.HasWebhookEvent(providerEventID) {
		return false
	}
	c.WebhookEvents = append(c.WebhookEvents, WebhookReceipt{
		EventType:       eventType,
		ReceivedAt:      at.UTC(),
		ProviderEventID: providerEventID,
		Processed:       processed,
	})
	return true
}

func (c *TerminalCharge) MarkPolled(at time.Time) {
	polled := at.UTC()
	c.LastPollAt = &polled
	c.PollAttempts++
}

// IsTimedOut reports whether a pending charge outlived the payment window.
func (c *TerminalCharge) IsTimedOut(now time.Time, window time.Duration) bool {
	return c.Status == enums.ChargeStatusPending && now.Sub(c.CreatedAt) > window
}

func (c *TerminalCharge) ProviderID() string {
	if c.ProviderTransactionID == nil {
		return ""
	}
	return *c.ProviderTransactionID
}
