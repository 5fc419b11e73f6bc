package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UnmatchedWebhook is a verified gateway notification that named no known
// charge. Rows stay until an operator resolves them.
type UnmatchedWebhook struct {
	ID                    uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ProviderEventID       string          `gorm:"column:provider_event_id;not null"`
	EventType             string          `gorm:"column:event_type;not null"`
	ProviderTransactionID string          `gorm:"column:provider_transaction_id;not null"`
	Payload               json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	ReceivedAt            time.Time       `gorm:"column:received_at;not null"`
	ResolvedAt            *time.Time      `gorm:"column:resolved_at"`
}

func (UnmatchedWebhook) TableName() string { return "unmatched_webhooks" }

func (w *UnmatchedWebhook) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
