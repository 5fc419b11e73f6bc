package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/pkg/enums"
)

// TerminalAssignment binds a cashier to a terminal for one event.
type TerminalAssignment struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID  uuid.UUID            `gorm:"column:organization_id;type:uuid;not null"`
	UserID          uuid.UUID            `gorm:"column:user_id;type:uuid;not null"`
	EventID         uuid.UUID            `gorm:"column:event_id;type:uuid;not null"`
	TerminalID      string               `gorm:"column:terminal_id;not null"`
	Location        *string              `gorm:"column:location"`
	Active          bool                 `gorm:"column:active;not null;default:true"`
	AssignedAt      time.Time            `gorm:"column:assigned_at;not null"`
	LastStatusCheck *time.Time           `gorm:"column:last_status_check"`
	LastStatus      enums.TerminalStatus `gorm:"column:last_status;not null;default:'unknown'"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (TerminalAssignment) TableName() string { return "terminal_assignments" }

func (a *TerminalAssignment) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.LastStatus == "" {
		a.LastStatus = enums.TerminalStatusUnknown
	}
	return nil
}
