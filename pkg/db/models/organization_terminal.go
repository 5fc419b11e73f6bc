package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrganizationTerminal registers a physical terminal as owned by an organization.
type OrganizationTerminal struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID `gorm:"column:organization_id;type:uuid;not null;index"`
	TerminalID     string    `gorm:"column:terminal_id;not null"`
	SerialNumber   *string   `gorm:"column:serial_number"`
	Location       *string   `gorm:"column:location"`
	Active         bool      `gorm:"column:active;not null;default:true"`
	AddedAt        time.Time `gorm:"column:added_at;autoCreateTime"`
}

func (OrganizationTerminal) TableName() string { return "organization_terminals" }

// OrganizationMember links a user to the organization they operate for.
type OrganizationMember struct {
	UserID         uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID `gorm:"column:organization_id;type:uuid;not null;index"`
	Role           string    `gorm:"column:role;not null;default:'cashier'"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (OrganizationMember) TableName() string { return "organization_members" }

func (t *OrganizationTerminal) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
