package terminals

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/pkg/db/models"
)

// Registry answers which organization a user belongs to and which terminals
// that organization owns. Lookups return gorm.ErrRecordNotFound on a miss.
type Registry interface {
	FindMember(ctx context.Context, userID uuid.UUID) (*models.OrganizationMember, error)
	FindActiveTerminal(ctx context.Context, organizationID uuid.UUID, terminalID string) (*models.OrganizationTerminal, error)
	ListActiveTerminals(ctx context.Context, organizationID uuid.UUID) ([]models.OrganizationTerminal, error)
}

type registry struct {
	db *gorm.DB
}

func NewRegistry(db *gorm.DB) Registry {
	return &registry{db: db}
}

func (r *registry) FindMember(ctx context.Context, userID uuid.UUID) (*models.OrganizationMember, error) {
	var member models.OrganizationMember
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&member).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *registry) FindActiveTerminal(ctx context.Context, organizationID uuid.UUID, terminalID string) (*models.OrganizationTerminal, error) {
	var terminal models.OrganizationTerminal
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND terminal_id = ? AND active = ?", organizationID, strings.TrimSpace(terminalID), true).
		First(&terminal).Error
	if err != nil {
		return nil, err
	}
	return &terminal, nil
}

func (r *registry) ListActiveTerminals(ctx context.Context, organizationID uuid.UUID) ([]models.OrganizationTerminal, error) {
	var terminals []models.OrganizationTerminal
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND active = ?", organizationID, true).
		Order("terminal_id ASC").
		Find(&terminals).Error
	return terminals, err
}
