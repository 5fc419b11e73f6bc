package charges

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
)

// Repository persists terminal charges. Lookups return gorm.ErrRecordNotFound
// when no row matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, charge *models.TerminalCharge) error
	FindByChargeID(ctx context.Context, chargeID string) (*models.TerminalCharge, error)
	FindByChargeIDForUpdate(ctx context.Context, chargeID string) (*models.TerminalCharge, error)
	FindByProviderTransactionID(ctx context.Context, providerTransactionID string) (*models.TerminalCharge, error)
	Save(ctx context.Context, charge *models.TerminalCharge) error
	ListPendingForReconciliation(ctx context.Context, olderThan time.Time, limit int) ([]models.TerminalCharge, error)
	RecordUnmatchedWebhook(ctx context.Context, webhook *models.UnmatchedWebhook) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a charge repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, charge *models.TerminalCharge) error {
	return r.db.WithContext(ctx).Create(charge).Error
}

func (r *repository) FindByChargeID(ctx context.Context, chargeID string) (*models.TerminalCharge, error) {
	var charge models.TerminalCharge
	err := r.db.WithContext(ctx).
		Where("charge_id = ?", strings.TrimSpace(chargeID)).
		First(&charge).Error
	if err != nil {
		return nil, err
	}
	return &charge, nil
}

// FindByChargeIDForUpdate locks the row until the surrounding transaction ends.
// Only Postgres honors the lock; sqlite serializes writers on its own.
func (r *repository) FindByChargeIDForUpdate(ctx context.Context, chargeID string) (*models.TerminalCharge, error) {
	query := r.db.WithContext(ctx).Where("charge_id = ?", strings.TrimSpace(chargeID))
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var charge models.TerminalCharge
	if err := query.First(&charge).Error; err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *repository) FindByProviderTransactionID(ctx context.Context, providerTransactionID string) (*models.TerminalCharge, error) {
	var charge models.TerminalCharge
	err := r.db.WithContext(ctx).
		Where("provider_transaction_id = ?", strings.TrimSpace(providerTransactionID)).
		First(&charge).Error
	if err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *repository) Save(ctx context.Context, charge *models.TerminalCharge) error {
	return r.db.WithContext(ctx).Save(charge).Error
}

// ListPendingForReconciliation returns unreconciled pending charges created
// before olderThan, oldest first.
func (r *repository) ListPendingForReconciliation(ctx context.Context, olderThan time.Time, limit int) ([]models.TerminalCharge, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND reconciled = ? AND created_at < ?", enums.ChargeStatusPending, false, olderThan.UTC()).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.TerminalCharge
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// RecordUnmatchedWebhook stores a notification for a transaction no charge
// carries. Redeliveries of the same provider event are dropped; the result
// reports whether a row was written.
func (r *repository) RecordUnmatchedWebhook(ctx context.Context, webhook *models.UnmatchedWebhook) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(webhook)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
