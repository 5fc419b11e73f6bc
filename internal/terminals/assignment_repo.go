package terminals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
)

// AssignmentRepository persists terminal assignments.
type AssignmentRepository interface {
	WithTx(tx *gorm.DB) AssignmentRepository
	Create(ctx context.Context, assignment *models.TerminalAssignment) error
	FindActiveForUser(ctx context.Context, userID, eventID uuid.UUID) (*models.TerminalAssignment, error)
	FindActiveForTerminal(ctx context.Context, terminalID string, eventID uuid.UUID) (*models.TerminalAssignment, error)
	ListActiveForEvent(ctx context.Context, eventID uuid.UUID) ([]models.TerminalAssignment, error)
	DeactivateForUser(ctx context.Context, userID, eventID uuid.UUID) (int64, error)
	RecordStatus(ctx context.Context, terminalID string, status enums.TerminalStatus, at time.Time) error
	DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type assignmentRepository struct {
	db *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) WithTx(tx *gorm.DB) AssignmentRepository {
	if tx == nil {
		return r
	}
	return &assignmentRepository{db: tx}
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *models.TerminalAssignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *assignmentRepository) FindActiveForUser(ctx context.Context, userID, eventID uuid.UUID) (*models.TerminalAssignment, error) {
	var assignment models.TerminalAssignment
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND event_id = ? AND active = ?", userID, eventID, true).
		Order("assigned_at DESC").
		First(&assignment).Error
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *assignmentRepository) FindActiveForTerminal(ctx context.Context, terminalID string, eventID uuid.UUID) (*models.TerminalAssignment, error) {
	var assignment models.TerminalAssignment
	err := r.db.WithContext(ctx).
		Where("terminal_id = ? AND event_id = ? AND active = ?", terminalID, eventID, true).
		First(&assignment).Error
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *assignmentRepository) ListActiveForEvent(ctx context.Context, eventID uuid.UUID) ([]models.TerminalAssignment, error) {
	var rows []models.TerminalAssignment
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND active = ?", eventID, true).
		Find(&rows).Error
	return rows, err
}

func (r *assignmentRepository) DeactivateForUser(ctx context.Context, userID, eventID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TerminalAssignment{}).
		Where("user_id = ? AND event_id = ? AND active = ?", userID, eventID, true).
		Updates(map[string]any{"active": false, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// RecordStatus stamps the last observed device status on every active
// assignment of the terminal.
func (r *assignmentRepository) RecordStatus(ctx context.Context, terminalID string, status enums.TerminalStatus, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.TerminalAssignment{}).
		Where("terminal_id = ? AND active = ?", terminalID, true).
		Updates(map[string]any{"last_status": status, "last_status_check": at.UTC()}).Error
}

// DeactivateOlderThan is a single conditional update, safe to run from
// several workers at once.
func (r *assignmentRepository) DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TerminalAssignment{}).
		Where("active = ? AND assigned_at < ?", true, cutoff.UTC()).
		Updates(map[string]any{"active": false, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}
