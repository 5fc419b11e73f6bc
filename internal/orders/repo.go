package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
)

// Repository persists ticket transactions and their tickets. Lookups return
// gorm.ErrRecordNotFound when no row matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.TicketTransaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.TicketTransaction, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TicketTransaction, error)
	Save(ctx context.Context, txn *models.TicketTransaction) error
	LockForProcessing(ctx context.Context, id, cashierID uuid.UUID, now, staleBefore time.Time) (bool, error)
	ListPayable(ctx context.Context, eventID uuid.UUID, staleBefore time.Time, limit int) ([]models.TicketTransaction, error)
	CreateTickets(ctx context.Context, tickets []models.Ticket) error
	ListTickets(ctx context.Context, transactionID uuid.UUID) ([]models.Ticket, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.TicketTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.TicketTransaction, error) {
	var txn models.TicketTransaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TicketTransaction, error) {
	query := r.db.WithContext(ctx).Where("id = ?", id)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var txn models.TicketTransaction
	if err := query.First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) Save(ctx context.Context, txn *models.TicketTransaction) error {
	return r.db.WithContext(ctx).Save(txn).Error
}

// LockForProcessing flips a payable transaction to processing in a single
// conditional update. A processing transaction whose lock started before
// staleBefore is payable again. The previous attempt's charge id is cleared.
func (r *repository) LockForProcessing(ctx context.Context, id, cashierID uuid.UUID, now, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TicketTransaction{}).
		Where("id = ?", id).
		Where("((payment_status = ?) OR (payment_status = ? AND processing_started_at < ?))",
			enums.PaymentStatusPending, enums.PaymentStatusProcessing, staleBefore).
		Updates(map[string]any{
			"payment_status":          enums.PaymentStatusProcessing,
			"processing_started_at":   now,
			"processing_cashier_id":   cashierID,
			"last_payment_attempt_at": now,
			"charge_id":               nil,
			"updated_at":              now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListPayable returns the event's orders a cashier may charge, oldest first.
func (r *repository) ListPayable(ctx context.Context, eventID uuid.UUID, staleBefore time.Time, limit int) ([]models.TicketTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.TicketTransaction
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Where("((payment_status = ?) OR (payment_status = ? AND processing_started_at < ?))",
			enums.PaymentStatusPending, enums.PaymentStatusProcessing, staleBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) CreateTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&tickets).Error
}

func (r *repository) ListTickets(ctx context.Context, transactionID uuid.UUID) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("qr_code ASC").
		Find(&tickets).Error
	return tickets, err
}
