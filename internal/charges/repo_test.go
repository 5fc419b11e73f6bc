package charges

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:charges_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.TerminalCharge{}))
	return db
}

func newCharge(createdAt time.Time) *models.TerminalCharge {
	charge := &models.TerminalCharge{
		ChargeID:      NewChargeID(createdAt),
		TransactionID: uuid.New(),
		TicketTierID:  uuid.New(),
		AmountCents:   5000,
		Currency:      "COP",
		TerminalID:    "T1",
		Metadata:      models.ChargeMetadata{POSClient: "scanner-app"},
		CreatedAt:     createdAt,
	}
	charge.SeedHistory("Charge initiated", createdAt)
	return charge
}

func TestRepositoryCreateAndFind(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	charge := newCharge(time.Now().UTC())
	require.NoError(t, repo.Create(ctx, charge))
	assert.NotEqual(t, uuid.Nil, charge.ID)

	found, err := repo.FindByChargeID(ctx, charge.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, enums.ChargeStatusPending, found.Status)
	require.Len(t, found.StatusHistory, 1)
	assert.Equal(t, "Charge initiated", found.StatusHistory[0].Reason)
	assert.Equal(t, "scanner-app", found.Metadata.POSClient)

	providerID := "bold_tx_1"
	found.ProviderTransactionID = &providerID
	require.NoError(t, repo.Save(ctx, found))

	byProvider, err := repo.FindByProviderTransactionID(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, charge.ChargeID, byProvider.ChargeID)

	_, err = repo.FindByChargeID(ctx, "CHG_MISSING")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRepositoryPersistsHistoryAndDetails(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	charge := newCharge(time.Now().UTC())
	require.NoError(t, repo.Create(ctx, charge))

	now := time.Now().UTC()
	require.True(t, charge.AddStatusHistory(enums.ChargeStatusApproved, "approved", []byte(`{"status":"APPROVED"}`), now))
	charge.PaymentDetails = &models.PaymentDetails{AuthorizationCode: "A1", LastFour: "4242"}
	require.True(t, charge.AddWebhookEvent("payment.approved", "evt_1", true, now))
	charge.Reconciled = true
	require.NoError(t, repo.Save(ctx, charge))

	err := db.Transaction(func(tx *gorm.DB) error {
		locked, err := repo.WithTx(tx).FindByChargeIDForUpdate(ctx, charge.ChargeID)
		if err != nil {
			return err
		}
		assert.Equal(t, enums.ChargeStatusApproved, locked.Status)
		require.Len(t, locked.StatusHistory, 2)
		assert.JSONEq(t, `{"status":"APPROVED"}`, string(locked.StatusHistory[1].ProviderPayload))
		require.NotNil(t, locked.PaymentDetails)
		assert.Equal(t, "4242", locked.PaymentDetails.LastFour)
		assert.True(t, locked.HasWebhookEvent("evt_1"))
		return nil
	})
	require.NoError(t, err)
}

func TestListPendingForReconciliation(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	old := newCharge(now.Add(-3 * time.Minute))
	recent := newCharge(now.Add(-30 * time.Second))
	reconciled := newCharge(now.Add(-5 * time.Minute))
	reconciled.Reconciled = true
	approved := newCharge(now.Add(-4 * time.Minute))
	approved.AddStatusHistory(enums.ChargeStatusApproved, "approved", nil, now)

	for _, c := range []*models.TerminalCharge{old, recent, reconciled, approved} {
		require.NoError(t, repo.Create(ctx, c))
	}

	rows, err := repo.ListPendingForReconciliation(ctx, now.Add(-90*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, old.ChargeID, rows[0].ChargeID)
}
