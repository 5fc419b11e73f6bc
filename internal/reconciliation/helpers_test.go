package reconciliation

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/internal/charges"
	"github.com/angelmondragon/terminalpay/internal/idempotency"
	"github.com/angelmondragon/terminalpay/internal/terminals"
	"github.com/angelmondragon/terminalpay/pkg/bold"
	dbpkg "github.com/angelmondragon/terminalpay/pkg/db"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/outbox"
	"github.com/angelmondragon/terminalpay/pkg/outbox/payloads"
	"github.com/angelmondragon/terminalpay/pkg/redis"
	"github.com/angelmondragon/terminalpay/pkg/redis/redistest"
)

const testWebhookSecret = "whsec_test"

type stubGateway struct {
	mu        sync.Mutex
	createErr error
	pollErr   error
	payments  map[string]bold.Payment
	creates   atomic.Int32
	polls     atomic.Int32
}

func newStubGateway() *stubGateway {
	return &stubGateway{payments: map[string]bold.Payment{}}
}

func (g *stubGateway) CreatePayment(_ context.Context, req bold.PaymentRequest) (*bold.Payment, error) {
	g.creates.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	payment := bold.Payment{ID: "bold_" + req.ReferenceID, Status: "pending"}
	g.payments[payment.ID] = payment
	return &payment, nil
}

func (g *stubGateway) GetPayment(_ context.Context, providerTransactionID string) (*bold.Payment, error) {
	g.polls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pollErr != nil {
		return nil, g.pollErr
	}
	payment := g.payments[providerTransactionID]
	return &payment, nil
}

func (g *stubGateway) setPayment(payment bold.Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[payment.ID] = payment
}

type recordingSubscriber struct {
	mu     sync.Mutex
	events []payloads.ChargeEvent
}

func (s *recordingSubscriber) HandleChargeEvent(_ context.Context, event payloads.ChargeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fixture struct {
	db         *gorm.DB
	store      *redistest.Store
	gateway    *stubGateway
	leases     *terminals.LeaseManager
	subscriber *recordingSubscriber
	service    *Service
	logg       *logger.Logger
	now        time.Time
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:reconciliation_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.TerminalCharge{},
		&models.OutboxEvent{},
		&models.TicketTransaction{},
		&models.Ticket{},
		&models.UnmatchedWebhook{},
	))
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX ux_outbox_events_event_aggregate ON outbox_events (event_type, aggregate_type, aggregate_id)`).Error)
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX ux_unmatched_webhooks_event ON unmatched_webhooks (provider_event_id) WHERE provider_event_id <> ''`).Error)
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:         newTestDB(t),
		store:      redistest.NewStore(),
		gateway:    newStubGateway(),
		subscriber: &recordingSubscriber{},
		logg:       logger.New(logger.Options{ServiceName: "reconciliation-test", Output: io.Discard}),
		now:        time.Now().UTC().Truncate(time.Millisecond),
	}
	keys := redis.NewKeys("")
	ledger, err := idempotency.NewLedger(f.store, keys, 0)
	require.NoError(t, err)
	f.leases, err = terminals.NewLeaseManager(f.store, keys)
	require.NoError(t, err)

	f.service, err = NewService(ServiceParams{
		DB:            dbpkg.FromGorm(f.db),
		Charges:       charges.NewRepository(f.db),
		Ledger:        ledger,
		Leases:        f.leases,
		Gateway:       f.gateway,
		Outbox:        outbox.NewService(outbox.NewRepository(f.db), f.logg),
		Logger:        f.logg,
		Subscribers:   []Subscriber{f.subscriber},
		WebhookSecret: testWebhookSecret,
		Now:           func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) createCharge(t *testing.T, terminalID string) *ChargeView {
	t.Helper()
	chargeID := charges.NewChargeID(f.now)
	acquired, err := f.leases.TryAcquireBusy(context.Background(), terminalID, chargeID, f.service.PaymentWindow())
	require.NoError(t, err)
	require.True(t, acquired)
	view, err := f.service.CreateCharge(context.Background(), CreateChargeInput{
		ChargeID:      chargeID,
		TransactionID: uuid.New(),
		TicketTierID:  uuid.New(),
		AmountCents:   5000,
		TerminalID:    terminalID,
		Metadata:      models.ChargeMetadata{POSClient: "scanner-app"},
	})
	require.NoError(t, err)
	return view
}

func (f *fixture) charge(t *testing.T, chargeID string) *models.TerminalCharge {
	t.Helper()
	charge, err := charges.NewRepository(f.db).FindByChargeID(context.Background(), chargeID)
	require.NoError(t, err)
	return charge
}

func (f *fixture) outboxCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func (f *fixture) busy(t *testing.T, terminalID string) bool {
	t.Helper()
	busy, err := f.leases.IsBusy(context.Background(), terminalID)
	require.NoError(t, err)
	return busy
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookBody(t *testing.T, eventType, eventID, providerID string, payment bold.Payment) []byte {
	t.Helper()
	data, err := json.Marshal(payment)
	require.NoError(t, err)
	body, err := json.Marshal(WebhookEvent{
		EventType:     eventType,
		EventID:       eventID,
		TransactionID: providerID,
		Data:          data,
	})
	require.NoError(t, err)
	return body
}
