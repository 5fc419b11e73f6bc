package terminals

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/pkg/bold"
	dbpkg "github.com/angelmondragon/terminalpay/pkg/db"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/redis"
	"github.com/angelmondragon/terminalpay/pkg/redis/redistest"
)

type stubGateway struct {
	mu       sync.Mutex
	statuses map[string]string
	err      error
	calls    atomic.Int32
	block    chan struct{}
}

func newStubGateway() *stubGateway {
	return &stubGateway{statuses: map[string]string{}}
}

func (g *stubGateway) GetTerminal(ctx context.Context, terminalID string) (*bold.Terminal, error) {
	g.calls.Add(1)
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	status, ok := g.statuses[terminalID]
	if !ok {
		return nil, errors.New("terminal not found")
	}
	return &bold.Terminal{ID: terminalID, Status: status}, nil
}

type fixture struct {
	db      *gorm.DB
	store   *redistest.Store
	gateway *stubGateway
	leases  *LeaseManager
	checker *StatusChecker
	service *AssignmentService
	orgID   uuid.UUID
	now     time.Time
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:terminals_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OrganizationMember{}, &models.OrganizationTerminal{}, &models.TerminalAssignment{}))
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX ux_terminal_assignments_active_terminal_event ON terminal_assignments (terminal_id, event_id) WHERE active`).Error)
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX ux_terminal_assignments_active_user_event ON terminal_assignments (user_id, event_id) WHERE active`).Error)
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:      newTestDB(t),
		store:   redistest.NewStore(),
		gateway: newStubGateway(),
		orgID:   uuid.New(),
		now:     time.Now().UTC(),
	}
	keys := redis.NewKeys("")
	logg := logger.New(logger.Options{ServiceName: "terminals-test", Output: io.Discard})

	var err error
	f.leases, err = NewLeaseManager(f.store, keys)
	require.NoError(t, err)
	f.checker, err = NewStatusChecker(StatusCheckerParams{
		Store:   f.store,
		Keys:    keys,
		Leases:  f.leases,
		Gateway: f.gateway,
		Logger:  logg,
	})
	require.NoError(t, err)
	f.service, err = NewAssignmentService(AssignmentServiceParams{
		DB:       dbpkg.FromGorm(f.db),
		Registry: NewRegistry(f.db),
		Repo:     NewAssignmentRepository(f.db),
		Store:    f.store,
		Keys:     keys,
		Status:   f.checker,
		Logger:   logg,
		Now:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) addMember(t *testing.T) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	require.NoError(t, f.db.Create(&models.OrganizationMember{UserID: userID, OrganizationID: f.orgID, Role: "cashier"}).Error)
	return userID
}

func (f *fixture) addTerminal(t *testing.T, orgID uuid.UUID, terminalID, location string) {
	t.Helper()
	terminal := &models.OrganizationTerminal{OrganizationID: orgID, TerminalID: terminalID, Active: true}
	if location != "" {
		terminal.Location = &location
	}
	require.NoError(t, f.db.Create(terminal).Error)
}
