package terminals

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/terminalpay/pkg/db"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/redis"
)

const (
	DefaultAssignmentCacheTTL = time.Minute
	DefaultAssignmentMaxAge   = 24 * time.Hour

	locationNotSpecified = "Not specified"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AssignInput binds a cashier to a terminal for an event.
type AssignInput struct {
	UserID     uuid.UUID
	EventID    uuid.UUID
	TerminalID string
	Location   string
}

// AssignmentView is the cached projection of a user's active assignment.
type AssignmentView struct {
	TerminalID      string               `json:"terminalId"`
	Location        string               `json:"location"`
	AssignedAt      time.Time            `json:"assignedAt"`
	Status          enums.TerminalStatus `json:"status"`
	LastStatusCheck *time.Time           `json:"lastStatusCheck,omitempty"`
}

// AvailableTerminal is one row of the terminal selector.
type AvailableTerminal struct {
	TerminalID    string               `json:"terminalId"`
	SerialNumber  *string              `json:"serialNumber,omitempty"`
	Location      string               `json:"location"`
	Status        enums.TerminalStatus `json:"status"`
	Available     bool                 `json:"available"`
	AssignedTo    *uuid.UUID           `json:"assignedTo"`
	IsCurrentUser bool                 `json:"isCurrentUser"`
}

// StatusView answers a terminal status check.
type StatusView struct {
	TerminalID string               `json:"terminalId"`
	Status     enums.TerminalStatus `json:"status"`
	Message    string               `json:"message"`
	CheckedAt  time.Time            `json:"checkedAt"`
}

// AssignmentService manages the longer-lived binding of terminals to
// (user, event) pairs.
type AssignmentService struct {
	tx       txRunner
	registry Registry
	repo     AssignmentRepository
	store    Store
	keys     redis.Keys
	status   *StatusChecker
	logg     *logger.Logger
	cacheTTL time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

type AssignmentServiceParams struct {
	DB       txRunner
	Registry Registry
	Repo     AssignmentRepository
	Store    Store
	Keys     redis.Keys
	Status   *StatusChecker
	Logger   *logger.Logger
	CacheTTL time.Duration
	MaxAge   time.Duration
	Now      func() time.Time
}

func NewAssignmentService(params AssignmentServiceParams) (*AssignmentService, error) {
	if params.DB == nil {
		return nil, errors.New("transaction runner is required")
	}
	if params.Registry == nil {
		return nil, errors.New("terminal registry is required")
	}
	if params.Repo == nil {
		return nil, errors.New("assignment repository is required")
	}
	if params.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if params.Status == nil {
		return nil, errors.New("status checker is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	svc := &AssignmentService{
		tx:       params.DB,
		registry: params.Registry,
		repo:     params.Repo,
		store:    params.Store,
		keys:     params.Keys,
		status:   params.Status,
		logg:     params.Logger,
		cacheTTL: params.CacheTTL,
		maxAge:   params.MaxAge,
		now:      params.Now,
	}
	if svc.cacheTTL <= 0 {
		svc.cacheTTL = DefaultAssignmentCacheTTL
	}
	if svc.maxAge <= 0 {
		svc.maxAge = DefaultAssignmentMaxAge
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Assign binds the terminal to the caller for the event, replacing any other
// active assignment the caller holds for that event.
func (s *AssignmentService) Assign(ctx context.Context, input AssignInput) (*models.TerminalAssignment, error) {
	terminalID := strings.TrimSpace(input.TerminalID)
	if input.UserID == uuid.Nil || input.EventID == uuid.Nil || terminalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user, event and terminal are required")
	}

	member, err := s.member(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	terminal, err := s.registry.FindActiveTerminal(ctx, member.OrganizationID, terminalID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Terminal not found in organization")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load terminal")
	}

	existing, err := s.repo.FindActiveForTerminal(ctx, terminalID, input.EventID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load terminal assignment")
	}
	if existing != nil && existing.UserID != input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "Terminal is already assigned to another user")
	}

	location := strings.TrimSpace(input.Location)
	if location == "" && terminal.Location != nil {
		location = *terminal.Location
	}
	assignment := &models.TerminalAssignment{
		OrganizationID: member.OrganizationID,
		UserID:         input.UserID,
		EventID:        input.EventID,
		TerminalID:     terminalID,
		Active:         true,
		AssignedAt:     s.now().UTC(),
		LastStatus:     enums.TerminalStatusUnknown,
	}
	if location != "" {
		assignment.Location = &location
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.DeactivateForUser(ctx, input.UserID, input.EventID); err != nil {
			return err
		}
		return repo.Create(ctx, assignment)
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "Terminal is already assigned to another user")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "assign terminal")
	}

	s.invalidate(ctx, input.UserID, input.EventID)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id":     input.UserID.String(),
		"event_id":    input.EventID.String(),
		"terminal_id": terminalID,
	}), "terminal assigned")
	return assignment, nil
}

// CurrentAssignment returns the caller's active assignment for the event, or
// nil when there is none. Reads are cached briefly.
func (s *AssignmentService) CurrentAssignment(ctx context.Context, userID, eventID uuid.UUID) (*AssignmentView, error) {
	cacheKey := s.keys.TerminalAssignment(userID.String(), eventID.String())
	if cached, err := s.store.Get(ctx, cacheKey); err == nil && cached != "" {
		var view AssignmentView
		if err := json.Unmarshal([]byte(cached), &view); err == nil {
			return &view, nil
		}
	} else if err != nil && !errors.Is(err, redis.ErrNil) {
		s.logg.Warn(s.logg.WithField(ctx, "cache_key", cacheKey), "assignment cache read failed")
	}

	assignment, err := s.repo.FindActiveForUser(ctx, userID, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load terminal assignment")
	}

	view := &AssignmentView{
		TerminalID:      assignment.TerminalID,
		Location:        s.locationFor(ctx, assignment),
		AssignedAt:      assignment.AssignedAt,
		Status:          s.status.Status(ctx, assignment.TerminalID),
		LastStatusCheck: assignment.LastStatusCheck,
	}
	if encoded, err := json.Marshal(view); err == nil {
		if err := s.store.Set(ctx, cacheKey, string(encoded), s.cacheTTL); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "cache_key", cacheKey), "assignment cache write failed")
		}
	}
	return view, nil
}

// Release ends the caller's active assignment for the event.
func (s *AssignmentService) Release(ctx context.Context, userID, eventID uuid.UUID) error {
	if _, err := s.repo.FindActiveForUser(ctx, userID, eventID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "No active terminal assignment found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load terminal assignment")
	}
	if _, err := s.repo.DeactivateForUser(ctx, userID, eventID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release terminal")
	}
	s.invalidate(ctx, userID, eventID)
	return nil
}

// SweepExpired deactivates assignments older than the maximum age.
func (s *AssignmentService) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	released, err := s.repo.DeactivateOlderThan(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sweep terminal assignments")
	}
	if released > 0 {
		s.logg.Info(s.logg.WithField(ctx, "released", released), "expired terminal assignments released")
	}
	return released, nil
}

// AvailableTerminals lists the caller's organization terminals for the event
// selector.
func (s *AssignmentService) AvailableTerminals(ctx context.Context, userID, eventID uuid.UUID) ([]AvailableTerminal, error) {
	member, err := s.member(ctx, userID)
	if err != nil {
		return nil, err
	}
	terminals, err := s.registry.ListActiveTerminals(ctx, member.OrganizationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list terminals")
	}
	if len(terminals) == 0 {
		return []AvailableTerminal{}, nil
	}
	active, err := s.repo.ListActiveForEvent(ctx, eventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list terminal assignments")
	}
	holders := make(map[string]uuid.UUID, len(active))
	for _, assignment := range active {
		holders[assignment.TerminalID] = assignment.UserID
	}

	out := make([]AvailableTerminal, 0, len(terminals))
	for _, terminal := range terminals {
		row := AvailableTerminal{
			TerminalID:   terminal.TerminalID,
			SerialNumber: terminal.SerialNumber,
			Location:     locationNotSpecified,
			Status:       s.status.Status(ctx, terminal.TerminalID),
			Available:    true,
		}
		if terminal.Location != nil && *terminal.Location != "" {
			row.Location = *terminal.Location
		}
		if holder, ok := holders[terminal.TerminalID]; ok {
			row.AssignedTo = &holder
			row.IsCurrentUser = holder == userID
			row.Available = row.IsCurrentUser
		}
		out = append(out, row)
	}
	return out, nil
}

// AuthorizeTerminal checks that the terminal belongs to the caller's
// organization and is active.
func (s *AssignmentService) AuthorizeTerminal(ctx context.Context, userID uuid.UUID, terminalID string) (*models.OrganizationTerminal, error) {
	member, err := s.member(ctx, userID)
	if err != nil {
		return nil, err
	}
	terminal, err := s.registry.FindActiveTerminal(ctx, member.OrganizationID, terminalID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "Terminal does not belong to your organization")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load terminal")
	}
	return terminal, nil
}

// TerminalStatus reports the live status of one of the caller's terminals and
// stamps it on the active assignments.
func (s *AssignmentService) TerminalStatus(ctx context.Context, userID uuid.UUID, terminalID string) (*StatusView, error) {
	terminal, err := s.AuthorizeTerminal(ctx, userID, terminalID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	status := s.status.Status(ctx, terminal.TerminalID)
	if err := s.repo.RecordStatus(ctx, terminal.TerminalID, status, now); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "terminal_id", terminal.TerminalID), "failed to record terminal status")
	}
	return &StatusView{
		TerminalID: terminal.TerminalID,
		Status:     status,
		Message:    StatusMessage(status),
		CheckedAt:  now,
	}, nil
}

func (s *AssignmentService) member(ctx context.Context, userID uuid.UUID) (*models.OrganizationMember, error) {
	member, err := s.registry.FindMember(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "User or organization not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load organization member")
	}
	return member, nil
}

func (s *AssignmentService) locationFor(ctx context.Context, assignment *models.TerminalAssignment) string {
	if assignment.Location != nil && *assignment.Location != "" {
		return *assignment.Location
	}
	terminal, err := s.registry.FindActiveTerminal(ctx, assignment.OrganizationID, assignment.TerminalID)
	if err == nil && terminal.Location != nil && *terminal.Location != "" {
		return *terminal.Location
	}
	return locationNotSpecified
}

func (s *AssignmentService) invalidate(ctx context.Context, userID, eventID uuid.UUID) {
	cacheKey := s.keys.TerminalAssignment(userID.String(), eventID.String())
	if err := s.store.Del(ctx, cacheKey); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "cache_key", cacheKey), "assignment cache invalidation failed")
	}
}
