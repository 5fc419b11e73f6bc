package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/api/responses"
	"github.com/angelmondragon/terminalpay/api/validators"
	"github.com/angelmondragon/terminalpay/internal/terminals"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

type terminalAssignments interface {
	AvailableTerminals(ctx context.Context, userID, eventID uuid.UUID) ([]terminals.AvailableTerminal, error)
	Assign(ctx context.Context, input terminals.AssignInput) (*models.TerminalAssignment, error)
	CurrentAssignment(ctx context.Context, userID, eventID uuid.UUID) (*terminals.AssignmentView, error)
	Release(ctx context.Context, userID, eventID uuid.UUID) error
	TerminalStatus(ctx context.Context, userID uuid.UUID, terminalID string) (*terminals.StatusView, error)
}

type assignTerminalRequest struct {
	EventID    string `json:"eventId" validate:"required,uuid"`
	TerminalID string `json:"terminalId" validate:"required,terminal_id"`
	Location   string `json:"location" validate:"omitempty,max=120"`
}

type assignmentResponse struct {
	TerminalID string    `json:"terminalId"`
	Location   *string   `json:"location"`
	AssignedAt time.Time `json:"assignedAt"`
}

func TerminalsAvailable(svc terminalAssignments, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, eventID, err := userAndEvent(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.AvailableTerminals(r.Context(), userID, eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

func TerminalAssign(svc terminalAssignments, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body assignTerminalRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		assignment, err := svc.Assign(r.Context(), terminals.AssignInput{
			UserID:     userID,
			EventID:    uuid.MustParse(body.EventID),
			TerminalID: body.TerminalID,
			Location:   body.Location,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, assignmentResponse{
			TerminalID: assignment.TerminalID,
			Location:   assignment.Location,
			AssignedAt: assignment.AssignedAt,
		})
	}
}

// TerminalAssignment returns the caller's assignment for the event; data is
// null when there is none.
func TerminalAssignment(svc terminalAssignments, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, eventID, err := userAndEvent(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.CurrentAssignment(r.Context(), userID, eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func TerminalRelease(svc terminalAssignments, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, eventID, err := userAndEvent(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Release(r.Context(), userID, eventID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"message": "Terminal released successfully"})
	}
}

func TerminalStatus(svc terminalAssignments, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		terminalID, err := validators.PathString(r, "terminalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.TerminalStatus(r.Context(), userID, terminalID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func userAndEvent(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	userID, err := currentUserID(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	eventID, err := validators.PathUUID(r, "eventId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, eventID, nil
}
