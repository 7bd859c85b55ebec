package service

import (
	"fmt"
	"time"

	"autocare/internal/domain"
	"autocare/internal/models"
)

// Action is a single ledger mutation.
type Action struct {
	Type       ActionType
	RequestID  string
	MechanicID string
	// Request carries the fully built entity for ActionCreate.
	Request *models.ServiceRequest
	// ExpectedVersion, when non-zero, must equal the current version.
	ExpectedVersion int64
}

// Reduce applies action to requests and returns the new collection together
// with the affected entity. The input slice is never modified; on error the
// caller keeps its current collection.
func Reduce(requests []models.ServiceRequest, action Action, now time.Time) ([]models.ServiceRequest, models.ServiceRequest, error) {
	if action.Type == ActionCreate {
		return reduceCreate(requests, action, now)
	}

	if _, ok := transitionMap[action.Type]; !ok {
		return nil, models.ServiceRequest{}, fmt.Errorf("unknown action %q", action.Type)
	}

	idx := indexOf(requests, action.RequestID)
	if idx < 0 {
		return nil, models.ServiceRequest{}, &domain.NotFoundError{Kind: "request", ID: action.RequestID}
	}

	current := requests[idx]
	if action.ExpectedVersion != 0 && action.ExpectedVersion != current.Version {
		return nil, models.ServiceRequest{}, fmt.Errorf("request %s at version %d, expected %d: %w",
			current.ID, current.Version, action.ExpectedVersion, domain.ErrConcurrentModification)
	}

	next, ok := NextStatus(action.Type, current.Status)
	if !ok {
		return nil, models.ServiceRequest{}, &domain.InvalidTransitionError{
			RequestID: current.ID.String(),
			Action:    string(action.Type),
			From:      string(current.Status),
		}
	}

	updated := current
	updated.Status = next
	updated.UpdatedAt = now
	updated.Version++
	if action.Type == ActionAccept {
		updated.MechanicAssigned = true
		if updated.MechanicID == "" {
			updated.MechanicID = action.MechanicID
		}
	}

	out := make([]models.ServiceRequest, len(requests))
	copy(out, requests)
	out[idx] = updated
	return out, updated, nil
}

func reduceCreate(requests []models.ServiceRequest, action Action, now time.Time) ([]models.ServiceRequest, models.ServiceRequest, error) {
	if action.Request == nil {
		return nil, models.ServiceRequest{}, &domain.ValidationError{Field: "request", Reason: "is required"}
	}
	if action.Request.ID == "" {
		return nil, models.ServiceRequest{}, &domain.ValidationError{Field: "id", Reason: "is required"}
	}
	if indexOf(requests, action.Request.ID.String()) >= 0 {
		return nil, models.ServiceRequest{}, &domain.ValidationError{Field: "id", Reason: "already exists"}
	}

	created := *action.Request
	created.Status = models.StatusPending
	created.MechanicAssigned = false
	created.MechanicID = ""
	created.Version = 1
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	created.UpdatedAt = created.CreatedAt

	out := make([]models.ServiceRequest, len(requests), len(requests)+1)
	copy(out, requests)
	out = append(out, created)
	return out, created, nil
}

func indexOf(requests []models.ServiceRequest, id string) int {
	for i := range requests {
		if requests[i].ID.Matches(id) {
			return i
		}
	}
	return -1
}
