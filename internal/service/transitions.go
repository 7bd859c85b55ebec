package service

import "autocare/internal/models"

// ActionType names a ledger action.
type ActionType string

const (
	ActionCreate   ActionType = "create"
	ActionAccept   ActionType = "accept"
	ActionReject   ActionType = "reject"
	ActionStart    ActionType = "start"
	ActionComplete ActionType = "complete"
)

type transition struct {
	from []models.Status
	to   models.Status
}

// transitionMap maps each lifecycle action to the statuses it may be applied
// from and the status it produces.
var transitionMap = map[ActionType]transition{
	ActionAccept:   {from: []models.Status{models.StatusPending}, to: models.StatusAccepted},
	ActionReject:   {from: []models.Status{models.StatusPending}, to: models.StatusRejected},
	ActionStart:    {from: []models.Status{models.StatusAccepted}, to: models.StatusInProgress},
	ActionComplete: {from: []models.Status{models.StatusInProgress}, to: models.StatusCompleted},
}

// ValidTransition reports whether action may be applied to a request in status from.
func ValidTransition(action ActionType, from models.Status) bool {
	_, ok := NextStatus(action, from)
	return ok
}

// NextStatus returns the status produced by applying action in status from.
func NextStatus(action ActionType, from models.Status) (models.Status, bool) {
	t, ok := transitionMap[action]
	if !ok {
		return "", false
	}
	for _, s := range t.from {
		if s == from {
			return t.to, true
		}
	}
	return "", false
}

// ParseAction accepts the lifecycle action names used in URLs.
func ParseAction(raw string) (ActionType, bool) {
	a := ActionType(raw)
	if _, ok := transitionMap[a]; ok {
		return a, true
	}
	return "", false
}
