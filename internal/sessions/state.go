// Package sessions provides the session state machine and persistence.
package sessions

import (
	"fmt"
	"time"

	"github.com/haasonsaas/sessiond/pkg/models"
)

// legalTransitions is the single source of truth for session status changes.
// A status maps to the set of statuses it may move to.
var legalTransitions = map[models.SessionStatus]map[models.SessionStatus]bool{
	models.StatusCreated: {
		models.StatusConnecting: true,
		models.StatusTerminated: true,
	},
	models.StatusConnecting: {
		models.StatusActive:     true,
		models.StatusFailed:     true,
		models.StatusTerminated: true,
	},
	models.StatusActive: {
		models.StatusProcessing: true,
		models.StatusPaused:     true,
		models.StatusWaiting:    true,
		models.StatusCompleted:  true,
		models.StatusFailed:     true,
		models.StatusTerminated: true,
	},
	models.StatusProcessing: {
		models.StatusActive:     true,
		models.StatusFailed:     true,
		models.StatusTerminated: true,
	},
	models.StatusPaused: {
		models.StatusActive:     true,
		models.StatusTerminated: true,
	},
	models.StatusWaiting: {
		models.StatusActive:     true,
		models.StatusTerminated: true,
	},
	models.StatusCompleted: {
		models.StatusArchived: true,
	},
	models.StatusFailed: {
		models.StatusArchived: true,
	},
	models.StatusTerminated: {
		models.StatusArchived: true,
	},
	models.StatusArchived: {},
}

// InvalidTransitionError reports an attempted status change the state
// machine forbids. The session is left untouched when it is returned.
type InvalidTransitionError struct {
	SessionID string
	From      models.SessionStatus
	To        models.SessionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s (session %s)", e.From, e.To, e.SessionID)
}

// CanTransition reports whether the state machine permits moving from one
// status to another.
func CanTransition(from, to models.SessionStatus) bool {
	return legalTransitions[from][to]
}

// Transition mutates the session's status after validating the change
// against the transition table. On an illegal change it returns an
// *InvalidTransitionError and does not mutate the session.
func Transition(session *models.Session, to models.SessionStatus) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if !CanTransition(session.Status, to) {
		return &InvalidTransitionError{
			SessionID: session.ID,
			From:      session.Status,
			To:        to,
		}
	}
	session.Status = to
	session.UpdatedAt = time.Now()
	return nil
}
