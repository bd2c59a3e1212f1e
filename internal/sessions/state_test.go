package sessions

import (
	"errors"
	"testing"

	"github.com/haasonsaas/sessiond/pkg/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from models.SessionStatus
		to   models.SessionStatus
		want bool
	}{
		{models.StatusCreated, models.StatusConnecting, true},
		{models.StatusCreated, models.StatusTerminated, true},
		{models.StatusCreated, models.StatusActive, false},
		{models.StatusCreated, models.StatusProcessing, false},
		{models.StatusConnecting, models.StatusActive, true},
		{models.StatusConnecting, models.StatusFailed, true},
		{models.StatusConnecting, models.StatusTerminated, true},
		{models.StatusConnecting, models.StatusProcessing, false},
		{models.StatusActive, models.StatusProcessing, true},
		{models.StatusActive, models.StatusPaused, true},
		{models.StatusActive, models.StatusWaiting, true},
		{models.StatusActive, models.StatusCompleted, true},
		{models.StatusActive, models.StatusFailed, true},
		{models.StatusActive, models.StatusTerminated, true},
		{models.StatusActive, models.StatusCreated, false},
		{models.StatusActive, models.StatusArchived, false},
		{models.StatusProcessing, models.StatusActive, true},
		{models.StatusProcessing, models.StatusFailed, true},
		{models.StatusProcessing, models.StatusTerminated, true},
		{models.StatusProcessing, models.StatusCompleted, false},
		{models.StatusProcessing, models.StatusPaused, false},
		{models.StatusPaused, models.StatusActive, true},
		{models.StatusPaused, models.StatusTerminated, true},
		{models.StatusPaused, models.StatusProcessing, false},
		{models.StatusWaiting, models.StatusActive, true},
		{models.StatusWaiting, models.StatusTerminated, true},
		{models.StatusWaiting, models.StatusCompleted, false},
		{models.StatusCompleted, models.StatusArchived, true},
		{models.StatusCompleted, models.StatusActive, false},
		{models.StatusFailed, models.StatusArchived, true},
		{models.StatusFailed, models.StatusActive, false},
		{models.StatusTerminated, models.StatusArchived, true},
		{models.StatusTerminated, models.StatusActive, false},
		{models.StatusArchived, models.StatusArchived, false},
		{models.StatusArchived, models.StatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransition_Applies(t *testing.T) {
	session := &models.Session{ID: "s1", Status: models.StatusCreated}

	if err := Transition(session, models.StatusConnecting); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if session.Status != models.StatusConnecting {
		t.Errorf("Status = %s, want %s", session.Status, models.StatusConnecting)
	}
	if session.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestTransition_InvalidLeavesStateUnchanged(t *testing.T) {
	session := &models.Session{ID: "s1", Status: models.StatusCreated}

	err := Transition(session, models.StatusProcessing)
	if err == nil {
		t.Fatal("expected error for created -> processing")
	}

	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("error type = %T, want *InvalidTransitionError", err)
	}
	if invalid.From != models.StatusCreated || invalid.To != models.StatusProcessing {
		t.Errorf("error = %+v, want from=created to=processing", invalid)
	}
	if invalid.SessionID != "s1" {
		t.Errorf("SessionID = %s, want s1", invalid.SessionID)
	}
	if session.Status != models.StatusCreated {
		t.Errorf("Status = %s, want unchanged %s", session.Status, models.StatusCreated)
	}
}

func TestTransition_TerminalStatesOnlyArchive(t *testing.T) {
	for _, terminal := range []models.SessionStatus{
		models.StatusCompleted, models.StatusFailed, models.StatusTerminated,
	} {
		t.Run(string(terminal), func(t *testing.T) {
			if !terminal.IsTerminal() {
				t.Fatalf("%s should be terminal", terminal)
			}
			session := &models.Session{ID: "s1", Status: terminal}
			if err := Transition(session, models.StatusArchived); err != nil {
				t.Errorf("Transition(%s, archived) error = %v", terminal, err)
			}
		})
	}
}
