package queue

import (
	"errors"
	"testing"

	"qms/clinic-console/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action Action
		from   models.Status
		valid  bool
	}{
		{ActionCall, models.StatusWaiting, true},
		{ActionCall, models.StatusCalled, false},
		{ActionCall, models.StatusInService, false},
		{ActionRecall, models.StatusCalled, true},
		{ActionRecall, models.StatusInService, true},
		{ActionRecall, models.StatusWaiting, false},
		{ActionStart, models.StatusCalled, true},
		{ActionStart, models.StatusWaiting, false},
		{ActionComplete, models.StatusInService, true},
		{ActionComplete, models.StatusCalled, false},
		{ActionSkip, models.StatusWaiting, true},
		{ActionSkip, models.StatusCalled, true},
		{ActionSkip, models.StatusInService, false},
		{ActionCancel, models.StatusWaiting, true},
		{ActionCancel, models.StatusCalled, true},
		{ActionCancel, models.StatusInService, false},
		{ActionStart, models.StatusSkipped, false},
		{ActionCall, models.StatusCompleted, false},
		{ActionRecall, models.StatusCancelled, false},
		{Action("unknown"), models.StatusWaiting, false},
		{ActionCall, models.Status("held"), false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestNextTargets(t *testing.T) {
	cases := []struct {
		from   models.Status
		action Action
		want   models.Status
	}{
		{models.StatusWaiting, ActionCall, models.StatusCalled},
		{models.StatusCalled, ActionRecall, models.StatusCalled},
		{models.StatusCalled, ActionStart, models.StatusInService},
		{models.StatusInService, ActionRecall, models.StatusInService},
		{models.StatusInService, ActionComplete, models.StatusCompleted},
		{models.StatusWaiting, ActionSkip, models.StatusSkipped},
		{models.StatusCalled, ActionSkip, models.StatusSkipped},
		{models.StatusWaiting, ActionCancel, models.StatusCancelled},
		{models.StatusCalled, ActionCancel, models.StatusCancelled},
	}
	for _, tt := range cases {
		got, err := Next(tt.from, tt.action)
		if err != nil {
			t.Fatalf("Next(%q, %q) unexpected error: %v", tt.from, tt.action, err)
		}
		if got != tt.want {
			t.Fatalf("Next(%q, %q)=%q, want %q", tt.from, tt.action, got, tt.want)
		}
	}
}

func TestTerminalStatesAllowNothing(t *testing.T) {
	terminal := []models.Status{models.StatusCompleted, models.StatusSkipped, models.StatusCancelled}
	actions := []Action{ActionCall, ActionRecall, ActionStart, ActionComplete, ActionSkip, ActionCancel}
	for _, status := range terminal {
		if !IsTerminal(status) {
			t.Fatalf("expected %q to be terminal", status)
		}
		if got := AllowedActions(status); len(got) != 0 {
			t.Fatalf("expected no actions for %q, got %v", status, got)
		}
		if CanAssignPatient(status) {
			t.Fatalf("expected assignment to be refused for %q", status)
		}
		for _, action := range actions {
			if _, err := Next(status, action); !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("Next(%q, %q) err=%v, want ErrIllegalTransition", status, action, err)
			}
		}
	}
}

func TestAllowedActionsOrder(t *testing.T) {
	got := AllowedActions(models.StatusCalled)
	want := []Action{ActionRecall, ActionStart, ActionSkip, ActionCancel}
	if len(got) != len(want) {
		t.Fatalf("AllowedActions(called)=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AllowedActions(called)=%v, want %v", got, want)
		}
	}
}

func TestCanAssignPatient(t *testing.T) {
	for _, status := range []models.Status{models.StatusWaiting, models.StatusCalled, models.StatusInService} {
		if !CanAssignPatient(status) {
			t.Fatalf("expected assignment allowed for %q", status)
		}
	}
	if CanAssignPatient(models.Status("")) {
		t.Fatalf("expected assignment refused for empty status")
	}
}

func TestParse(t *testing.T) {
	status, err := ParseStatus(" In_Service ")
	if err != nil || status != models.StatusInService {
		t.Fatalf("ParseStatus=%q, %v", status, err)
	}
	if _, err := ParseStatus("done"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
	action, err := ParseAction("SKIP")
	if err != nil || action != ActionSkip {
		t.Fatalf("ParseAction=%q, %v", action, err)
	}
	if _, err := ParseAction("no-show"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}
