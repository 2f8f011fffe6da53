// Package queue holds the ticket lifecycle: which operator action is legal
// from which status, and where it leads. It performs no I/O.
package queue

import (
	"fmt"
	"strings"

	"qms/clinic-console/internal/models"
)

type Action string

const (
	ActionCall     Action = "call"
	ActionRecall   Action = "recall"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionSkip     Action = "skip"
	ActionCancel   Action = "cancel"
)

type transition struct {
	from   models.Status
	action Action
	to     models.Status
}

// Table order is also the order AllowedActions reports.
var transitions = []transition{
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

var knownStatuses = map[models.Status]bool{
	models.StatusWaiting:   false,
	models.StatusCalled:    false,
	models.StatusInService: false,
	models.StatusCompleted: true,
	models.StatusSkipped:   true,
	models.StatusCancelled: true,
}

var knownActions = []Action{ActionCall, ActionRecall, ActionStart, ActionComplete, ActionSkip, ActionCancel}

// Next returns the status a legal action leads to. Recall leads back to the
// same status.
func Next(from models.Status, action Action) (models.Status, error) {
	for _, t := range transitions {
		if t.from == from && t.action == action {
			return t.to, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", ErrIllegalTransition, action, from)
}

func ValidTransition(action Action, from models.Status) bool {
	_, err := Next(from, action)
	return err == nil
}

func AllowedActions(status models.Status) []Action {
	var actions []Action
	for _, t := range transitions {
		if t.from == status {
			actions = append(actions, t.action)
		}
	}
	return actions
}

// IsTerminal reports whether no further command may be issued. Unknown
// statuses are not terminal; they simply have no legal actions.
func IsTerminal(status models.Status) bool {
	return knownStatuses[status]
}

func IsKnownStatus(status models.Status) bool {
	_, ok := knownStatuses[status]
	return ok
}

// CanAssignPatient is true for every known non-terminal status.
func CanAssignPatient(status models.Status) bool {
	return IsKnownStatus(status) && !IsTerminal(status)
}

func ParseStatus(raw string) (models.Status, error) {
	status := models.Status(strings.ToLower(strings.TrimSpace(raw)))
	if !IsKnownStatus(status) {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range knownActions {
		if known == action {
			return action, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
}

// ChangesStatus is false for re-announcement actions.
func (a Action) ChangesStatus() bool {
	return a != ActionRecall
}
