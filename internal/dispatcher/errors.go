package dispatcher

import (
	"errors"
	"fmt"

	"qms/clinic-console/internal/models"
	"qms/clinic-console/internal/queue"
)

var (
	ErrCommandInFlight   = errors.New("a command for this ticket is already in flight")
	ErrStaleState        = errors.New("ticket state changed on the server")
	ErrMalformedTicket   = errors.New("backend returned an invalid ticket")
	ErrInvalidTicket     = errors.New("ticket id is required")
	ErrInvalidDepartment = errors.New("department id is required")
	ErrInvalidPatient    = errors.New("patient id is required")
)

// StaleStateError is returned when the backend refused a command because
// the ticket moved on since the caller last saw it. Current is the ticket
// as the backend holds it now.
type StaleStateError struct {
	Action  queue.Action
	Current models.Ticket
	Cause   error
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("ticket %d is %s on the server, %s was not applied: %v", e.Current.ID, e.Current.Status, e.Action, e.Cause)
}

func (e *StaleStateError) Unwrap() error {
	return e.Cause
}

func (e *StaleStateError) Is(target error) bool {
	return target == ErrStaleState
}
