// Package dispatcher turns operator actions into backend commands. It checks
// every action against the ticket lifecycle before touching the network and
// always hands back the backend's copy of the ticket.
package dispatcher

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"qms/clinic-console/internal/apiclient"
	"qms/clinic-console/internal/journal"
	"qms/clinic-console/internal/models"
	"qms/clinic-console/internal/queue"

	"github.com/rs/zerolog"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	actionTake   = "take"
	actionAssign = "assign_patient"
)

var queueCodePattern = regexp.MustCompile(`^[A-Za-z]+-[0-9]+$`)

type Backend interface {
	GetTicket(ctx context.Context, id int64) (models.Ticket, error)
	TakeTicket(ctx context.Context, departmentID int64, patientID *int64) (models.Ticket, error)
	CallTicket(ctx context.Context, id int64) (models.Ticket, error)
	StartTicket(ctx context.Context, id int64) (models.Ticket, error)
	CompleteTicket(ctx context.Context, id int64, note string) (models.Ticket, error)
	SkipTicket(ctx context.Context, id int64, note string) (models.Ticket, error)
	CancelTicket(ctx context.Context, id int64, note string) (models.Ticket, error)
	AssignPatient(ctx context.Context, id, patientID int64) (models.Ticket, error)
}

type Announcer interface {
	Announce(ctx context.Context, ticket models.Ticket, recall bool) error
}

type Journal interface {
	Record(ctx context.Context, entry journal.Entry) (journal.Entry, error)
}

type Options struct {
	Logger    zerolog.Logger
	Announcer Announcer
	Journal   Journal
	Operator  string
}

type Dispatcher struct {
	backend   Backend
	announcer Announcer
	journal   Journal
	operator  string
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu       sync.Mutex
	inflight map[int64]struct{}
}

func New(backend Backend, options Options) *Dispatcher {
	return &Dispatcher{
		backend:   backend,
		announcer: options.Announcer,
		journal:   options.Journal,
		operator:  options.Operator,
		logger:    options.Logger.With().Str("component", "dispatcher").Logger(),
		tracer:    otel.Tracer("qms/clinic-console/dispatcher"),
		inflight:  make(map[int64]struct{}),
	}
}

func (d *Dispatcher) Call(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	return d.Dispatch(ctx, ticket, queue.ActionCall, "")
}

func (d *Dispatcher) Recall(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	return d.Dispatch(ctx, ticket, queue.ActionRecall, "")
}

func (d *Dispatcher) Start(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	return d.Dispatch(ctx, ticket, queue.ActionStart, "")
}

func (d *Dispatcher) Complete(ctx context.Context, ticket models.Ticket, note string) (models.Ticket, error) {
	return d.Dispatch(ctx, ticket, queue.ActionComplete, note)
}

func (d *Dispatcher) Skip(ctx context.Context, ticket models.Ticket, note string) (models.Ticket, error) {
	return d.Dispatch(ctx, ticket, queue.ActionSkip, note)
}

func (d *Dispatcher) Cancel(ctx context.Context, ticket models.Ticket, note string) (models.Ticket, error) {
	return d.Dispatch(ctx, ticket, queue.ActionCancel, note)
}

// Dispatch applies action to the ticket whose last known state is ticket.
// The caller's value is never modified.
func (d *Dispatcher) Dispatch(ctx context.Context, ticket models.Ticket, action queue.Action, note string) (models.Ticket, error) {
	if ticket.ID <= 0 {
		return models.Ticket{}, ErrInvalidTicket
	}
	want, err := queue.Next(ticket.Status, action)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("ticket %d: %w", ticket.ID, err)
	}
	release, err := d.acquire(ticket.ID)
	if err != nil {
		return models.Ticket{}, err
	}
	defer release()

	ctx, span := d.startSpan(ctx, string(action), ticket.ID)
	defer span.End()

	result, err := d.send(ctx, ticket.ID, action, note)
	if err != nil {
		err = d.resolveFailure(ctx, ticket, action, err)
		d.fail(span, err)
		return models.Ticket{}, err
	}
	if err := validateTicket(result, ticket.ID); err != nil {
		d.fail(span, err)
		return models.Ticket{}, err
	}
	if result.Status != want {
		d.logger.Warn().
			Int64("ticket_id", ticket.ID).
			Str("action", string(action)).
			Str("expected", string(want)).
			Str("actual", string(result.Status)).
			Msg("backend returned unexpected status")
	}

	if action == queue.ActionCall || action == queue.ActionRecall {
		d.announce(ctx, result, action == queue.ActionRecall)
	}
	d.record(ctx, result, string(action), note)
	return result, nil
}

func (d *Dispatcher) send(ctx context.Context, id int64, action queue.Action, note string) (models.Ticket, error) {
	switch action {
	case queue.ActionCall:
		return d.backend.CallTicket(ctx, id)
	case queue.ActionStart:
		return d.backend.StartTicket(ctx, id)
	case queue.ActionComplete:
		return d.backend.CompleteTicket(ctx, id, note)
	case queue.ActionSkip:
		return d.backend.SkipTicket(ctx, id, note)
	case queue.ActionCancel:
		return d.backend.CancelTicket(ctx, id, note)
	case queue.ActionRecall:
		return d.recall(ctx, id)
	}
	return models.Ticket{}, fmt.Errorf("%w: %s", queue.ErrUnknownAction, action)
}

// recall has no backend mutation: the authoritative ticket is re-read and
// the call signal is re-issued only if it is still announceable.
func (d *Dispatcher) recall(ctx context.Context, id int64) (models.Ticket, error) {
	current, err := d.backend.GetTicket(ctx, id)
	if err != nil {
		return models.Ticket{}, err
	}
	if !queue.ValidTransition(queue.ActionRecall, current.Status) {
		return models.Ticket{}, &StaleStateError{
			Action:  queue.ActionRecall,
			Current: current,
			Cause:   fmt.Errorf("%w: %s from %s", queue.ErrIllegalTransition, queue.ActionRecall, current.Status),
		}
	}
	return current, nil
}

func (d *Dispatcher) AssignPatient(ctx context.Context, ticket models.Ticket, patientID int64) (models.Ticket, error) {
	if ticket.ID <= 0 {
		return models.Ticket{}, ErrInvalidTicket
	}
	if patientID <= 0 {
		return models.Ticket{}, ErrInvalidPatient
	}
	if !queue.CanAssignPatient(ticket.Status) {
		return models.Ticket{}, fmt.Errorf("ticket %d: %w: assign patient from %s: %w", ticket.ID, queue.ErrIllegalTransition, ticket.Status, queue.ErrTerminalTicket)
	}
	release, err := d.acquire(ticket.ID)
	if err != nil {
		return models.Ticket{}, err
	}
	defer release()

	ctx, span := d.startSpan(ctx, actionAssign, ticket.ID)
	defer span.End()
	span.SetAttributes(attribute.Int64("patient.id", patientID))

	result, err := d.backend.AssignPatient(ctx, ticket.ID, patientID)
	if err != nil {
		err = d.resolveFailure(ctx, ticket, actionAssign, err)
		d.fail(span, err)
		return models.Ticket{}, err
	}
	if err := validateTicket(result, ticket.ID); err != nil {
		d.fail(span, err)
		return models.Ticket{}, err
	}
	d.record(ctx, result, actionAssign, fmt.Sprintf("patient_id=%d", patientID))
	return result, nil
}

// Take creates a new waiting ticket for a department. It is the only way a
// ticket comes into existence.
func (d *Dispatcher) Take(ctx context.Context, departmentID int64) (models.Ticket, error) {
	if departmentID <= 0 {
		return models.Ticket{}, ErrInvalidDepartment
	}
	ctx, span := d.startSpan(ctx, actionTake, 0)
	defer span.End()
	span.SetAttributes(attribute.Int64("department.id", departmentID))

	ticket, err := d.backend.TakeTicket(ctx, departmentID, nil)
	if err != nil {
		d.fail(span, err)
		return models.Ticket{}, err
	}
	if err := validateTicket(ticket, 0); err != nil {
		d.fail(span, err)
		return models.Ticket{}, err
	}
	if ticket.Status != models.StatusWaiting {
		err := fmt.Errorf("%w: new ticket %d has status %q", ErrMalformedTicket, ticket.ID, ticket.Status)
		d.fail(span, err)
		return models.Ticket{}, err
	}
	d.record(ctx, ticket, actionTake, "")
	return ticket, nil
}

// resolveFailure converts a backend rejection into a StaleStateError when the
// ticket's status moved on the server since the operator last saw it. A
// rejection of an unchanged ticket, such as a validation error, passes
// through as is, as do all other failures.
func (d *Dispatcher) resolveFailure(ctx context.Context, ticket models.Ticket, action queue.Action, cause error) error {
	if !apiclient.IsRejection(cause) {
		return cause
	}
	current, err := d.backend.GetTicket(ctx, ticket.ID)
	if err != nil {
		d.logger.Warn().Err(err).Int64("ticket_id", ticket.ID).Msg("refresh after rejection failed")
		return cause
	}
	if current.Status == ticket.Status {
		return cause
	}
	return &StaleStateError{Action: action, Current: current, Cause: cause}
}

func (d *Dispatcher) acquire(id int64) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[id]; busy {
		return nil, fmt.Errorf("ticket %d: %w", id, ErrCommandInFlight)
	}
	d.inflight[id] = struct{}{}
	return func() {
		d.mu.Lock()
		delete(d.inflight, id)
		d.mu.Unlock()
	}, nil
}

// InFlight reports whether a command for the ticket is pending.
func (d *Dispatcher) InFlight(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, busy := d.inflight[id]
	return busy
}

func (d *Dispatcher) announce(ctx context.Context, ticket models.Ticket, recall bool) {
	if d.announcer == nil {
		return
	}
	if err := d.announcer.Announce(ctx, ticket, recall); err != nil {
		d.logger.Error().Err(err).Int64("ticket_id", ticket.ID).Str("queue_code", ticket.QueueCode).Msg("announce failed")
	}
}

func (d *Dispatcher) record(ctx context.Context, ticket models.Ticket, action, note string) {
	if d.journal == nil {
		return
	}
	_, err := d.journal.Record(ctx, journal.Entry{
		TicketID:  ticket.ID,
		Action:    action,
		Status:    ticket.Status,
		QueueCode: ticket.QueueCode,
		Note:      note,
		Operator:  d.operator,
		RequestID: apiclient.RequestIDFrom(ctx),
	})
	if err != nil {
		d.logger.Error().Err(err).Int64("ticket_id", ticket.ID).Str("action", action).Msg("journal write failed")
	}
}

// startSpan also pins a request id on ctx so the backend call and the journal
// entry of one command share it.
func (d *Dispatcher) startSpan(ctx context.Context, action string, ticketID int64) (context.Context, trace.Span) {
	if apiclient.RequestIDFrom(ctx) == "" {
		ctx = apiclient.WithRequestID(ctx, uuid.NewString())
	}
	ctx, span := d.tracer.Start(ctx, "queue."+action)
	span.SetAttributes(attribute.String("ticket.action", action))
	if ticketID > 0 {
		span.SetAttributes(attribute.Int64("ticket.id", ticketID))
	}
	return ctx, span
}

func (d *Dispatcher) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func validateTicket(ticket models.Ticket, wantID int64) error {
	if ticket.ID <= 0 {
		return fmt.Errorf("%w: missing id", ErrMalformedTicket)
	}
	if wantID > 0 && ticket.ID != wantID {
		return fmt.Errorf("%w: asked for ticket %d, got %d", ErrMalformedTicket, wantID, ticket.ID)
	}
	if !queue.IsKnownStatus(ticket.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrMalformedTicket, ticket.Status)
	}
	if !queueCodePattern.MatchString(ticket.QueueCode) {
		return fmt.Errorf("%w: bad queue code %q", ErrMalformedTicket, ticket.QueueCode)
	}
	return nil
}
