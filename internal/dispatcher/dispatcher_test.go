package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qms/clinic-console/internal/apiclient"
	"qms/clinic-console/internal/journal"
	"qms/clinic-console/internal/models"
	"qms/clinic-console/internal/queue"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	calls      int32
	getFn      func(ctx context.Context, id int64) (models.Ticket, error)
	takeFn     func(ctx context.Context, departmentID int64, patientID *int64) (models.Ticket, error)
	callFn     func(ctx context.Context, id int64) (models.Ticket, error)
	startFn    func(ctx context.Context, id int64) (models.Ticket, error)
	completeFn func(ctx context.Context, id int64, note string) (models.Ticket, error)
	skipFn     func(ctx context.Context, id int64, note string) (models.Ticket, error)
	cancelFn   func(ctx context.Context, id int64, note string) (models.Ticket, error)
	assignFn   func(ctx context.Context, id, patientID int64) (models.Ticket, error)
}

func (f *fakeBackend) count() {
	atomic.AddInt32(&f.calls, 1)
}

func (f *fakeBackend) GetTicket(ctx context.Context, id int64) (models.Ticket, error) {
	f.count()
	if f.getFn == nil {
		return models.Ticket{}, errors.New("unexpected get")
	}
	return f.getFn(ctx, id)
}

func (f *fakeBackend) TakeTicket(ctx context.Context, departmentID int64, patientID *int64) (models.Ticket, error) {
	f.count()
	if f.takeFn == nil {
		return models.Ticket{}, errors.New("unexpected take")
	}
	return f.takeFn(ctx, departmentID, patientID)
}

func (f *fakeBackend) CallTicket(ctx context.Context, id int64) (models.Ticket, error) {
	f.count()
	if f.callFn == nil {
		return models.Ticket{}, errors.New("unexpected call")
	}
	return f.callFn(ctx, id)
}

func (f *fakeBackend) StartTicket(ctx context.Context, id int64) (models.Ticket, error) {
	f.count()
	if f.startFn == nil {
		return models.Ticket{}, errors.New("unexpected start")
	}
	return f.startFn(ctx, id)
}

func (f *fakeBackend) CompleteTicket(ctx context.Context, id int64, note string) (models.Ticket, error) {
	f.count()
	if f.completeFn == nil {
		return models.Ticket{}, errors.New("unexpected complete")
	}
	return f.completeFn(ctx, id, note)
}

func (f *fakeBackend) SkipTicket(ctx context.Context, id int64, note string) (models.Ticket, error) {
	f.count()
	if f.skipFn == nil {
		return models.Ticket{}, errors.New("unexpected skip")
	}
	return f.skipFn(ctx, id, note)
}

func (f *fakeBackend) CancelTicket(ctx context.Context, id int64, note string) (models.Ticket, error) {
	f.count()
	if f.cancelFn == nil {
		return models.Ticket{}, errors.New("unexpected cancel")
	}
	return f.cancelFn(ctx, id, note)
}

func (f *fakeBackend) AssignPatient(ctx context.Context, id, patientID int64) (models.Ticket, error) {
	f.count()
	if f.assignFn == nil {
		return models.Ticket{}, errors.New("unexpected assign")
	}
	return f.assignFn(ctx, id, patientID)
}

type announcement struct {
	ticket models.Ticket
	recall bool
}

type fakeAnnouncer struct {
	mu   sync.Mutex
	sent []announcement
	err  error
}

func (a *fakeAnnouncer) Announce(ctx context.Context, ticket models.Ticket, recall bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, announcement{ticket: ticket, recall: recall})
	return a.err
}

func newDispatcher(backend Backend, announcer Announcer, j Journal) *Dispatcher {
	return New(backend, Options{Logger: zerolog.Nop(), Announcer: announcer, Journal: j, Operator: "loket-1"})
}

func strPtr(v string) *string { return &v }

func waitingTicket() models.Ticket {
	return models.Ticket{ID: 42, QueueCode: "A-007", Status: models.StatusWaiting, DepartmentID: 1}
}

func TestCallAssignsCounter(t *testing.T) {
	backend := &fakeBackend{
		callFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			return models.Ticket{ID: id, QueueCode: "A-007", Status: models.StatusCalled, CounterNumber: strPtr("2")}, nil
		},
	}
	announcer := &fakeAnnouncer{}
	mem := journal.NewMemory()
	d := newDispatcher(backend, announcer, mem)

	local := waitingTicket()
	got, err := d.Call(context.Background(), local)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalled, got.Status)
	require.NotNil(t, got.CounterNumber)
	assert.Equal(t, models.StatusWaiting, local.Status, "caller's ticket must not be mutated")

	require.Len(t, announcer.sent, 1)
	assert.False(t, announcer.sent[0].recall)

	entries, _ := mem.List(context.Background(), 42)
	require.Len(t, entries, 1)
	assert.Equal(t, "call", entries[0].Action)
	assert.Equal(t, "loket-1", entries[0].Operator)
}

func TestIllegalPairsNeverReachBackend(t *testing.T) {
	statuses := []models.Status{
		models.StatusWaiting, models.StatusCalled, models.StatusInService,
		models.StatusCompleted, models.StatusSkipped, models.StatusCancelled,
	}
	actions := []queue.Action{
		queue.ActionCall, queue.ActionRecall, queue.ActionStart,
		queue.ActionComplete, queue.ActionSkip, queue.ActionCancel,
	}
	for _, status := range statuses {
		for _, action := range actions {
			if queue.ValidTransition(action, status) {
				continue
			}
			backend := &fakeBackend{}
			d := newDispatcher(backend, nil, nil)
			ticket := models.Ticket{ID: 42, QueueCode: "A-007", Status: status}
			_, err := d.Dispatch(context.Background(), ticket, action, "")
			assert.ErrorIs(t, err, queue.ErrIllegalTransition, "%s from %s", action, status)
			assert.Zero(t, atomic.LoadInt32(&backend.calls), "%s from %s reached the backend", action, status)
		}
	}
}

func TestSkipThenStartRejectedLocally(t *testing.T) {
	backend := &fakeBackend{
		skipFn: func(ctx context.Context, id int64, note string) (models.Ticket, error) {
			assert.Equal(t, "pasien tidak hadir", note)
			return models.Ticket{ID: id, QueueCode: "A-007", Status: models.StatusSkipped}, nil
		},
	}
	d := newDispatcher(backend, nil, nil)

	skipped, err := d.Skip(context.Background(), models.Ticket{ID: 42, QueueCode: "A-007", Status: models.StatusCalled}, "pasien tidak hadir")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, skipped.Status)

	before := atomic.LoadInt32(&backend.calls)
	_, err = d.Start(context.Background(), skipped)
	assert.ErrorIs(t, err, queue.ErrIllegalTransition)
	assert.Equal(t, before, atomic.LoadInt32(&backend.calls))
}

func TestDoubleSubmitCompleteSurfacesStaleState(t *testing.T) {
	backend := &fakeBackend{
		completeFn: func(ctx context.Context, id int64, note string) (models.Ticket, error) {
			return models.Ticket{}, &apiclient.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "Antrian sudah selesai"}
		},
		getFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			return models.Ticket{ID: id, QueueCode: "A-007", Status: models.StatusCompleted}, nil
		},
	}
	mem := journal.NewMemory()
	d := newDispatcher(backend, nil, mem)

	var got models.Ticket
	var err error
	require.NotPanics(t, func() {
		got, err = d.Complete(context.Background(), models.Ticket{ID: 42, QueueCode: "A-007", Status: models.StatusInService}, "")
	})
	assert.Equal(t, models.Ticket{}, got)
	assert.ErrorIs(t, err, ErrStaleState)

	var stale *StaleStateError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, models.StatusCompleted, stale.Current.Status)
	assert.Equal(t, queue.ActionComplete, stale.Action)

	var apiErr *apiclient.APIError
	assert.True(t, errors.As(err, &apiErr), "cause stays reachable")

	entries, _ := mem.List(context.Background(), 42)
	assert.Empty(t, entries)
}

func TestRejectionWithFailedRefreshReturnsRejection(t *testing.T) {
	rejection := &apiclient.APIError{StatusCode: http.StatusConflict, Message: "conflict"}
	backend := &fakeBackend{
		startFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			return models.Ticket{}, rejection
		},
		getFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			return models.Ticket{}, &apiclient.TransportError{Op: "get ticket", Err: errors.New("connection refused")}
		},
	}
	d := newDispatcher(backend, nil, nil)

	_, err := d.Start(context.Background(), models.Ticket{ID: 42, QueueCode: "A-007", Status: models.StatusCalled})
	assert.Same(t, rejection, err)
	assert.NotErrorIs(t, err, ErrStaleState)
}

func TestTransportFailureIsNotRefreshed(t *testing.T) {
	backend := &fakeBackend{
		callFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			return models.Ticket{}, &apiclient.TransportError{Op: "call ticket", StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}
		},
	}
	announcer := &fakeAnnouncer{}
	d := newDispatcher(backend, announcer, nil)

	_, err := d.Call(context.Background(), waitingTicket())
	assert.True(t, apiclient.IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.calls))
	assert.Empty(t, announcer.sent)
}

func TestOneCommandInFlightPerTicket(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	backend := &fakeBackend{
		callFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			if id == 42 {
				close(entered)
				<-unblock
			}
			return models.Ticket{ID: id, QueueCode: "A-007", Status: models.StatusCalled, CounterNumber: strPtr("1")}, nil
		},
	}
	d := newDispatcher(backend, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := d.Call(context.Background(), waitingTicket())
		done <- err
	}()
	<-entered

	assert.True(t, d.InFlight(42))
	_, err := d.Call(context.Background(), waitingTicket())
	assert.ErrorIs(t, err, ErrCommandInFlight)

	other := models.Ticket{ID: 43, QueueCode: "A-008", Status: models.StatusWaiting}
	_, err = d.Call(context.Background(), other)
	assert.NoError(t, err, "other tickets are not blocked")

	close(unblock)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first command never finished")
	}
	assert.False(t, d.InFlight(42))
}

func TestAssignPatientReplaces(t *testing.T) {
	backend := &fakeBackend{
		assignFn: func(ctx context.Context, id, patientID int64) (models.Ticket, error) {
			return models.Ticket{ID: id, QueueCode: "A-007", Status: models.StatusWaiting, PatientID: &patientID}, nil
		},
	}
	d := newDispatcher(backend, nil, nil)

	ticket := waitingTicket()
	first, err := d.AssignPatient(context.Background(), ticket, 501)
	require.NoError(t, err)
	require.NotNil(t, first.PatientID)
	assert.Equal(t, int64(501), *first.PatientID)

	second, err := d.AssignPatient(context.Background(), first, 777)
	require.NoError(t, err)
	require.NotNil(t, second.PatientID)
	assert.Equal(t, int64(777), *second.PatientID)
	assert.Equal(t, int64(501), *first.PatientID)
}

func TestAssignPatientRefusedOnTerminal(t *testing.T) {
	backend := &fakeBackend{}
	d := newDispatcher(backend, nil, nil)

	_, err := d.AssignPatient(context.Background(), models.Ticket{ID: 42, QueueCode: "A-007", Status: models.StatusCancelled}, 501)
	assert.ErrorIs(t, err, queue.ErrIllegalTransition)
	assert.ErrorIs(t, err, queue.ErrTerminalTicket)
	assert.Zero(t, atomic.LoadInt32(&backend.calls))

	_, err = d.AssignPatient(context.Background(), waitingTicket(), 0)
	assert.ErrorIs(t, err, ErrInvalidPatient)
}

func TestTakeYieldsWaitingTicket(t *testing.T) {
	backend := &fakeBackend{
		takeFn: func(ctx context.Context, departmentID int64, patientID *int64) (models.Ticket, error) {
			assert.Nil(t, patientID)
			return models.Ticket{ID: 99, QueueCode: "A-012", Status: models.StatusWaiting, DepartmentID: departmentID}, nil
		},
	}
	d := newDispatcher(backend, nil, nil)

	ticket, err := d.Take(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, ticket.Status)
	assert.NotEmpty(t, ticket.QueueCode)

	_, err = d.Take(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidDepartment)
}

func TestTakeRejectsInvalidBackendTicket(t *testing.T) {
	cases := map[string]models.Ticket{
		"missing code":   {ID: 1, Status: models.StatusWaiting},
		"wrong status":   {ID: 1, QueueCode: "A-001", Status: models.StatusCalled},
		"unknown status": {ID: 1, QueueCode: "A-001", Status: "held"},
		"missing id":     {QueueCode: "A-001", Status: models.StatusWaiting},
	}
	for name, returned := range cases {
		t.Run(name, func(t *testing.T) {
			backend := &fakeBackend{
				takeFn: func(ctx context.Context, departmentID int64, patientID *int64) (models.Ticket, error) {
					return returned, nil
				},
			}
			_, err := newDispatcher(backend, nil, nil).Take(context.Background(), 1)
			assert.ErrorIs(t, err, ErrMalformedTicket)
		})
	}
}

func TestRecallReannouncesWithoutMutation(t *testing.T) {
	backend := &fakeBackend{
		getFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			return models.Ticket{ID: id, QueueCode: "A-007", Status: models.StatusInService, CounterNumber: strPtr("3")}, nil
		},
	}
	announcer := &fakeAnnouncer{}
	mem := journal.NewMemory()
	d := newDispatcher(backend, announcer, mem)

	got, err := d.Recall(context.Background(), models.Ticket{ID: 42, QueueCode: "A-007", Status: models.StatusInService})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInService, got.Status)
	require.Len(t, announcer.sent, 1)
	assert.True(t, announcer.sent[0].recall)

	entries, _ := mem.List(context.Background(), 42)
	require.Len(t, entries, 1)
	assert.Equal(t, "recall", entries[0].Action)
}

func TestRecallOfFinishedTicketIsStale(t *testing.T) {
	backend := &fakeBackend{
		getFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			return models.Ticket{ID: id, QueueCode: "A-007", Status: models.StatusCompleted}, nil
		},
	}
	announcer := &fakeAnnouncer{}
	d := newDispatcher(backend, announcer, nil)

	_, err := d.Recall(context.Background(), models.Ticket{ID: 42, QueueCode: "A-007", Status: models.StatusCalled})
	var stale *StaleStateError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, models.StatusCompleted, stale.Current.Status)
	assert.Empty(t, announcer.sent)
}

func TestAnnounceFailureDoesNotFailCommand(t *testing.T) {
	backend := &fakeBackend{
		callFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			return models.Ticket{ID: id, QueueCode: "A-007", Status: models.StatusCalled}, nil
		},
	}
	announcer := &fakeAnnouncer{err: errors.New("speaker offline")}
	d := newDispatcher(backend, announcer, nil)

	got, err := d.Call(context.Background(), waitingTicket())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalled, got.Status)
}

func TestMismatchedTicketIDIsMalformed(t *testing.T) {
	backend := &fakeBackend{
		callFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			return models.Ticket{ID: 7, QueueCode: "A-001", Status: models.StatusCalled}, nil
		},
	}
	_, err := newDispatcher(backend, nil, nil).Call(context.Background(), waitingTicket())
	assert.ErrorIs(t, err, ErrMalformedTicket)
}

func TestValidationRejectionOfUnchangedTicketPassesThrough(t *testing.T) {
	rejection := &apiclient.APIError{
		StatusCode: http.StatusUnprocessableEntity,
		Message:    "The notes may not be greater than 255 characters.",
		Fields:     map[string][]string{"notes": {"The notes may not be greater than 255 characters."}},
	}
	backend := &fakeBackend{
		completeFn: func(ctx context.Context, id int64, note string) (models.Ticket, error) {
			return models.Ticket{}, rejection
		},
		getFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			return models.Ticket{ID: id, QueueCode: "A-007", Status: models.StatusInService}, nil
		},
	}
	mem := journal.NewMemory()
	d := newDispatcher(backend, nil, mem)

	_, err := d.Complete(context.Background(), models.Ticket{ID: 42, QueueCode: "A-007", Status: models.StatusInService}, "terlalu panjang")
	assert.Same(t, rejection, err)
	assert.NotErrorIs(t, err, ErrStaleState)
	var stale *StaleStateError
	assert.False(t, errors.As(err, &stale))
	assert.Equal(t, int32(2), atomic.LoadInt32(&backend.calls))

	entries, _ := mem.List(context.Background(), 42)
	assert.Empty(t, entries)
}

func TestRequestIDIsSharedByBackendCallAndJournal(t *testing.T) {
	var sent string
	backend := &fakeBackend{
		callFn: func(ctx context.Context, id int64) (models.Ticket, error) {
			sent = apiclient.RequestIDFrom(ctx)
			return models.Ticket{ID: id, QueueCode: "A-007", Status: models.StatusCalled}, nil
		},
	}
	mem := journal.NewMemory()
	d := newDispatcher(backend, nil, mem)

	ctx := apiclient.WithRequestID(context.Background(), "req-77")
	_, err := d.Call(ctx, waitingTicket())
	require.NoError(t, err)
	assert.Equal(t, "req-77", sent)

	backend.startFn = func(ctx context.Context, id int64) (models.Ticket, error) {
		sent = apiclient.RequestIDFrom(ctx)
		return models.Ticket{ID: id, QueueCode: "A-007", Status: models.StatusInService}, nil
	}
	_, err = d.Start(context.Background(), models.Ticket{ID: 42, QueueCode: "A-007", Status: models.StatusCalled})
	require.NoError(t, err)
	assert.NotEmpty(t, sent, "a command without an inbound id gets its own")

	entries, err := mem.List(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "req-77", entries[0].RequestID)
	assert.Equal(t, sent, entries[1].RequestID)
	assert.NoError(t, journal.Verify(entries))
}
