package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"net/http"
	"strconv"
	"strings"

	"qms/clinic-console/internal/journal"
	"qms/clinic-console/internal/models"
	"qms/clinic-console/internal/presentation"
	"qms/clinic-console/internal/queue"
	"qms/clinic-console/internal/settings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Commands interface {
	Dispatch(ctx context.Context, ticket models.Ticket, action queue.Action, note string) (models.Ticket, error)
	AssignPatient(ctx context.Context, ticket models.Ticket, patientID int64) (models.Ticket, error)
	Take(ctx context.Context, departmentID int64) (models.Ticket, error)
	InFlight(id int64) bool
}

type Backend interface {
	GetTicket(ctx context.Context, id int64) (models.Ticket, error)
	TodayTickets(ctx context.Context, departmentID int64) ([]models.Ticket, error)
	Stats(ctx context.Context, date string) (models.QueueStats, error)
	Display(ctx context.Context) (models.DisplayBoard, error)
	ResetQueue(ctx context.Context, departmentID int64) error
	ListDepartments(ctx context.Context) ([]models.Department, error)
	SearchPatients(ctx context.Context, search string) ([]models.Patient, error)
}

type JournalReader interface {
	List(ctx context.Context, ticketID int64) ([]journal.Entry, error)
}

type SettingsStream interface {
	Stream(ctx context.Context) <-chan settings.Snapshot
}

type Handler struct {
	commands      Commands
	backend       Backend
	journal       JournalReader
	settings      SettingsStream
	notifications settings.Notification
}

type Options struct {
	Journal       JournalReader
	Settings      SettingsStream
	Notifications settings.Notification
}

type takeRequest struct {
	DepartmentID int64 `json:"department_id"`
}

// actionRequest carries the status the operator last saw. Without it the
// ticket is read from the backend first.
type actionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type assignRequest struct {
	Status    string `json:"status"`
	PatientID int64  `json:"patient_id"`
}

type resetRequest struct {
	DepartmentID int64 `json:"department_id"`
}

type journalResponse struct {
	Entries  []journal.Entry `json:"entries"`
	Verified bool            `json:"verified"`
}

type settingsResponse struct {
	Stale      *models.ClinicSettings `json:"stale"`
	Fresh      *models.ClinicSettings `json:"fresh"`
	FreshError string                 `json:"fresh_error,omitempty"`
}

func NewHandler(commands Commands, backend Backend, options Options) *Handler {
	if options.Journal == nil {
		options.Journal = journal.Nop{}
	}
	return &Handler{
		commands:      commands,
		backend:       backend,
		journal:       options.Journal,
		settings:      options.Settings,
		notifications: options.Notifications,
	}
}

type ServerOptions struct {
	Logger    zerolog.Logger
	RateLimit RateLimitConfig
}

// NewServer builds the echo instance with the console middleware stack.
func NewServer(h *Handler, options ServerOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(Recovery(options.Logger))
	e.Use(RequestID())
	e.Use(Logger(options.Logger))
	e.Use(NewRateLimiter(options.RateLimit).Middleware())

	h.Register(e)
	return e
}

// Traced wraps the server for inbound span propagation.
func Traced(e *echo.Echo) http.Handler {
	return otelhttp.NewHandler(e, "clinic-console")
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.handleHealth)
	e.GET("/debug/vars", echo.WrapHandler(expvar.Handler()))

	api := e.Group("/api")
	api.GET("/tickets/today", h.handleToday)
	api.POST("/tickets", h.handleTake)
	api.GET("/tickets/:id", h.handleTicket)
	api.GET("/tickets/:id/journal", h.handleJournal)
	api.POST("/tickets/:id/actions/:action", h.handleAction)
	api.POST("/tickets/:id/patient", h.handleAssign)
	api.GET("/queue/stats", h.handleStats)
	api.GET("/queue/display", h.handleDisplay)
	api.POST("/queue/reset", h.handleReset)
	api.GET("/departments", h.handleDepartments)
	api.GET("/patients", h.handlePatients)
	api.GET("/settings", h.handleSettings)
	api.GET("/settings/notifications", h.handleNotifications)
}

func (h *Handler) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleToday(c echo.Context) error {
	departmentID, err := optionalID(c.QueryParam("department_id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request", "department_id must be a positive integer")
	}
	tickets, err := h.backend.TodayTickets(c.Request().Context(), departmentID)
	if err != nil {
		return writeFailure(c, err)
	}
	views := make([]presentation.TicketView, 0, len(tickets))
	for _, ticket := range tickets {
		views = append(views, h.view(ticket))
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) handleTicket(c echo.Context) error {
	id, ok := ticketID(c)
	if !ok {
		return writeError(c, http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer")
	}
	ticket, err := h.backend.GetTicket(c.Request().Context(), id)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, h.view(ticket))
}

func (h *Handler) handleJournal(c echo.Context) error {
	id, ok := ticketID(c)
	if !ok {
		return writeError(c, http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer")
	}
	entries, err := h.journal.List(c.Request().Context(), id)
	if err != nil {
		return writeFailure(c, err)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return c.JSON(http.StatusOK, journalResponse{Entries: entries, Verified: journal.Verify(entries) == nil})
}

func (h *Handler) handleTake(c echo.Context) error {
	var req takeRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeFailure(c, err)
	}
	ticket, err := h.commands.Take(c.Request().Context(), req.DepartmentID)
	commandsTotal.Add("take", 1)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusCreated, h.view(ticket))
}

func (h *Handler) handleAction(c echo.Context) error {
	id, ok := ticketID(c)
	if !ok {
		return writeError(c, http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer")
	}
	action, err := queue.ParseAction(c.Param("action"))
	if err != nil {
		return writeFailure(c, err)
	}
	var req actionRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeFailure(c, err)
	}
	ctx := c.Request().Context()
	local, err := h.localTicket(ctx, id, req.Status)
	if err != nil {
		return writeFailure(c, err)
	}
	ticket, err := h.commands.Dispatch(ctx, local, action, strings.TrimSpace(req.Note))
	commandsTotal.Add(string(action), 1)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, h.view(ticket))
}

func (h *Handler) handleAssign(c echo.Context) error {
	id, ok := ticketID(c)
	if !ok {
		return writeError(c, http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer")
	}
	var req assignRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeFailure(c, err)
	}
	ctx := c.Request().Context()
	local, err := h.localTicket(ctx, id, req.Status)
	if err != nil {
		return writeFailure(c, err)
	}
	ticket, err := h.commands.AssignPatient(ctx, local, req.PatientID)
	commandsTotal.Add("assign_patient", 1)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, h.view(ticket))
}

func (h *Handler) handleStats(c echo.Context) error {
	stats, err := h.backend.Stats(c.Request().Context(), strings.TrimSpace(c.QueryParam("date")))
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) handleDisplay(c echo.Context) error {
	display, err := h.backend.Display(c.Request().Context())
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, presentation.Board(display))
}

func (h *Handler) handleReset(c echo.Context) error {
	var req resetRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeFailure(c, err)
	}
	if req.DepartmentID < 0 {
		return writeError(c, http.StatusBadRequest, "invalid_request", "department_id must be a positive integer")
	}
	if err := h.backend.ResetQueue(c.Request().Context(), req.DepartmentID); err != nil {
		return writeFailure(c, err)
	}
	commandsTotal.Add("reset", 1)
	return c.JSON(http.StatusOK, map[string]bool{"reset": true})
}

func (h *Handler) handleDepartments(c echo.Context) error {
	departments, err := h.backend.ListDepartments(c.Request().Context())
	if err != nil {
		return writeFailure(c, err)
	}
	if departments == nil {
		departments = []models.Department{}
	}
	return c.JSON(http.StatusOK, departments)
}

func (h *Handler) handlePatients(c echo.Context) error {
	patients, err := h.backend.SearchPatients(c.Request().Context(), c.QueryParam("search"))
	if err != nil {
		return writeFailure(c, err)
	}
	if patients == nil {
		patients = []models.Patient{}
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) handleSettings(c echo.Context) error {
	if h.settings == nil {
		return writeError(c, http.StatusServiceUnavailable, "settings_unavailable", "settings are not configured")
	}
	stale, fresh := settings.Collect(h.settings.Stream(c.Request().Context()))
	resp := settingsResponse{}
	if stale != nil {
		resp.Stale = &stale.Settings
	}
	if fresh != nil {
		if fresh.Err != nil {
			if resp.Stale == nil {
				return writeFailure(c, fresh.Err)
			}
			resp.FreshError = fresh.Err.Error()
		} else {
			resp.Fresh = &fresh.Settings
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleNotifications(c echo.Context) error {
	return c.JSON(http.StatusOK, h.notifications)
}

// localTicket builds the operator's view of the ticket from the submitted
// status, or reads it when the client did not send one.
func (h *Handler) localTicket(ctx context.Context, id int64, rawStatus string) (models.Ticket, error) {
	if strings.TrimSpace(rawStatus) == "" {
		return h.backend.GetTicket(ctx, id)
	}
	status, err := queue.ParseStatus(rawStatus)
	if err != nil {
		return models.Ticket{}, err
	}
	return models.Ticket{ID: id, Status: status}, nil
}

func (h *Handler) view(ticket models.Ticket) presentation.TicketView {
	return presentation.Build(ticket, nil, h.commands.InFlight(ticket.ID))
}

// decodeJSON accepts an empty body as the zero request.
func decodeJSON(c echo.Context, dst interface{}) error {
	body := c.Request().Body
	if body == nil {
		return nil
	}
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidJSON
	}
	return nil
}

func ticketID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func optionalID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, strconv.ErrSyntax
	}
	return id, nil
}
