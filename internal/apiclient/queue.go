package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"qms/clinic-console/internal/models"
)

type ListFilter struct {
	DepartmentID int64
	Status       models.Status
	Date         string
}

func (f ListFilter) query() url.Values {
	query := url.Values{}
	if f.DepartmentID > 0 {
		query.Set("department_id", strconv.FormatInt(f.DepartmentID, 10))
	}
	if f.Status != "" {
		query.Set("status", string(f.Status))
	}
	if f.Date != "" {
		query.Set("date", f.Date)
	}
	return query
}

type takeRequest struct {
	DepartmentID int64  `json:"department_id"`
	PatientID    *int64 `json:"patient_id,omitempty"`
}

type noteRequest struct {
	Notes string `json:"notes,omitempty"`
}

type assignRequest struct {
	PatientID int64 `json:"patient_id"`
}

type resetRequest struct {
	DepartmentID *int64 `json:"department_id,omitempty"`
}

func ticketPath(id int64, action string) string {
	if action == "" {
		return fmt.Sprintf("/queues/%d", id)
	}
	return fmt.Sprintf("/queues/%d/%s", id, action)
}

func (c *Client) ListTickets(ctx context.Context, filter ListFilter) ([]models.Ticket, error) {
	var tickets []models.Ticket
	if err := c.getList(ctx, "list tickets", "/queues", filter.query(), &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (c *Client) TodayTickets(ctx context.Context, departmentID int64) ([]models.Ticket, error) {
	var tickets []models.Ticket
	filter := ListFilter{DepartmentID: departmentID}
	if err := c.getList(ctx, "today tickets", "/queues/today", filter.query(), &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (c *Client) Stats(ctx context.Context, date string) (models.QueueStats, error) {
	var stats models.QueueStats
	query := url.Values{}
	if date != "" {
		query.Set("date", date)
	}
	if err := c.getOne(ctx, "queue stats", "/queues/stats", query, &stats); err != nil {
		return models.QueueStats{}, err
	}
	return stats, nil
}

func (c *Client) Display(ctx context.Context) (models.DisplayBoard, error) {
	var board models.DisplayBoard
	if err := c.getOne(ctx, "queue display", "/queues/display", nil, &board); err != nil {
		return models.DisplayBoard{}, err
	}
	return board, nil
}

// CurrentTicket returns the ticket being served or called for a department.
// found is false when the department is idle.
func (c *Client) CurrentTicket(ctx context.Context, departmentID int64) (models.Ticket, bool, error) {
	query := ListFilter{DepartmentID: departmentID}.query()
	env, err := c.do(ctx, "current ticket", http.MethodGet, "/queues/current", query, nil)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if !env.hasData() {
		return models.Ticket{}, false, nil
	}
	var ticket models.Ticket
	if err := env.decodeData(&ticket); err != nil {
		return models.Ticket{}, false, fmt.Errorf("current ticket: %w", err)
	}
	return ticket, true, nil
}

func (c *Client) GetTicket(ctx context.Context, id int64) (models.Ticket, error) {
	var ticket models.Ticket
	if err := c.getOne(ctx, "get ticket", ticketPath(id, ""), nil, &ticket); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (c *Client) TakeTicket(ctx context.Context, departmentID int64, patientID *int64) (models.Ticket, error) {
	var ticket models.Ticket
	err := c.post(ctx, "take ticket", "/queues/take", takeRequest{DepartmentID: departmentID, PatientID: patientID}, &ticket)
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (c *Client) CallTicket(ctx context.Context, id int64) (models.Ticket, error) {
	return c.ticketCommand(ctx, "call ticket", id, "call", nil)
}

func (c *Client) StartTicket(ctx context.Context, id int64) (models.Ticket, error) {
	return c.ticketCommand(ctx, "start ticket", id, "start", nil)
}

func (c *Client) CompleteTicket(ctx context.Context, id int64, note string) (models.Ticket, error) {
	return c.ticketCommand(ctx, "complete ticket", id, "complete", noteRequest{Notes: note})
}

func (c *Client) SkipTicket(ctx context.Context, id int64, note string) (models.Ticket, error) {
	return c.ticketCommand(ctx, "skip ticket", id, "skip", noteRequest{Notes: note})
}

func (c *Client) CancelTicket(ctx context.Context, id int64, note string) (models.Ticket, error) {
	return c.ticketCommand(ctx, "cancel ticket", id, "cancel", noteRequest{Notes: note})
}

func (c *Client) AssignPatient(ctx context.Context, id, patientID int64) (models.Ticket, error) {
	return c.ticketCommand(ctx, "assign patient", id, "assign-patient", assignRequest{PatientID: patientID})
}

// ResetQueue clears today's numbering. A zero departmentID resets every
// department.
func (c *Client) ResetQueue(ctx context.Context, departmentID int64) error {
	req := resetRequest{}
	if departmentID > 0 {
		req.DepartmentID = &departmentID
	}
	return c.post(ctx, "reset queue", "/queues/reset", req, nil)
}

func (c *Client) ticketCommand(ctx context.Context, op string, id int64, action string, payload interface{}) (models.Ticket, error) {
	if payload == nil {
		payload = struct{}{}
	}
	var ticket models.Ticket
	if err := c.post(ctx, op, ticketPath(id, action), payload, &ticket); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}
