// Package presentation derives what an operator sees for a ticket: labels,
// badges and which action buttons are offered. Every function here is pure
// and is meant to be called again after each backend response.
package presentation

import (
	"fmt"

	"qms/clinic-console/internal/models"
	"qms/clinic-console/internal/queue"
)

const (
	VariantPrimary   = "primary"
	VariantSecondary = "secondary"
	VariantSuccess   = "success"
	VariantWarning   = "warning"
	VariantDanger    = "danger"
)

type Affordance struct {
	Action   queue.Action `json:"action"`
	Label    string       `json:"label"`
	Variant  string       `json:"variant"`
	Confirm  bool         `json:"confirm"`
	Disabled bool         `json:"disabled"`
}

type affordanceStyle struct {
	label   string
	variant string
	confirm bool
}

var styles = map[queue.Action]affordanceStyle{
	queue.ActionCall:     {"Panggil", VariantPrimary, false},
	queue.ActionStart:    {"Mulai Layani", VariantPrimary, false},
	queue.ActionComplete: {"Selesai", VariantSuccess, false},
	queue.ActionRecall:   {"Panggil Ulang", VariantSecondary, false},
	queue.ActionSkip:     {"Lewati", VariantWarning, true},
	queue.ActionCancel:   {"Batalkan", VariantDanger, true},
}

// Buttons appear in this order; skip and cancel live in the overflow menu.
var (
	primaryOrder   = []queue.Action{queue.ActionCall, queue.ActionStart, queue.ActionComplete, queue.ActionRecall}
	secondaryOrder = []queue.Action{queue.ActionSkip, queue.ActionCancel}
)

// Label is the button text for action, or the raw action name.
func Label(action queue.Action) string {
	if style, ok := styles[action]; ok {
		return style.label
	}
	return string(action)
}

func Actions(status models.Status) []Affordance {
	return affordances(status, primaryOrder)
}

func SecondaryActions(status models.Status) []Affordance {
	return affordances(status, secondaryOrder)
}

func affordances(status models.Status, order []queue.Action) []Affordance {
	var result []Affordance
	for _, action := range order {
		if !queue.ValidTransition(action, status) {
			continue
		}
		style := styles[action]
		result = append(result, Affordance{
			Action:  action,
			Label:   style.label,
			Variant: style.variant,
			Confirm: style.confirm,
		})
	}
	return result
}

var statusLabels = map[models.Status]string{
	models.StatusWaiting:   "Menunggu",
	models.StatusCalled:    "Dipanggil",
	models.StatusInService: "Dilayani",
	models.StatusCompleted: "Selesai",
	models.StatusSkipped:   "Dilewati",
	models.StatusCancelled: "Dibatalkan",
}

var statusTones = map[models.Status]string{
	models.StatusWaiting:   "gray",
	models.StatusCalled:    "blue",
	models.StatusInService: "amber",
	models.StatusCompleted: "green",
	models.StatusSkipped:   "orange",
	models.StatusCancelled: "red",
}

// StatusLabel falls back to the raw value for statuses it does not know.
func StatusLabel(status models.Status) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return string(status)
}

func StatusTone(status models.Status) string {
	if tone, ok := statusTones[status]; ok {
		return tone
	}
	return "gray"
}

// WaitLabel is empty unless the ticket is still waiting and the backend sent
// a wait estimate.
func WaitLabel(ticket models.Ticket) string {
	if ticket.Status != models.StatusWaiting || ticket.WaitTime == nil {
		return ""
	}
	minutes := *ticket.WaitTime
	switch {
	case minutes < 1:
		return "< 1 menit"
	case minutes < 60:
		return fmt.Sprintf("%d menit", minutes)
	case minutes%60 == 0:
		return fmt.Sprintf("%d jam", minutes/60)
	}
	return fmt.Sprintf("%d jam %d menit", minutes/60, minutes%60)
}

type TicketView struct {
	ID               int64         `json:"id"`
	QueueCode        string        `json:"queue_code"`
	Status           models.Status `json:"status"`
	StatusLabel      string        `json:"status_label"`
	StatusTone       string        `json:"status_tone"`
	Department       string        `json:"department,omitempty"`
	Patient          string        `json:"patient,omitempty"`
	Counter          string        `json:"counter,omitempty"`
	WaitLabel        string        `json:"wait_label,omitempty"`
	Actions          []Affordance  `json:"actions"`
	SecondaryActions []Affordance  `json:"secondary_actions"`
	CanAssignPatient bool          `json:"can_assign_patient"`
	Terminal         bool          `json:"terminal"`
	InFlight         bool          `json:"in_flight"`
}

// Build renders ticket. department overrides the nested department the
// backend may have sent. While a command for the ticket is in flight every
// affordance is disabled.
func Build(ticket models.Ticket, department *models.Department, inFlight bool) TicketView {
	view := TicketView{
		ID:               ticket.ID,
		QueueCode:        ticket.QueueCode,
		Status:           ticket.Status,
		StatusLabel:      StatusLabel(ticket.Status),
		StatusTone:       StatusTone(ticket.Status),
		WaitLabel:        WaitLabel(ticket),
		Actions:          Actions(ticket.Status),
		SecondaryActions: SecondaryActions(ticket.Status),
		CanAssignPatient: queue.CanAssignPatient(ticket.Status) && !inFlight,
		Terminal:         queue.IsTerminal(ticket.Status),
		InFlight:         inFlight,
	}
	if department == nil {
		department = ticket.Department
	}
	if department != nil {
		view.Department = department.Name
	}
	if ticket.Patient != nil {
		view.Patient = ticket.Patient.Name
	}
	if ticket.CounterNumber != nil {
		view.Counter = *ticket.CounterNumber
	}
	if inFlight {
		disable(view.Actions)
		disable(view.SecondaryActions)
	}
	if view.Actions == nil {
		view.Actions = []Affordance{}
	}
	if view.SecondaryActions == nil {
		view.SecondaryActions = []Affordance{}
	}
	return view
}

func disable(affordances []Affordance) {
	for i := range affordances {
		affordances[i].Disabled = true
	}
}

type LaneTicket struct {
	QueueCode   string `json:"queue_code"`
	Counter     string `json:"counter,omitempty"`
	StatusLabel string `json:"status_label"`
}

type LaneView struct {
	Department string       `json:"department"`
	Code       string       `json:"code"`
	Color      string       `json:"color,omitempty"`
	Current    *LaneTicket  `json:"current"`
	Next       []LaneTicket `json:"next"`
}

type BoardView struct {
	Lanes []LaneView `json:"lanes"`
}

// Board shapes the waiting-room display, one lane per department in the
// order the backend sent them.
func Board(display models.DisplayBoard) BoardView {
	board := BoardView{Lanes: []LaneView{}}
	for _, lane := range display.Departments {
		view := LaneView{
			Department: lane.Department.Name,
			Code:       lane.Department.Code,
			Color:      lane.Department.Color,
			Next:       []LaneTicket{},
		}
		if lane.Current != nil {
			current := laneTicket(*lane.Current)
			view.Current = &current
		}
		for _, ticket := range lane.Next {
			view.Next = append(view.Next, laneTicket(ticket))
		}
		board.Lanes = append(board.Lanes, view)
	}
	return board
}

func laneTicket(ticket models.Ticket) LaneTicket {
	lane := LaneTicket{QueueCode: ticket.QueueCode, StatusLabel: StatusLabel(ticket.Status)}
	if ticket.CounterNumber != nil {
		lane.Counter = *ticket.CounterNumber
	}
	return lane
}
