package models

import "time"

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCalled    Status = "called"
	StatusInService Status = "in_service"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

type Ticket struct {
	ID            int64           `json:"id"`
	QueueCode     string          `json:"queue_code"`
	Status        Status          `json:"status"`
	DepartmentID  int64           `json:"department_id"`
	PatientID     *int64          `json:"patient_id"`
	CounterNumber *string         `json:"counter_number"`
	WaitTime      *int            `json:"wait_time,omitempty"`
	Notes         *string         `json:"notes,omitempty"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"`
	CalledAt      *time.Time      `json:"called_at,omitempty"`
	ServedAt      *time.Time      `json:"served_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Department    *Department     `json:"department,omitempty"`
	Patient       *PatientSummary `json:"patient,omitempty"`
}

type PatientSummary struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	MedicalRecordNumber string `json:"medical_record_number,omitempty"`
}

type QueueStats struct {
	Date               string  `json:"date,omitempty"`
	Total              int     `json:"total"`
	Waiting            int     `json:"waiting"`
	Called             int     `json:"called"`
	InService          int     `json:"in_service"`
	Completed          int     `json:"completed"`
	Skipped            int     `json:"skipped"`
	Cancelled          int     `json:"cancelled"`
	AverageWaitMinutes float64 `json:"average_wait_minutes"`
}

// DisplayBoard is the waiting-room screen payload: one lane per department.
type DisplayBoard struct {
	Departments []DisplayLane `json:"departments"`
	GeneratedAt *time.Time    `json:"generated_at,omitempty"`
}

type DisplayLane struct {
	Department Department `json:"department"`
	Current    *Ticket    `json:"current"`
	Next       []Ticket   `json:"next"`
}
