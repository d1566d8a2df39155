package models

import (
	"fmt"
	"time"
)

const ticketNumberPad = 3

type Ticket struct {
	TicketID      string     `json:"ticket_id"`
	TicketNumber  string     `json:"ticket_number"`
	Number        int        `json:"number"`
	ServiceDay    string     `json:"service_day"`
	RequestID     string     `json:"request_id"`
	Status        string     `json:"status"`
	CounterNumber *int       `json:"counter_number,omitempty"`
	ServedBy      *string    `json:"served_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	SkippedAt     *time.Time `json:"skipped_at,omitempty"`
}

const (
	StatusWaiting = "waiting"
	StatusServing = "serving"
	StatusDone    = "done"
	StatusSkipped = "skipped"
)

// Active tickets count against the one-ticket-per-request rule.
func (t Ticket) Active() bool {
	return t.Status == StatusWaiting || t.Status == StatusServing
}

func FormatTicketNumber(n int) string {
	return fmt.Sprintf("Q-%0*d", ticketNumberPad, n)
}
