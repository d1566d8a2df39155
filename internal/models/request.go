package models

import "time"

type Request struct {
	RequestID     string     `json:"request_id"`
	RequestNumber string     `json:"request_number"`
	PersonID      string     `json:"person_id"`
	// Locality is the person's locality when the request was submitted.
	// Service volume statistics are booked against it.
	Locality      string     `json:"locality"`
	TotalPrice    int64      `json:"total_price"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

// RequestItem captures the catalog price at creation so later catalog edits
// never reprice an existing request.
type RequestItem struct {
	ItemID      string     `json:"item_id"`
	RequestID   string     `json:"request_id"`
	Line        int        `json:"line"`
	ServiceID   string     `json:"service_id"`
	ServiceName string     `json:"service_name"`
	UnitPrice   int64      `json:"unit_price"`
	Purpose     string     `json:"purpose,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	PrintedAt   *time.Time `json:"printed_at,omitempty"`
}

const (
	RequestPending   = "pending"
	RequestQueued    = "queued"
	RequestServing   = "serving"
	RequestCompleted = "completed"
	RequestCancelled = "cancelled"
)

const (
	ItemPending = "pending"
	ItemPrinted = "printed"
)

// Finished reports whether the request can no longer change state.
func (r Request) Finished() bool {
	return r.Status == RequestCompleted || r.Status == RequestCancelled
}
