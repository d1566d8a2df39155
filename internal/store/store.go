package store

import (
	"context"
	"time"

	"civicq/records-service/internal/models"
)

// Ledger is the durable store every engine component goes through. Each
// RunInTx call is one atomic unit: either every write inside fn commits
// or none does.
type Ledger interface {
	RunInTx(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(View) error) error
	Close() error
}

type PersonFilter struct {
	Locality string
	Statuses []string
}

type RequestFilter struct {
	PersonID string
	Statuses []string
}

// TicketFilter results are ordered by creation time, then number.
type TicketFilter struct {
	ServiceDay string
	RequestID  string
	Statuses   []string
}

type View interface {
	GetPerson(ctx context.Context, personID string) (models.Person, error)
	ListPersons(ctx context.Context, filter PersonFilter) ([]models.Person, error)
	ListPersonsByBirthdate(ctx context.Context, birthdate models.Date) ([]models.Person, error)
	ListPersonsByLastNameKey(ctx context.Context, key string) ([]models.Person, error)

	GetService(ctx context.Context, serviceID string) (models.Service, error)
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	ServiceReferenced(ctx context.Context, serviceID string) (bool, error)

	GetRequest(ctx context.Context, requestID string) (models.Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]models.Request, error)
	ListRequestItems(ctx context.Context, requestID string) ([]models.RequestItem, error)
	GetRequestItem(ctx context.Context, itemID string) (models.RequestItem, error)

	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	FindActiveTicket(ctx context.Context, requestID string) (models.Ticket, bool, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]models.Ticket, error)

	GetSnapshot(ctx context.Context, dimension string) (models.StatisticsSnapshot, bool, error)
	ListSnapshots(ctx context.Context) ([]models.StatisticsSnapshot, error)

	ListChanges(ctx context.Context, after int64, limit int) ([]models.ChangeEvent, error)
	// LastChangeSeq is the sequence of the newest change event, or 0.
	LastChangeSeq(ctx context.Context) (int64, error)
	// ListAudit returns the newest limit entries in chain order.
	ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

type Tx interface {
	View

	InsertPerson(ctx context.Context, person models.Person) error
	UpdatePerson(ctx context.Context, person models.Person) error
	DeletePerson(ctx context.Context, personID string) error

	// NextSequence returns the next value of a named monotonic sequence,
	// starting at 1.
	NextSequence(ctx context.Context, name string) (int64, error)
	// NextDailyNumber increments the ticket counter row for serviceDay.
	NextDailyNumber(ctx context.Context, serviceDay string) (int, error)

	PutService(ctx context.Context, service models.Service) error

	InsertRequest(ctx context.Context, request models.Request, items []models.RequestItem) error
	UpdateRequest(ctx context.Context, request models.Request) error
	UpdateRequestItem(ctx context.Context, item models.RequestItem) error

	InsertTicket(ctx context.Context, ticket models.Ticket) error
	UpdateTicket(ctx context.Context, ticket models.Ticket) error

	PutSnapshot(ctx context.Context, snapshot models.StatisticsSnapshot) error

	AppendChange(ctx context.Context, event models.ChangeEvent) (models.ChangeEvent, error)
	AppendAudit(ctx context.Context, entry models.AuditEntry) (models.AuditEntry, error)
}

// Clock is the time source shared by the engine components.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}
