// Package tickets mints daily-numbered queue tickets and moves them through
// waiting, serving, done and skipped.
package tickets

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"civicq/records-service/internal/logging"
	"civicq/records-service/internal/metrics"
	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/telemetry"
)

const serviceDayLayout = "2006-01-02"

// CompletionObserver is told about every request completed by a ticket,
// inside the completing transaction.
type CompletionObserver interface {
	RequestCompleted(ctx context.Context, tx store.Tx, request models.Request, at time.Time) error
}

type Options struct {
	Location          *time.Location
	Clock             store.Clock
	AllocationRetries int
	DisplayDoneLimit  int
	Observer          CompletionObserver
}

type Issuer struct {
	ledger    store.Ledger
	loc       *time.Location
	now       store.Clock
	retries   int
	doneLimit int
	observer  CompletionObserver
}

func NewIssuer(ledger store.Ledger, opts Options) *Issuer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = store.SystemClock
	}
	if opts.AllocationRetries < 1 {
		opts.AllocationRetries = store.DefaultConflictAttempts
	}
	if opts.DisplayDoneLimit <= 0 {
		opts.DisplayDoneLimit = 10
	}
	return &Issuer{
		ledger:    ledger,
		loc:       opts.Location,
		now:       opts.Clock,
		retries:   opts.AllocationRetries,
		doneLimit: opts.DisplayDoneLimit,
		observer:  opts.Observer,
	}
}

// ServiceDay is the local calendar date of t in the office timezone.
func (i *Issuer) ServiceDay(t time.Time) string {
	return t.In(i.loc).Format(serviceDayLayout)
}

func (i *Issuer) Now() time.Time {
	return i.now().UTC()
}

// Retries is the bounded attempt count shared by every ledger write that
// may collide on ticket allocation.
func (i *Issuer) Retries() int {
	return i.retries
}

// RunInTx runs fn in a ledger transaction, retrying conflicts.
func (i *Issuer) RunInTx(ctx context.Context, operation string, fn func(store.Tx) error) error {
	return store.RetryOnConflict(ctx, i.ledger, i.retries, func(int, error) {
		metrics.LedgerConflictRetries.WithLabelValues(operation).Inc()
	}, fn)
}

// IssueTx mints a waiting ticket for requestID inside tx. The request must
// exist, be unfinished and have no active ticket.
func (i *Issuer) IssueTx(ctx context.Context, tx store.Tx, requestID string, now time.Time) (models.Ticket, error) {
	request, err := tx.GetRequest(ctx, requestID)
	if err != nil {
		return models.Ticket{}, err
	}
	if request.Finished() {
		return models.Ticket{}, store.InvalidStatef("request %s is %s", request.RequestNumber, request.Status)
	}
	if active, found, err := tx.FindActiveTicket(ctx, requestID); err != nil {
		return models.Ticket{}, err
	} else if found {
		return models.Ticket{}, store.InvalidStatef("request %s already has active ticket %s", request.RequestNumber, active.TicketNumber)
	}

	day := i.ServiceDay(now)
	number, err := tx.NextDailyNumber(ctx, day)
	if err != nil {
		return models.Ticket{}, err
	}
	ticket := models.Ticket{
		TicketID:     uuid.NewString(),
		TicketNumber: models.FormatTicketNumber(number),
		Number:       number,
		ServiceDay:   day,
		RequestID:    requestID,
		Status:       models.StatusWaiting,
		CreatedAt:    now,
	}
	if err := tx.InsertTicket(ctx, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err := recordTicket(ctx, tx, ticket, "", "ticket.created", now); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// WithdrawTx skips the waiting ticket of a request that is being
// cancelled. A serving ticket blocks the cancellation.
func (i *Issuer) WithdrawTx(ctx context.Context, tx store.Tx, requestID string, now time.Time) error {
	active, found, err := tx.FindActiveTicket(ctx, requestID)
	if err != nil || !found {
		return err
	}
	if active.Status == models.StatusServing {
		return store.InvalidStatef("ticket %s is being served", active.TicketNumber)
	}
	from := active.Status
	active.Status = models.StatusSkipped
	active.SkippedAt = &now
	if err := tx.UpdateTicket(ctx, active); err != nil {
		return err
	}
	return recordTicket(ctx, tx, active, from, "ticket."+models.StatusSkipped, now)
}

// Requeue issues a fresh ticket for a request whose previous ticket was
// skipped. Skipped tickets are never re-issued automatically.
func (i *Issuer) Requeue(ctx context.Context, requestID string) (models.Ticket, error) {
	ctx, span := telemetry.Tracer("tickets").Start(ctx, "tickets.Requeue")
	defer span.End()

	var ticket models.Ticket
	err := i.RunInTx(ctx, "requeue", func(tx store.Tx) error {
		now := i.Now()
		request, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if request.Status == models.RequestPending {
			return store.InvalidStatef("request %s was never queued", request.RequestNumber)
		}
		ticket, err = i.IssueTx(ctx, tx, requestID, now)
		if err != nil {
			return err
		}
		if request.Status != models.RequestQueued {
			request.Status = models.RequestQueued
			if err := tx.UpdateRequest(ctx, request); err != nil {
				return err
			}
			if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityRequest, EntityID: request.RequestID, Type: "request.queued", CreatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	metrics.TicketsIssued.Inc()
	logging.Ctx(ctx).Debug().Str("ticket", ticket.TicketNumber).Str("request_id", requestID).Msg("ticket requeued")
	return ticket, nil
}

func (i *Issuer) Get(ctx context.Context, ticketID string) (models.Ticket, error) {
	var ticket models.Ticket
	err := i.ledger.View(ctx, func(v store.View) error {
		var err error
		ticket, err = v.GetTicket(ctx, ticketID)
		return err
	})
	return ticket, err
}

type CallInput struct {
	CounterNumber int
	StaffID       string
}

func (in CallInput) validate() error {
	if in.CounterNumber < 1 {
		return store.Validationf("counter_number must be a positive integer")
	}
	return nil
}

func (i *Issuer) Call(ctx context.Context, ticketID string, in CallInput) (models.Ticket, error) {
	ctx, span := telemetry.Tracer("tickets").Start(ctx, "tickets.Call")
	defer span.End()
	if err := in.validate(); err != nil {
		return models.Ticket{}, err
	}
	return i.transition(ctx, store.ActionCall, func(tx store.Tx) (models.Ticket, error) {
		return tx.GetTicket(ctx, ticketID)
	}, callMutation(in))
}

// CallNext calls the oldest waiting ticket of the current service day.
func (i *Issuer) CallNext(ctx context.Context, in CallInput) (models.Ticket, error) {
	ctx, span := telemetry.Tracer("tickets").Start(ctx, "tickets.CallNext")
	defer span.End()
	if err := in.validate(); err != nil {
		return models.Ticket{}, err
	}
	return i.transition(ctx, store.ActionCall, func(tx store.Tx) (models.Ticket, error) {
		waiting, err := tx.ListTickets(ctx, store.TicketFilter{ServiceDay: i.ServiceDay(i.Now()), Statuses: []string{models.StatusWaiting}})
		if err != nil {
			return models.Ticket{}, err
		}
		if len(waiting) == 0 {
			return models.Ticket{}, store.NotFoundf("no waiting tickets")
		}
		return waiting[0], nil
	}, callMutation(in))
}

func callMutation(in CallInput) func(*models.Ticket, *models.Request, time.Time) {
	return func(ticket *models.Ticket, request *models.Request, now time.Time) {
		counter := in.CounterNumber
		ticket.CounterNumber = &counter
		if in.StaffID != "" {
			staff := in.StaffID
			ticket.ServedBy = &staff
		}
		ticket.StartedAt = &now
		request.Status = models.RequestServing
	}
}

// Complete finishes a serving ticket and completes its request.
func (i *Issuer) Complete(ctx context.Context, ticketID string) (models.Ticket, error) {
	ctx, span := telemetry.Tracer("tickets").Start(ctx, "tickets.Complete")
	defer span.End()
	return i.transition(ctx, store.ActionComplete, func(tx store.Tx) (models.Ticket, error) {
		return tx.GetTicket(ctx, ticketID)
	}, func(ticket *models.Ticket, request *models.Request, now time.Time) {
		ticket.CompletedAt = &now
		request.Status = models.RequestCompleted
		request.CompletedAt = &now
	})
}

// Skip leaves the owning request untouched.
func (i *Issuer) Skip(ctx context.Context, ticketID string) (models.Ticket, error) {
	ctx, span := telemetry.Tracer("tickets").Start(ctx, "tickets.Skip")
	defer span.End()
	return i.transition(ctx, store.ActionSkip, func(tx store.Tx) (models.Ticket, error) {
		return tx.GetTicket(ctx, ticketID)
	}, func(ticket *models.Ticket, _ *models.Request, now time.Time) {
		ticket.SkippedAt = &now
	})
}

func (i *Issuer) transition(
	ctx context.Context,
	action string,
	load func(store.Tx) (models.Ticket, error),
	mutate func(*models.Ticket, *models.Request, time.Time),
) (models.Ticket, error) {
	target, _ := store.TargetStatus(action)
	var ticket models.Ticket
	err := i.RunInTx(ctx, action, func(tx store.Tx) error {
		now := i.Now()
		current, err := load(tx)
		if err != nil {
			return err
		}
		if !store.ValidTransition(action, current.Status) {
			return store.InvalidStatef("cannot %s ticket %s in status %s", action, current.TicketNumber, current.Status)
		}
		request, err := tx.GetRequest(ctx, current.RequestID)
		if err != nil {
			return err
		}
		before := request

		ticket = current
		ticket.Status = target
		mutate(&ticket, &request, now)
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		if err := recordTicket(ctx, tx, ticket, current.Status, "ticket."+target, now); err != nil {
			return err
		}
		if request != before {
			if err := tx.UpdateRequest(ctx, request); err != nil {
				return err
			}
			if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityRequest, EntityID: request.RequestID, Type: "request." + request.Status, CreatedAt: now}); err != nil {
				return err
			}
			if request.Status == models.RequestCompleted && before.Status != models.RequestCompleted && i.observer != nil {
				if err := i.observer.RequestCompleted(ctx, tx, request, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	metrics.RecordTransition(action, err)
	if err != nil {
		return models.Ticket{}, err
	}
	logging.Ctx(ctx).Debug().Str("ticket", ticket.TicketNumber).Str("action", action).Str("status", ticket.Status).Msg("ticket transitioned")
	return ticket, nil
}

func recordTicket(ctx context.Context, tx store.Tx, ticket models.Ticket, from, eventType string, now time.Time) error {
	if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityTicket, EntityID: ticket.TicketID, Type: eventType, CreatedAt: now}); err != nil {
		return err
	}
	_, err := tx.AppendAudit(ctx, models.AuditEntry{
		Actor: actor(ctx),
		At:    now,
		Payload: models.TicketTransitioned{
			TicketID:      ticket.TicketID,
			TicketNumber:  ticket.TicketNumber,
			RequestID:     ticket.RequestID,
			From:          from,
			To:            ticket.Status,
			CounterNumber: ticket.CounterNumber,
		},
	})
	return err
}

func actor(ctx context.Context) string {
	if a := logging.ActorFromContext(ctx); a != "" {
		return a
	}
	return "system"
}

type Display struct {
	ServiceDay string          `json:"service_day"`
	Waiting    []models.Ticket `json:"waiting"`
	Serving    []models.Ticket `json:"serving"`
	Done       []models.Ticket `json:"done"`
}

// DisplayData returns today's board: waiting and serving oldest first, and
// the doneLimit most recently completed tickets newest first. A zero
// doneLimit uses the configured default.
func (i *Issuer) DisplayData(ctx context.Context, doneLimit int) (Display, error) {
	if doneLimit < 0 {
		return Display{}, store.Validationf("done_limit must not be negative")
	}
	if doneLimit == 0 {
		doneLimit = i.doneLimit
	}
	display := Display{
		ServiceDay: i.ServiceDay(i.Now()),
		Waiting:    []models.Ticket{},
		Serving:    []models.Ticket{},
		Done:       []models.Ticket{},
	}
	err := i.ledger.View(ctx, func(v store.View) error {
		tickets, err := v.ListTickets(ctx, store.TicketFilter{
			ServiceDay: display.ServiceDay,
			Statuses:   []string{models.StatusWaiting, models.StatusServing, models.StatusDone},
		})
		if err != nil {
			return err
		}
		for _, t := range tickets {
			switch t.Status {
			case models.StatusWaiting:
				display.Waiting = append(display.Waiting, t)
			case models.StatusServing:
				display.Serving = append(display.Serving, t)
			case models.StatusDone:
				display.Done = append(display.Done, t)
			}
		}
		return nil
	})
	if err != nil {
		return Display{}, err
	}
	slices.SortStableFunc(display.Serving, func(a, b models.Ticket) int {
		return compareTimes(a.StartedAt, b.StartedAt)
	})
	slices.SortStableFunc(display.Done, func(a, b models.Ticket) int {
		if c := compareTimes(b.CompletedAt, a.CompletedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.Number, a.Number)
	})
	if len(display.Done) > doneLimit {
		display.Done = display.Done[:doneLimit]
	}
	return display, nil
}

func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}
