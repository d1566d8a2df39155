// Package requests turns kiosk and staff actions into ledger transactions:
// request intake, pending guest review, request cancellation, item printing
// and catalog administration.
package requests

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"civicq/records-service/internal/logging"
	"civicq/records-service/internal/metrics"
	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/telemetry"
	"civicq/records-service/internal/tickets"
	"civicq/records-service/internal/validation"
)

// PersonObserver receives every person mutation inside its transaction.
// A nil before is a creation, a nil after a deletion.
type PersonObserver interface {
	PersonChanged(ctx context.Context, tx store.Tx, before, after *models.Person, at time.Time) error
}

type Options struct {
	ExternalIDPrefix string
	Observer         PersonObserver
}

type Coordinator struct {
	ledger   store.Ledger
	issuer   *tickets.Issuer
	prefix   string
	observer PersonObserver
}

func New(ledger store.Ledger, issuer *tickets.Issuer, opts Options) *Coordinator {
	if opts.ExternalIDPrefix == "" {
		opts.ExternalIDPrefix = "BH"
	}
	return &Coordinator{
		ledger:   ledger,
		issuer:   issuer,
		prefix:   opts.ExternalIDPrefix,
		observer: opts.Observer,
	}
}

type GuestInput struct {
	FirstName  string      `json:"first_name" validate:"required,notblank,max=100"`
	MiddleName string      `json:"middle_name" validate:"max=100"`
	LastName   string      `json:"last_name" validate:"required,notblank,max=100"`
	Suffix     string      `json:"suffix" validate:"max=20"`
	Sex        string      `json:"sex" validate:"required,sex"`
	Birthdate  models.Date `json:"birthdate" validate:"required"`
	Locality   string      `json:"locality" validate:"max=100"`
	Address    string      `json:"address" validate:"max=255"`
}

type ItemInput struct {
	ServiceID string `json:"service_id" validate:"required"`
	Purpose   string `json:"purpose" validate:"max=255"`
}

// SubmitInput names either an existing person or a guest to create as a
// pending record, never both.
type SubmitInput struct {
	PersonID string      `json:"person_id"`
	Guest    *GuestInput `json:"guest"`
	Items    []ItemInput `json:"items" validate:"required,min=1,dive"`
}

type SubmitResult struct {
	RequestID     string `json:"request_id"`
	RequestNumber string `json:"request_number"`
	PersonID      string `json:"person_id"`
	TicketID      string `json:"ticket_id"`
	TicketNumber  string `json:"ticket_number"`
	TotalPrice    int64  `json:"total_price"`
}

func (in SubmitInput) validate(now time.Time) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if (in.PersonID == "") == (in.Guest == nil) {
		return store.Validationf("exactly one of person_id or guest is required")
	}
	if in.Guest != nil && in.Guest.Birthdate.Time().After(now) {
		return store.Validationf("guest.birthdate must not be in the future")
	}
	return nil
}

// Submit records a request, creating a pending guest person when needed,
// and issues its first ticket. The request is created pending and moves to
// queued once its ticket exists; both steps are visible as change events.
// Everything commits atomically or not at all.
func (c *Coordinator) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	ctx, span := telemetry.Tracer("requests").Start(ctx, "requests.Submit")
	defer span.End()

	result, err := c.submit(ctx, in)
	outcome := "ok"
	if err != nil {
		outcome = "internal"
		if kind := store.KindOf(err); kind != "" {
			outcome = string(kind)
		}
	}
	metrics.RequestsSubmitted.WithLabelValues(outcome).Inc()
	if err != nil {
		return SubmitResult{}, err
	}
	metrics.TicketsIssued.Inc()
	logging.Ctx(ctx).Info().
		Str("request", result.RequestNumber).
		Str("ticket", result.TicketNumber).
		Msg("request submitted")
	return result, nil
}

func (c *Coordinator) submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	if err := in.validate(c.issuer.Now()); err != nil {
		return SubmitResult{}, err
	}

	var result SubmitResult
	err := c.issuer.RunInTx(ctx, "submit", func(tx store.Tx) error {
		now := c.issuer.Now()
		person, guestCreated, err := c.resolvePerson(ctx, tx, in, now)
		if err != nil {
			return err
		}

		request := models.Request{
			RequestID: uuid.NewString(),
			PersonID:  person.PersonID,
			Locality:  person.Locality,
			Status:    models.RequestPending,
			CreatedAt: now,
		}
		items := make([]models.RequestItem, 0, len(in.Items))
		for idx, input := range in.Items {
			svc, err := tx.GetService(ctx, input.ServiceID)
			if err != nil {
				if store.KindOf(err) == store.KindNotFound {
					return store.Inactivef("items[%d]: service %s not found or inactive", idx, input.ServiceID)
				}
				return err
			}
			if !svc.Active {
				return store.Inactivef("items[%d]: service %s not found or inactive", idx, input.ServiceID)
			}
			purpose := strings.TrimSpace(input.Purpose)
			if svc.RequiresPurpose && purpose == "" {
				return store.Validationf("items[%d].purpose is required for %s", idx, svc.Name)
			}
			items = append(items, models.RequestItem{
				ItemID:      uuid.NewString(),
				RequestID:   request.RequestID,
				Line:        idx + 1,
				ServiceID:   svc.ServiceID,
				ServiceName: svc.Name,
				UnitPrice:   svc.Price,
				Purpose:     purpose,
				Status:      models.ItemPending,
				CreatedAt:   now,
			})
			request.TotalPrice += svc.Price
		}

		day := strings.ReplaceAll(c.issuer.ServiceDay(now), "-", "")
		seq, err := tx.NextSequence(ctx, "request:"+day)
		if err != nil {
			return err
		}
		request.RequestNumber = fmt.Sprintf("REQ-%s-%04d", day, seq)
		if err := tx.InsertRequest(ctx, request, items); err != nil {
			return err
		}
		if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityRequest, EntityID: request.RequestID, Type: "request.created", CreatedAt: now}); err != nil {
			return err
		}

		ticket, err := c.issuer.IssueTx(ctx, tx, request.RequestID, now)
		if err != nil {
			return err
		}
		request.Status = models.RequestQueued
		if err := tx.UpdateRequest(ctx, request); err != nil {
			return err
		}
		if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityRequest, EntityID: request.RequestID, Type: "request.queued", CreatedAt: now}); err != nil {
			return err
		}
		if _, err := tx.AppendAudit(ctx, models.AuditEntry{
			Actor: actor(ctx),
			At:    now,
			Payload: models.RequestSubmitted{
				RequestID:     request.RequestID,
				RequestNumber: request.RequestNumber,
				PersonID:      person.PersonID,
				GuestCreated:  guestCreated,
				ItemCount:     len(items),
				TotalPrice:    request.TotalPrice,
				TicketNumber:  ticket.TicketNumber,
			},
		}); err != nil {
			return err
		}

		result = SubmitResult{
			RequestID:     request.RequestID,
			RequestNumber: request.RequestNumber,
			PersonID:      person.PersonID,
			TicketID:      ticket.TicketID,
			TicketNumber:  ticket.TicketNumber,
			TotalPrice:    request.TotalPrice,
		}
		return nil
	})
	return result, err
}

func (c *Coordinator) resolvePerson(ctx context.Context, tx store.Tx, in SubmitInput, now time.Time) (models.Person, bool, error) {
	if in.PersonID != "" {
		// Any status is accepted: deceased and moved residents still
		// need certificates.
		person, err := tx.GetPerson(ctx, in.PersonID)
		if err != nil {
			return models.Person{}, false, err
		}
		return person, false, nil
	}

	g := in.Guest
	person := models.Person{
		PersonID:   uuid.NewString(),
		FirstName:  strings.TrimSpace(g.FirstName),
		MiddleName: strings.TrimSpace(g.MiddleName),
		LastName:   strings.TrimSpace(g.LastName),
		Suffix:     strings.TrimSpace(g.Suffix),
		Sex:        g.Sex,
		Birthdate:  g.Birthdate,
		Locality:   strings.TrimSpace(g.Locality),
		Address:    strings.TrimSpace(g.Address),
		Status:     models.PersonPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.InsertPerson(ctx, person); err != nil {
		return models.Person{}, false, err
	}
	if err := c.personChanged(ctx, tx, nil, &person, now, "person.created"); err != nil {
		return models.Person{}, false, err
	}
	return person, true, nil
}

func (c *Coordinator) personChanged(ctx context.Context, tx store.Tx, before, after *models.Person, now time.Time, eventType string) error {
	if c.observer != nil {
		if err := c.observer.PersonChanged(ctx, tx, before, after, now); err != nil {
			return err
		}
	}
	id := ""
	if after != nil {
		id = after.PersonID
	} else if before != nil {
		id = before.PersonID
	}
	_, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityPerson, EntityID: id, Type: eventType, CreatedAt: now})
	return err
}

// Detail is a request with everything hanging off it.
type Detail struct {
	models.Request
	Items   []models.RequestItem `json:"items"`
	Tickets []models.Ticket      `json:"tickets"`
}

func (c *Coordinator) Get(ctx context.Context, requestID string) (Detail, error) {
	var detail Detail
	err := c.ledger.View(ctx, func(v store.View) error {
		request, err := v.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		items, err := v.ListRequestItems(ctx, requestID)
		if err != nil {
			return err
		}
		ticketList, err := v.ListTickets(ctx, store.TicketFilter{RequestID: requestID})
		if err != nil {
			return err
		}
		detail = Detail{Request: request, Items: items, Tickets: ticketList}
		return nil
	})
	return detail, err
}

// Cancel is legal while the request is pending or queued. Its waiting
// ticket, if any, is skipped.
func (c *Coordinator) Cancel(ctx context.Context, requestID string) (models.Request, error) {
	ctx, span := telemetry.Tracer("requests").Start(ctx, "requests.Cancel")
	defer span.End()

	var request models.Request
	err := c.issuer.RunInTx(ctx, "cancel", func(tx store.Tx) error {
		now := c.issuer.Now()
		var err error
		request, err = tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		from := request.Status
		if from != models.RequestPending && from != models.RequestQueued {
			return store.InvalidStatef("request %s is %s and cannot be cancelled", request.RequestNumber, from)
		}
		if err := c.issuer.WithdrawTx(ctx, tx, requestID, now); err != nil {
			return err
		}
		request.Status = models.RequestCancelled
		request.CancelledAt = &now
		if err := tx.UpdateRequest(ctx, request); err != nil {
			return err
		}
		if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityRequest, EntityID: requestID, Type: "request.cancelled", CreatedAt: now}); err != nil {
			return err
		}
		_, err = tx.AppendAudit(ctx, models.AuditEntry{
			Actor:   actor(ctx),
			At:      now,
			Payload: models.RequestCancelledPayload{RequestID: requestID, FromStatus: from},
		})
		return err
	})
	if err != nil {
		return models.Request{}, err
	}
	logging.Ctx(ctx).Debug().Str("request", request.RequestNumber).Msg("request cancelled")
	return request, nil
}

// MarkItemPrinted moves an item to printed. Repeating the call returns the
// already printed item unchanged.
func (c *Coordinator) MarkItemPrinted(ctx context.Context, itemID string) (models.RequestItem, error) {
	var item models.RequestItem
	err := c.issuer.RunInTx(ctx, "mark_printed", func(tx store.Tx) error {
		now := c.issuer.Now()
		var err error
		item, err = tx.GetRequestItem(ctx, itemID)
		if err != nil {
			return err
		}
		request, err := tx.GetRequest(ctx, item.RequestID)
		if err != nil {
			return err
		}
		if request.Status == models.RequestCancelled {
			return store.InvalidStatef("request %s is cancelled", request.RequestNumber)
		}
		if item.Status == models.ItemPrinted {
			return nil
		}
		item.Status = models.ItemPrinted
		item.PrintedAt = &now
		if err := tx.UpdateRequestItem(ctx, item); err != nil {
			return err
		}
		if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityRequest, EntityID: item.RequestID, Type: "request_item.printed", CreatedAt: now}); err != nil {
			return err
		}
		_, err = tx.AppendAudit(ctx, models.AuditEntry{
			Actor:   actor(ctx),
			At:      now,
			Payload: models.ItemPrintedPayload{ItemID: item.ItemID, RequestID: item.RequestID},
		})
		return err
	})
	return item, err
}

func actor(ctx context.Context) string {
	if a := logging.ActorFromContext(ctx); a != "" {
		return a
	}
	return "kiosk"
}
