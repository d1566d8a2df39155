package memory

import (
	"context"

	"github.com/google/uuid"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

var _ store.Tx = (*transaction)(nil)

type transaction struct {
	view
	dirty map[string]bool
}

func (tx *transaction) touch(bucket string) { tx.dirty[bucket] = true }

func (tx *transaction) InsertPerson(_ context.Context, person models.Person) error {
	if _, exists := tx.state.persons[person.PersonID]; exists {
		return store.Conflictf("person %s already exists", person.PersonID)
	}
	if err := tx.checkExternalID(person); err != nil {
		return err
	}
	tx.state.persons[person.PersonID] = person
	tx.touch(BucketPersons)
	return nil
}

func (tx *transaction) UpdatePerson(_ context.Context, person models.Person) error {
	if _, exists := tx.state.persons[person.PersonID]; !exists {
		return store.NotFoundf("person %s not found", person.PersonID)
	}
	if err := tx.checkExternalID(person); err != nil {
		return err
	}
	tx.state.persons[person.PersonID] = person
	tx.touch(BucketPersons)
	return nil
}

func (tx *transaction) checkExternalID(person models.Person) error {
	if person.ExternalID == "" {
		return nil
	}
	for id, other := range tx.state.persons {
		if id != person.PersonID && other.ExternalID == person.ExternalID {
			return store.Conflictf("external id %s already assigned", person.ExternalID)
		}
	}
	return nil
}

func (tx *transaction) DeletePerson(_ context.Context, personID string) error {
	if _, exists := tx.state.persons[personID]; !exists {
		return store.NotFoundf("person %s not found", personID)
	}
	delete(tx.state.persons, personID)
	tx.touch(BucketPersons)
	return nil
}

func (tx *transaction) NextSequence(_ context.Context, name string) (int64, error) {
	tx.state.sequences[name]++
	tx.touch(BucketCounters)
	return tx.state.sequences[name], nil
}

func (tx *transaction) NextDailyNumber(_ context.Context, serviceDay string) (int, error) {
	tx.state.dayCounters[serviceDay]++
	tx.touch(BucketCounters)
	return tx.state.dayCounters[serviceDay], nil
}

func (tx *transaction) PutService(_ context.Context, service models.Service) error {
	tx.state.services[service.ServiceID] = service
	tx.touch(BucketServices)
	return nil
}

func (tx *transaction) InsertRequest(_ context.Context, request models.Request, items []models.RequestItem) error {
	if _, exists := tx.state.requests[request.RequestID]; exists {
		return store.Conflictf("request %s already exists", request.RequestID)
	}
	for _, other := range tx.state.requests {
		if other.RequestNumber == request.RequestNumber {
			return store.Conflictf("request number %s already used", request.RequestNumber)
		}
	}
	tx.state.requests[request.RequestID] = request
	for _, item := range items {
		if _, exists := tx.state.items[item.ItemID]; exists {
			return store.Conflictf("request item %s already exists", item.ItemID)
		}
		tx.state.items[item.ItemID] = item
	}
	tx.touch(BucketRequests)
	tx.touch(BucketItems)
	return nil
}

func (tx *transaction) UpdateRequest(_ context.Context, request models.Request) error {
	if _, exists := tx.state.requests[request.RequestID]; !exists {
		return store.NotFoundf("request %s not found", request.RequestID)
	}
	tx.state.requests[request.RequestID] = request
	tx.touch(BucketRequests)
	return nil
}

func (tx *transaction) UpdateRequestItem(_ context.Context, item models.RequestItem) error {
	if _, exists := tx.state.items[item.ItemID]; !exists {
		return store.NotFoundf("request item %s not found", item.ItemID)
	}
	tx.state.items[item.ItemID] = item
	tx.touch(BucketItems)
	return nil
}

func (tx *transaction) InsertTicket(_ context.Context, ticket models.Ticket) error {
	if _, exists := tx.state.tickets[ticket.TicketID]; exists {
		return store.Conflictf("ticket %s already exists", ticket.TicketID)
	}
	if err := tx.checkTicketUniqueness(ticket); err != nil {
		return err
	}
	tx.state.tickets[ticket.TicketID] = ticket
	tx.touch(BucketTickets)
	return nil
}

func (tx *transaction) UpdateTicket(_ context.Context, ticket models.Ticket) error {
	if _, exists := tx.state.tickets[ticket.TicketID]; !exists {
		return store.NotFoundf("ticket %s not found", ticket.TicketID)
	}
	if err := tx.checkTicketUniqueness(ticket); err != nil {
		return err
	}
	tx.state.tickets[ticket.TicketID] = ticket
	tx.touch(BucketTickets)
	return nil
}

// checkTicketUniqueness mirrors the postgres unique indexes on
// (service_day, number) and on request_id for active tickets.
func (tx *transaction) checkTicketUniqueness(ticket models.Ticket) error {
	for id, other := range tx.state.tickets {
		if id == ticket.TicketID {
			continue
		}
		if other.ServiceDay == ticket.ServiceDay && other.Number == ticket.Number {
			return store.Conflictf("ticket number %s already issued on %s", ticket.TicketNumber, ticket.ServiceDay)
		}
		if ticket.Active() && other.Active() && other.RequestID == ticket.RequestID {
			return store.Conflictf("request %s already has an active ticket", ticket.RequestID)
		}
	}
	return nil
}

func (tx *transaction) PutSnapshot(_ context.Context, snapshot models.StatisticsSnapshot) error {
	tx.state.snapshots[snapshot.Dimension] = snapshot
	tx.touch(BucketSnapshots)
	return nil
}

func (tx *transaction) AppendChange(_ context.Context, event models.ChangeEvent) (models.ChangeEvent, error) {
	event.Seq = 1
	if n := len(tx.state.changes); n > 0 {
		event.Seq = tx.state.changes[n-1].Seq + 1
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	tx.state.changes = append(tx.state.changes, event)
	tx.touch(BucketChanges)
	return event, nil
}

func (tx *transaction) AppendAudit(_ context.Context, entry models.AuditEntry) (models.AuditEntry, error) {
	var prev *models.AuditEntry
	if n := len(tx.state.audit); n > 0 {
		prev = &tx.state.audit[n-1]
	}
	sealed, err := store.SealAuditEntry(prev, entry)
	if err != nil {
		return models.AuditEntry{}, err
	}
	tx.state.audit = append(tx.state.audit, sealed)
	tx.touch(BucketAudit)
	return sealed, nil
}
