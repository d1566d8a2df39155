package memory

import (
	"cmp"
	"context"
	"slices"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

type view struct {
	state *state
}

func (v view) GetPerson(_ context.Context, personID string) (models.Person, error) {
	p, ok := v.state.persons[personID]
	if !ok {
		return models.Person{}, store.NotFoundf("person %s not found", personID)
	}
	return p, nil
}

func (v view) ListPersons(_ context.Context, filter store.PersonFilter) ([]models.Person, error) {
	out := make([]models.Person, 0)
	for _, p := range v.state.persons {
		if filter.Locality != "" && p.Locality != filter.Locality {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, p.Status) {
			continue
		}
		out = append(out, p)
	}
	sortPersons(out)
	return out, nil
}

func (v view) ListPersonsByBirthdate(_ context.Context, birthdate models.Date) ([]models.Person, error) {
	out := make([]models.Person, 0)
	for _, p := range v.state.persons {
		if p.Birthdate == birthdate {
			out = append(out, p)
		}
	}
	sortPersons(out)
	return out, nil
}

func (v view) ListPersonsByLastNameKey(_ context.Context, key string) ([]models.Person, error) {
	out := make([]models.Person, 0)
	for _, p := range v.state.persons {
		if p.LastNameKey() == key {
			out = append(out, p)
		}
	}
	sortPersons(out)
	return out, nil
}

func sortPersons(persons []models.Person) {
	slices.SortFunc(persons, func(a, b models.Person) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.PersonID, b.PersonID)
	})
}

func (v view) GetService(_ context.Context, serviceID string) (models.Service, error) {
	svc, ok := v.state.services[serviceID]
	if !ok {
		return models.Service{}, store.NotFoundf("service %s not found", serviceID)
	}
	return svc, nil
}

func (v view) ListServices(_ context.Context, activeOnly bool) ([]models.Service, error) {
	out := make([]models.Service, 0, len(v.state.services))
	for _, svc := range v.state.services {
		if activeOnly && !svc.Active {
			continue
		}
		out = append(out, svc)
	}
	slices.SortFunc(out, func(a, b models.Service) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ServiceID, b.ServiceID)
	})
	return out, nil
}

func (v view) ServiceReferenced(_ context.Context, serviceID string) (bool, error) {
	for _, item := range v.state.items {
		if item.ServiceID == serviceID {
			return true, nil
		}
	}
	return false, nil
}

func (v view) GetRequest(_ context.Context, requestID string) (models.Request, error) {
	r, ok := v.state.requests[requestID]
	if !ok {
		return models.Request{}, store.NotFoundf("request %s not found", requestID)
	}
	return r, nil
}

func (v view) ListRequests(_ context.Context, filter store.RequestFilter) ([]models.Request, error) {
	out := make([]models.Request, 0)
	for _, r := range v.state.requests {
		if filter.PersonID != "" && r.PersonID != filter.PersonID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b models.Request) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RequestNumber, b.RequestNumber)
	})
	return out, nil
}

func (v view) ListRequestItems(_ context.Context, requestID string) ([]models.RequestItem, error) {
	out := make([]models.RequestItem, 0)
	for _, item := range v.state.items {
		if item.RequestID == requestID {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b models.RequestItem) int { return cmp.Compare(a.Line, b.Line) })
	return out, nil
}

func (v view) GetRequestItem(_ context.Context, itemID string) (models.RequestItem, error) {
	item, ok := v.state.items[itemID]
	if !ok {
		return models.RequestItem{}, store.NotFoundf("request item %s not found", itemID)
	}
	return item, nil
}

func (v view) GetTicket(_ context.Context, ticketID string) (models.Ticket, error) {
	t, ok := v.state.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.NotFoundf("ticket %s not found", ticketID)
	}
	return t, nil
}

func (v view) FindActiveTicket(_ context.Context, requestID string) (models.Ticket, bool, error) {
	for _, t := range v.state.tickets {
		if t.RequestID == requestID && t.Active() {
			return t, true, nil
		}
	}
	return models.Ticket{}, false, nil
}

func (v view) ListTickets(_ context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	out := make([]models.Ticket, 0)
	for _, t := range v.state.tickets {
		if filter.ServiceDay != "" && t.ServiceDay != filter.ServiceDay {
			continue
		}
		if filter.RequestID != "" && t.RequestID != filter.RequestID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, t.Status) {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b models.Ticket) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ServiceDay, b.ServiceDay); c != 0 {
			return c
		}
		return cmp.Compare(a.Number, b.Number)
	})
	return out, nil
}

func (v view) GetSnapshot(_ context.Context, dimension string) (models.StatisticsSnapshot, bool, error) {
	snap, ok := v.state.snapshots[dimension]
	return snap, ok, nil
}

func (v view) ListSnapshots(_ context.Context) ([]models.StatisticsSnapshot, error) {
	out := make([]models.StatisticsSnapshot, 0, len(v.state.snapshots))
	for _, snap := range v.state.snapshots {
		out = append(out, snap)
	}
	slices.SortFunc(out, func(a, b models.StatisticsSnapshot) int { return cmp.Compare(a.Dimension, b.Dimension) })
	return out, nil
}

func (v view) ListChanges(_ context.Context, after int64, limit int) ([]models.ChangeEvent, error) {
	start, _ := slices.BinarySearchFunc(v.state.changes, after+1, func(e models.ChangeEvent, seq int64) int {
		return cmp.Compare(e.Seq, seq)
	})
	end := len(v.state.changes)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return slices.Clone(v.state.changes[start:end]), nil
}

func (v view) LastChangeSeq(context.Context) (int64, error) {
	if n := len(v.state.changes); n > 0 {
		return v.state.changes[n-1].Seq, nil
	}
	return 0, nil
}

func (v view) ListAudit(_ context.Context, limit int) ([]models.AuditEntry, error) {
	start := 0
	if limit > 0 && len(v.state.audit) > limit {
		start = len(v.state.audit) - limit
	}
	return slices.Clone(v.state.audit[start:]), nil
}
