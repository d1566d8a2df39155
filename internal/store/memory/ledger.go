// Package memory is a copy-on-write ledger. Each transaction works on a clone
// of the committed state under the writer lock and swaps it in on success, so
// readers keep the snapshot they started with and never wait for writers.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

const (
	BucketPersons   = "persons"
	BucketServices  = "services"
	BucketRequests  = "requests"
	BucketItems     = "request_items"
	BucketTickets   = "tickets"
	BucketSnapshots = "snapshots"
	BucketCounters  = "counters"
	BucketChanges   = "changes"
	BucketAudit     = "audit"
)

var Buckets = []string{
	BucketPersons, BucketServices, BucketRequests, BucketItems, BucketTickets,
	BucketSnapshots, BucketCounters, BucketChanges, BucketAudit,
}

// CommitHook runs under the writer lock before a transaction becomes
// visible. A non-nil error aborts the transaction. snapshot carries only the
// buckets listed in dirty.
type CommitHook func(snapshot Snapshot, dirty []string) error

type Option func(*Ledger)

func WithCommitHook(hook CommitHook) Option {
	return func(l *Ledger) { l.hook = hook }
}

type Ledger struct {
	mu    sync.Mutex
	rmu   sync.RWMutex
	state *state
	hook  CommitHook
}

var _ store.Ledger = (*Ledger)(nil)

func New(opts ...Option) *Ledger {
	l := &Ledger{state: newState()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) RunInTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &transaction{view: view{state: l.current().clone()}, dirty: map[string]bool{}}
	if err := fn(tx); err != nil {
		return err
	}
	if l.hook != nil && len(tx.dirty) > 0 {
		dirty := make([]string, 0, len(tx.dirty))
		for _, bucket := range Buckets {
			if tx.dirty[bucket] {
				dirty = append(dirty, bucket)
			}
		}
		if err := l.hook(tx.state.export(tx.dirty), dirty); err != nil {
			return err
		}
	}
	l.rmu.Lock()
	l.state = tx.state
	l.rmu.Unlock()
	return nil
}

func (l *Ledger) View(ctx context.Context, fn func(store.View) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(view{state: l.current()})
}

func (l *Ledger) Close() error { return nil }

func (l *Ledger) current() *state {
	l.rmu.RLock()
	defer l.rmu.RUnlock()
	return l.state
}

// ExportState returns every bucket of the committed state.
func (l *Ledger) ExportState() Snapshot {
	all := map[string]bool{}
	for _, bucket := range Buckets {
		all[bucket] = true
	}
	return l.current().export(all)
}

// ImportState replaces the committed state. Buckets absent from snapshot
// become empty.
func (l *Ledger) ImportState(snapshot Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := stateFromSnapshot(snapshot)
	l.rmu.Lock()
	l.state = st
	l.rmu.Unlock()
}

type state struct {
	persons     map[string]models.Person
	services    map[string]models.Service
	requests    map[string]models.Request
	items       map[string]models.RequestItem
	tickets     map[string]models.Ticket
	snapshots   map[string]models.StatisticsSnapshot
	sequences   map[string]int64
	dayCounters map[string]int
	changes     []models.ChangeEvent
	audit       []models.AuditEntry
}

func newState() *state {
	return &state{
		persons:     map[string]models.Person{},
		services:    map[string]models.Service{},
		requests:    map[string]models.Request{},
		items:       map[string]models.RequestItem{},
		tickets:     map[string]models.Ticket{},
		snapshots:   map[string]models.StatisticsSnapshot{},
		sequences:   map[string]int64{},
		dayCounters: map[string]int{},
	}
}

// clone copies every map. Append-only slices are capped so appends in the
// clone reallocate instead of writing into the committed backing array.
func (s *state) clone() *state {
	return &state{
		persons:     maps.Clone(s.persons),
		services:    maps.Clone(s.services),
		requests:    maps.Clone(s.requests),
		items:       maps.Clone(s.items),
		tickets:     maps.Clone(s.tickets),
		snapshots:   maps.Clone(s.snapshots),
		sequences:   maps.Clone(s.sequences),
		dayCounters: maps.Clone(s.dayCounters),
		changes:     s.changes[:len(s.changes):len(s.changes)],
		audit:       s.audit[:len(s.audit):len(s.audit)],
	}
}

// Snapshot is the serialisable form of the ledger state.
type Snapshot struct {
	Persons     []models.Person             `json:"persons,omitempty"`
	Services    []models.Service            `json:"services,omitempty"`
	Requests    []models.Request            `json:"requests,omitempty"`
	Items       []models.RequestItem        `json:"request_items,omitempty"`
	Tickets     []models.Ticket             `json:"tickets,omitempty"`
	Snapshots   []models.StatisticsSnapshot `json:"snapshots,omitempty"`
	Sequences   map[string]int64            `json:"sequences,omitempty"`
	DayCounters map[string]int              `json:"day_counters,omitempty"`
	Changes     []models.ChangeEvent        `json:"changes,omitempty"`
	Audit       []models.AuditEntry         `json:"audit,omitempty"`
}

// sortedValues returns map values ordered by key so exports are stable.
func sortedValues[V any](m map[string]V) []V {
	out := make([]V, 0, len(m))
	for _, key := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[key])
	}
	return out
}

func (s *state) export(buckets map[string]bool) Snapshot {
	var out Snapshot
	if buckets[BucketPersons] {
		out.Persons = sortedValues(s.persons)
	}
	if buckets[BucketServices] {
		out.Services = sortedValues(s.services)
	}
	if buckets[BucketRequests] {
		out.Requests = sortedValues(s.requests)
	}
	if buckets[BucketItems] {
		out.Items = sortedValues(s.items)
	}
	if buckets[BucketTickets] {
		out.Tickets = sortedValues(s.tickets)
	}
	if buckets[BucketSnapshots] {
		out.Snapshots = sortedValues(s.snapshots)
	}
	if buckets[BucketCounters] {
		out.Sequences = maps.Clone(s.sequences)
		out.DayCounters = maps.Clone(s.dayCounters)
	}
	// log entries are never rewritten, so the capped slices can be shared
	if buckets[BucketChanges] {
		out.Changes = s.changes[:len(s.changes):len(s.changes)]
	}
	if buckets[BucketAudit] {
		out.Audit = s.audit[:len(s.audit):len(s.audit)]
	}
	return out
}

func stateFromSnapshot(snapshot Snapshot) *state {
	st := newState()
	for _, p := range snapshot.Persons {
		st.persons[p.PersonID] = p
	}
	for _, svc := range snapshot.Services {
		st.services[svc.ServiceID] = svc
	}
	for _, r := range snapshot.Requests {
		st.requests[r.RequestID] = r
	}
	for _, item := range snapshot.Items {
		st.items[item.ItemID] = item
	}
	for _, t := range snapshot.Tickets {
		st.tickets[t.TicketID] = t
	}
	for _, snap := range snapshot.Snapshots {
		st.snapshots[snap.Dimension] = snap
	}
	maps.Copy(st.sequences, snapshot.Sequences)
	maps.Copy(st.dayCounters, snapshot.DayCounters)
	st.changes = slices.Clone(snapshot.Changes)
	st.audit = slices.Clone(snapshot.Audit)
	slices.SortFunc(st.changes, func(a, b models.ChangeEvent) int { return cmpInt64(a.Seq, b.Seq) })
	slices.SortFunc(st.audit, func(a, b models.AuditEntry) int { return cmpInt64(a.Seq, b.Seq) })
	return st
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
