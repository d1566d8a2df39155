package stats

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func resident(id, locality, sex string, birth models.Date) models.Person {
	return models.Person{
		PersonID:  id,
		FirstName: "Test",
		LastName:  id,
		Sex:       sex,
		Birthdate: birth,
		Locality:  locality,
		Status:    models.PersonActive,
		CreatedAt: fixedNow,
	}
}

func addPerson(t *testing.T, ledger store.Ledger, agg *Aggregator, p models.Person) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertPerson(ctx, p); err != nil {
			return err
		}
		return agg.PersonChanged(ctx, tx, nil, &p, fixedNow)
	}))
}

func TestContribution(t *testing.T) {
	cases := []struct {
		name   string
		person models.Person
		want   models.Counts
	}{
		{
			name:   "minor female voter",
			person: models.Person{Status: models.PersonActive, Sex: models.SexFemale, Birthdate: models.Date{Year: 2010, Month: 5, Day: 1}, Sectoral: models.Sectoral{Voter: true}},
			want:   models.Counts{Total: 1, Female: 1, Minors: 1, Voters: 1},
		},
		{
			name:   "turns eighteen on the day",
			person: models.Person{Status: models.PersonActive, Sex: models.SexMale, Birthdate: models.Date{Year: 2008, Month: 3, Day: 2}},
			want:   models.Counts{Total: 1, Male: 1, Adults: 1},
		},
		{
			name:   "senior pwd solo parent",
			person: models.Person{Status: models.PersonActive, Sex: models.SexFemale, Birthdate: models.Date{Year: 1950, Month: 1, Day: 1}, Sectoral: models.Sectoral{PWD: true, SoloParent: true, Indigenous: true}},
			want:   models.Counts{Total: 1, Female: 1, Seniors: 1, PWD: 1, SoloParents: 1, Indigenous: 1},
		},
		{
			name:   "pending guest",
			person: models.Person{Status: models.PersonPending, Sex: models.SexMale, Birthdate: models.Date{Year: 1990, Month: 1, Day: 1}},
			want:   models.Counts{Pending: 1},
		},
		{
			name:   "deceased",
			person: models.Person{Status: models.PersonDeceased, Sex: models.SexMale},
			want:   models.Counts{Deceased: 1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Contribution(tc.person, fixedNow))
		})
	}
}

// population replays registry mutations against an incremental aggregator
// with a clock the test can advance.
type population struct {
	t       *testing.T
	ledger  store.Ledger
	agg     *Aggregator
	now     time.Time
	persons map[string]models.Person
	seq     int
}

func newPopulation(t *testing.T) *population {
	pop := &population{t: t, ledger: memory.New(), now: fixedNow, persons: map[string]models.Person{}}
	pop.agg = New(pop.ledger, Options{Clock: func() time.Time { return pop.now }})
	return pop
}

func (pop *population) add(p models.Person) {
	pop.t.Helper()
	ctx := context.Background()
	require.NoError(pop.t, pop.ledger.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertPerson(ctx, p); err != nil {
			return err
		}
		return pop.agg.PersonChanged(ctx, tx, nil, &p, pop.now)
	}))
	pop.persons[p.PersonID] = p
}

func (pop *population) update(id string, mutate func(*models.Person)) {
	pop.t.Helper()
	ctx := context.Background()
	before := pop.persons[id]
	after := before
	mutate(&after)
	require.NoError(pop.t, pop.ledger.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdatePerson(ctx, after); err != nil {
			return err
		}
		return pop.agg.PersonChanged(ctx, tx, &before, &after, pop.now)
	}))
	pop.persons[id] = after
}

// complete books a finished request carrying the person's current locality,
// the way submission records it.
func (pop *population) complete(id string, price int64) {
	pop.t.Helper()
	ctx := context.Background()
	pop.seq++
	req := models.Request{
		RequestID:     fmt.Sprintf("r%d", pop.seq),
		RequestNumber: fmt.Sprintf("REQ-%d", pop.seq),
		PersonID:      id,
		Locality:      pop.persons[id].Locality,
		TotalPrice:    price,
		Status:        models.RequestCompleted,
		CreatedAt:     pop.now,
	}
	require.NoError(pop.t, pop.ledger.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertRequest(ctx, req, nil); err != nil {
			return err
		}
		return pop.agg.RequestCompleted(ctx, tx, req, pop.now)
	}))
}

func (pop *population) advance(d time.Duration) { pop.now = pop.now.Add(d) }

func assertNoNegativeCounters(t *testing.T, snap models.StatisticsSnapshot) {
	t.Helper()
	v := reflect.ValueOf(snap.Counts)
	for i := range v.NumField() {
		assert.GreaterOrEqual(t, v.Field(i).Int(), int64(0), "%s.%s", snap.Dimension, v.Type().Field(i).Name)
	}
}

func withStatus(p models.Person, status string) models.Person {
	p.Status = status
	return p
}

func TestIncrementalDeltasMatchRecompute(t *testing.T) {
	cases := []struct {
		name  string
		steps func(pop *population)
		want  map[string]models.Counts
	}{
		{
			name: "locality move and sector change",
			steps: func(pop *population) {
				pop.add(resident("ana", "poblacion", models.SexFemale, models.Date{Year: 1990, Month: 1, Day: 1}))
				pop.add(resident("ben", "san-isidro", models.SexMale, models.Date{Year: 1955, Month: 1, Day: 1}))
				pop.update("ben", func(p *models.Person) {
					p.Locality = "poblacion"
					p.Sectoral.Voter = true
				})
				pop.complete("ana", 7500)
			},
			want: map[string]models.Counts{
				models.DimensionAll: {Total: 2, Male: 1, Female: 1, Adults: 1, Seniors: 1, Voters: 1, RequestsCompleted: 1, Revenue: 7500},
				"poblacion":         {Total: 2, Male: 1, Female: 1, Adults: 1, Seniors: 1, Voters: 1, RequestsCompleted: 1, Revenue: 7500},
				"san-isidro":        {},
			},
		},
		{
			name: "locality edit after completion keeps volume where it was served",
			steps: func(pop *population) {
				pop.add(resident("ana", "north", models.SexFemale, models.Date{Year: 1990, Month: 1, Day: 1}))
				pop.complete("ana", 5000)
				pop.update("ana", func(p *models.Person) { p.Locality = "south" })
				pop.complete("ana", 2500)
			},
			want: map[string]models.Counts{
				models.DimensionAll: {Total: 1, Female: 1, Adults: 1, RequestsCompleted: 2, Revenue: 7500},
				"north":             {RequestsCompleted: 1, Revenue: 5000},
				"south":             {Total: 1, Female: 1, Adults: 1, RequestsCompleted: 1, Revenue: 2500},
			},
		},
		{
			name: "minor turns eighteen between mutations",
			steps: func(pop *population) {
				pop.add(resident("cara", "north", models.SexFemale, models.Date{Year: 2008, Month: 3, Day: 10}))
				pop.advance(10 * 24 * time.Hour)
				pop.update("cara", func(p *models.Person) { p.Status = models.PersonMoved })
			},
			want: map[string]models.Counts{
				models.DimensionAll: {Moved: 1},
				"north":             {Moved: 1},
			},
		},
		{
			name: "adult turns sixty between mutations",
			steps: func(pop *population) {
				pop.add(resident("dan", "north", models.SexMale, models.Date{Year: 1966, Month: 3, Day: 5}))
				pop.advance(5 * 24 * time.Hour)
				pop.update("dan", func(p *models.Person) { p.Sectoral.PWD = true })
				pop.advance(24 * time.Hour)
				pop.update("dan", func(p *models.Person) { p.Locality = "south" })
			},
			want: map[string]models.Counts{
				models.DimensionAll: {Total: 1, Male: 1, Seniors: 1, PWD: 1},
				"north":             {},
				"south":             {Total: 1, Male: 1, Seniors: 1, PWD: 1},
			},
		},
		{
			name: "every person status transitions and completes",
			steps: func(pop *population) {
				birth := models.Date{Year: 1980, Month: 6, Day: 1}
				pop.add(withStatus(resident("pen", "north", models.SexFemale, birth), models.PersonPending))
				pop.add(withStatus(resident("act", "north", models.SexMale, birth), models.PersonActive))
				pop.add(withStatus(resident("dec", "north", models.SexMale, birth), models.PersonDeceased))
				pop.add(withStatus(resident("mov", "south", models.SexFemale, birth), models.PersonMoved))
				for _, id := range []string{"pen", "act", "dec", "mov"} {
					pop.complete(id, 1000)
				}
				pop.advance(24 * time.Hour)
				pop.update("pen", func(p *models.Person) { p.Status = models.PersonActive })
				pop.update("act", func(p *models.Person) { p.Status = models.PersonDeceased })
				pop.update("mov", func(p *models.Person) { p.Status = models.PersonPending })
			},
			want: map[string]models.Counts{
				models.DimensionAll: {Total: 1, Female: 1, Adults: 1, Pending: 1, Deceased: 2, RequestsCompleted: 4, Revenue: 4000},
				"north":             {Total: 1, Female: 1, Adults: 1, Deceased: 2, RequestsCompleted: 3, Revenue: 3000},
				"south":             {Pending: 1, RequestsCompleted: 1, Revenue: 1000},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			pop := newPopulation(t)
			tc.steps(pop)

			for dim := range tc.want {
				stored, err := pop.agg.Snapshot(ctx, dim)
				require.NoError(t, err)
				assertNoNegativeCounters(t, stored)
			}

			report, err := pop.agg.Reconcile(ctx)
			require.NoError(t, err)
			assert.Empty(t, report.Corrected)

			recompute := New(pop.ledger, Options{Strategy: Recompute, Clock: func() time.Time { return pop.now }})
			for dim, want := range tc.want {
				stored, err := pop.agg.Snapshot(ctx, dim)
				require.NoError(t, err)
				assert.Equal(t, want, stored.Counts, dim)
				fresh, err := recompute.Snapshot(ctx, dim)
				require.NoError(t, err)
				assert.Equal(t, fresh.Counts, stored.Counts, dim)
			}
		})
	}
}

func TestReconcileRollsAgeBracketsOver(t *testing.T) {
	ctx := context.Background()
	pop := newPopulation(t)
	pop.add(resident("cara", "north", models.SexFemale, models.Date{Year: 2008, Month: 3, Day: 10}))

	before, err := pop.agg.Snapshot(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, int64(1), before.Minors)
	assert.Equal(t, models.DateOf(fixedNow), before.AgeAsOf)

	pop.advance(10 * 24 * time.Hour)
	report, err := pop.agg.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Corrected)
	assert.Equal(t, 2, report.RolledOver)

	after, err := pop.agg.Snapshot(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Total: 1, Female: 1, Adults: 1}, after.Counts)
	assert.Equal(t, models.DateOf(pop.now), after.AgeAsOf)

	// later deltas evaluate ages at the rolled-over date
	pop.update("cara", func(p *models.Person) { p.Status = models.PersonMoved })
	moved, err := pop.agg.Snapshot(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Moved: 1}, moved.Counts)
}

func TestReconcileCorrectsDrift(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New()
	agg := New(ledger, Options{Clock: fixedClock})
	addPerson(t, ledger, agg, resident("ana", "poblacion", models.SexFemale, models.Date{Year: 1990, Month: 1, Day: 1}))

	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		return tx.PutSnapshot(ctx, models.StatisticsSnapshot{Dimension: "poblacion", Counts: models.Counts{Total: 9}, LastUpdated: fixedNow})
	}))

	report, err := agg.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, report.Corrected, 1)
	assert.Equal(t, "poblacion", report.Corrected[0].Dimension)
	assert.Equal(t, int64(9), report.Corrected[0].Stored.Total)
	assert.Equal(t, int64(1), report.Corrected[0].Actual.Total)

	snap, err := agg.Snapshot(ctx, "poblacion")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Total)
}

type mapCache struct {
	mu    sync.Mutex
	snaps map[string]models.StatisticsSnapshot
	gets  int
}

func (c *mapCache) Get(_ context.Context, dimension string) (models.StatisticsSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	snap, ok := c.snaps[dimension]
	return snap, ok, nil
}

func (c *mapCache) Set(_ context.Context, snapshot models.StatisticsSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snapshot.Dimension] = snapshot
	return nil
}

func (c *mapCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.snaps)
	return nil
}

func TestRecomputeUsesCache(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New()
	cache := &mapCache{snaps: map[string]models.StatisticsSnapshot{}}
	agg := New(ledger, Options{Strategy: Recompute, Clock: fixedClock, Cache: cache})

	addPerson(t, ledger, agg, resident("ana", "poblacion", models.SexFemale, models.Date{Year: 1990, Month: 1, Day: 1}))
	first, err := agg.Snapshot(ctx, models.DimensionAll)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Total)

	// recompute strategy keeps no stored snapshots, so the cache answers
	addPerson(t, ledger, agg, resident("ben", "poblacion", models.SexMale, models.Date{Year: 1990, Month: 1, Day: 1}))
	cached, err := agg.Snapshot(ctx, models.DimensionAll)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cached.Total)

	_, err = agg.Reconcile(ctx)
	require.NoError(t, err)
	fresh, err := agg.Snapshot(ctx, models.DimensionAll)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Total)
	assert.Equal(t, 3, cache.gets)
}

func TestSnapshotRequiresDimension(t *testing.T) {
	_, err := New(memory.New(), Options{}).Snapshot(context.Background(), "")
	require.ErrorIs(t, err, store.ErrValidation)
}
