package residents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/stats"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/store/memory"
)

func clock() time.Time {
	return time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func newRegistry(t *testing.T) (*Registry, *stats.Aggregator, store.Ledger) {
	t.Helper()
	ledger := memory.New()
	agg := stats.New(ledger, stats.Options{Clock: clock})
	return New(ledger, Options{ExternalIDPrefix: "BH", Clock: clock, Observer: agg}), agg, ledger
}

func maria() RegisterInput {
	return RegisterInput{
		FirstName: "Maria",
		LastName:  "Santos",
		Sex:       models.SexFemale,
		Birthdate: models.Date{Year: 1960, Month: 7, Day: 4},
		Locality:  "poblacion",
		Sectoral:  models.Sectoral{Voter: true},
	}
}

func TestRegisterAssignsExternalID(t *testing.T) {
	reg, agg, _ := newRegistry(t)
	ctx := context.Background()

	first, err := reg.Register(ctx, maria())
	require.NoError(t, err)
	assert.Equal(t, "BH-00001", first.ExternalID)
	assert.Equal(t, models.PersonActive, first.Status)

	second, err := reg.Register(ctx, maria())
	require.NoError(t, err)
	assert.Equal(t, "BH-00002", second.ExternalID)

	snap, err := agg.Snapshot(ctx, "poblacion")
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Total: 2, Female: 2, Seniors: 2, Voters: 2}, snap.Counts)
}

func TestRegisterValidation(t *testing.T) {
	reg, _, _ := newRegistry(t)
	in := maria()
	in.Sex = "x"
	in.Locality = ""
	_, err := reg.Register(context.Background(), in)
	require.ErrorIs(t, err, store.ErrValidation)
	assert.Contains(t, err.Error(), "sex must be male or female")
	assert.Contains(t, err.Error(), "locality is required")

	in = maria()
	in.Birthdate = models.Date{Year: 2030, Month: 1, Day: 1}
	_, err = reg.Register(context.Background(), in)
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestUpdateMovesStatisticsBetweenLocalities(t *testing.T) {
	reg, agg, _ := newRegistry(t)
	ctx := context.Background()
	person, err := reg.Register(ctx, maria())
	require.NoError(t, err)

	updated, err := reg.Update(ctx, person.PersonID, Patch{Locality: ptr("san-isidro"), Sectoral: &models.Sectoral{PWD: true}})
	require.NoError(t, err)
	assert.Equal(t, "san-isidro", updated.Locality)

	pob, err := agg.Snapshot(ctx, "poblacion")
	require.NoError(t, err)
	assert.True(t, pob.Counts.IsZero())
	si, err := agg.Snapshot(ctx, "san-isidro")
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Total: 1, Female: 1, Seniors: 1, PWD: 1}, si.Counts)

	_, err = reg.Update(ctx, person.PersonID, Patch{Status: ptr(models.PersonDeceased)})
	require.NoError(t, err)
	all, err := agg.Snapshot(ctx, models.DimensionAll)
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Deceased: 1}, all.Counts)

	report, err := agg.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Corrected)
}

func TestUpdateStatusRules(t *testing.T) {
	reg, _, ledger := newRegistry(t)
	ctx := context.Background()
	person, err := reg.Register(ctx, maria())
	require.NoError(t, err)

	_, err = reg.Update(ctx, person.PersonID, Patch{Status: ptr(models.PersonPending)})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = reg.Update(ctx, person.PersonID, Patch{Status: ptr(models.PersonMoved)})
	require.NoError(t, err)
	_, err = reg.Update(ctx, person.PersonID, Patch{Status: ptr(models.PersonDeceased)})
	require.ErrorIs(t, err, store.ErrInvalidState)
	back, err := reg.Update(ctx, person.PersonID, Patch{Status: ptr(models.PersonActive)})
	require.NoError(t, err)
	assert.Equal(t, models.PersonActive, back.Status)

	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertPerson(ctx, models.Person{PersonID: "guest", FirstName: "G", LastName: "Uest", Status: models.PersonPending})
	}))
	_, err = reg.Update(ctx, "guest", Patch{Status: ptr(models.PersonActive)})
	require.ErrorIs(t, err, store.ErrInvalidState)

	_, err = reg.Update(ctx, "nobody", Patch{FirstName: ptr("X")})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateWithoutChangesWritesNothing(t *testing.T) {
	reg, _, ledger := newRegistry(t)
	ctx := context.Background()
	person, err := reg.Register(ctx, maria())
	require.NoError(t, err)

	var before int
	require.NoError(t, ledger.View(ctx, func(v store.View) error {
		changes, err := v.ListChanges(ctx, 0, 0)
		before = len(changes)
		return err
	}))
	_, err = reg.Update(ctx, person.PersonID, Patch{FirstName: ptr(" Maria ")})
	require.NoError(t, err)
	require.NoError(t, ledger.View(ctx, func(v store.View) error {
		changes, err := v.ListChanges(ctx, 0, 0)
		assert.Len(t, changes, before)
		return err
	}))
}
