package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

func ticket(id, day string, number int, requestID, status string) models.Ticket {
	return models.Ticket{
		TicketID:     id,
		TicketNumber: models.FormatTicketNumber(number),
		Number:       number,
		ServiceDay:   day,
		RequestID:    requestID,
		Status:       status,
		CreatedAt:    time.Date(2026, 3, 2, 8, number, 0, 0, time.UTC),
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	ledger := New()
	boom := errors.New("boom")

	err := ledger.RunInTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertPerson(ctx, models.Person{PersonID: "p1", LastName: "Santos"}))
		_, err := tx.NextDailyNumber(ctx, "2026-03-02")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = ledger.View(ctx, func(v store.View) error {
		_, err := v.GetPerson(ctx, "p1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		n, err := tx.NextDailyNumber(ctx, "2026-03-02")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	}))
}

func TestViewKeepsSnapshotDuringWrites(t *testing.T) {
	ctx := context.Background()
	ledger := New()
	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertPerson(ctx, models.Person{PersonID: "p1", Status: models.PersonActive})
	}))

	err := ledger.View(ctx, func(v store.View) error {
		require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
			return tx.DeletePerson(ctx, "p1")
		}))
		_, err := v.GetPerson(ctx, "p1")
		return err
	})
	require.NoError(t, err)
}

func TestTicketUniqueness(t *testing.T) {
	ctx := context.Background()
	ledger := New()
	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertTicket(ctx, ticket("t1", "2026-03-02", 1, "r1", models.StatusWaiting))
	}))

	err := ledger.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertTicket(ctx, ticket("t2", "2026-03-02", 1, "r2", models.StatusWaiting))
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	err = ledger.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertTicket(ctx, ticket("t3", "2026-03-02", 2, "r1", models.StatusWaiting))
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	// Same number on another day is fine, as is a new ticket once the old one is skipped.
	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertTicket(ctx, ticket("t4", "2026-03-03", 1, "r2", models.StatusWaiting))
	}))
	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		skipped := ticket("t1", "2026-03-02", 1, "r1", models.StatusSkipped)
		if err := tx.UpdateTicket(ctx, skipped); err != nil {
			return err
		}
		return tx.InsertTicket(ctx, ticket("t5", "2026-03-02", 2, "r1", models.StatusWaiting))
	}))
}

func TestExternalIDUnique(t *testing.T) {
	ctx := context.Background()
	ledger := New()
	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertPerson(ctx, models.Person{PersonID: "p1", ExternalID: "BH-00001"})
	}))
	err := ledger.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertPerson(ctx, models.Person{PersonID: "p2", ExternalID: "BH-00001"})
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestChangesAndAuditChain(t *testing.T) {
	ctx := context.Background()
	ledger := New()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		for i := 0; i < 5; i++ {
			if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityTicket, EntityID: "t", Type: "ticket.created", CreatedAt: at}); err != nil {
				return err
			}
			if _, err := tx.AppendAudit(ctx, models.AuditEntry{Actor: "clerk", At: at, Payload: models.ItemPrintedPayload{ItemID: "i", RequestID: "r"}}); err != nil {
				return err
			}
		}
		return nil
	}))

	err := ledger.View(ctx, func(v store.View) error {
		changes, err := v.ListChanges(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, changes, 2)
		assert.Equal(t, int64(3), changes[0].Seq)
		assert.Equal(t, int64(4), changes[1].Seq)
		assert.NotEmpty(t, changes[0].EventID)

		entries, err := v.ListAudit(ctx, 3)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, int64(3), entries[0].Seq)
		return store.VerifyAuditChain(entries)
	})
	require.NoError(t, err)
}

func TestCommitHookSeesDirtyBucketsAndCanAbort(t *testing.T) {
	ctx := context.Background()
	var seen []string
	fail := false
	ledger := New(WithCommitHook(func(snapshot Snapshot, dirty []string) error {
		seen = dirty
		if fail {
			return errors.New("disk full")
		}
		return nil
	}))

	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		return tx.PutService(ctx, models.Service{ServiceID: "s1", Name: "Clearance", Active: true})
	}))
	assert.Equal(t, []string{BucketServices}, seen)

	fail = true
	err := ledger.RunInTx(ctx, func(tx store.Tx) error {
		return tx.PutService(ctx, models.Service{ServiceID: "s2", Name: "Indigency", Active: true})
	})
	require.Error(t, err)
	require.NoError(t, ledger.View(ctx, func(v store.View) error {
		services, err := v.ListServices(ctx, false)
		assert.Len(t, services, 1)
		return err
	}))
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := New()
	require.NoError(t, src.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertPerson(ctx, models.Person{PersonID: "p1", LastName: "Reyes", Birthdate: models.Date{Year: 1990, Month: 1, Day: 1}}); err != nil {
			return err
		}
		if _, err := tx.NextSequence(ctx, "external_id"); err != nil {
			return err
		}
		_, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityPerson, EntityID: "p1", Type: "person.created"})
		return err
	}))

	dst := New()
	dst.ImportState(src.ExportState())
	require.NoError(t, dst.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPerson(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Reyes", p.LastName)
		n, err := tx.NextSequence(ctx, "external_id")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		ev, err := tx.AppendChange(ctx, models.ChangeEvent{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), ev.Seq)
		return nil
	}))
}
