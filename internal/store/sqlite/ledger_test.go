package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

func TestStatePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "records.db")

	ledger, err := Open(path)
	require.NoError(t, err)
	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertPerson(ctx, models.Person{PersonID: "p1", LastName: "Dela Cruz", Birthdate: models.Date{Year: 1990, Month: 1, Day: 1}, CreatedAt: created}); err != nil {
			return err
		}
		n, err := tx.NextDailyNumber(ctx, "2026-03-02")
		if err != nil {
			return err
		}
		if err := tx.InsertTicket(ctx, models.Ticket{TicketID: "t1", Number: n, TicketNumber: models.FormatTicketNumber(n), ServiceDay: "2026-03-02", RequestID: "r1", Status: models.StatusWaiting, CreatedAt: created}); err != nil {
			return err
		}
		_, err = tx.AppendAudit(ctx, models.AuditEntry{Actor: "kiosk", At: created, Payload: models.ResidentChanged{PersonID: "p1", Created: true, ToStatus: models.PersonPending}})
		return err
	}))
	require.NoError(t, ledger.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	require.NoError(t, reopened.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPerson(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, models.Date{Year: 1990, Month: 1, Day: 1}, p.Birthdate)

		ticket, err := tx.GetTicket(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "Q-001", ticket.TicketNumber)

		n, err := tx.NextDailyNumber(ctx, "2026-03-02")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		entries, err := tx.ListAudit(ctx, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		return store.VerifyAuditChain(entries)
	}))
}

func TestFailedTransactionIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")
	ledger, err := Open(path)
	require.NoError(t, err)

	err = ledger.RunInTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.PutService(ctx, models.Service{ServiceID: "s1", Name: "Clearance"}))
		return store.Validationf("nope")
	})
	require.ErrorIs(t, err, store.ErrValidation)
	require.NoError(t, ledger.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	require.NoError(t, reopened.View(ctx, func(v store.View) error {
		services, err := v.ListServices(ctx, false)
		assert.Empty(t, services)
		return err
	}))
}

func TestLogsAppendOnlyNewRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")
	ledger, err := Open(path)
	require.NoError(t, err)

	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
			if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityTicket, EntityID: "t1", Type: "ticket.created", CreatedAt: at}); err != nil {
				return err
			}
			_, err := tx.AppendAudit(ctx, models.AuditEntry{Actor: "kiosk", At: at.Add(time.Duration(i) * time.Minute), Payload: models.ResidentChanged{PersonID: "p1", Created: true, ToStatus: models.PersonPending}})
			return err
		}))
	}

	var changeRows, auditRows, logBuckets int
	require.NoError(t, ledger.db.QueryRow(`SELECT COUNT(*) FROM changes`).Scan(&changeRows))
	require.NoError(t, ledger.db.QueryRow(`SELECT COUNT(*) FROM audit`).Scan(&auditRows))
	require.NoError(t, ledger.db.QueryRow(`SELECT COUNT(*) FROM state WHERE bucket IN ('changes', 'audit')`).Scan(&logBuckets))
	assert.Equal(t, 3, changeRows)
	assert.Equal(t, 3, auditRows)
	assert.Zero(t, logBuckets)
	require.NoError(t, ledger.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	require.NoError(t, reopened.RunInTx(ctx, func(tx store.Tx) error {
		event, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityTicket, EntityID: "t2", Type: "ticket.created", CreatedAt: at})
		require.NoError(t, err)
		assert.Equal(t, int64(4), event.Seq)
		return nil
	}))

	require.NoError(t, reopened.View(ctx, func(v store.View) error {
		events, err := v.ListChanges(ctx, 0, 0)
		require.NoError(t, err)
		assert.Len(t, events, 4)
		return nil
	}))
	require.NoError(t, reopened.db.QueryRow(`SELECT COUNT(*) FROM changes`).Scan(&changeRows))
	assert.Equal(t, 4, changeRows)

	require.NoError(t, reopened.View(ctx, func(v store.View) error {
		entries, err := v.ListAudit(ctx, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		return store.VerifyAuditChain(entries)
	}))
}
