package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

const forUpdate = " FOR UPDATE"

// view reads through q. Inside a mutation lock is forUpdate so single-row
// reads pin the row until commit.
type view struct {
	q    pgx.Tx
	lock string
}

type txn struct {
	view
}

var _ store.Tx = (*txn)(nil)

func (v view) GetSnapshot(ctx context.Context, dimension string) (models.StatisticsSnapshot, bool, error) {
	snap, err := scanSnapshot(v.q.QueryRow(ctx, `SELECT dimension, counts, age_as_of, last_updated FROM stats_snapshots WHERE dimension = $1`, dimension))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StatisticsSnapshot{}, false, nil
	}
	if err != nil {
		return models.StatisticsSnapshot{}, false, err
	}
	return snap, true, nil
}

func (v view) ListSnapshots(ctx context.Context) ([]models.StatisticsSnapshot, error) {
	rows, err := v.q.Query(ctx, `SELECT dimension, counts, age_as_of, last_updated FROM stats_snapshots ORDER BY dimension`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.StatisticsSnapshot, error) {
		return scanSnapshot(row)
	})
}

func scanSnapshot(row pgx.Row) (models.StatisticsSnapshot, error) {
	var snap models.StatisticsSnapshot
	var counts []byte
	var ageAsOf time.Time
	if err := row.Scan(&snap.Dimension, &counts, &ageAsOf, &snap.LastUpdated); err != nil {
		return models.StatisticsSnapshot{}, err
	}
	snap.AgeAsOf = models.DateOf(ageAsOf)
	if err := json.Unmarshal(counts, &snap.Counts); err != nil {
		return models.StatisticsSnapshot{}, err
	}
	snap.LastUpdated = snap.LastUpdated.UTC()
	return snap, nil
}

func (tx *txn) PutSnapshot(ctx context.Context, snap models.StatisticsSnapshot) error {
	counts, err := json.Marshal(snap.Counts)
	if err != nil {
		return err
	}
	_, err = tx.q.Exec(ctx, `
		INSERT INTO stats_snapshots (dimension, counts, age_as_of, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dimension) DO UPDATE
		SET counts = EXCLUDED.counts, age_as_of = EXCLUDED.age_as_of, last_updated = EXCLUDED.last_updated
	`, snap.Dimension, counts, snap.AgeAsOf.Time(), snap.LastUpdated)
	return mapError(err, "put snapshot")
}

func (v view) ListChanges(ctx context.Context, after int64, limit int) ([]models.ChangeEvent, error) {
	rows, err := v.q.Query(ctx, `
		SELECT seq, event_id, entity, entity_id, type, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2
	`, after, limitArg(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ChangeEvent, error) {
		var event models.ChangeEvent
		err := row.Scan(&event.Seq, &event.EventID, &event.Entity, &event.EntityID, &event.Type, &event.CreatedAt)
		event.CreatedAt = event.CreatedAt.UTC()
		return event, err
	})
}

const (
	outboxLockKey = "outbox_events"
	auditLockKey  = "audit_log"
	statsLockKey  = "stats_snapshots"
)

func (tx *txn) advisoryLock(ctx context.Context, key string, shared bool) error {
	fn := "pg_advisory_xact_lock"
	if shared {
		fn = "pg_advisory_xact_lock_shared"
	}
	_, err := tx.q.Exec(ctx, `SELECT `+fn+`(hashtext($1))`, key)
	return err
}

// GetSnapshot serialises delta writers through the change-log lock, which
// every such transaction takes anyway, and holds the stats lock shared so
// reconciliation cannot interleave.
func (tx *txn) GetSnapshot(ctx context.Context, dimension string) (models.StatisticsSnapshot, bool, error) {
	if err := tx.advisoryLock(ctx, outboxLockKey, false); err != nil {
		return models.StatisticsSnapshot{}, false, mapError(err, "lock outbox")
	}
	if err := tx.advisoryLock(ctx, statsLockKey, true); err != nil {
		return models.StatisticsSnapshot{}, false, mapError(err, "lock stats")
	}
	return tx.view.GetSnapshot(ctx, dimension)
}

// ListSnapshots inside a mutation is the reconciliation entry point and
// excludes delta writers until commit.
func (tx *txn) ListSnapshots(ctx context.Context) ([]models.StatisticsSnapshot, error) {
	if err := tx.advisoryLock(ctx, statsLockKey, false); err != nil {
		return nil, mapError(err, "lock stats")
	}
	return tx.view.ListSnapshots(ctx)
}

func (v view) LastChangeSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := v.q.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM outbox_events`).Scan(&seq)
	return seq, err
}

// appendLocked serialises appends to a chained table for the rest of the
// transaction and returns the last row's sequence. The read runs after the
// lock is granted, so it sees every append committed before it.
func (tx *txn) appendLocked(ctx context.Context, table string) (int64, sql.NullString, error) {
	if err := tx.advisoryLock(ctx, table, false); err != nil {
		return 0, sql.NullString{}, err
	}
	var lastSeq int64
	var lastHash sql.NullString
	var err error
	switch table {
	case auditLockKey:
		err = tx.q.QueryRow(ctx, `SELECT seq, hash FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&lastSeq, &lastHash)
	default:
		err = tx.q.QueryRow(ctx, `SELECT seq FROM outbox_events ORDER BY seq DESC LIMIT 1`).Scan(&lastSeq)
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, sql.NullString{}, err
	}
	return lastSeq, lastHash, nil
}

func (tx *txn) AppendChange(ctx context.Context, event models.ChangeEvent) (models.ChangeEvent, error) {
	lastSeq, _, err := tx.appendLocked(ctx, outboxLockKey)
	if err != nil {
		return models.ChangeEvent{}, mapError(err, "lock outbox")
	}
	event.Seq = lastSeq + 1
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	_, err = tx.q.Exec(ctx, `
		INSERT INTO outbox_events (seq, event_id, entity, entity_id, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.Seq, event.EventID, event.Entity, event.EntityID, event.Type, event.CreatedAt)
	if err != nil {
		return models.ChangeEvent{}, mapError(err, "insert outbox event")
	}
	return event, nil
}

func (v view) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	rows, err := v.q.Query(ctx, `
		SELECT seq, kind, actor, at, payload, prev_hash, hash FROM (
			SELECT seq, kind, actor, at, payload, prev_hash, hash
			FROM audit_log
			ORDER BY seq DESC
			LIMIT $1
		) recent
		ORDER BY seq
	`, limitArg(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuditEntry, error) {
		var entry models.AuditEntry
		var kind string
		var payload []byte
		if err := row.Scan(&entry.Seq, &kind, &entry.Actor, &entry.At, &payload, &entry.PrevHash, &entry.Hash); err != nil {
			return models.AuditEntry{}, err
		}
		entry.Kind = models.AuditKind(kind)
		decoded, err := models.DecodeAuditPayload(entry.Kind, payload)
		if err != nil {
			return models.AuditEntry{}, err
		}
		entry.Payload = decoded
		entry.At = entry.At.UTC()
		return entry, nil
	})
}

func (tx *txn) AppendAudit(ctx context.Context, entry models.AuditEntry) (models.AuditEntry, error) {
	lastSeq, lastHash, err := tx.appendLocked(ctx, auditLockKey)
	if err != nil {
		return models.AuditEntry{}, mapError(err, "lock audit log")
	}
	var prev *models.AuditEntry
	if lastSeq > 0 {
		prev = &models.AuditEntry{Seq: lastSeq, Hash: lastHash.String}
	}
	sealed, err := store.SealAuditEntry(prev, entry)
	if err != nil {
		return models.AuditEntry{}, err
	}
	payload, err := models.EncodeAuditPayload(sealed.Payload)
	if err != nil {
		return models.AuditEntry{}, err
	}
	_, err = tx.q.Exec(ctx, `
		INSERT INTO audit_log (seq, kind, actor, at, payload, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sealed.Seq, string(sealed.Kind), sealed.Actor, sealed.At, []byte(payload), sealed.PrevHash, sealed.Hash)
	if err != nil {
		return models.AuditEntry{}, mapError(err, "insert audit entry")
	}
	return sealed, nil
}
