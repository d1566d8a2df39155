// Package sqlite persists the in-memory ledger to a single SQLite file.
// Every committed transaction rewrites the entity buckets it touched before
// the new state becomes visible. The change log and audit chain only grow,
// so they live in their own tables and a commit inserts just its new rows.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/store/memory"
)

type Ledger struct {
	*memory.Ledger
	db   *sql.DB
	path string

	// highest sequences already written; only touched from the commit
	// hook, which runs under the memory ledger's write lock
	changesSeq int64
	auditSeq   int64
}

var _ store.Ledger = (*Ledger)(nil)

func Open(path string) (*Ledger, error) {
	if path == "" {
		path = "records.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS state (bucket TEXT PRIMARY KEY, payload BLOB NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS changes (seq INTEGER PRIMARY KEY, payload BLOB NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS audit (seq INTEGER PRIMARY KEY, payload BLOB NOT NULL)`,
	} {
		if _, err := db.Exec(ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}
	l := &Ledger{db: db, path: path}
	l.Ledger = memory.New(memory.WithCommitHook(l.persist))
	if err := l.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	rows, err := l.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		target := bucketTarget(&snapshot, bucket)
		if target == nil {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if err := loadLog(l.db, logTable(memory.BucketChanges), &snapshot.Changes); err != nil {
		return err
	}
	if err := loadLog(l.db, logTable(memory.BucketAudit), &snapshot.Audit); err != nil {
		return err
	}
	if n := len(snapshot.Changes); n > 0 {
		l.changesSeq = snapshot.Changes[n-1].Seq
	}
	if n := len(snapshot.Audit); n > 0 {
		l.auditSeq = snapshot.Audit[n-1].Seq
	}
	l.ImportState(snapshot)
	return nil
}

func logTable(bucket string) string {
	if bucket == memory.BucketAudit {
		return "audit"
	}
	return "changes"
}

func loadLog[T any](db *sql.DB, table string, out *[]T) error {
	rows, err := db.Query(`SELECT payload FROM ` + table + ` ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		var entry T
		if err := json.Unmarshal(payload, &entry); err != nil {
			return fmt.Errorf("decode %s: %w", table, err)
		}
		*out = append(*out, entry)
	}
	return rows.Err()
}

// appendLog inserts the entries of a log bucket past the persisted sequence
// and returns the new high-water mark.
func appendLog[T any](tx *sql.Tx, table string, entries []T, seqOf func(T) int64, after int64) (int64, error) {
	start := len(entries)
	for start > 0 && seqOf(entries[start-1]) > after {
		start--
	}
	for _, entry := range entries[start:] {
		data, err := json.Marshal(entry)
		if err != nil {
			return after, fmt.Errorf("encode %s: %w", table, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+table+`(seq,payload) VALUES(?,?)`, seqOf(entry), data); err != nil {
			return after, fmt.Errorf("insert %s: %w", table, err)
		}
		after = seqOf(entry)
	}
	return after, nil
}

// counterState groups the two counter maps stored in one bucket row.
type counterState struct {
	Sequences   map[string]int64 `json:"sequences"`
	DayCounters map[string]int   `json:"day_counters"`
}

func bucketTarget(snapshot *memory.Snapshot, bucket string) any {
	switch bucket {
	case memory.BucketPersons:
		return &snapshot.Persons
	case memory.BucketServices:
		return &snapshot.Services
	case memory.BucketRequests:
		return &snapshot.Requests
	case memory.BucketItems:
		return &snapshot.Items
	case memory.BucketTickets:
		return &snapshot.Tickets
	case memory.BucketSnapshots:
		return &snapshot.Snapshots
	case memory.BucketCounters:
		return &countersTarget{snapshot: snapshot}
	}
	return nil
}

type countersTarget struct {
	snapshot *memory.Snapshot
}

func (c *countersTarget) UnmarshalJSON(data []byte) error {
	var counters counterState
	if err := json.Unmarshal(data, &counters); err != nil {
		return err
	}
	c.snapshot.Sequences = counters.Sequences
	c.snapshot.DayCounters = counters.DayCounters
	return nil
}

func (l *Ledger) persist(snapshot memory.Snapshot, dirty []string) (retErr error) {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	changesSeq, auditSeq := l.changesSeq, l.auditSeq
	for _, bucket := range dirty {
		var value any
		switch bucket {
		case memory.BucketChanges:
			if changesSeq, err = appendLog(tx, logTable(bucket), snapshot.Changes, func(e models.ChangeEvent) int64 { return e.Seq }, changesSeq); err != nil {
				return err
			}
			continue
		case memory.BucketAudit:
			if auditSeq, err = appendLog(tx, logTable(bucket), snapshot.Audit, func(e models.AuditEntry) int64 { return e.Seq }, auditSeq); err != nil {
				return err
			}
			continue
		case memory.BucketCounters:
			value = counterState{Sequences: snapshot.Sequences, DayCounters: snapshot.DayCounters}
		default:
			value = bucketTarget(&snapshot, bucket)
		}
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	l.changesSeq, l.auditSeq = changesSeq, auditSeq
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Path() string { return l.path }
