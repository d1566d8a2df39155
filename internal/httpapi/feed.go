package httpapi

import (
	"context"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

// LedgerFeed reads the outbox and audit trail straight from the ledger.
type LedgerFeed struct {
	Ledger store.Ledger
}

func (f LedgerFeed) Changes(ctx context.Context, after int64, limit int) ([]models.ChangeEvent, error) {
	var events []models.ChangeEvent
	err := f.Ledger.View(ctx, func(v store.View) error {
		var err error
		events, err = v.ListChanges(ctx, after, limit)
		return err
	})
	return events, err
}

func (f LedgerFeed) Audit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := f.Ledger.View(ctx, func(v store.View) error {
		var err error
		entries, err = v.ListAudit(ctx, limit)
		return err
	})
	return entries, err
}
