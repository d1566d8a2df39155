package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

const requestColumns = `request_id, request_number, person_id, locality, total_price, status, created_at, completed_at, cancelled_at`

const itemColumns = `item_id, request_id, line, service_id, service_name, unit_price, purpose, status, created_at, printed_at`

func scanRequest(row pgx.Row) (models.Request, error) {
	var r models.Request
	var completedAt, cancelledAt sql.NullTime
	if err := row.Scan(&r.RequestID, &r.RequestNumber, &r.PersonID, &r.Locality, &r.TotalPrice, &r.Status, &r.CreatedAt, &completedAt, &cancelledAt); err != nil {
		return models.Request{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.CompletedAt = nullTimePtr(completedAt)
	r.CancelledAt = nullTimePtr(cancelledAt)
	return r, nil
}

func scanItem(row pgx.Row) (models.RequestItem, error) {
	var item models.RequestItem
	var printedAt sql.NullTime
	if err := row.Scan(&item.ItemID, &item.RequestID, &item.Line, &item.ServiceID, &item.ServiceName, &item.UnitPrice,
		&item.Purpose, &item.Status, &item.CreatedAt, &printedAt); err != nil {
		return models.RequestItem{}, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.PrintedAt = nullTimePtr(printedAt)
	return item, nil
}

func (v view) GetRequest(ctx context.Context, requestID string) (models.Request, error) {
	r, err := scanRequest(v.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE request_id = $1`+v.lock, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Request{}, store.NotFoundf("request %s not found", requestID)
	}
	return r, err
}

func (v view) ListRequests(ctx context.Context, filter store.RequestFilter) ([]models.Request, error) {
	var c conditions
	if filter.PersonID != "" {
		c.add("person_id = $%d", filter.PersonID)
	}
	if len(filter.Statuses) > 0 {
		c.add("status = ANY($%d)", filter.Statuses)
	}
	rows, err := v.q.Query(ctx, `SELECT `+requestColumns+` FROM requests`+c.where()+` ORDER BY created_at, request_number`, c.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Request, error) {
		return scanRequest(row)
	})
}

func (v view) ListRequestItems(ctx context.Context, requestID string) ([]models.RequestItem, error) {
	rows, err := v.q.Query(ctx, `SELECT `+itemColumns+` FROM request_items WHERE request_id = $1 ORDER BY line`, requestID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RequestItem, error) {
		return scanItem(row)
	})
}

func (v view) GetRequestItem(ctx context.Context, itemID string) (models.RequestItem, error) {
	item, err := scanItem(v.q.QueryRow(ctx, `SELECT `+itemColumns+` FROM request_items WHERE item_id = $1`+v.lock, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RequestItem{}, store.NotFoundf("request item %s not found", itemID)
	}
	return item, err
}

func (tx *txn) InsertRequest(ctx context.Context, r models.Request, items []models.RequestItem) error {
	if _, err := tx.q.Exec(ctx, `
		INSERT INTO requests (request_id, request_number, person_id, locality, total_price, status, created_at, completed_at, cancelled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, r.RequestID, r.RequestNumber, r.PersonID, r.Locality, r.TotalPrice, r.Status, r.CreatedAt, r.CompletedAt, r.CancelledAt); err != nil {
		return mapError(err, "insert request")
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
			INSERT INTO request_items (item_id, request_id, line, service_id, service_name, unit_price, purpose, status, created_at, printed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ItemID, item.RequestID, item.Line, item.ServiceID, item.ServiceName, item.UnitPrice, item.Purpose, item.Status, item.CreatedAt, item.PrintedAt)
	}
	return mapError(tx.q.SendBatch(ctx, batch).Close(), "insert request items")
}

func (tx *txn) UpdateRequest(ctx context.Context, r models.Request) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE requests SET total_price = $2, status = $3, completed_at = $4, cancelled_at = $5
		WHERE request_id = $1
	`, r.RequestID, r.TotalPrice, r.Status, r.CompletedAt, r.CancelledAt)
	if err != nil {
		return mapError(err, "update request")
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundf("request %s not found", r.RequestID)
	}
	return nil
}

func (tx *txn) UpdateRequestItem(ctx context.Context, item models.RequestItem) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE request_items SET purpose = $2, status = $3, printed_at = $4
		WHERE item_id = $1
	`, item.ItemID, item.Purpose, item.Status, item.PrintedAt)
	if err != nil {
		return mapError(err, "update request item")
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundf("request item %s not found", item.ItemID)
	}
	return nil
}
