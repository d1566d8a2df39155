package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

const ticketColumns = `ticket_id, ticket_number, number, service_day, request_id, status, counter_number, served_by,
	created_at, started_at, completed_at, skipped_at`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var t models.Ticket
	var counter sql.NullInt32
	var servedBy sql.NullString
	var startedAt, completedAt, skippedAt sql.NullTime
	if err := row.Scan(&t.TicketID, &t.TicketNumber, &t.Number, &t.ServiceDay, &t.RequestID, &t.Status, &counter, &servedBy,
		&t.CreatedAt, &startedAt, &completedAt, &skippedAt); err != nil {
		return models.Ticket{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.CounterNumber = nullIntPtr(counter)
	t.ServedBy = nullStringPtr(servedBy)
	t.StartedAt = nullTimePtr(startedAt)
	t.CompletedAt = nullTimePtr(completedAt)
	t.SkippedAt = nullTimePtr(skippedAt)
	return t, nil
}

func (v view) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	t, err := scanTicket(v.q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`+v.lock, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, store.NotFoundf("ticket %s not found", ticketID)
	}
	return t, err
}

func (v view) FindActiveTicket(ctx context.Context, requestID string) (models.Ticket, bool, error) {
	t, err := scanTicket(v.q.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE request_id = $1 AND status IN ('waiting', 'serving')
	`+v.lock, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, err
	}
	return t, true, nil
}

func (v view) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	var c conditions
	if filter.ServiceDay != "" {
		c.add("service_day = $%d", filter.ServiceDay)
	}
	if filter.RequestID != "" {
		c.add("request_id = $%d", filter.RequestID)
	}
	if len(filter.Statuses) > 0 {
		c.add("status = ANY($%d)", filter.Statuses)
	}
	rows, err := v.q.Query(ctx, `SELECT `+ticketColumns+` FROM tickets`+c.where()+` ORDER BY created_at, service_day, number`, c.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Ticket, error) {
		return scanTicket(row)
	})
}

// NextDailyNumber locks the day's counter row until commit, so concurrent
// issuers on the same day queue behind each other instead of reading the
// same maximum.
func (tx *txn) NextDailyNumber(ctx context.Context, serviceDay string) (int, error) {
	var next int
	row := tx.q.QueryRow(ctx, `
		INSERT INTO ticket_day_counters (service_day, last_number)
		VALUES ($1, 1)
		ON CONFLICT (service_day)
		DO UPDATE SET last_number = ticket_day_counters.last_number + 1
		RETURNING last_number
	`, serviceDay)
	if err := row.Scan(&next); err != nil {
		return 0, mapError(err, "next ticket number")
	}
	return next, nil
}

func (tx *txn) InsertTicket(ctx context.Context, t models.Ticket) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO tickets (
			ticket_id, ticket_number, number, service_day, request_id, status, counter_number, served_by,
			created_at, started_at, completed_at, skipped_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, t.TicketID, t.TicketNumber, t.Number, t.ServiceDay, t.RequestID, t.Status, intOrNil(t.CounterNumber), t.ServedBy,
		t.CreatedAt, t.StartedAt, t.CompletedAt, t.SkippedAt)
	return mapError(err, "insert ticket")
}

func (tx *txn) UpdateTicket(ctx context.Context, t models.Ticket) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE tickets SET status = $2, counter_number = $3, served_by = $4, started_at = $5, completed_at = $6, skipped_at = $7
		WHERE ticket_id = $1
	`, t.TicketID, t.Status, intOrNil(t.CounterNumber), t.ServedBy, t.StartedAt, t.CompletedAt, t.SkippedAt)
	if err != nil {
		return mapError(err, "update ticket")
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundf("ticket %s not found", t.TicketID)
	}
	return nil
}
