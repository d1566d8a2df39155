package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

const serviceColumns = `service_id, name, price, requires_purpose, active, created_at, updated_at`

func scanService(row pgx.Row) (models.Service, error) {
	var svc models.Service
	if err := row.Scan(&svc.ServiceID, &svc.Name, &svc.Price, &svc.RequiresPurpose, &svc.Active, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
		return models.Service{}, err
	}
	svc.CreatedAt = svc.CreatedAt.UTC()
	svc.UpdatedAt = svc.UpdatedAt.UTC()
	return svc, nil
}

func (v view) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	svc, err := scanService(v.q.QueryRow(ctx, `SELECT `+serviceColumns+` FROM catalog_entries WHERE service_id = $1`, serviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Service{}, store.NotFoundf("service %s not found", serviceID)
	}
	return svc, err
}

func (v view) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM catalog_entries`
	if activeOnly {
		query += ` WHERE active`
	}
	rows, err := v.q.Query(ctx, query+` ORDER BY name, service_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Service, error) {
		return scanService(row)
	})
}

func (v view) ServiceReferenced(ctx context.Context, serviceID string) (bool, error) {
	var referenced bool
	err := v.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM request_items WHERE service_id = $1)`, serviceID).Scan(&referenced)
	return referenced, err
}

func (tx *txn) PutService(ctx context.Context, svc models.Service) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO catalog_entries (service_id, name, price, requires_purpose, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (service_id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			requires_purpose = EXCLUDED.requires_purpose,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, svc.ServiceID, svc.Name, svc.Price, svc.RequiresPurpose, svc.Active, svc.CreatedAt, svc.UpdatedAt)
	return mapError(err, "put service")
}
