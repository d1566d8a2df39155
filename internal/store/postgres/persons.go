package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

const personColumns = `person_id, external_id, first_name, middle_name, last_name, suffix, sex, birthdate,
	locality, address, pwd, solo_parent, indigenous, voter, status, created_at, updated_at`

func scanPerson(row pgx.Row) (models.Person, error) {
	var p models.Person
	var externalID sql.NullString
	var birthdate time.Time
	if err := row.Scan(&p.PersonID, &externalID, &p.FirstName, &p.MiddleName, &p.LastName, &p.Suffix, &p.Sex, &birthdate,
		&p.Locality, &p.Address, &p.Sectoral.PWD, &p.Sectoral.SoloParent, &p.Sectoral.Indigenous, &p.Sectoral.Voter,
		&p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return models.Person{}, err
	}
	p.ExternalID = externalID.String
	p.Birthdate = models.DateOf(birthdate)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (v view) queryPersons(ctx context.Context, query string, args ...any) ([]models.Person, error) {
	rows, err := v.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Person, error) {
		return scanPerson(row)
	})
}

func (v view) GetPerson(ctx context.Context, personID string) (models.Person, error) {
	p, err := scanPerson(v.q.QueryRow(ctx, `SELECT `+personColumns+` FROM persons WHERE person_id = $1`+v.lock, personID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Person{}, store.NotFoundf("person %s not found", personID)
	}
	return p, err
}

func (v view) ListPersons(ctx context.Context, filter store.PersonFilter) ([]models.Person, error) {
	var c conditions
	if filter.Locality != "" {
		c.add("locality = $%d", filter.Locality)
	}
	if len(filter.Statuses) > 0 {
		c.add("status = ANY($%d)", filter.Statuses)
	}
	return v.queryPersons(ctx, `SELECT `+personColumns+` FROM persons`+c.where()+` ORDER BY created_at, person_id`, c.args...)
}

func (v view) ListPersonsByBirthdate(ctx context.Context, birthdate models.Date) ([]models.Person, error) {
	return v.queryPersons(ctx, `SELECT `+personColumns+` FROM persons WHERE birthdate = $1 ORDER BY created_at, person_id`, birthdate.Time())
}

func (v view) ListPersonsByLastNameKey(ctx context.Context, key string) ([]models.Person, error) {
	return v.queryPersons(ctx, `SELECT `+personColumns+` FROM persons WHERE last_name_key = $1 ORDER BY created_at, person_id`, key)
}

func (tx *txn) InsertPerson(ctx context.Context, p models.Person) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO persons (
			person_id, external_id, first_name, middle_name, last_name, last_name_key, suffix, sex, birthdate,
			locality, address, pwd, solo_parent, indigenous, voter, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, p.PersonID, nullIfEmpty(p.ExternalID), p.FirstName, p.MiddleName, p.LastName, p.LastNameKey(), p.Suffix, p.Sex, p.Birthdate.Time(),
		p.Locality, p.Address, p.Sectoral.PWD, p.Sectoral.SoloParent, p.Sectoral.Indigenous, p.Sectoral.Voter,
		p.Status, p.CreatedAt, p.UpdatedAt)
	return mapError(err, "insert person")
}

func (tx *txn) UpdatePerson(ctx context.Context, p models.Person) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE persons SET
			external_id = $2, first_name = $3, middle_name = $4, last_name = $5, last_name_key = $6, suffix = $7,
			sex = $8, birthdate = $9, locality = $10, address = $11, pwd = $12, solo_parent = $13,
			indigenous = $14, voter = $15, status = $16, updated_at = $17
		WHERE person_id = $1
	`, p.PersonID, nullIfEmpty(p.ExternalID), p.FirstName, p.MiddleName, p.LastName, p.LastNameKey(), p.Suffix,
		p.Sex, p.Birthdate.Time(), p.Locality, p.Address, p.Sectoral.PWD, p.Sectoral.SoloParent,
		p.Sectoral.Indigenous, p.Sectoral.Voter, p.Status, p.UpdatedAt)
	if err != nil {
		return mapError(err, "update person")
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundf("person %s not found", p.PersonID)
	}
	return nil
}

func (tx *txn) DeletePerson(ctx context.Context, personID string) error {
	tag, err := tx.q.Exec(ctx, `DELETE FROM persons WHERE person_id = $1`, personID)
	if err != nil {
		return mapError(err, "delete person")
	}
	if tag.RowsAffected() == 0 {
		return store.NotFoundf("person %s not found", personID)
	}
	return nil
}

func (tx *txn) NextSequence(ctx context.Context, name string) (int64, error) {
	var next int64
	row := tx.q.QueryRow(ctx, `
		INSERT INTO sequences (name, value)
		VALUES ($1, 1)
		ON CONFLICT (name)
		DO UPDATE SET value = sequences.value + 1
		RETURNING value
	`, name)
	if err := row.Scan(&next); err != nil {
		return 0, mapError(err, "next sequence")
	}
	return next, nil
}
