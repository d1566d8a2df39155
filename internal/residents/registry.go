// Package residents is the registry primitive used by staff forms and the
// bulk import collaborator to create and edit verified person records.
package residents

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"civicq/records-service/internal/logging"
	"civicq/records-service/internal/metrics"
	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/telemetry"
	"civicq/records-service/internal/validation"
)

// Observer receives every person mutation inside its transaction.
type Observer interface {
	PersonChanged(ctx context.Context, tx store.Tx, before, after *models.Person, at time.Time) error
}

type Options struct {
	ExternalIDPrefix string
	Clock            store.Clock
	Retries          int
	Observer         Observer
}

type Registry struct {
	ledger   store.Ledger
	prefix   string
	now      store.Clock
	retries  int
	observer Observer
}

func New(ledger store.Ledger, opts Options) *Registry {
	if opts.ExternalIDPrefix == "" {
		opts.ExternalIDPrefix = "BH"
	}
	if opts.Clock == nil {
		opts.Clock = store.SystemClock
	}
	if opts.Retries < 1 {
		opts.Retries = store.DefaultConflictAttempts
	}
	return &Registry{
		ledger:   ledger,
		prefix:   opts.ExternalIDPrefix,
		now:      opts.Clock,
		retries:  opts.Retries,
		observer: opts.Observer,
	}
}

type RegisterInput struct {
	FirstName  string          `json:"first_name" validate:"required,notblank,max=100"`
	MiddleName string          `json:"middle_name" validate:"max=100"`
	LastName   string          `json:"last_name" validate:"required,notblank,max=100"`
	Suffix     string          `json:"suffix" validate:"max=20"`
	Sex        string          `json:"sex" validate:"required,sex"`
	Birthdate  models.Date     `json:"birthdate" validate:"required"`
	Locality   string          `json:"locality" validate:"required,notblank,max=100"`
	Address    string          `json:"address" validate:"max=255"`
	Sectoral   models.Sectoral `json:"sectoral"`
}

// Register creates an active resident with the next external id.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (models.Person, error) {
	ctx, span := telemetry.Tracer("residents").Start(ctx, "residents.Register")
	defer span.End()
	if err := validation.Struct(in); err != nil {
		return models.Person{}, err
	}

	var person models.Person
	err := r.runInTx(ctx, "register", func(tx store.Tx) error {
		now := r.now().UTC()
		if in.Birthdate.Time().After(now) {
			return store.Validationf("birthdate must not be in the future")
		}
		externalID, err := store.NextExternalID(ctx, tx, r.prefix)
		if err != nil {
			return err
		}
		person = models.Person{
			PersonID:   uuid.NewString(),
			ExternalID: externalID,
			FirstName:  strings.TrimSpace(in.FirstName),
			MiddleName: strings.TrimSpace(in.MiddleName),
			LastName:   strings.TrimSpace(in.LastName),
			Suffix:     strings.TrimSpace(in.Suffix),
			Sex:        in.Sex,
			Birthdate:  in.Birthdate,
			Locality:   strings.TrimSpace(in.Locality),
			Address:    strings.TrimSpace(in.Address),
			Sectoral:   in.Sectoral,
			Status:     models.PersonActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertPerson(ctx, person); err != nil {
			return err
		}
		return r.record(ctx, tx, nil, person, now)
	})
	if err != nil {
		return models.Person{}, err
	}
	logging.Ctx(ctx).Debug().Str("person_id", person.PersonID).Str("external_id", person.ExternalID).Msg("resident registered")
	return person, nil
}

// Patch lists the editable attributes; nil fields are left unchanged.
type Patch struct {
	FirstName  *string          `json:"first_name" validate:"omitempty,notblank,max=100"`
	MiddleName *string          `json:"middle_name" validate:"omitempty,max=100"`
	LastName   *string          `json:"last_name" validate:"omitempty,notblank,max=100"`
	Suffix     *string          `json:"suffix" validate:"omitempty,max=20"`
	Locality   *string          `json:"locality" validate:"omitempty,notblank,max=100"`
	Address    *string          `json:"address" validate:"omitempty,max=255"`
	Sectoral   *models.Sectoral `json:"sectoral"`
	Status     *string          `json:"status" validate:"omitempty,oneof=active deceased moved"`
}

// Update edits a person. Status moves between active and deceased or moved;
// pending records only leave that state through approval or rejection.
func (r *Registry) Update(ctx context.Context, personID string, patch Patch) (models.Person, error) {
	ctx, span := telemetry.Tracer("residents").Start(ctx, "residents.Update")
	defer span.End()
	if err := validation.Struct(patch); err != nil {
		return models.Person{}, err
	}

	var person models.Person
	err := r.runInTx(ctx, "update_resident", func(tx store.Tx) error {
		now := r.now().UTC()
		before, err := tx.GetPerson(ctx, personID)
		if err != nil {
			return err
		}
		person = before
		if patch.Status != nil && *patch.Status != before.Status {
			if err := checkStatusChange(before.Status, *patch.Status); err != nil {
				return err
			}
			person.Status = *patch.Status
		}
		apply(&person.FirstName, patch.FirstName)
		apply(&person.MiddleName, patch.MiddleName)
		apply(&person.LastName, patch.LastName)
		apply(&person.Suffix, patch.Suffix)
		apply(&person.Locality, patch.Locality)
		apply(&person.Address, patch.Address)
		if patch.Sectoral != nil {
			person.Sectoral = *patch.Sectoral
		}
		if person == before {
			return nil
		}
		person.UpdatedAt = now
		if err := tx.UpdatePerson(ctx, person); err != nil {
			return err
		}
		return r.record(ctx, tx, &before, person, now)
	})
	if err != nil {
		return models.Person{}, err
	}
	return person, nil
}

func apply(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func checkStatusChange(from, to string) error {
	switch {
	case from == models.PersonPending:
		return store.InvalidStatef("pending persons change status only through approval or rejection")
	case from == models.PersonActive && (to == models.PersonDeceased || to == models.PersonMoved):
		return nil
	case to == models.PersonActive && (from == models.PersonDeceased || from == models.PersonMoved):
		return nil
	}
	return store.InvalidStatef("cannot change person status from %s to %s", from, to)
}

func (r *Registry) record(ctx context.Context, tx store.Tx, before *models.Person, after models.Person, now time.Time) error {
	if r.observer != nil {
		if err := r.observer.PersonChanged(ctx, tx, before, &after, now); err != nil {
			return err
		}
	}
	payload := models.ResidentChanged{PersonID: after.PersonID, Created: before == nil, ToStatus: after.Status}
	eventType := "person.created"
	if before != nil {
		payload.FromStatus = before.Status
		eventType = "person.updated"
	}
	if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityPerson, EntityID: after.PersonID, Type: eventType, CreatedAt: now}); err != nil {
		return err
	}
	actor := logging.ActorFromContext(ctx)
	if actor == "" {
		actor = "import"
	}
	_, err := tx.AppendAudit(ctx, models.AuditEntry{Actor: actor, At: now, Payload: payload})
	return err
}

func (r *Registry) runInTx(ctx context.Context, operation string, fn func(store.Tx) error) error {
	return store.RetryOnConflict(ctx, r.ledger, r.retries, func(int, error) {
		metrics.LedgerConflictRetries.WithLabelValues(operation).Inc()
	}, fn)
}
