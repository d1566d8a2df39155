package requests

import (
	"context"

	"civicq/records-service/internal/logging"
	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/telemetry"
)

// ApprovePending turns a kiosk guest into an active resident with a fresh
// external id.
func (c *Coordinator) ApprovePending(ctx context.Context, personID string) (models.Person, error) {
	ctx, span := telemetry.Tracer("requests").Start(ctx, "requests.ApprovePending")
	defer span.End()

	var person models.Person
	err := c.issuer.RunInTx(ctx, "approve_pending", func(tx store.Tx) error {
		now := c.issuer.Now()
		before, err := tx.GetPerson(ctx, personID)
		if err != nil {
			return err
		}
		if before.Status != models.PersonPending {
			return store.InvalidStatef("person %s is %s, not pending", personID, before.Status)
		}
		person = before
		person.ExternalID, err = store.NextExternalID(ctx, tx, c.prefix)
		if err != nil {
			return err
		}
		person.Status = models.PersonActive
		person.UpdatedAt = now
		if err := tx.UpdatePerson(ctx, person); err != nil {
			return err
		}
		if err := c.personChanged(ctx, tx, &before, &person, now, "person.approved"); err != nil {
			return err
		}
		_, err = tx.AppendAudit(ctx, models.AuditEntry{
			Actor:   actor(ctx),
			At:      now,
			Payload: models.PersonApproved{PersonID: personID, ExternalID: person.ExternalID},
		})
		return err
	})
	if err != nil {
		return models.Person{}, err
	}
	logging.Ctx(ctx).Info().Str("person_id", personID).Str("external_id", person.ExternalID).Msg("pending person approved")
	return person, nil
}

// RejectPending deletes a kiosk guest. Rejection is refused once any request
// for the person has been queued, served or completed; cancelled requests
// are left in place and counted in the audit entry.
func (c *Coordinator) RejectPending(ctx context.Context, personID string) error {
	ctx, span := telemetry.Tracer("requests").Start(ctx, "requests.RejectPending")
	defer span.End()

	var leftover int
	err := c.issuer.RunInTx(ctx, "reject_pending", func(tx store.Tx) error {
		now := c.issuer.Now()
		person, err := tx.GetPerson(ctx, personID)
		if err != nil {
			return err
		}
		if person.Status != models.PersonPending {
			return store.InvalidStatef("person %s is %s, not pending", personID, person.Status)
		}
		refs, err := tx.ListRequests(ctx, store.RequestFilter{PersonID: personID})
		if err != nil {
			return err
		}
		for _, r := range refs {
			if r.Status != models.RequestPending && r.Status != models.RequestCancelled {
				return store.InvalidStatef("person %s has request %s in status %s", personID, r.RequestNumber, r.Status)
			}
		}
		leftover = len(refs)

		if err := tx.DeletePerson(ctx, personID); err != nil {
			return err
		}
		if err := c.personChanged(ctx, tx, &person, nil, now, "person.rejected"); err != nil {
			return err
		}
		_, err = tx.AppendAudit(ctx, models.AuditEntry{
			Actor:   actor(ctx),
			At:      now,
			Payload: models.PersonRejected{PersonID: personID, FullName: person.FullName(), OpenRequestRefs: len(refs)},
		})
		return err
	})
	if err != nil {
		return err
	}
	event := logging.Ctx(ctx).Info()
	if leftover > 0 {
		event = logging.Ctx(ctx).Warn()
	}
	event.Str("person_id", personID).Int("request_refs", leftover).Msg("pending person rejected")
	return nil
}
