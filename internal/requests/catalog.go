package requests

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/validation"
)

// CatalogInput creates an entry when ServiceID is empty or unknown and
// updates it otherwise.
type CatalogInput struct {
	ServiceID       string `json:"service_id"`
	Name            string `json:"name" validate:"required,notblank,max=150"`
	Price           int64  `json:"price" validate:"gte=0"`
	RequiresPurpose bool   `json:"requires_purpose"`
	Active          *bool  `json:"active"`
}

// UpsertCatalogEntry writes a catalog entry. Once any request item refers to
// an entry only its price and active flag may change.
func (c *Coordinator) UpsertCatalogEntry(ctx context.Context, in CatalogInput) (models.Service, error) {
	if err := validation.Struct(in); err != nil {
		return models.Service{}, err
	}
	in.Name = strings.TrimSpace(in.Name)

	var svc models.Service
	err := c.issuer.RunInTx(ctx, "catalog_upsert", func(tx store.Tx) error {
		now := c.issuer.Now()
		created := false
		existing, err := c.lookupService(ctx, tx, in.ServiceID)
		if err != nil {
			return err
		}

		if existing == nil {
			created = true
			id := in.ServiceID
			if id == "" {
				id = uuid.NewString()
			}
			svc = models.Service{ServiceID: id, Active: true, CreatedAt: now}
		} else {
			svc = *existing
			if in.Name != svc.Name || in.RequiresPurpose != svc.RequiresPurpose {
				referenced, err := tx.ServiceReferenced(ctx, svc.ServiceID)
				if err != nil {
					return err
				}
				if referenced {
					return store.InvalidStatef("service %s is referenced by requests; only price and active may change", svc.ServiceID)
				}
			}
		}
		svc.Name = in.Name
		svc.Price = in.Price
		svc.RequiresPurpose = in.RequiresPurpose
		if in.Active != nil {
			svc.Active = *in.Active
		}
		svc.UpdatedAt = now
		if err := tx.PutService(ctx, svc); err != nil {
			return err
		}
		if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityCatalog, EntityID: svc.ServiceID, Type: "catalog.changed", CreatedAt: now}); err != nil {
			return err
		}
		_, err = tx.AppendAudit(ctx, models.AuditEntry{
			Actor:   actor(ctx),
			At:      now,
			Payload: models.CatalogChanged{ServiceID: svc.ServiceID, Created: created, Price: svc.Price, Active: svc.Active},
		})
		return err
	})
	return svc, err
}

func (c *Coordinator) lookupService(ctx context.Context, tx store.Tx, serviceID string) (*models.Service, error) {
	if serviceID == "" {
		return nil, nil
	}
	svc, err := tx.GetService(ctx, serviceID)
	if store.KindOf(err) == store.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (c *Coordinator) ListCatalog(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	var services []models.Service
	err := c.ledger.View(ctx, func(v store.View) error {
		var err error
		services, err = v.ListServices(ctx, activeOnly)
		return err
	})
	return services, err
}
