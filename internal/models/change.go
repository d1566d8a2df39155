package models

import "time"

// ChangeEvent is the outbox row written by every committed mutation.
type ChangeEvent struct {
	Seq       int64     `json:"seq"`
	EventID   string    `json:"event_id"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	EntityPerson   = "person"
	EntityRequest  = "request"
	EntityTicket   = "ticket"
	EntityCatalog  = "catalog"
	EntitySnapshot = "snapshot"
)
