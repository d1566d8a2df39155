package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

type AuditKind string

const (
	AuditRequestSubmitted   AuditKind = "request.submitted"
	AuditRequestCancelled   AuditKind = "request.cancelled"
	AuditItemPrinted        AuditKind = "request_item.printed"
	AuditPersonApproved     AuditKind = "person.approved"
	AuditPersonRejected     AuditKind = "person.rejected"
	AuditResidentChanged    AuditKind = "person.changed"
	AuditTicketTransitioned AuditKind = "ticket.transitioned"
	AuditCatalogChanged     AuditKind = "catalog.changed"
)

// AuditPayload is implemented by the fixed set of audit payload shapes.
type AuditPayload interface {
	AuditKind() AuditKind
}

type RequestSubmitted struct {
	RequestID     string `json:"request_id"`
	RequestNumber string `json:"request_number"`
	PersonID      string `json:"person_id"`
	GuestCreated  bool   `json:"guest_created"`
	ItemCount     int    `json:"item_count"`
	TotalPrice    int64  `json:"total_price"`
	TicketNumber  string `json:"ticket_number"`
}

type RequestCancelledPayload struct {
	RequestID  string `json:"request_id"`
	FromStatus string `json:"from_status"`
}

type ItemPrintedPayload struct {
	ItemID    string `json:"item_id"`
	RequestID string `json:"request_id"`
}

type PersonApproved struct {
	PersonID   string `json:"person_id"`
	ExternalID string `json:"external_id"`
}

type PersonRejected struct {
	PersonID        string `json:"person_id"`
	FullName        string `json:"full_name"`
	OpenRequestRefs int    `json:"open_request_refs"`
}

type ResidentChanged struct {
	PersonID   string `json:"person_id"`
	Created    bool   `json:"created"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
}

type TicketTransitioned struct {
	TicketID      string `json:"ticket_id"`
	TicketNumber  string `json:"ticket_number"`
	RequestID     string `json:"request_id"`
	From          string `json:"from,omitempty"`
	To            string `json:"to"`
	CounterNumber *int   `json:"counter_number,omitempty"`
}

type CatalogChanged struct {
	ServiceID string `json:"service_id"`
	Created   bool   `json:"created"`
	Price     int64  `json:"price"`
	Active    bool   `json:"active"`
}

func (RequestSubmitted) AuditKind() AuditKind   { return AuditRequestSubmitted }
func (RequestCancelledPayload) AuditKind() AuditKind   { return AuditRequestCancelled }
func (ItemPrintedPayload) AuditKind() AuditKind        { return AuditItemPrinted }
func (PersonApproved) AuditKind() AuditKind     { return AuditPersonApproved }
func (PersonRejected) AuditKind() AuditKind     { return AuditPersonRejected }
func (ResidentChanged) AuditKind() AuditKind    { return AuditResidentChanged }
func (TicketTransitioned) AuditKind() AuditKind { return AuditTicketTransitioned }
func (CatalogChanged) AuditKind() AuditKind     { return AuditCatalogChanged }

type AuditEntry struct {
	Seq      int64
	Kind     AuditKind
	Actor    string
	At       time.Time
	Payload  AuditPayload
	PrevHash string
	Hash     string
}

type auditEntryJSON struct {
	Seq      int64           `json:"seq"`
	Kind     AuditKind       `json:"kind"`
	Actor    string          `json:"actor"`
	At       time.Time       `json:"at"`
	Payload  json.RawMessage `json:"payload"`
	PrevHash string          `json:"prev_hash"`
	Hash     string          `json:"hash"`
}

func (e AuditEntry) MarshalJSON() ([]byte, error) {
	payload, err := EncodeAuditPayload(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(auditEntryJSON{
		Seq:      e.Seq,
		Kind:     e.Kind,
		Actor:    e.Actor,
		At:       e.At,
		Payload:  payload,
		PrevHash: e.PrevHash,
		Hash:     e.Hash,
	})
}

func (e *AuditEntry) UnmarshalJSON(data []byte) error {
	var raw auditEntryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodeAuditPayload(raw.Kind, raw.Payload)
	if err != nil {
		return err
	}
	*e = AuditEntry{
		Seq:      raw.Seq,
		Kind:     raw.Kind,
		Actor:    raw.Actor,
		At:       raw.At,
		Payload:  payload,
		PrevHash: raw.PrevHash,
		Hash:     raw.Hash,
	}
	return nil
}

func EncodeAuditPayload(payload AuditPayload) (json.RawMessage, error) {
	if payload == nil {
		return nil, fmt.Errorf("audit payload is nil")
	}
	return json.Marshal(payload)
}

// DecodeAuditPayload rejects kinds outside the known set.
func DecodeAuditPayload(kind AuditKind, raw []byte) (AuditPayload, error) {
	var payload AuditPayload
	switch kind {
	case AuditRequestSubmitted:
		payload = &RequestSubmitted{}
	case AuditRequestCancelled:
		payload = &RequestCancelledPayload{}
	case AuditItemPrinted:
		payload = &ItemPrintedPayload{}
	case AuditPersonApproved:
		payload = &PersonApproved{}
	case AuditPersonRejected:
		payload = &PersonRejected{}
	case AuditResidentChanged:
		payload = &ResidentChanged{}
	case AuditTicketTransitioned:
		payload = &TicketTransitioned{}
	case AuditCatalogChanged:
		payload = &CatalogChanged{}
	default:
		return nil, fmt.Errorf("unknown audit kind %q", kind)
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return deref(payload), nil
}

func deref(payload AuditPayload) AuditPayload {
	switch p := payload.(type) {
	case *RequestSubmitted:
		return *p
	case *RequestCancelledPayload:
		return *p
	case *ItemPrintedPayload:
		return *p
	case *PersonApproved:
		return *p
	case *PersonRejected:
		return *p
	case *ResidentChanged:
		return *p
	case *TicketTransitioned:
		return *p
	case *CatalogChanged:
		return *p
	}
	return payload
}
