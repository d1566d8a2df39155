package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicq/records-service/internal/models"
)

func buildChain(t *testing.T, payloads ...models.AuditPayload) []models.AuditEntry {
	t.Helper()
	var entries []models.AuditEntry
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	for i, payload := range payloads {
		var prev *models.AuditEntry
		if len(entries) > 0 {
			prev = &entries[len(entries)-1]
		}
		entry, err := SealAuditEntry(prev, models.AuditEntry{Actor: "clerk", At: at.Add(time.Duration(i) * time.Minute), Payload: payload})
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	return entries
}

func TestAuditChainVerifies(t *testing.T) {
	entries := buildChain(t,
		models.PersonApproved{PersonID: "p1", ExternalID: "BH-00001"},
		models.TicketTransitioned{TicketID: "t1", To: models.StatusServing},
		models.ItemPrintedPayload{ItemID: "i1", RequestID: "r1"},
		models.RequestCancelledPayload{RequestID: "r2", FromStatus: models.RequestQueued},
	)
	require.NoError(t, VerifyAuditChain(entries))
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.Equal(t, models.AuditTicketTransitioned, entries[1].Kind)
	assert.Equal(t, models.AuditRequestCancelled, entries[3].Kind)
}

func TestAuditChainDetectsTampering(t *testing.T) {
	entries := buildChain(t,
		models.PersonApproved{PersonID: "p1", ExternalID: "BH-00001"},
		models.PersonRejected{PersonID: "p2"},
	)
	entries[0].Payload = models.PersonApproved{PersonID: "p1", ExternalID: "BH-00099"}
	assert.Error(t, VerifyAuditChain(entries))

	entries = buildChain(t,
		models.PersonApproved{PersonID: "p1"},
		models.PersonRejected{PersonID: "p2"},
	)
	entries[1].PrevHash = "forged"
	assert.Error(t, VerifyAuditChain(entries))
}

func TestSealRejectsMissingPayload(t *testing.T) {
	_, err := SealAuditEntry(nil, models.AuditEntry{Actor: "clerk"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrorKinds(t *testing.T) {
	err := InvalidStatef("ticket %s is done", "t1")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(assert.AnError))
	assert.Equal(t, "invalid_state: ticket t1 is done", err.Error())

	wrapped := WrapConflict(assert.AnError, "unique violation")
	assert.ErrorIs(t, wrapped, ErrConflict)
	assert.ErrorIs(t, wrapped, assert.AnError)
}
