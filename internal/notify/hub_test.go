package notify

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicq/records-service/internal/models"
)

func TestBroadcastFiltersBySubscription(t *testing.T) {
	h := NewHub()
	all := &Client{ID: "all", Send: make(chan []byte, 4)}
	tickets := &Client{ID: "tickets", Send: make(chan []byte, 4), Subscription: Subscription{Entities: []string{models.EntityTicket}}}
	one := &Client{ID: "one", Send: make(chan []byte, 4), Subscription: Subscription{EntityID: "r1"}}
	for _, c := range []*Client{all, tickets, one} {
		h.Register(c)
	}
	assert.Equal(t, 3, h.Len())

	require.NoError(t, h.Broadcast(models.ChangeEvent{Seq: 1, Entity: models.EntityTicket, EntityID: "t1", Type: "ticket.created"}))
	require.NoError(t, h.Broadcast(models.ChangeEvent{Seq: 2, Entity: models.EntityRequest, EntityID: "r1", Type: "request.created"}))

	assert.Len(t, all.Send, 2)
	assert.Len(t, tickets.Send, 1)
	require.Len(t, one.Send, 1)

	var got models.ChangeEvent
	require.NoError(t, json.Unmarshal(<-one.Send, &got))
	assert.Equal(t, int64(2), got.Seq)
	assert.Equal(t, "request.created", got.Type)

	h.Unregister(one)
	h.Unregister(one)
	assert.Equal(t, 2, h.Len())
}

func TestBroadcastDropsForSlowClients(t *testing.T) {
	h := NewHub()
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)

	require.NoError(t, h.Broadcast(models.ChangeEvent{Seq: 1, Entity: models.EntityTicket}))
	require.NoError(t, h.Broadcast(models.ChangeEvent{Seq: 2, Entity: models.EntityTicket}))
	assert.Len(t, slow.Send, 1)
}

func TestParseSubscribe(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"subscribe", `{"action":"subscribe","entities":["ticket"]}`, true},
		{"unsubscribe", `{"action":"unsubscribe"}`, true},
		{"unknown action", `{"action":"ping"}`, false},
		{"not json", `hello`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := ParseSubscribe([]byte(tc.raw))
			assert.Equal(t, tc.ok, ok)
		})
	}

	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","entities":["ticket","request"],"entity_id":"x"}`))
	require.True(t, ok)
	assert.Equal(t, []string{"ticket", "request"}, msg.Entities)
	assert.Equal(t, "x", msg.EntityID)
}

func TestNATSSubject(t *testing.T) {
	sink := NewNATSSink(nil, "")
	assert.Equal(t, "records.changes.ticket", sink.Subject(models.ChangeEvent{Entity: models.EntityTicket}))
	assert.Equal(t, "nats", sink.Name())
}
