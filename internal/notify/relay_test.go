package notify

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
	"civicq/records-service/internal/store/memory"
)

type recordingSink struct {
	name   string
	failAt int64
	seen   []int64
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, event models.ChangeEvent) error {
	if event.Seq == s.failAt {
		s.failAt = 0
		return errors.New("sink unavailable")
	}
	s.seen = append(s.seen, event.Seq)
	return nil
}

func appendChanges(t *testing.T, ledger store.Ledger, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ledger.RunInTx(ctx, func(tx store.Tx) error {
		for range n {
			if _, err := tx.AppendChange(ctx, models.ChangeEvent{Entity: models.EntityTicket, EntityID: "t", Type: "ticket.created", CreatedAt: time.Now()}); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestRelayDeliversInOrderPerSink(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New()
	healthy := &recordingSink{name: "healthy"}
	flaky := &recordingSink{name: "flaky", failAt: 2}
	relay := NewRelay(ledger, time.Millisecond, 10, healthy, flaky)

	appendChanges(t, ledger, 3)
	delivered, err := relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, delivered)
	assert.Equal(t, []int64{1, 2, 3}, healthy.seen)
	assert.Equal(t, []int64{1}, flaky.seen)

	delivered, err = relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []int64{1, 2, 3}, flaky.seen)
	assert.Equal(t, []int64{1, 2, 3}, healthy.seen)
}

func TestRelaySeekToTailSkipsHistory(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New()
	sink := &recordingSink{name: "sink"}
	relay := NewRelay(ledger, time.Millisecond, 2, sink)

	appendChanges(t, ledger, 3)
	require.NoError(t, relay.SeekToTail(ctx))
	appendChanges(t, ledger, 3)

	_, err := relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, sink.seen)
	_, err = relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 6}, sink.seen)
}

func TestRelayFeedsHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ledger := memory.New()
	hub := NewHub()
	client := &Client{ID: "c", Send: make(chan []byte, 4)}
	hub.Register(client)
	relay := NewRelay(ledger, 5*time.Millisecond, 10, hub)
	// resume from the start of the outbox instead of seeking to the tail
	relay.started.Store(true)

	done := make(chan error, 1)
	go func() { done <- relay.Serve(ctx) }()
	appendChanges(t, ledger, 1)

	select {
	case msg := <-client.Send:
		var event models.ChangeEvent
		require.NoError(t, json.Unmarshal(msg, &event))
		assert.Equal(t, "ticket.created", event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no event relayed")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNATSSinkPublishes(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	conn, err := ConnectNATS(url)
	require.NoError(t, err)
	defer conn.Close()

	sub, err := conn.SubscribeSync("records.test.>")
	require.NoError(t, err)
	sink := NewNATSSink(conn, "records.test")
	require.NoError(t, sink.Publish(context.Background(), models.ChangeEvent{Seq: 7, EventID: "e7", Entity: models.EntityRequest, Type: "request.created"}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "records.test.request", msg.Subject)
	assert.Equal(t, "e7", msg.Header.Get(nats.MsgIdHdr))
}
