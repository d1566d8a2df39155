package notify

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"civicq/records-service/internal/models"
)

// NATSSink publishes change events to <prefix>.<entity>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "records.changes"
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("records-service"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Subject(event models.ChangeEvent) string {
	return s.prefix + "." + event.Entity
}

func (s *NATSSink) Publish(_ context.Context, event models.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(s.Subject(event))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.EventID)
	return s.conn.PublishMsg(msg)
}
