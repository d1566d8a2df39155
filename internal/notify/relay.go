package notify

import (
	"context"
	"sync/atomic"
	"time"

	"civicq/records-service/internal/logging"
	"civicq/records-service/internal/metrics"
	"civicq/records-service/internal/models"
	"civicq/records-service/internal/store"
)

type Sink interface {
	Name() string
	Publish(ctx context.Context, event models.ChangeEvent) error
}

type sinkCursor struct {
	sink  Sink
	after int64
}

// Relay polls the ledger outbox and hands new events to each sink in
// sequence order. Every sink keeps its own cursor so a failing sink is
// retried on the next poll without holding the others back.
type Relay struct {
	ledger   store.Ledger
	interval time.Duration
	batch    int
	cursors  []*sinkCursor
	started  atomic.Bool
}

func NewRelay(ledger store.Ledger, interval time.Duration, batch int, sinks ...Sink) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	r := &Relay{ledger: ledger, interval: interval, batch: batch}
	for _, sink := range sinks {
		r.cursors = append(r.cursors, &sinkCursor{sink: sink})
	}
	return r
}

// SeekToTail moves every cursor past the events already in the outbox.
func (r *Relay) SeekToTail(ctx context.Context) error {
	var tail int64
	err := r.ledger.View(ctx, func(v store.View) error {
		var err error
		tail, err = v.LastChangeSeq(ctx)
		return err
	})
	if err != nil {
		return err
	}
	for _, c := range r.cursors {
		c.after = tail
	}
	return nil
}

// Poll delivers at most one batch per sink and reports how many events
// were delivered in total.
func (r *Relay) Poll(ctx context.Context) (int, error) {
	delivered := 0
	for _, c := range r.cursors {
		var events []models.ChangeEvent
		err := r.ledger.View(ctx, func(v store.View) error {
			var err error
			events, err = v.ListChanges(ctx, c.after, r.batch)
			return err
		})
		if err != nil {
			return delivered, err
		}
		for _, event := range events {
			if err := c.sink.Publish(ctx, event); err != nil {
				metrics.OutboxRelayed.WithLabelValues(c.sink.Name(), "error").Inc()
				logging.Ctx(ctx).Error().Err(err).Str("sink", c.sink.Name()).Int64("seq", event.Seq).Msg("relay publish failed")
				break
			}
			c.after = event.Seq
			delivered++
			metrics.OutboxRelayed.WithLabelValues(c.sink.Name(), "ok").Inc()
		}
	}
	return delivered, nil
}

// Serve satisfies suture.Service. On first start it skips history; after a
// restart by the supervisor it resumes from its cursors.
func (r *Relay) Serve(ctx context.Context) error {
	if r.started.CompareAndSwap(false, true) {
		if err := r.SeekToTail(ctx); err != nil {
			r.started.Store(false)
			return err
		}
	}
	log := logging.WithComponent("outbox-relay")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn().Err(err).Msg("outbox poll failed")
			}
		}
	}
}

func (r *Relay) String() string {
	return "outbox-relay"
}
