package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ddrc/queue-service/internal/store"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const StreamName = "DDRC_QUEUE_EVENTS"

// NATSPublisher writes every event to a JetStream stream under
// <subject>.<event type>, deduplicated by event id.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

func NewNATSPublisher(ctx context.Context, url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("ddrc-queue-service"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	subject = strings.TrimSuffix(subject, ".")
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Queue engine events",
		Subjects:    []string{subject + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return &NATSPublisher{nc: nc, js: js, subject: subject}, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Subject(event store.Event) string {
	return p.subject + "." + event.Type
}

func (p *NATSPublisher) Send(ctx context.Context, event store.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(ctx, p.Subject(event), data, jetstream.WithMsgID(event.EventID))
	return err
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
