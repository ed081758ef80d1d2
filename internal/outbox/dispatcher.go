// Package outbox fans committed engine events out to the configured sinks:
// the structured log, the Postgres outbox, NATS, metrics and the display hub.
package outbox

import (
	"context"
	"sync/atomic"
	"time"

	"ddrc/queue-service/internal/store"

	"github.com/rs/zerolog"
)

const (
	DefaultBuffer = 256
	sendTimeout   = 5 * time.Second
)

type Sink interface {
	Name() string
	Send(ctx context.Context, event store.Event) error
}

// Dispatcher buffers events published by the engine and delivers them to
// every sink from a single goroutine, in commit order.
type Dispatcher struct {
	events  chan store.Event
	sinks   []Sink
	logger  zerolog.Logger
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewDispatcher(logger zerolog.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Dispatcher{
		events: make(chan store.Event, buffer),
		sinks:  sinks,
		logger: logger.With().Str("component", "outbox").Logger(),
	}
}

// Publish never blocks the engine. Events are dropped when the buffer is full.
func (d *Dispatcher) Publish(event store.Event) {
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
		d.logger.Warn().Str("event_type", event.Type).Str("token", event.Token.String()).Msg("outbox buffer full, event dropped")
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case event := <-d.events:
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	for {
		select {
		case event := <-d.events:
			d.deliver(ctx, event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event store.Event) {
	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := sink.Send(sendCtx, event)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.logger.Error().Err(err).Str("sink", sink.Name()).Str("event_type", event.Type).Str("event_id", event.EventID).Msg("sink delivery failed")
		}
	}
}

func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

func (d *Dispatcher) Failed() int64 { return d.failed.Load() }
