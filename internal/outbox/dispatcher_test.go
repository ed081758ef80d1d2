package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ddrc/queue-service/internal/store"

	"github.com/rs/zerolog"
)

type collectSink struct {
	mu     sync.Mutex
	events []store.Event
	err    error
}

func (c *collectSink) Name() string { return "collect" }

func (c *collectSink) Send(_ context.Context, event store.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	first := &collectSink{}
	second := &collectSink{err: errors.New("boom")}
	d := NewDispatcher(zerolog.Nop(), 16, first, second)

	for _, typ := range []string{store.EventTokenCreated, store.EventTokenEnqueued, store.EventTokenTransferred} {
		d.Publish(store.Event{Type: typ, Token: "T-1"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for first.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if first.count() != 3 || second.count() != 3 {
		t.Fatalf("expected both sinks to see 3 events, got %d and %d", first.count(), second.count())
	}
	if first.events[2].Type != store.EventTokenTransferred {
		t.Fatalf("events out of order: %+v", first.events)
	}
	if d.Failed() != 3 {
		t.Fatalf("expected 3 failed deliveries, got %d", d.Failed())
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(zerolog.New(&buf), 1)
	d.Publish(store.Event{Type: store.EventTokenCreated})
	d.Publish(store.Event{Type: store.EventTokenEnqueued, Token: "T-7"})

	if d.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", d.Dropped())
	}
	if !strings.Contains(buf.String(), "event dropped") || !strings.Contains(buf.String(), "T-7") {
		t.Fatalf("expected drop warning, got %q", buf.String())
	}
}

func TestDispatcherDrainsOnShutdown(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(zerolog.Nop(), 8, sink)
	d.Publish(store.Event{Type: store.EventTokenCreated})
	d.Publish(store.Event{Type: store.EventTokenEnqueued})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if sink.count() != 2 {
		t.Fatalf("expected buffered events to drain, got %d", sink.count())
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))
	err := sink.Send(context.Background(), store.Event{
		EventID:      "evt-1",
		Type:         store.EventTokenCalled,
		Token:        "T-104",
		DepartmentID: "dept-radiology",
		Payload:      json.RawMessage(`{"department_id":"dept-radiology"}`),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["event_type"] != store.EventTokenCalled || line["token"] != "T-104" {
		t.Fatalf("unexpected log line %v", line)
	}
	payload, ok := line["payload"].(map[string]any)
	if !ok || payload["department_id"] != "dept-radiology" {
		t.Fatalf("payload should be embedded as JSON, got %v", line["payload"])
	}
}
