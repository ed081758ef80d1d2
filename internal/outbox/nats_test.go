package outbox

import (
	"context"
	"testing"
	"time"

	"ddrc/queue-service/internal/store"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		JetStream: true,
		StoreDir:  t.TempDir(),
		Port:      -1,
		HTTPPort:  -1,
		NoSigs:    true,
	})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSPublisherWritesToStream(t *testing.T) {
	ns := runJetStreamServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, err := NewNATSPublisher(ctx, ns.ClientURL(), "ddrc.events.")
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer pub.Close()

	event := store.Event{EventID: "evt-1", Type: store.EventTokenEnqueued, Token: "T-402", DepartmentID: "dept-cardiology"}
	if got := pub.Subject(event); got != "ddrc.events.token.enqueued" {
		t.Fatalf("unexpected subject %q", got)
	}
	for i := 0; i < 2; i++ {
		if err := pub.Send(ctx, event); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if err := pub.Send(ctx, store.Event{EventID: "evt-2", Type: store.EventTokenCalled, Token: "T-402"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	stream, err := js.Stream(ctx, StreamName)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.State.Msgs != 2 {
		t.Fatalf("expected 2 messages after dedupe, got %d", info.State.Msgs)
	}
}
