package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/store"
	"ddrc/queue-service/internal/views"

	"github.com/rs/zerolog"
)

func TestBroadcastMatchesSubscription(t *testing.T) {
	h := New(zerolog.Nop())
	all := &Client{ID: "all", Send: make(chan []byte, 4)}
	radiology := &Client{ID: "rad", Send: make(chan []byte, 4), Subscription: Subscription{DepartmentID: "dept-radiology"}}
	aluva := &Client{ID: "aluva", Send: make(chan []byte, 4), Subscription: Subscription{BranchID: "br-aluva"}}
	h.Register(all)
	h.Register(radiology)
	h.Register(aluva)

	h.Broadcast([]byte("rad-event"), Subscription{BranchID: "br-kochi-main", DepartmentID: "dept-radiology"})
	h.Broadcast([]byte("board"), Subscription{})

	if len(all.Send) != 2 || len(radiology.Send) != 2 || len(aluva.Send) != 1 {
		t.Fatalf("unexpected deliveries all=%d rad=%d aluva=%d", len(all.Send), len(radiology.Send), len(aluva.Send))
	}
	if msg := <-aluva.Send; string(msg) != "board" {
		t.Fatalf("aluva should only get the board, got %q", msg)
	}
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	h := New(zerolog.Nop())
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)
	h.Broadcast([]byte("one"), Subscription{})
	h.Broadcast([]byte("two"), Subscription{})
	if len(slow.Send) != 1 {
		t.Fatalf("expected one buffered message, got %d", len(slow.Send))
	}
	h.Unregister(slow)
	h.Unregister(slow)
	if h.Clients() != 0 {
		t.Fatalf("expected no clients")
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","branch_id":"br-aluva","department_id":"dept-radiology"}`))
	if !ok || msg.BranchID != "br-aluva" || msg.DepartmentID != "dept-radiology" {
		t.Fatalf("unexpected parse %+v %v", msg, ok)
	}
	if _, ok := ParseSubscribe([]byte(`{"action":"shout"}`)); ok {
		t.Fatalf("unknown action should be rejected")
	}
	if _, ok := ParseSubscribe([]byte(`not json`)); ok {
		t.Fatalf("invalid json should be rejected")
	}
}

func TestFeedBroadcastsEventAndBoard(t *testing.T) {
	h := New(zerolog.Nop())
	screen := &Client{ID: "screen", Send: make(chan []byte, 4)}
	h.Register(screen)

	at := time.Date(2026, 1, 5, 14, 5, 0, 0, time.UTC)
	feed := NewFeed(h, func(now time.Time) views.Board {
		return views.PublicBoard(
			map[string][]models.Token{"dept-radiology": {"T-104"}},
			[]models.Department{{ID: "dept-radiology", Name: "Radiology", Status: models.StatusActive}},
			now,
		)
	})
	feed.now = func() time.Time { return at }

	if err := feed.Send(context.Background(), store.Event{Type: store.EventTokenEnqueued, Token: "T-104", DepartmentID: "dept-radiology"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(screen.Send) != 2 {
		t.Fatalf("expected event and board, got %d messages", len(screen.Send))
	}

	var first, second Envelope
	if err := json.Unmarshal(<-screen.Send, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(<-screen.Send, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Type != TypeQueueEvent || second.Type != TypeDisplayUpdated {
		t.Fatalf("unexpected envelope order %s, %s", first.Type, second.Type)
	}
	var board views.Board
	if err := json.Unmarshal(second.Payload, &board); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if board.Time != "14:05" || board.Rows[0].Serving != "T-104" {
		t.Fatalf("unexpected board %+v", board)
	}

	feed.tick()
	var clock Envelope
	if err := json.Unmarshal(<-screen.Send, &clock); err != nil {
		t.Fatalf("decode clock: %v", err)
	}
	if clock.Type != TypeDisplayClock || string(clock.Payload) != `{"time":"14:05"}` {
		t.Fatalf("unexpected clock envelope %+v", clock)
	}
}
