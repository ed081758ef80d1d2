package hub

import (
	"context"
	"encoding/json"
	"time"

	"ddrc/queue-service/internal/store"
	"ddrc/queue-service/internal/views"
)

const (
	TypeDisplayUpdated = "display.updated"
	TypeDisplayClock   = "display.clock"
	TypeQueueEvent     = "queue.event"
)

type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// BoardFunc renders the public board at the given time.
type BoardFunc func(now time.Time) views.Board

// Feed turns committed queue events into screen updates: the raw event for
// subscribed staff screens and a fresh public board for every display.
type Feed struct {
	hub   *Hub
	board BoardFunc
	now   func() time.Time
}

func NewFeed(h *Hub, board BoardFunc) *Feed {
	return &Feed{hub: h, board: board, now: time.Now}
}

func (f *Feed) Name() string { return "display" }

func (f *Feed) Send(_ context.Context, event store.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	queueEvent, err := f.envelope(TypeQueueEvent, raw)
	if err != nil {
		return err
	}
	f.hub.Broadcast(queueEvent, Subscription{BranchID: event.BranchID, DepartmentID: event.DepartmentID})

	board, err := f.Snapshot()
	if err != nil {
		return err
	}
	f.hub.Broadcast(board, Subscription{})
	return nil
}

// Snapshot returns the current board as a display.updated envelope.
func (f *Feed) Snapshot() ([]byte, error) {
	raw, err := json.Marshal(f.board(f.now()))
	if err != nil {
		return nil, err
	}
	return f.envelope(TypeDisplayUpdated, raw)
}

// RunClock re-broadcasts the display clock every interval. The queues are not
// touched.
func (f *Feed) RunClock(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

func (f *Feed) tick() {
	now := f.now()
	raw, err := json.Marshal(map[string]string{"time": now.Format(views.ClockLayout)})
	if err != nil {
		return
	}
	payload, err := f.envelope(TypeDisplayClock, raw)
	if err != nil {
		return
	}
	f.hub.Broadcast(payload, Subscription{})
}

func (f *Feed) envelope(kind string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(Envelope{Type: kind, Payload: payload, CreatedAt: f.now().UTC()})
}
