// Package sqlite keeps a local audit copy of every committed queue event for
// single-box deployments that run without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/store"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const schema = `CREATE TABLE IF NOT EXISTS queue_events (
	event_id TEXT PRIMARY KEY,
	epoch INTEGER NOT NULL,
	type TEXT NOT NULL,
	token TEXT NOT NULL,
	department_id TEXT NOT NULL,
	branch_id TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at TEXT NOT NULL,
	seq INTEGER NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS queue_events_token ON queue_events (epoch, token, seq);
CREATE INDEX IF NOT EXISTS queue_events_created ON queue_events (created_at);`

// createdLayout is fixed width so created_at sorts as text.
const createdLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Journal appends events to a single SQLite table. Opening the journal and
// every state reset start a new epoch because the engine restarts every token
// chain at seq 1 from the seed.
type Journal struct {
	mu    sync.Mutex
	db    *sql.DB
	epoch int64
}

func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		path = "ddrc-events.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queue_events: %w", err)
	}
	j := &Journal{db: db}
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(epoch), -1) + 1 FROM queue_events`).Scan(&j.epoch); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read epoch: %w", err)
	}
	return j, nil
}

func (j *Journal) Name() string { return "sqlite" }

// Send is idempotent on event id.
func (j *Journal) Send(ctx context.Context, event store.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	epoch := j.epoch
	if event.Type == store.EventStateReset {
		epoch++
	}
	_, err := j.db.ExecContext(ctx, `INSERT OR IGNORE INTO queue_events
		(event_id, epoch, type, token, department_id, branch_id, payload, created_at, seq, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, epoch, event.Type, event.Token.String(), event.DepartmentID, event.BranchID,
		[]byte(event.Payload), event.CreatedAt.UTC().Format(createdLayout), event.Seq, event.PrevHash, event.Hash)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", event.EventID, err)
	}
	j.epoch = epoch
	return nil
}

// TokenEvents returns the current epoch's chain for token in seq order.
func (j *Journal) TokenEvents(ctx context.Context, token models.Token) ([]store.TokenEvent, error) {
	j.mu.Lock()
	epoch := j.epoch
	j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `SELECT type, payload, created_at, seq, prev_hash, hash
		FROM queue_events WHERE epoch = ? AND token = ? AND seq > 0 ORDER BY seq`, epoch, token.String())
	if err != nil {
		return nil, fmt.Errorf("select token events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []store.TokenEvent
	for rows.Next() {
		var (
			e       store.TokenEvent
			payload []byte
			created string
		)
		if err := rows.Scan(&e.Type, &payload, &created, &e.Seq, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		e.Token = token
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListEvents pages through every recorded event, across epochs, in commit
// order.
func (j *Journal) ListEvents(ctx context.Context, after time.Time, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `SELECT event_id, type, token, department_id, branch_id, payload, created_at, seq, prev_hash, hash
		FROM queue_events WHERE created_at > ? ORDER BY rowid LIMIT ?`, after.UTC().Format(createdLayout), limit)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []store.Event
	for rows.Next() {
		var (
			e       store.Event
			token   string
			payload []byte
			created string
		)
		if err := rows.Scan(&e.EventID, &e.Type, &token, &e.DepartmentID, &e.BranchID, &payload, &created, &e.Seq, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		e.Token = models.Token(token)
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count reports how many events of eventType were recorded across all epochs.
// An empty eventType counts everything.
func (j *Journal) Count(ctx context.Context, eventType string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_events WHERE ? = '' OR type = ?`, eventType, eventType).Scan(&n)
	return n, err
}

func (j *Journal) Close() error {
	return j.db.Close()
}
