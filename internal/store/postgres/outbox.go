// Package postgres keeps an append-only audit of queue events in Postgres.
// The engine never reads it back; state is always restored from the seed.
//
// Every process start and every state reset opens a new epoch, since both
// send the token counter back to its seed value. Token chains are keyed by
// epoch so a reissued T-<n> never extends an earlier patient's chain.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Outbox struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	epoch int64
}

func NewOutbox(pool *pgxpool.Pool) *Outbox {
	return &Outbox{pool: pool}
}

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema files in name order and opens the
// epoch this process writes under.
func (o *Outbox) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		content, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := o.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	var epoch int64
	if err := o.pool.QueryRow(ctx, `SELECT COALESCE(MAX(epoch), -1) + 1 FROM outbox_events`).Scan(&epoch); err != nil {
		return fmt.Errorf("read epoch: %w", err)
	}
	o.mu.Lock()
	o.epoch = epoch
	o.mu.Unlock()
	return nil
}

// Epoch reports the epoch new events are written under.
func (o *Outbox) Epoch() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch
}

func (o *Outbox) Name() string { return "postgres" }

// Send records event in outbox_events and, for token events, appends it to
// the token's hash chain in token_events. Replayed event ids are ignored.
func (o *Outbox) Send(ctx context.Context, event store.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	epoch := o.epoch
	if event.Type == store.EventStateReset {
		epoch++
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	payload := []byte(event.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, epoch, type, token, department_id, branch_id, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, epoch, event.Type, event.Token.String(), event.DepartmentID, event.BranchID, payload, createdAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	if event.Token != "" {
		if err := insertTokenEvent(ctx, tx, epoch, event.Token, event.Type, payload, createdAt); err != nil {
			return fmt.Errorf("insert token event: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.epoch = epoch
	return nil
}

func insertTokenEvent(ctx context.Context, tx pgx.Tx, epoch int64, token models.Token, eventType string, payload []byte, createdAt time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, token.String()); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT token_seq, hash
		FROM token_events
		WHERE epoch = $1 AND token = $2
		ORDER BY token_seq DESC
		LIMIT 1
		FOR UPDATE
	`, epoch, token.String())
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	// timestamptz keeps microseconds; hash what is stored.
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	hash := store.ComputeTokenEventHash(prev, token, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO token_events (epoch, token, token_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, epoch, token.String(), nextSeq, eventType, payload, createdAt, prev, hash)
	return err
}

// ListEvents pages through every recorded event, across epochs, oldest first.
func (o *Outbox) ListEvents(ctx context.Context, after time.Time, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := o.pool.Query(ctx, `
		SELECT event_id, type, token, department_id, branch_id, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.Event
	for rows.Next() {
		var event store.Event
		var token string
		var payload []byte
		if err := rows.Scan(&event.EventID, &event.Type, &token, &event.DepartmentID, &event.BranchID, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Token = models.Token(token)
		event.Payload = payload
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// TokenEvents returns the current epoch's chain for token.
func (o *Outbox) TokenEvents(ctx context.Context, token models.Token) ([]store.TokenEvent, error) {
	rows, err := o.pool.Query(ctx, `
		SELECT token, token_seq, type, payload, created_at, prev_hash, hash
		FROM token_events
		WHERE epoch = $1 AND token = $2
		ORDER BY token_seq ASC
	`, o.Epoch(), token.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TokenEvent
	for rows.Next() {
		var event store.TokenEvent
		var tok string
		var payload []byte
		if err := rows.Scan(&tok, &event.Seq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Token = models.Token(tok)
		event.Payload = payload
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
