package postgres

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestOutboxSendChainsTokenEvents(t *testing.T) {
	ctx := context.Background()
	outbox, pool := setupTestOutbox(t, ctx)

	base := time.Now().UTC()
	events := []store.Event{
		{EventID: uuid.NewString(), Type: store.EventTokenCreated, Token: "T-402", BranchID: "br-kochi-main", Payload: json.RawMessage(`{"status":"created"}`), CreatedAt: base},
		{EventID: uuid.NewString(), Type: store.EventTokenEnqueued, Token: "T-402", DepartmentID: "dept-cardiology", Payload: json.RawMessage(`{"status":"queued","department_id":"dept-cardiology"}`), CreatedAt: base.Add(time.Millisecond)},
		{EventID: uuid.NewString(), Type: store.EventStateReset, Payload: json.RawMessage(`{"token_counter":402}`), CreatedAt: base.Add(2 * time.Millisecond)},
	}
	for _, event := range events {
		if err := outbox.Send(ctx, event); err != nil {
			t.Fatalf("send %s: %v", event.Type, err)
		}
	}
	if err := outbox.Send(ctx, events[1]); err != nil {
		t.Fatalf("replay: %v", err)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events`).Scan(&count); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 outbox events, got %d", count)
	}

	journal, err := outbox.TokenEvents(ctx, "T-402")
	if err != nil {
		t.Fatalf("list token events: %v", err)
	}
	// the reset moved the outbox to a new epoch, so the chain written before
	// it is no longer current
	if len(journal) != 0 {
		t.Fatalf("expected no current-epoch events after reset, got %d", len(journal))
	}
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM token_events WHERE epoch = 0 AND token = 'T-402'`).Scan(&count); err != nil || count != 2 {
		t.Fatalf("expected 2 epoch-0 token events, got %d (%v)", count, err)
	}
	journal, err = tokenEventsAt(ctx, pool, 0, "T-402")
	if err != nil {
		t.Fatalf("epoch 0 events: %v", err)
	}
	if err := store.VerifyTokenEvents(journal); err != nil {
		t.Fatalf("stored journal does not verify: %v", err)
	}

	listed, err := outbox.ListEvents(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(listed) != 3 || listed[2].Type != store.EventStateReset || listed[1].DepartmentID != "dept-cardiology" {
		t.Fatalf("unexpected outbox listing %+v", listed)
	}
}

func TestOutboxEpochSeparatesReissuedTokens(t *testing.T) {
	ctx := context.Background()
	outbox, pool := setupTestOutbox(t, ctx)

	base := time.Now().UTC()
	send := func(o *Outbox, eventType string, offset time.Duration) {
		t.Helper()
		event := store.Event{EventID: uuid.NewString(), Type: eventType, Payload: json.RawMessage(`{}`), CreatedAt: base.Add(offset)}
		if eventType != store.EventStateReset {
			event.Token = "T-402"
		}
		if err := o.Send(ctx, event); err != nil {
			t.Fatalf("send %s: %v", eventType, err)
		}
	}

	send(outbox, store.EventTokenCreated, 0)
	send(outbox, store.EventTokenEnqueued, time.Millisecond)
	send(outbox, store.EventStateReset, 2*time.Millisecond)
	send(outbox, store.EventTokenCreated, 3*time.Millisecond)

	if outbox.Epoch() != 1 {
		t.Fatalf("expected epoch 1 after reset, got %d", outbox.Epoch())
	}
	current, err := outbox.TokenEvents(ctx, "T-402")
	if err != nil {
		t.Fatalf("token events: %v", err)
	}
	if len(current) != 1 || current[0].Seq != 1 || current[0].PrevHash != "" {
		t.Fatalf("expected a fresh chain for the reissued token, got %+v", current)
	}

	// a restart reloads the seed and must not extend the previous chain either
	restarted := NewOutbox(pool)
	if err := restarted.Migrate(ctx); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	if restarted.Epoch() != 2 {
		t.Fatalf("expected epoch 2 after restart, got %d", restarted.Epoch())
	}
	send(restarted, store.EventTokenCreated, 4*time.Millisecond)
	current, err = restarted.TokenEvents(ctx, "T-402")
	if err != nil {
		t.Fatalf("token events after restart: %v", err)
	}
	if len(current) != 1 || current[0].Seq != 1 {
		t.Fatalf("expected a fresh chain after restart, got %+v", current)
	}
	if err := store.VerifyTokenEvents(current); err != nil {
		t.Fatalf("chain does not verify: %v", err)
	}

	var total int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM token_events WHERE token = 'T-402'`).Scan(&total); err != nil || total != 4 {
		t.Fatalf("expected 4 stored token events, got %d (%v)", total, err)
	}
}

func tokenEventsAt(ctx context.Context, pool *pgxpool.Pool, epoch int64, token string) ([]store.TokenEvent, error) {
	rows, err := pool.Query(ctx, `
		SELECT token_seq, type, payload, created_at, prev_hash, hash
		FROM token_events WHERE epoch = $1 AND token = $2 ORDER BY token_seq
	`, epoch, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []store.TokenEvent
	for rows.Next() {
		var e store.TokenEvent
		var payload []byte
		if err := rows.Scan(&e.Seq, &e.Type, &payload, &e.CreatedAt, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		e.Token = models.Token(token)
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}

func setupTestOutbox(t *testing.T, ctx context.Context) (*Outbox, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	})

	outbox := NewOutbox(pool)
	if err := outbox.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return outbox, pool
}

func execOnce(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}
