package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalgo/billcore/eventlog"
)

// Schema is the DDL for the tables every Runner shares: one row per named
// consumer tracking its position, and one row per dead-lettered event.
const Schema = `
CREATE TABLE IF NOT EXISTS consumer_positions (
	consumer_name TEXT PRIMARY KEY,
	position      BIGINT NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS dead_letters (
	id              BIGSERIAL PRIMARY KEY,
	consumer_name   TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	sequence        INTEGER NOT NULL,
	position        BIGINT NOT NULL,
	kind            TEXT NOT NULL,
	payload         JSONB NOT NULL,
	last_error      TEXT NOT NULL,
	attempt_count   INTEGER NOT NULL,
	first_failed_at TIMESTAMPTZ NOT NULL,
	dead_lettered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore implements both PositionStore and DeadLetterSink against the
// same pool the event log uses, following the repository layer's
// upsert-on-conflict style for idempotent writes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a PostgresStore to pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// LoadPosition returns a consumer's last saved position, or 0 if it has
// never run.
func (s *PostgresStore) LoadPosition(ctx context.Context, consumerName string) (int64, error) {
	var pos int64
	err := s.pool.QueryRow(ctx,
		`SELECT position FROM consumer_positions WHERE consumer_name = $1`,
		consumerName,
	).Scan(&pos)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("load position for %s: %w", consumerName, err)
	}
	return pos, nil
}

// SavePosition advances (or resets) a consumer's tracking position.
func (s *PostgresStore) SavePosition(ctx context.Context, consumerName string, position int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO consumer_positions (consumer_name, position, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (consumer_name) DO UPDATE SET position = $2, updated_at = now()`,
		consumerName, position,
	)
	if err != nil {
		return fmt.Errorf("save position for %s: %w", consumerName, err)
	}
	return nil
}

// UpsertPositionTx advances a consumer's tracking position as part of an
// existing transaction, so the projection pipeline can commit a read-model
// write and its tracking-token advance atomically (§4.4).
func UpsertPositionTx(ctx context.Context, tx pgx.Tx, consumerName string, position int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO consumer_positions (consumer_name, position, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (consumer_name) DO UPDATE SET position = $2, updated_at = now()`,
		consumerName, position,
	)
	if err != nil {
		return fmt.Errorf("save position for %s: %w", consumerName, err)
	}
	return nil
}

// DeadLetter persists an event a Runner could not process within its
// poison budget, for operator inspection and later manual replay.
func (s *PostgresStore) DeadLetter(ctx context.Context, consumerName string, ev eventlog.Event, lastErr error, attempts int) error {
	errMsg := ""
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letters
		 (consumer_name, entity_id, sequence, position, kind, payload, last_error, attempt_count, first_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		consumerName, ev.EntityID, ev.Sequence, ev.Position, ev.Kind, payload, errMsg, attempts, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("dead-letter event at position %d for %s: %w", ev.Position, consumerName, err)
	}
	return nil
}
