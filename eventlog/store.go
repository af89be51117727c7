package eventlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalgo/billcore/common"
)

// Schema is the DDL for the event log's single append-only table. The
// (entity_id, sequence) unique constraint is the concurrency-control
// primitive: a conflicting append fails that constraint and is translated to
// ErrConcurrencyConflict. position is a database-assigned, strictly
// increasing global ordinal (§4.1).
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	position    BIGSERIAL PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	sequence    INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	payload     JSONB NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	UNIQUE (entity_id, sequence)
);
CREATE INDEX IF NOT EXISTS events_entity_id_sequence_idx ON events (entity_id, sequence);
`

const uniqueViolation = "23505"

// Store is the durable event log. It is the only component in the core that
// writes the events table; everything else reads or subscribes.
type Store struct {
	pool    *pgxpool.Pool
	channel string
	log     *common.ContextLogger
}

// NewStore wires a Store to a pgx connection pool. channel is the
// PostgreSQL channel SubscribeGlobal LISTENs on and Notify sends to; Append
// itself does not NOTIFY on it.
func NewStore(pool *pgxpool.Pool, channel string, log *common.ContextLogger) *Store {
	if log == nil {
		log = common.NewContextLogger(nil, map[string]interface{}{"component": "eventlog"})
	}
	return &Store{pool: pool, channel: channel, log: log}
}

// Append is the serialization point for one entity. If expectedNextSequence
// no longer matches the entity's next unused sequence, the whole batch is
// rejected and ErrConcurrencyConflict is returned; no events are written.
func (s *Store) Append(ctx context.Context, entityID string, expectedNextSequence int, events []NewEvent) ([]int64, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	positions := make([]int64, 0, len(events))
	for i, e := range events {
		seq := expectedNextSequence + i
		var position int64
		err := tx.QueryRow(ctx,
			`INSERT INTO events (entity_id, sequence, kind, payload, occurred_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING position`,
			entityID, seq, e.Kind, e.Payload, e.Timestamp,
		).Scan(&position)
		if err != nil {
			var pgErr *pgconn.PgError
			if isUniqueViolation(err, &pgErr) {
				return nil, ErrConcurrencyConflict
			}
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		positions = append(positions, position)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if isUniqueViolation(err, &pgErr) {
			return nil, ErrConcurrencyConflict
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.log.WithField("entity_id", entityID).
		WithField("count", len(events)).
		Debug("appended events")
	return positions, nil
}

func isUniqueViolation(err error, out **pgconn.PgError) bool {
	var pgErr *pgconn.PgError
	if ok := asPgError(err, &pgErr); ok && pgErr.Code == uniqueViolation {
		*out = pgErr
		return true
	}
	return false
}

func asPgError(err error, out **pgconn.PgError) bool {
	for err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok {
			*out = pgErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ReadEntity returns an entity's events from fromSequence (inclusive)
// onward, in sequence order. Restartable at any point.
func (s *Store) ReadEntity(ctx context.Context, entityID string, fromSequence int) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT position, entity_id, sequence, kind, payload, occurred_at
		 FROM events WHERE entity_id = $1 AND sequence >= $2 ORDER BY sequence`,
		entityID, fromSequence,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CurrentPosition returns the highest position assigned so far, or 0 if the
// log is empty.
func (s *Store) CurrentPosition(ctx context.Context) (int64, error) {
	var pos int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(position), 0) FROM events`).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return pos, nil
}

// readFrom returns all events with position > fromPosition in position
// order; used both for catch-up reads and for SubscribeGlobal.
func (s *Store) readFrom(ctx context.Context, fromPosition int64, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT position, entity_id, sequence, kind, payload, occurred_at
		 FROM events WHERE position > $1 ORDER BY position LIMIT $2`,
		fromPosition, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Position, &e.EntityID, &e.Sequence, &e.Kind, &e.Payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// Pool exposes the underlying pgx pool for components that share storage
// with the log transactionally (the projection pipeline commits read-model
// writes and its own tracking token in the same database, though not the
// same transaction as the log — the log is authoritative and independent).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
