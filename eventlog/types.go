// Package eventlog implements the append-only, per-entity-ordered durable
// event log: the single source of truth the rest of the core replays and
// tails. It is backed by PostgreSQL via pgx, following the connection-pool
// and LISTEN/NOTIFY patterns this service lineage already uses for
// low-overhead, direct-SQL storage access.
package eventlog

import "time"

// Event is a durably appended, immutable fact. Position is assigned by the
// store at append time and is strictly increasing across the whole log;
// Sequence is dense and strictly increasing within one EntityID.
type Event struct {
	EntityID  string
	Sequence  int
	Position  int64
	Kind      string
	Payload   []byte
	Timestamp time.Time
}

// NewEvent is the input shape for Append: everything about an event except
// the sequence (assigned relative to expectedNextSequence) and the position
// (assigned by the store).
type NewEvent struct {
	Kind      string
	Payload   []byte
	Timestamp time.Time
}
