package projection

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalgo/billcore/billing"
	"github.com/evalgo/billcore/common"
	"github.com/evalgo/billcore/consumer"
	"github.com/evalgo/billcore/eventlog"
)

// BillFilesConsumerName is the projection pipeline's name for the bill-files
// consumer (§4.4).
const BillFilesConsumerName = "bill-files"

// BillFiles is a handler over the bill-files read model: one row per file
// attached to a bill, for the query service's file-listing reads. Only
// FileAttached ever writes to it; every other event kind is a no-op here.
type BillFiles struct {
	pool *pgxpool.Pool
	log  *common.ContextLogger
}

// NewBillFiles constructs the bill-files projection handler.
func NewBillFiles(pool *pgxpool.Pool, log *common.ContextLogger) *BillFiles {
	if log == nil {
		log = common.NewContextLogger(nil, map[string]interface{}{"component": "projection", "consumer": BillFilesConsumerName})
	}
	return &BillFiles{pool: pool, log: log}
}

// Handle applies one raw event to the bill-files table.
func (p *BillFiles) Handle(ctx context.Context, ev eventlog.Event) error {
	if ev.Kind != string(billing.KindFileAttached) {
		return p.advanceOnly(ctx, ev.Position)
	}

	payload, err := billing.DecodePayload(billing.Kind(ev.Kind), ev.Payload)
	if err != nil {
		return fmt.Errorf("bill-files: %w", err)
	}
	pl := payload.(billing.FileAttachedPayload)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bill-files: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO bill_files (bill_id, file_id, filename, content_type, size, storage_key, checksum, attached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (bill_id, file_id) DO NOTHING`,
		ev.EntityID, pl.FileID, pl.Filename, pl.ContentType, pl.Size, pl.StorageKey, pl.Checksum, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("bill-files: insert FileAttached: %w", err)
	}

	if err := consumer.UpsertPositionTx(ctx, tx, BillFilesConsumerName, ev.Position); err != nil {
		return fmt.Errorf("bill-files: %w", err)
	}
	return tx.Commit(ctx)
}

// advanceOnly moves the tracking token past an event this projection has no
// row to write for, so the consumer's position still reflects the log's
// leading edge between the FileAttached events it cares about.
func (p *BillFiles) advanceOnly(ctx context.Context, position int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bill-files: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := consumer.UpsertPositionTx(ctx, tx, BillFilesConsumerName, position); err != nil {
		return fmt.Errorf("bill-files: %w", err)
	}
	return tx.Commit(ctx)
}
