package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalgo/billcore/billing"
	"github.com/evalgo/billcore/common"
	"github.com/evalgo/billcore/consumer"
	"github.com/evalgo/billcore/eventlog"
)

// BillSummaryConsumerName is the projection pipeline's name for the
// bill-summary consumer (§4.4), used both as its consumer_positions key and
// its dead_letters tag.
const BillSummaryConsumerName = "bill-summary"

// BillSummary is a handler over the bill-summary read model: one row per
// bill, carrying its current fields plus its latest OCR result and approval
// decision, for the query service's single-bill and listing reads.
type BillSummary struct {
	pool *pgxpool.Pool
	log  *common.ContextLogger
}

// NewBillSummary constructs the bill-summary projection handler.
func NewBillSummary(pool *pgxpool.Pool, log *common.ContextLogger) *BillSummary {
	if log == nil {
		log = common.NewContextLogger(nil, map[string]interface{}{"component": "projection", "consumer": BillSummaryConsumerName})
	}
	return &BillSummary{pool: pool, log: log}
}

// Handle applies one raw event to the bill-summary row, advancing the
// consumer's tracking token in the same transaction as the row write (§4.4).
func (p *BillSummary) Handle(ctx context.Context, ev eventlog.Event) error {
	payload, err := billing.DecodePayload(billing.Kind(ev.Kind), ev.Payload)
	if err != nil {
		return fmt.Errorf("bill-summary: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bill-summary: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	switch pl := payload.(type) {
	case billing.BillCreatedPayload:
		metadata, encErr := json.Marshal(pl.Metadata)
		if encErr != nil {
			return fmt.Errorf("bill-summary: encode metadata: %w", encErr)
		}
		// "creator" is not a first-class event field (§3: metadata is a
		// free-form map opaque to the core); the query service's creator
		// filter reads it out of that map at projection time.
		_, err = tx.Exec(ctx, `
			INSERT INTO bill_summary (bill_id, title, total, metadata, status, creator, created_at, updated_at)
			VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $7)
			ON CONFLICT (bill_id) DO NOTHING`,
			ev.EntityID, pl.Title, pl.Total, metadata, string(billing.StatusCreated), pl.Metadata["creator"], ev.Timestamp)
		if err != nil {
			return fmt.Errorf("bill-summary: insert BillCreated: %w", err)
		}

	case billing.FileAttachedPayload:
		tag, updErr := tx.Exec(ctx, `
			UPDATE bill_summary SET status = $2, updated_at = $3 WHERE bill_id = $1`,
			ev.EntityID, string(billing.StatusFileAttached), ev.Timestamp)
		if updErr != nil {
			return fmt.Errorf("bill-summary: update FileAttached: %w", updErr)
		}
		if tag.RowsAffected() == 0 {
			p.log.WithField("bill_id", ev.EntityID).WithField("position", ev.Position).
				Warn("dropping FileAttached: no bill-summary row (reset without downstream reset?)")
		}

	case billing.OcrRequestedPayload:
		// no visible field changes on the summary row; status already
		// reflects FileAttached.

	case billing.OcrCompletedPayload:
		tag, updErr := tx.Exec(ctx, `
			UPDATE bill_summary SET
				status = $2,
				ocr_text = $3,
				ocr_total = $4::numeric,
				ocr_title = $5,
				ocr_confidence = $6,
				ocr_processing_time = $7,
				updated_at = $8
			WHERE bill_id = $1`,
			ev.EntityID, string(billing.StatusProcessed), pl.ExtractedText, pl.ExtractedTotal,
			pl.ExtractedTitle, pl.Confidence, pl.ProcessingTime, ev.Timestamp)
		if updErr != nil {
			return fmt.Errorf("bill-summary: update OcrCompleted: %w", updErr)
		}
		if tag.RowsAffected() == 0 {
			p.log.WithField("bill_id", ev.EntityID).WithField("position", ev.Position).
				Warn("dropping OcrCompleted: no bill-summary row")
		}

	case billing.OcrFailedPayload:
		tag, updErr := tx.Exec(ctx, `
			UPDATE bill_summary SET status = $2, updated_at = $3 WHERE bill_id = $1`,
			ev.EntityID, string(billing.StatusFileAttached), ev.Timestamp)
		if updErr != nil {
			return fmt.Errorf("bill-summary: update OcrFailed: %w", updErr)
		}
		if tag.RowsAffected() == 0 {
			p.log.WithField("bill_id", ev.EntityID).WithField("position", ev.Position).
				Warn("dropping OcrFailed: no bill-summary row")
		}

	case billing.BillApprovedPayload:
		status := billing.StatusApproved
		if pl.Decision == billing.DecisionRejected {
			status = billing.StatusRejected
		}
		tag, updErr := tx.Exec(ctx, `
			UPDATE bill_summary SET
				status = $2, approver_id = $3, decision = $4, reason = $5,
				approved_at = $6, updated_at = $6
			WHERE bill_id = $1`,
			ev.EntityID, string(status), pl.ApproverID, string(pl.Decision), pl.Reason, ev.Timestamp)
		if updErr != nil {
			return fmt.Errorf("bill-summary: update BillApproved: %w", updErr)
		}
		if tag.RowsAffected() == 0 {
			p.log.WithField("bill_id", ev.EntityID).WithField("position", ev.Position).
				Warn("dropping BillApproved: no bill-summary row")
		}

	default:
		return fmt.Errorf("bill-summary: unhandled event kind %q", ev.Kind)
	}

	if err := consumer.UpsertPositionTx(ctx, tx, BillSummaryConsumerName, ev.Position); err != nil {
		return fmt.Errorf("bill-summary: %w", err)
	}
	return tx.Commit(ctx)
}
