// Package projection implements the Projection Pipeline (§4.4): named
// consumers that derive queryable read-model tables from the event log, each
// advancing its tracking token atomically with its own read-model writes.
// Grounded on this service lineage's repository layer (JSONB extraction,
// upsert-on-conflict writes for idempotent replay).
package projection

// Schema is the DDL for the two read-model tables the query service reads.
// Both are derivable from the event log and MAY be rebuilt from scratch by
// resetting their consumer's tracking token to zero (§6: persisted state
// layout).
const Schema = `
CREATE TABLE IF NOT EXISTS bill_summary (
	bill_id              TEXT PRIMARY KEY,
	title                TEXT NOT NULL,
	total                NUMERIC(12,2) NOT NULL,
	metadata             JSONB NOT NULL DEFAULT '{}',
	status               TEXT NOT NULL,
	creator               TEXT NOT NULL DEFAULT '',
	ocr_text             TEXT NOT NULL DEFAULT '',
	ocr_total            NUMERIC(12,2),
	ocr_title            TEXT NOT NULL DEFAULT '',
	ocr_confidence       TEXT NOT NULL DEFAULT '',
	ocr_processing_time  TEXT NOT NULL DEFAULT '',
	approver_id          TEXT NOT NULL DEFAULT '',
	decision             TEXT NOT NULL DEFAULT '',
	reason               TEXT NOT NULL DEFAULT '',
	approved_at          TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bill_summary_status_idx ON bill_summary (status);
CREATE INDEX IF NOT EXISTS bill_summary_created_at_idx ON bill_summary (created_at);
CREATE INDEX IF NOT EXISTS bill_summary_total_idx ON bill_summary (total);

CREATE TABLE IF NOT EXISTS bill_files (
	bill_id      TEXT NOT NULL,
	file_id      TEXT NOT NULL,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size         BIGINT NOT NULL,
	storage_key  TEXT NOT NULL,
	checksum     TEXT NOT NULL,
	attached_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (bill_id, file_id)
);
CREATE INDEX IF NOT EXISTS bill_files_bill_id_idx ON bill_files (bill_id);
`
