// Package billing implements the bill entity: a pure, in-memory state machine
// that turns commands into events and folds events into state. It performs no
// I/O and knows nothing about the event log, the router, or any adapter.
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the bill's lifecycle position.
type Status string

const (
	StatusCreated      Status = "Created"
	StatusFileAttached Status = "FileAttached"
	StatusProcessed    Status = "Processed"
	StatusApproved     Status = "Approved"
	StatusRejected     Status = "Rejected"
)

// Terminal reports whether the status accepts no further commands other than
// a (forbidden, per current policy) OCR re-apply.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Decision is the outcome of an approval command.
type Decision string

const (
	DecisionApproved Decision = "Approved"
	DecisionRejected Decision = "Rejected"
)

// File is a child record of a bill. Once attached it is immutable.
type File struct {
	ID         string
	Filename   string
	ContentType string
	Size       int64
	StorageKey string
	Checksum   string
	AttachedAt time.Time
}

// OcrResult is the latest OCR outcome for a bill. At most one is kept; a
// later apply overwrites an earlier one.
type OcrResult struct {
	ExtractedText  string
	ExtractedTotal *decimal.Decimal
	ExtractedTitle string
	Confidence     string
	ProcessingTime string
}

// ApprovalRecord is the (at most one) approval decision on a bill.
type ApprovalRecord struct {
	ApproverID string
	Decision   Decision
	Reason     string
	Timestamp  time.Time
}

// State is the materialized form of a bill, derived solely by folding its
// event stream. Zero value represents "no bill yet" (sequence 0 / not
// created).
type State struct {
	ID       string
	Title    string
	Total    decimal.Decimal
	Metadata map[string]string
	Status   Status
	Files    []File
	OCR      *OcrResult
	Approval *ApprovalRecord

	// NextSequence is the sequence number the next event for this entity
	// must carry; it equals len(events folded so far).
	NextSequence int
}

// Exists reports whether any event has ever been folded into this state.
func (s State) Exists() bool {
	return s.NextSequence > 0
}

// EffectiveTitle prefers the OCR-extracted title when non-empty.
func (s State) EffectiveTitle() string {
	if s.OCR != nil && s.OCR.ExtractedTitle != "" {
		return s.OCR.ExtractedTitle
	}
	return s.Title
}

// EffectiveTotal prefers the OCR-extracted total when present.
func (s State) EffectiveTotal() decimal.Decimal {
	if s.OCR != nil && s.OCR.ExtractedTotal != nil {
		return *s.OCR.ExtractedTotal
	}
	return s.Total
}

// HasFile reports whether a file with the given id is already attached.
func (s State) HasFile(fileID string) bool {
	for _, f := range s.Files {
		if f.ID == fileID {
			return true
		}
	}
	return false
}
