package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func unrestrictedLimits() Limits {
	return Limits{MaxFileBytes: 0, AllowedContentTypes: nil}
}

func TestApplyCreateBill(t *testing.T) {
	events, err := Apply(CreateBill{ID: "b1", Title: "Office supplies", Total: "42.5"}, State{}, unrestrictedLimits(), now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindBillCreated, events[0].Kind)
	payload := events[0].Payload.(BillCreatedPayload)
	assert.Equal(t, "Office supplies", payload.Title)
	assert.Equal(t, "42.50", payload.Total)
}

func TestApplyCreateBillRejectsDuplicate(t *testing.T) {
	existing := FoldAll(mustEvents(t, Apply(CreateBill{ID: "b1", Title: "x", Total: "1"}, State{}, unrestrictedLimits(), now)))
	_, err := Apply(CreateBill{ID: "b1", Title: "y", Total: "1"}, existing, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonAlreadyExists)
}

func TestApplyCreateBillRejectsEmptyTitle(t *testing.T) {
	_, err := Apply(CreateBill{ID: "b1", Title: "   ", Total: "1"}, State{}, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonTitleRequired)
}

func TestApplyCreateBillRejectsNegativeTotal(t *testing.T) {
	_, err := Apply(CreateBill{ID: "b1", Title: "x", Total: "-1"}, State{}, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonTotalNegative)
}

func TestApplyCreateBillRejectsUnparseableTotal(t *testing.T) {
	_, err := Apply(CreateBill{ID: "b1", Title: "x", Total: "not-a-number"}, State{}, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonTotalNegative)
}

func TestApplyAttachFileEmitsOcrRequestedWhenEligible(t *testing.T) {
	created := FoldAll(mustEvents(t, Apply(CreateBill{ID: "b1", Title: "x", Total: "1"}, State{}, unrestrictedLimits(), now)))

	events, err := Apply(AttachFile{
		ID: "b1", FileID: "f1", Filename: "invoice.pdf", ContentType: "application/pdf", Size: 1024,
	}, created, unrestrictedLimits(), now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindFileAttached, events[0].Kind)
	assert.Equal(t, KindOcrRequested, events[1].Kind)
	assert.Equal(t, events[1].Sequence, events[0].Sequence+1)
}

func TestApplyAttachFileSkipsOcrRequestedWhenAlreadyProcessed(t *testing.T) {
	state := stateAtProcessed(t)

	events, err := Apply(AttachFile{
		ID: "b1", FileID: "f2", Filename: "addendum.pdf", ContentType: "application/pdf", Size: 512,
	}, state, unrestrictedLimits(), now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindFileAttached, events[0].Kind)
}

func TestApplyAttachFileRejectsUnknownBill(t *testing.T) {
	_, err := Apply(AttachFile{ID: "nope", FileID: "f1", Filename: "x.pdf", Size: 1}, State{}, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonBillNotFound)
}

func TestApplyAttachFileRejectsTerminalStatus(t *testing.T) {
	state := stateAtApproved(t, DecisionApproved)
	_, err := Apply(AttachFile{ID: "b1", FileID: "f2", Filename: "x.pdf", Size: 1}, state, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonTerminalStatus)
}

func TestApplyAttachFileRejectsEmptyFilename(t *testing.T) {
	created := FoldAll(mustEvents(t, Apply(CreateBill{ID: "b1", Title: "x", Total: "1"}, State{}, unrestrictedLimits(), now)))
	_, err := Apply(AttachFile{ID: "b1", FileID: "f1", Filename: "  ", Size: 1}, created, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonFilenameRequired)
}

func TestApplyAttachFileRejectsNonPositiveSize(t *testing.T) {
	created := FoldAll(mustEvents(t, Apply(CreateBill{ID: "b1", Title: "x", Total: "1"}, State{}, unrestrictedLimits(), now)))
	_, err := Apply(AttachFile{ID: "b1", FileID: "f1", Filename: "x.pdf", Size: 0}, created, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonInvalidFileSize)
}

func TestApplyAttachFileRejectsFileTooLarge(t *testing.T) {
	created := FoldAll(mustEvents(t, Apply(CreateBill{ID: "b1", Title: "x", Total: "1"}, State{}, unrestrictedLimits(), now)))
	limits := Limits{MaxFileBytes: 100}
	_, err := Apply(AttachFile{ID: "b1", FileID: "f1", Filename: "x.pdf", Size: 200}, created, limits, now)
	assertViolation(t, err, ReasonFileTooLarge)
}

func TestApplyAttachFileRejectsDisallowedContentType(t *testing.T) {
	created := FoldAll(mustEvents(t, Apply(CreateBill{ID: "b1", Title: "x", Total: "1"}, State{}, unrestrictedLimits(), now)))
	limits := Limits{AllowedContentTypes: map[string]struct{}{"application/pdf": {}}}
	_, err := Apply(AttachFile{ID: "b1", FileID: "f1", Filename: "x.exe", ContentType: "application/x-msdownload", Size: 1}, created, limits, now)
	assertViolation(t, err, ReasonDisallowedContentType)
}

func TestApplyOcrResultRoundsTotalAndAdvancesStatus(t *testing.T) {
	state := stateAtFileAttached(t)

	total := "100.005"
	events, err := Apply(ApplyOcrResult{
		ID: "b1", ExtractedText: "text", ExtractedTotal: &total, ExtractedTitle: "Invoice #9",
	}, state, unrestrictedLimits(), now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	payload := events[0].Payload.(OcrCompletedPayload)
	require.NotNil(t, payload.ExtractedTotal)
	assert.Equal(t, "100.00", *payload.ExtractedTotal)
	assert.Equal(t, StatusProcessed, Fold(state, events[0]).Status)
}

func TestApplyOcrResultRejectsWithoutFile(t *testing.T) {
	created := FoldAll(mustEvents(t, Apply(CreateBill{ID: "b1", Title: "x", Total: "1"}, State{}, unrestrictedLimits(), now)))
	_, err := Apply(ApplyOcrResult{ID: "b1"}, created, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonNoFileAttachedForOcr)
}

func TestApplyOcrResultRejectsIneligibleStatus(t *testing.T) {
	state := stateAtApproved(t, DecisionApproved)
	_, err := Apply(ApplyOcrResult{ID: "b1"}, state, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonStatusNotEligibleForOcr)
}

func TestApplyOcrFailedSucceedsWhileFileAttached(t *testing.T) {
	state := stateAtFileAttached(t)
	events, err := Apply(MarkOcrFailed{ID: "b1", ErrorKind: "timeout", Message: "ocr timed out"}, state, unrestrictedLimits(), now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindOcrFailed, events[0].Kind)
}

func TestApplyOcrFailedRejectsWrongStatus(t *testing.T) {
	created := FoldAll(mustEvents(t, Apply(CreateBill{ID: "b1", Title: "x", Total: "1"}, State{}, unrestrictedLimits(), now)))
	_, err := Apply(MarkOcrFailed{ID: "b1"}, created, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonStatusNotFileAttached)
}

func TestApplyApproveBillApprovedAndRejected(t *testing.T) {
	state := stateAtProcessed(t)

	events, err := Apply(ApproveBill{ID: "b1", ApproverID: "alice", Decision: DecisionApproved, Reason: "looks right"}, state, unrestrictedLimits(), now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	approved := Fold(state, events[0])
	assert.Equal(t, StatusApproved, approved.Status)

	events, err = Apply(ApproveBill{ID: "b1", ApproverID: "alice", Decision: DecisionRejected, Reason: "mismatch"}, state, unrestrictedLimits(), now)
	require.NoError(t, err)
	rejected := Fold(state, events[0])
	assert.Equal(t, StatusRejected, rejected.Status)
}

func TestApplyApproveBillRejectsWrongStatus(t *testing.T) {
	created := FoldAll(mustEvents(t, Apply(CreateBill{ID: "b1", Title: "x", Total: "1"}, State{}, unrestrictedLimits(), now)))
	_, err := Apply(ApproveBill{ID: "b1", ApproverID: "alice", Decision: DecisionApproved}, created, unrestrictedLimits(), now)
	assertViolation(t, err, ReasonStatusNotProcessed)
}

func TestFoldIsDeterministic(t *testing.T) {
	ev := Event{
		EntityID:  "b1",
		Sequence:  0,
		Kind:      KindBillCreated,
		Timestamp: now,
		Payload:   BillCreatedPayload{Title: "x", Total: "1.00"},
	}
	first := Fold(State{}, ev)
	second := Fold(State{}, ev)
	assert.Equal(t, first, second)
}

func TestFoldAllAppliesSequentially(t *testing.T) {
	events := mustEvents(t, Apply(CreateBill{ID: "b1", Title: "Rent", Total: "1200"}, State{}, unrestrictedLimits(), now))
	attach, err := Apply(AttachFile{ID: "b1", FileID: "f1", Filename: "lease.pdf", ContentType: "application/pdf", Size: 10}, FoldAll(events), unrestrictedLimits(), now)
	require.NoError(t, err)
	events = append(events, attach...)

	state := FoldAll(events)
	assert.Equal(t, "b1", state.ID)
	assert.Equal(t, StatusFileAttached, state.Status)
	assert.True(t, decimal.NewFromInt(1200).Equal(state.Total))
	assert.Equal(t, 3, state.NextSequence)
	assert.True(t, state.HasFile("f1"))
}

func TestEffectiveTitleAndTotalPreferOcr(t *testing.T) {
	state := stateAtProcessed(t)
	assert.Equal(t, "Scanned Invoice", state.EffectiveTitle())
	assert.True(t, decimal.RequireFromString("99.99").Equal(state.EffectiveTotal()))
}

// --- test helpers ---

func mustEvents(t *testing.T, events []Event, err error) []Event {
	t.Helper()
	require.NoError(t, err)
	return events
}

func assertViolation(t *testing.T, err error, reason Reason) {
	t.Helper()
	var verr *ViolationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, reason, verr.Reason)
}

func eventsThroughFileAttached(t *testing.T) []Event {
	t.Helper()
	events := mustEvents(t, Apply(CreateBill{ID: "b1", Title: "x", Total: "1"}, State{}, unrestrictedLimits(), now))
	attach, err := Apply(AttachFile{ID: "b1", FileID: "f1", Filename: "x.pdf", ContentType: "application/pdf", Size: 10}, FoldAll(events), unrestrictedLimits(), now)
	require.NoError(t, err)
	return append(events, attach...)
}

func eventsThroughProcessed(t *testing.T) []Event {
	t.Helper()
	events := eventsThroughFileAttached(t)
	total := "99.99"
	ocrEvents, err := Apply(ApplyOcrResult{ID: "b1", ExtractedText: "scanned text", ExtractedTotal: &total, ExtractedTitle: "Scanned Invoice"}, FoldAll(events), unrestrictedLimits(), now)
	require.NoError(t, err)
	return append(events, ocrEvents...)
}

func stateAtFileAttached(t *testing.T) State {
	t.Helper()
	return FoldAll(eventsThroughFileAttached(t))
}

func stateAtProcessed(t *testing.T) State {
	t.Helper()
	return FoldAll(eventsThroughProcessed(t))
}

func stateAtApproved(t *testing.T, decision Decision) State {
	t.Helper()
	events := eventsThroughProcessed(t)
	approveEvents, err := Apply(ApproveBill{ID: "b1", ApproverID: "alice", Decision: decision, Reason: "ok"}, FoldAll(events), unrestrictedLimits(), now)
	require.NoError(t, err)
	return FoldAll(append(events, approveEvents...))
}
