// Package reactive implements the Reactive Handlers (§4.5): named Log
// consumers that turn events into new commands or external calls. Like the
// projection pipeline they run on consumer.Runner, so idempotent retry,
// exponential backoff, and dead-lettering come for free; what each handler
// adds is its own external call and its own idempotency check against the
// Router's authoritative state rather than a possibly-lagging read model
// (§9 Open Question 4).
package reactive

import (
	"context"
	"fmt"

	"github.com/evalgo/billcore/billing"
	"github.com/evalgo/billcore/common"
	"github.com/evalgo/billcore/eventlog"
	"github.com/evalgo/billcore/ocr"
)

// OcrConsumerName is the reactive pipeline's name for the OCR orchestration
// consumer.
const OcrConsumerName = "reactive-ocr"

// OcrHandler reacts to OcrRequested by fetching the attached file's bytes,
// calling the OCR service, and folding the outcome back through the Router
// as ApplyOcrResult or MarkOcrFailed. The OCR service's own bounded retry
// (ocr.Client's internal backoff) is where "OcrFailed bounded automatic
// retry" (§9 Open Question 2) lives — by the time Handle sees a failure, the
// service has already exhausted its attempts, so the bill is recorded as
// OcrFailed rather than leaving the event unacknowledged.
type OcrHandler struct {
	Router Dispatcher
	Blob   BlobGetter
	OCR    OcrExtractor
	log    *common.ContextLogger
}

// NewOcrHandler wires the OCR reactive handler.
func NewOcrHandler(r Dispatcher, blob BlobGetter, client OcrExtractor, log *common.ContextLogger) *OcrHandler {
	if log == nil {
		log = common.NewContextLogger(nil, map[string]interface{}{"component": "reactive", "consumer": OcrConsumerName})
	}
	return &OcrHandler{Router: r, Blob: blob, OCR: client, log: log}
}

// Handle processes one raw event, acting only on OcrRequested.
func (h *OcrHandler) Handle(ctx context.Context, ev eventlog.Event) error {
	if ev.Kind != string(billing.KindOcrRequested) {
		return nil
	}

	payload, err := billing.DecodePayload(billing.Kind(ev.Kind), ev.Payload)
	if err != nil {
		return fmt.Errorf("reactive-ocr: %w", err)
	}
	requested := payload.(billing.OcrRequestedPayload)

	state, err := h.Router.State(ctx, ev.EntityID)
	if err != nil {
		return fmt.Errorf("reactive-ocr: load state for %s: %w", ev.EntityID, err)
	}

	// Idempotency: a replayed or redelivered OcrRequested for a bill that
	// already has an OCR result (or moved past it) is a no-op, not an error
	// (§9 Open Question 4).
	if state.Status != billing.StatusFileAttached {
		h.log.WithField("bill_id", ev.EntityID).WithField("status", state.Status).
			Debug("skipping OcrRequested: bill already past FileAttached")
		return nil
	}

	var file *billing.File
	for i := range state.Files {
		if state.Files[i].ID == requested.FileID {
			file = &state.Files[i]
			break
		}
	}
	if file == nil {
		return fmt.Errorf("reactive-ocr: bill %s has no file %s", ev.EntityID, requested.FileID)
	}

	data, err := h.Blob.Get(ctx, file.StorageKey)
	if err != nil {
		return fmt.Errorf("reactive-ocr: fetch %s: %w", file.StorageKey, err)
	}

	result, err := h.OCR.Extract(ctx, data, file.ContentType, file.Filename)
	if err != nil {
		return h.markFailed(ctx, ev.EntityID, err)
	}

	var extractedTotal *string
	if result.Total != nil {
		extractedTotal = result.Total
	}

	_, err = h.Router.Dispatch(ctx, billing.ApplyOcrResult{
		ID:             ev.EntityID,
		ExtractedText:  result.Text,
		ExtractedTotal: extractedTotal,
		ExtractedTitle: result.Title,
		Confidence:     result.Confidence,
		ProcessingTime: result.ProcessingTime,
	})
	if err != nil {
		return fmt.Errorf("reactive-ocr: apply result for %s: %w", ev.EntityID, err)
	}
	return nil
}

func (h *OcrHandler) markFailed(ctx context.Context, billID string, ocrErr error) error {
	kind := "unknown"
	message := ocrErr.Error()
	if typed, ok := ocrErr.(*ocr.Error); ok {
		kind = string(typed.Kind)
		message = typed.Message
	}

	_, err := h.Router.Dispatch(ctx, billing.MarkOcrFailed{
		ID:        billID,
		ErrorKind: kind,
		Message:   message,
	})
	if err != nil {
		return fmt.Errorf("reactive-ocr: mark failed for %s: %w", billID, err)
	}
	h.log.WithField("bill_id", billID).WithField("error_kind", kind).
		Warn("OCR extraction failed; bill marked OcrFailed")
	return nil
}
