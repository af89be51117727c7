package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Limits carries the file-acceptance knobs (§6: file.maxBytes,
// file.allowedContentTypes) into Apply. It is the only configuration the
// entity ever sees, and it never reaches outside its own parameters to fetch
// it — the router reads it once from config and passes it in.
type Limits struct {
	MaxFileBytes        int64
	AllowedContentTypes map[string]struct{} // empty set means "no restriction"
}

func (l Limits) allows(contentType string) bool {
	if len(l.AllowedContentTypes) == 0 {
		return true
	}
	_, ok := l.AllowedContentTypes[contentType]
	return ok
}

// Apply validates cmd against state and, if valid, returns the events it
// produces. It performs no I/O and never mutates state; state advances only
// through Fold.
func Apply(cmd Command, state State, limits Limits, now time.Time) ([]Event, error) {
	switch c := cmd.(type) {
	case CreateBill:
		return applyCreateBill(c, state, now)
	case AttachFile:
		return applyAttachFile(c, state, limits, now)
	case ApplyOcrResult:
		return applyOcrResult(c, state, now)
	case MarkOcrFailed:
		return applyOcrFailed(c, state, now)
	case ApproveBill:
		return applyApproveBill(c, state, now)
	default:
		return nil, violation("unknown_command", "unrecognized command type %T", cmd)
	}
}

func applyCreateBill(c CreateBill, state State, now time.Time) ([]Event, error) {
	if state.Exists() {
		return nil, violation(ReasonAlreadyExists, "bill %s already exists", c.ID)
	}
	if strings.TrimSpace(c.Title) == "" {
		return nil, violation(ReasonTitleRequired, "title must not be empty")
	}
	total, err := decimal.NewFromString(c.Total)
	if err != nil || total.IsNegative() {
		return nil, violation(ReasonTotalNegative, "total must be a non-negative decimal")
	}
	total = total.Round(2)
	return []Event{{
		EntityID:  c.ID,
		Sequence:  0,
		Kind:      KindBillCreated,
		Timestamp: now,
		Payload: BillCreatedPayload{
			Title:    c.Title,
			Total:    total.StringFixed(2),
			Metadata: c.Metadata,
		},
	}}, nil
}

func applyAttachFile(c AttachFile, state State, limits Limits, now time.Time) ([]Event, error) {
	if !state.Exists() {
		return nil, violation(ReasonBillNotFound, "bill %s does not exist", c.ID)
	}
	if state.Status.Terminal() {
		return nil, violation(ReasonTerminalStatus, "bill %s is %s", c.ID, state.Status)
	}
	if strings.TrimSpace(c.Filename) == "" {
		return nil, violation(ReasonFilenameRequired, "filename must not be empty")
	}
	if c.Size <= 0 {
		return nil, violation(ReasonInvalidFileSize, "size must be positive")
	}
	if limits.MaxFileBytes > 0 && c.Size > limits.MaxFileBytes {
		return nil, violation(ReasonFileTooLarge, "size %d exceeds limit %d", c.Size, limits.MaxFileBytes)
	}
	if !limits.allows(c.ContentType) {
		return nil, violation(ReasonDisallowedContentType, "content type %q not allowed", c.ContentType)
	}

	fileID := c.FileID
	events := []Event{{
		EntityID:  c.ID,
		Sequence:  state.NextSequence,
		Kind:      KindFileAttached,
		Timestamp: now,
		Payload: FileAttachedPayload{
			FileID:      fileID,
			Filename:    c.Filename,
			ContentType: c.ContentType,
			Size:        c.Size,
			StorageKey:  c.StorageKey,
			Checksum:    c.Checksum,
		},
	}}

	if state.Status == StatusCreated || state.Status == StatusFileAttached {
		events = append(events, Event{
			EntityID:  c.ID,
			Sequence:  state.NextSequence + 1,
			Kind:      KindOcrRequested,
			Timestamp: now.Add(time.Nanosecond),
			Payload:   OcrRequestedPayload{FileID: fileID},
		})
	}
	return events, nil
}

func applyOcrResult(c ApplyOcrResult, state State, now time.Time) ([]Event, error) {
	if len(state.Files) == 0 {
		return nil, violation(ReasonNoFileAttachedForOcr, "bill %s has no attached file", c.ID)
	}
	if state.Status != StatusFileAttached && state.Status != StatusProcessed {
		return nil, violation(ReasonStatusNotEligibleForOcr, "bill %s is %s", c.ID, state.Status)
	}

	payload := OcrCompletedPayload{
		ExtractedText:  c.ExtractedText,
		ExtractedTitle: c.ExtractedTitle,
		Confidence:     c.Confidence,
		ProcessingTime: c.ProcessingTime,
	}
	if c.ExtractedTotal != nil {
		total, err := decimal.NewFromString(*c.ExtractedTotal)
		if err == nil {
			rounded := total.RoundBank(2).StringFixed(2)
			payload.ExtractedTotal = &rounded
		}
	}

	return []Event{{
		EntityID:  c.ID,
		Sequence:  state.NextSequence,
		Kind:      KindOcrCompleted,
		Timestamp: now,
		Payload:   payload,
	}}, nil
}

func applyOcrFailed(c MarkOcrFailed, state State, now time.Time) ([]Event, error) {
	if state.Status != StatusFileAttached {
		return nil, violation(ReasonStatusNotFileAttached, "bill %s is %s", c.ID, state.Status)
	}
	return []Event{{
		EntityID:  c.ID,
		Sequence:  state.NextSequence,
		Kind:      KindOcrFailed,
		Timestamp: now,
		Payload: OcrFailedPayload{
			ErrorKind: c.ErrorKind,
			Message:   c.Message,
		},
	}}, nil
}

func applyApproveBill(c ApproveBill, state State, now time.Time) ([]Event, error) {
	if state.Status != StatusProcessed {
		return nil, violation(ReasonStatusNotProcessed, "bill %s is %s", c.ID, state.Status)
	}
	return []Event{{
		EntityID:  c.ID,
		Sequence:  state.NextSequence,
		Kind:      KindBillApproved,
		Timestamp: now,
		Payload: BillApprovedPayload{
			ApproverID: c.ApproverID,
			Decision:   c.Decision,
			Reason:     c.Reason,
		},
	}}, nil
}

// Fold applies one event to state and returns the resulting state. It is
// deterministic and side-effect-free: folding the same (state, event) pair
// twice yields identical results.
func Fold(state State, ev Event) State {
	next := state
	next.NextSequence = ev.Sequence + 1

	switch ev.Kind {
	case KindBillCreated:
		p := ev.Payload.(BillCreatedPayload)
		total, _ := decimal.NewFromString(p.Total)
		next.ID = ev.EntityID
		next.Title = p.Title
		next.Total = total
		next.Metadata = p.Metadata
		next.Status = StatusCreated

	case KindFileAttached:
		p := ev.Payload.(FileAttachedPayload)
		next.Files = append(append([]File{}, state.Files...), File{
			ID:          p.FileID,
			Filename:    p.Filename,
			ContentType: p.ContentType,
			Size:        p.Size,
			StorageKey:  p.StorageKey,
			Checksum:    p.Checksum,
			AttachedAt:  ev.Timestamp,
		})
		next.Status = StatusFileAttached

	case KindOcrRequested:
		// No state change; OcrRequested exists to drive reactive handlers.

	case KindOcrCompleted:
		p := ev.Payload.(OcrCompletedPayload)
		result := OcrResult{
			ExtractedText:  p.ExtractedText,
			ExtractedTitle: p.ExtractedTitle,
			Confidence:     p.Confidence,
			ProcessingTime: p.ProcessingTime,
		}
		if p.ExtractedTotal != nil {
			total, err := decimal.NewFromString(*p.ExtractedTotal)
			if err == nil {
				result.ExtractedTotal = &total
			}
		}
		next.OCR = &result
		next.Status = StatusProcessed

	case KindOcrFailed:
		// Status unchanged; bill remains retriable.

	case KindBillApproved:
		p := ev.Payload.(BillApprovedPayload)
		next.Approval = &ApprovalRecord{
			ApproverID: p.ApproverID,
			Decision:   p.Decision,
			Reason:     p.Reason,
			Timestamp:  ev.Timestamp,
		}
		if p.Decision == DecisionRejected {
			next.Status = StatusRejected
		} else {
			next.Status = StatusApproved
		}
	}
	return next
}

// FoldAll folds a zero-value State through an ordered event stream.
func FoldAll(events []Event) State {
	var state State
	for _, ev := range events {
		state = Fold(state, ev)
	}
	return state
}
