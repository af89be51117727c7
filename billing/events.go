package billing

import "time"

// Kind identifies the shape of an event payload. New behavior requires a new
// kind; existing kinds are never reinterpreted (§6, event payload wire
// format).
type Kind string

const (
	KindBillCreated  Kind = "BillCreated"
	KindFileAttached Kind = "FileAttached"
	KindOcrRequested Kind = "OcrRequested"
	KindOcrCompleted Kind = "OcrCompleted"
	KindOcrFailed    Kind = "OcrFailed"
	KindBillApproved Kind = "BillApproved"
)

// Event is a fully formed, immutable domain event ready to fold or append.
// Apply sets Sequence from the state's NextSequence; Position stays zero
// until the caller sets it once the event log has durably appended the event.
type Event struct {
	EntityID  string
	Sequence  int
	Position  int64
	Kind      Kind
	Payload   any
	Timestamp time.Time
}

// BillCreatedPayload is the payload of a BillCreated event.
type BillCreatedPayload struct {
	Title    string
	Total    string // decimal string, two fractional digits
	Metadata map[string]string
}

// FileAttachedPayload is the payload of a FileAttached event.
type FileAttachedPayload struct {
	FileID      string
	Filename    string
	ContentType string
	Size        int64
	StorageKey  string
	Checksum    string
}

// OcrRequestedPayload is the payload of an OcrRequested event.
type OcrRequestedPayload struct {
	FileID string
}

// OcrCompletedPayload is the payload of an OcrCompleted event.
type OcrCompletedPayload struct {
	ExtractedText  string
	ExtractedTotal *string // decimal string, banker's-rounded to 2 places; nil if unknown
	ExtractedTitle string
	Confidence     string
	ProcessingTime string
}

// OcrFailedPayload is the payload of an OcrFailed event.
type OcrFailedPayload struct {
	ErrorKind string
	Message   string
}

// BillApprovedPayload is the payload of a BillApproved event.
type BillApprovedPayload struct {
	ApproverID string
	Decision   Decision
	Reason     string
}
