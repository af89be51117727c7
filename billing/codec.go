package billing

import (
	"encoding/json"
	"fmt"
)

// EncodePayload serializes a domain event payload to the JSON the event log
// stores. The wire format is intentionally plain JSON, not a binary codec: it
// keeps the events table inspectable with ordinary SQL tools.
func EncodePayload(kind Kind, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return b, nil
}

// DecodePayload is EncodePayload's inverse, dispatching on kind so the result
// is the concrete payload type Fold expects. Every consumer of the raw event
// log (the Router, the projection pipeline, the reactive handlers) decodes
// through this one switch so a new event kind only needs wiring in one place.
func DecodePayload(kind Kind, raw []byte) (any, error) {
	var payload any
	switch kind {
	case KindBillCreated:
		payload = &BillCreatedPayload{}
	case KindFileAttached:
		payload = &FileAttachedPayload{}
	case KindOcrRequested:
		payload = &OcrRequestedPayload{}
	case KindOcrCompleted:
		payload = &OcrCompletedPayload{}
	case KindOcrFailed:
		payload = &OcrFailedPayload{}
	case KindBillApproved:
		payload = &BillApprovedPayload{}
	default:
		return nil, fmt.Errorf("decode: unknown event kind %q", kind)
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return derefPayload(payload), nil
}

// derefPayload returns the pointed-to value so Fold's type switch on value
// types (not pointers) matches, mirroring how Apply builds event payloads by
// value.
func derefPayload(p any) any {
	switch v := p.(type) {
	case *BillCreatedPayload:
		return *v
	case *FileAttachedPayload:
		return *v
	case *OcrRequestedPayload:
		return *v
	case *OcrCompletedPayload:
		return *v
	case *OcrFailedPayload:
		return *v
	case *BillApprovedPayload:
		return *v
	default:
		return p
	}
}
