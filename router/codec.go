package router

import "github.com/evalgo/billcore/billing"

// encodePayload and decodePayload delegate to the billing package's codec so
// every caller of the raw event log (this Router, the projection pipeline,
// the reactive handlers) agrees on one wire format.
func encodePayload(kind billing.Kind, payload any) ([]byte, error) {
	return billing.EncodePayload(kind, payload)
}

func decodePayload(kind billing.Kind, raw []byte) (any, error) {
	return billing.DecodePayload(kind, raw)
}
