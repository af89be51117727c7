package reactive

import (
	"context"

	"github.com/evalgo/billcore/billing"
	"github.com/evalgo/billcore/notification"
	"github.com/evalgo/billcore/ocr"
	"github.com/evalgo/billcore/router"
)

// Dispatcher is the slice of *router.Router the reactive handlers depend on.
// Accepting an interface rather than the concrete type keeps the handlers
// testable against an in-memory fake instead of a live Postgres-backed
// event log.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd billing.Command) (router.Result, error)
	State(ctx context.Context, id string) (billing.State, error)
}

// BlobGetter is the slice of *storage.Blob the OCR handler depends on.
type BlobGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// OcrExtractor is the slice of *ocr.Client the OCR handler depends on.
type OcrExtractor interface {
	Extract(ctx context.Context, data []byte, contentType, filename string) (*ocr.Result, error)
}

// Notifier is the slice of *notification.Adapter the notify handler depends
// on.
type Notifier interface {
	Send(tmpl notification.Template, recipients []string, variables map[string]string) error
}
