package reactive

import (
	"context"

	"github.com/evalgo/billcore/common"
	"github.com/evalgo/billcore/consumer"
	"github.com/evalgo/billcore/eventlog"
	"github.com/evalgo/billcore/notification"
	"github.com/evalgo/billcore/ocr"
	"github.com/evalgo/billcore/router"
	"github.com/evalgo/billcore/storage"
)

// Pipeline owns the two named reactive consumers and runs them concurrently
// over the event log (§4.5).
type Pipeline struct {
	Ocr    *consumer.Runner
	Notify *consumer.Runner
}

// New wires the OCR and notification reactive consumers, sharing one
// PostgresStore for tracking positions and dead letters with the projection
// pipeline.
func New(
	log *eventlog.Store,
	positions *consumer.PostgresStore,
	r *router.Router,
	blob *storage.Blob,
	ocrClient *ocr.Client,
	notify *notification.Adapter,
	recipients []string,
	poisonBudget int,
	logger *common.ContextLogger,
) *Pipeline {
	ocrHandler := NewOcrHandler(r, blob, ocrClient, logger)
	notifyHandler := NewNotifyHandler(notify, recipients, logger)

	return &Pipeline{
		Ocr:    consumer.NewRunner(OcrConsumerName, log, positions, positions, ocrHandler.Handle, poisonBudget, logger),
		Notify: consumer.NewRunner(NotifyConsumerName, log, positions, positions, notifyHandler.Handle, poisonBudget, logger),
	}
}

// Run starts both consumers and blocks until ctx is cancelled or either one
// returns an error.
func (p *Pipeline) Run(ctx context.Context) error {
	errs := make(chan error, 2)
	go func() { errs <- p.Ocr.Run(ctx) }()
	go func() { errs <- p.Notify.Run(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}
