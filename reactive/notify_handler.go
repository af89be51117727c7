package reactive

import (
	"context"
	"fmt"

	"github.com/evalgo/billcore/billing"
	"github.com/evalgo/billcore/common"
	"github.com/evalgo/billcore/eventlog"
	"github.com/evalgo/billcore/notification"
)

// NotifyConsumerName is the reactive pipeline's name for the notification
// consumer.
const NotifyConsumerName = "reactive-notify"

// NotifyHandler reacts to OcrCompleted and BillApproved by sending an email
// through the notification adapter (§4.5). A send failure is returned
// wrapped with the event kind and bill id, so the owning consumer.Runner
// retries it with backoff and
// eventually dead-letters it; that failure never blocks or fails the bill
// itself.
type NotifyHandler struct {
	Notify     Notifier
	Recipients []string
	log        *common.ContextLogger
}

// NewNotifyHandler wires the notification reactive handler. recipients is
// the fixed operator distribution list notifications go to (§6: the spec
// names no per-bill recipient, so this is a deployment-wide list).
func NewNotifyHandler(notify Notifier, recipients []string, log *common.ContextLogger) *NotifyHandler {
	if log == nil {
		log = common.NewContextLogger(nil, map[string]interface{}{"component": "reactive", "consumer": NotifyConsumerName})
	}
	return &NotifyHandler{Notify: notify, Recipients: recipients, log: log}
}

// Handle processes one raw event, sending a notification for OcrCompleted
// and BillApproved and ignoring every other kind.
func (h *NotifyHandler) Handle(ctx context.Context, ev eventlog.Event) error {
	payload, err := billing.DecodePayload(billing.Kind(ev.Kind), ev.Payload)
	if err != nil {
		return fmt.Errorf("reactive-notify: %w", err)
	}

	switch pl := payload.(type) {
	case billing.OcrCompletedPayload:
		extractedTotal := ""
		if pl.ExtractedTotal != nil {
			extractedTotal = *pl.ExtractedTotal
		}
		err := h.Notify.Send(notification.TemplateOcrCompleted, h.Recipients, map[string]string{
			"bill_id":         ev.EntityID,
			"extracted_title": pl.ExtractedTitle,
			"extracted_total": extractedTotal,
			"confidence":      pl.Confidence,
		})
		if err != nil {
			return fmt.Errorf("reactive-notify: ocr completed for %s: %w", ev.EntityID, err)
		}

	case billing.BillApprovedPayload:
		err := h.Notify.Send(notification.TemplateBillApproved, h.Recipients, map[string]string{
			"bill_id":     ev.EntityID,
			"decision":    string(pl.Decision),
			"approver_id": pl.ApproverID,
			"reason":      pl.Reason,
		})
		if err != nil {
			return fmt.Errorf("reactive-notify: bill approved for %s: %w", ev.EntityID, err)
		}
	}

	return nil
}
