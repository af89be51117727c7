// Package notification implements the SMTP/notification adapter (§6):
// Send(template, recipients, variables). Templating and transport are
// peripheral per the spec's scope (§1); this adapter renders a small set of
// named text templates and hands them to net/smtp, following this service
// lineage's convention (seen in its vendor email-campaign client) of a
// narrow typed Send call with structured logging of the outcome and no
// caller-visible failure — notification failures are logged and
// dead-lettered by the reactive handler that called Send, never surfaced as
// a bill-processing error.
package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"

	"github.com/evalgo/billcore/common"
)

// Template names the adapter knows how to render.
type Template string

const (
	// TemplateOcrCompleted notifies that OCR extraction finished for a bill.
	TemplateOcrCompleted Template = "ocr_completed"
	// TemplateBillApproved notifies that a bill was approved or rejected.
	TemplateBillApproved Template = "bill_approved"
)

var bodies = map[Template]*template.Template{
	TemplateOcrCompleted: template.Must(template.New(string(TemplateOcrCompleted)).Parse(
		"Bill {{.bill_id}} finished OCR processing.\n" +
			"Extracted title: {{.extracted_title}}\n" +
			"Extracted total: {{.extracted_total}}\n" +
			"Confidence: {{.confidence}}\n",
	)),
	TemplateBillApproved: template.Must(template.New(string(TemplateBillApproved)).Parse(
		"Bill {{.bill_id}} was {{.decision}} by {{.approver_id}}.\n" +
			"Reason: {{.reason}}\n",
	)),
}

// Config carries the SMTP connection parameters for one relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Adapter sends notification emails over SMTP.
type Adapter struct {
	cfg Config
	log *common.ContextLogger
}

// New wires a notification Adapter to cfg.
func New(cfg Config, log *common.ContextLogger) *Adapter {
	if log == nil {
		log = common.NewContextLogger(nil, map[string]interface{}{"component": "notification"})
	}
	return &Adapter{cfg: cfg, log: log}
}

// Send renders tmpl with variables and delivers it to recipients. A failure
// is returned to the caller (a reactive handler), which is responsible for
// retry and dead-lettering; Send itself never retries.
func (a *Adapter) Send(tmpl Template, recipients []string, variables map[string]string) error {
	body, err := render(tmpl, variables)
	if err != nil {
		return fmt.Errorf("render %s: %w", tmpl, err)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("send %s: no recipients", tmpl)
	}

	msg := buildMessage(a.cfg.From, recipients, string(tmpl), body)

	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	var auth smtp.Auth
	if a.cfg.Username != "" {
		auth = smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, a.cfg.From, recipients, msg); err != nil {
		a.log.WithField("template", tmpl).WithField("recipients", len(recipients)).
			WithError(err).Error("notification send failed")
		return fmt.Errorf("smtp send %s: %w", tmpl, err)
	}

	a.log.WithField("template", tmpl).WithField("recipients", len(recipients)).
		Info("notification sent")
	return nil
}

func render(tmpl Template, variables map[string]string) (string, error) {
	t, ok := bodies[tmpl]
	if !ok {
		return "", fmt.Errorf("unknown template %q", tmpl)
	}
	vars := make(map[string]string, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", joinAddrs(to))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}
