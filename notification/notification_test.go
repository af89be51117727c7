package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderOcrCompletedFillsVariables(t *testing.T) {
	body, err := render(TemplateOcrCompleted, map[string]string{
		"bill_id":         "b1",
		"extracted_title": "Electric Utility",
		"extracted_total": "150.00",
		"confidence":      "95%",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Bill b1 finished OCR processing.")
	assert.Contains(t, body, "Electric Utility")
	assert.Contains(t, body, "150.00")
}

func TestRenderBillApprovedFillsVariables(t *testing.T) {
	body, err := render(TemplateBillApproved, map[string]string{
		"bill_id":     "b1",
		"decision":    "Approved",
		"approver_id": "u1",
		"reason":      "ok",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Bill b1 was Approved by u1.")
	assert.Contains(t, body, "Reason: ok")
}

func TestRenderUnknownTemplateErrors(t *testing.T) {
	_, err := render(Template("does_not_exist"), nil)
	assert.Error(t, err)
}

func TestSendWithNoRecipientsErrors(t *testing.T) {
	a := New(Config{Host: "localhost", Port: 2525, From: "bills@example.com"}, nil)
	err := a.Send(TemplateBillApproved, nil, map[string]string{
		"bill_id": "b1", "decision": "Approved", "approver_id": "u1", "reason": "",
	})
	assert.Error(t, err)
}

func TestBuildMessageJoinsRecipientsAndIncludesSubject(t *testing.T) {
	msg := string(buildMessage("bills@example.com", []string{"a@example.com", "b@example.com"}, "bill_approved", "body text"))
	assert.Contains(t, msg, "From: bills@example.com")
	assert.Contains(t, msg, "To: a@example.com, b@example.com")
	assert.Contains(t, msg, "Subject: bill_approved")
	assert.Contains(t, msg, "body text")
}
