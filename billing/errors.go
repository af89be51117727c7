package billing

import "fmt"

// Reason is a machine-readable tag attached to a BusinessRuleViolation.
type Reason string

const (
	ReasonTitleRequired           Reason = "title_required"
	ReasonTotalNegative           Reason = "total_negative"
	ReasonAlreadyExists           Reason = "bill_already_exists"
	ReasonTerminalStatus          Reason = "bill_is_terminal"
	ReasonFilenameRequired        Reason = "filename_required"
	ReasonInvalidFileSize         Reason = "invalid_file_size"
	ReasonFileTooLarge            Reason = "file_too_large"
	ReasonDisallowedContentType   Reason = "content_type_not_allowed"
	ReasonNoFileAttachedForOcr    Reason = "no_file_attached_for_ocr"
	ReasonStatusNotEligibleForOcr Reason = "status_not_eligible_for_ocr_apply"
	ReasonStatusNotFileAttached   Reason = "status_not_file_attached_for_ocr_failure"
	ReasonStatusNotProcessed      Reason = "status_not_processed_for_approval"
	ReasonBillNotFound            Reason = "bill_not_found"
)

// ViolationError is returned by Apply when a command is invalid against the
// current state. It never wraps I/O or storage failures: those are the
// router's concern, not the entity's.
type ViolationError struct {
	Reason  Reason
	Message string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func violation(reason Reason, format string, args ...any) error {
	return &ViolationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
