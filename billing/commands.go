package billing

// Command is the sum type of everything that may be routed to a bill. Each
// concrete type below implements it as a marker.
type Command interface {
	BillID() string
}

// CreateBill is valid only at sequence 0 (no prior state for the id).
type CreateBill struct {
	ID       string
	Title    string
	Total    string // decimal string
	Metadata map[string]string
}

func (c CreateBill) BillID() string { return c.ID }

// AttachFile is valid in any non-terminal status.
type AttachFile struct {
	ID          string
	FileID      string
	Filename    string
	ContentType string
	Size        int64
	StorageKey  string
	Checksum    string
}

func (c AttachFile) BillID() string { return c.ID }

// ApplyOcrResult is valid only once a file is attached and status is
// FileAttached or Processed.
type ApplyOcrResult struct {
	ID             string
	ExtractedText  string
	ExtractedTotal *string
	ExtractedTitle string
	Confidence     string
	ProcessingTime string
}

func (c ApplyOcrResult) BillID() string { return c.ID }

// MarkOcrFailed is valid only while status is FileAttached.
type MarkOcrFailed struct {
	ID        string
	ErrorKind string
	Message   string
}

func (c MarkOcrFailed) BillID() string { return c.ID }

// ApproveBill is valid only while status is Processed.
type ApproveBill struct {
	ID         string
	ApproverID string
	Decision   Decision
	Reason     string
}

func (c ApproveBill) BillID() string { return c.ID }
