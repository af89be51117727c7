// Package query implements the Query Service (§4.6): read-only access to
// the bill-summary and bill-files projections, with filtering, pagination,
// and the "effective title"/"effective total" derived fields. It never
// touches the event log or the Router.
package query

import "time"

// SortField names a column the listing may be ordered by.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByTotal     SortField = "total"
)

// SortDirection is ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// MaxPageSize is the hard ceiling on List's PageSize (§4.6).
const MaxPageSize = 100

// Filter narrows a bill listing. A zero-value field means "no constraint on
// this dimension"; Page defaults to 1 and PageSize defaults to 20 when <= 0.
type Filter struct {
	Status        string
	Creator       string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	TotalMin      *string // decimal string
	TotalMax      *string // decimal string
	TitleContains string

	Page     int
	PageSize int
	SortBy   SortField
	SortDir  SortDirection
}

// File is one attached file's listing projection. DownloadURL is populated
// at query time by presigning StorageKey against the blob store (§2
// component 7); it is empty when the Service has no blob store wired, or
// when presigning that particular key failed.
type File struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
	StorageKey  string
	Checksum    string
	AttachedAt  time.Time
	DownloadURL string
}

// Ocr is the latest OCR result materialized on the summary row.
type Ocr struct {
	Text           string
	Total          *string
	Title          string
	Confidence     string
	ProcessingTime string
}

// Approval is the materialized approval decision.
type Approval struct {
	ApproverID string
	Decision   string
	Reason     string
	ApprovedAt time.Time
}

// Bill is the Query Service's DTO for a single bill, joined with its files.
type Bill struct {
	ID       string
	Title    string
	Total    string
	Metadata map[string]string
	Status   string
	Creator  string

	EffectiveTitle string
	EffectiveTotal string

	Files    []File
	OCR      *Ocr
	Approval *Approval

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Page is one page of a bill listing.
type Page struct {
	Bills      []Bill
	Page       int
	PageSize   int
	TotalCount int
}
