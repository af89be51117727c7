package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalgo/billcore/router"
)

// Presigner issues a time-limited download URL for a blob store key. ttl <=
// 0 asks the implementation to use its own configured default.
// *storage.Blob satisfies this.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Service is the read-only Query Service over the bill-summary and
// bill-files projections.
type Service struct {
	pool   *pgxpool.Pool
	presig Presigner
}

// New constructs a Service against the same database the projection
// pipeline writes to. Call SetBlobStore to enable query-time presigned
// download URLs on attached files.
func New(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// SetBlobStore wires a Presigner so Get's file listing carries a presigned
// download URL per file (§2 component 7). Without it, File.DownloadURL stays
// empty.
func (s *Service) SetBlobStore(p Presigner) {
	s.presig = p
}

// Get fetches a single bill by id, joined with its files, or a router.Error
// of Kind NotFound if the projection has no row for it.
func (s *Service) Get(ctx context.Context, id string) (Bill, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT bill_id, title, total::text, metadata, status, creator,
		       ocr_text, ocr_total::text, ocr_title, ocr_confidence, ocr_processing_time,
		       approver_id, decision, reason, approved_at, created_at, updated_at
		FROM bill_summary WHERE bill_id = $1`, id)

	bill, err := scanBill(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Bill{}, &router.Error{Kind: router.KindNotFound, Message: fmt.Sprintf("bill %s not found", id)}
		}
		return Bill{}, fmt.Errorf("query: get %s: %w", id, err)
	}

	files, err := s.filesFor(ctx, id)
	if err != nil {
		return Bill{}, fmt.Errorf("query: get %s: %w", id, err)
	}
	bill.Files = files
	return bill, nil
}

func (s *Service) filesFor(ctx context.Context, billID string) ([]File, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT file_id, filename, content_type, size, storage_key, checksum, attached_at
		FROM bill_files WHERE bill_id = $1 ORDER BY attached_at`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.Filename, &f.ContentType, &f.Size, &f.StorageKey, &f.Checksum, &f.AttachedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.presignAll(ctx, files)
	return files, nil
}

// presignAll populates DownloadURL on each file in place. A presign failure
// is dropped without being logged or returned: that file's DownloadURL stays
// empty and the query still succeeds, since the bill metadata is still useful
// without a download link.
func (s *Service) presignAll(ctx context.Context, files []File) {
	if s.presig == nil {
		return
	}
	for i := range files {
		url, err := s.presig.PresignGet(ctx, files[i].StorageKey, 0)
		if err != nil {
			continue
		}
		files[i].DownloadURL = url
	}
}

// List returns one page of bills matching f (§4.6).
func (s *Service) List(ctx context.Context, f Filter) (Page, error) {
	page := f.Page
	if page <= 0 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	where, args := buildWhere(f)

	var total int
	countSQL := "SELECT count(*) FROM bill_summary " + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("query: count: %w", err)
	}

	sortCol := "created_at"
	if f.SortBy == SortByTotal {
		sortCol = "total"
	}
	sortDir := "ASC"
	if f.SortDir == SortDesc {
		sortDir = "DESC"
	}

	args = append(args, pageSize, (page-1)*pageSize)
	listSQL := fmt.Sprintf(`
		SELECT bill_id, title, total::text, metadata, status, creator,
		       ocr_text, ocr_total::text, ocr_title, ocr_confidence, ocr_processing_time,
		       approver_id, decision, reason, approved_at, created_at, updated_at
		FROM bill_summary %s
		ORDER BY %s %s, bill_id
		LIMIT $%d OFFSET $%d`, where, sortCol, sortDir, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query: list: %w", err)
	}
	defer rows.Close()

	var bills []Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return Page{}, fmt.Errorf("query: list scan: %w", err)
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("query: list: %w", err)
	}

	return Page{Bills: bills, Page: page, PageSize: pageSize, TotalCount: total}, nil
}

func buildWhere(f Filter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Creator != "" {
		add("creator = $%d", f.Creator)
	}
	if f.CreatedFrom != nil {
		add("created_at >= $%d", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at <= $%d", *f.CreatedTo)
	}
	if f.TotalMin != nil {
		add("total >= $%d::numeric", *f.TotalMin)
	}
	if f.TotalMax != nil {
		add("total <= $%d::numeric", *f.TotalMax)
	}
	if f.TitleContains != "" {
		add("title ILIKE $%d", "%"+f.TitleContains+"%")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBill(row scannable) (Bill, error) {
	var b Bill
	var metadata []byte
	var ocrText, ocrTitle, ocrConfidence, ocrProcessingTime *string
	var ocrTotal *string
	var approverID, decision, reason *string
	var approvedAt *time.Time

	err := row.Scan(
		&b.ID, &b.Title, &b.Total, &metadata, &b.Status, &b.Creator,
		&ocrText, &ocrTotal, &ocrTitle, &ocrConfidence, &ocrProcessingTime,
		&approverID, &decision, &reason, &approvedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return Bill{}, err
	}

	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &b.Metadata)
	}

	if ocrText != nil {
		b.OCR = &Ocr{
			Text:           derefStr(ocrText),
			Total:          ocrTotal,
			Title:          derefStr(ocrTitle),
			Confidence:     derefStr(ocrConfidence),
			ProcessingTime: derefStr(ocrProcessingTime),
		}
	}

	if approverID != nil && *approverID != "" {
		b.Approval = &Approval{
			ApproverID: derefStr(approverID),
			Decision:   derefStr(decision),
			Reason:     derefStr(reason),
		}
		if approvedAt != nil {
			b.Approval.ApprovedAt = *approvedAt
		}
	}

	b.EffectiveTitle = b.Title
	if b.OCR != nil && b.OCR.Title != "" {
		b.EffectiveTitle = b.OCR.Title
	}
	b.EffectiveTotal = b.Total
	if b.OCR != nil && b.OCR.Total != nil {
		b.EffectiveTotal = *b.OCR.Total
	}

	return b, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
