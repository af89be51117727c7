// Package api wires the Router and Query Service to HTTP, per the spec's
// framing of the HTTP layer as trivial plumbing: it decodes a request body
// into a command value, forwards it, and translates the typed error
// taxonomy into a status code. It performs no authentication — a caller
// identity header is passed through to commands unvalidated.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/evalgo/billcore/billing"
	"github.com/evalgo/billcore/query"
	"github.com/evalgo/billcore/router"
)

// CallerIdentityHeader carries the opaque caller identity token forwarded
// into commands (§4.2); it is never validated by this layer.
const CallerIdentityHeader = "X-Caller-Identity"

// Handlers binds a Router and Query Service to echo.HandlerFunc values.
type Handlers struct {
	Router *router.Router
	Query  *query.Service
}

// RegisterRoutes attaches the command-intake and query endpoints to e.
func RegisterRoutes(e *echo.Echo, h *Handlers) {
	e.POST("/bills", h.createBill)
	e.POST("/bills/:id/files", h.attachFile)
	e.POST("/bills/:id/approve", h.approveBill)

	e.GET("/bills/:id", h.getBill)
	e.GET("/bills", h.listBills)
}

type createBillRequest struct {
	BillID   string            `json:"bill_id"`
	Title    string            `json:"title"`
	Total    string            `json:"total"`
	Metadata map[string]string `json:"metadata"`
}

func (h *Handlers) createBill(c echo.Context) error {
	var req createBillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if _, ok := metadata["creator"]; !ok {
		if caller := c.Request().Header.Get(CallerIdentityHeader); caller != "" {
			metadata["creator"] = caller
		}
	}
	cmd := billing.CreateBill{ID: req.BillID, Title: req.Title, Total: req.Total, Metadata: metadata}
	return h.dispatch(c, cmd)
}

type attachFileRequest struct {
	FileID      string `json:"file_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	StorageKey  string `json:"storage_key"`
	Checksum    string `json:"checksum"`
}

func (h *Handlers) attachFile(c echo.Context) error {
	var req attachFileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cmd := billing.AttachFile{
		ID:          c.Param("id"),
		FileID:      req.FileID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Size:        req.Size,
		StorageKey:  req.StorageKey,
		Checksum:    req.Checksum,
	}
	return h.dispatch(c, cmd)
}

type approveBillRequest struct {
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
}

func (h *Handlers) approveBill(c echo.Context) error {
	var req approveBillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cmd := billing.ApproveBill{
		ID:         c.Param("id"),
		ApproverID: req.ApproverID,
		Decision:   billing.Decision(req.Decision),
		Reason:     req.Reason,
	}
	return h.dispatch(c, cmd)
}

func (h *Handlers) dispatch(c echo.Context, cmd billing.Command) error {
	result, err := h.Router.Dispatch(c.Request().Context(), cmd)
	if err != nil {
		return routerErrorToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"bill_id":       result.BillID,
		"next_sequence": result.NextSequence,
	})
}

func (h *Handlers) getBill(c echo.Context) error {
	bill, err := h.Query.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return routerErrorToHTTP(err)
	}
	return c.JSON(http.StatusOK, bill)
}

func (h *Handlers) listBills(c echo.Context) error {
	f := query.Filter{
		Status:        c.QueryParam("status"),
		Creator:       c.QueryParam("creator"),
		TitleContains: c.QueryParam("title"),
	}
	if min := c.QueryParam("total_min"); min != "" {
		if _, err := decimal.NewFromString(min); err == nil {
			f.TotalMin = &min
		}
	}
	if max := c.QueryParam("total_max"); max != "" {
		if _, err := decimal.NewFromString(max); err == nil {
			f.TotalMax = &max
		}
	}

	page, err := h.Query.List(c.Request().Context(), f)
	if err != nil {
		return routerErrorToHTTP(err)
	}
	return c.JSON(http.StatusOK, page)
}

// routerErrorToHTTP maps the Kind taxonomy (§7) to HTTP status codes.
func routerErrorToHTTP(err error) error {
	rErr, ok := err.(*router.Error)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	switch rErr.Kind {
	case router.KindBusinessRuleViolation:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]string{"reason": rErr.Reason, "message": rErr.Message})
	case router.KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, rErr.Message)
	case router.KindConcurrencyConflict:
		return echo.NewHTTPError(http.StatusConflict, rErr.Message)
	case router.KindCancelled:
		return echo.NewHTTPError(499, rErr.Message)
	case router.KindTransientFailure:
		return echo.NewHTTPError(http.StatusServiceUnavailable, rErr.Message)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, rErr.Message)
	}
}
