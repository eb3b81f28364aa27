package result

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/warehouse/internal/platform/auth"
	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/pagination"
	"github.com/ehr/warehouse/pkg/resource"
)

const (
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	// ResultsPath is where RegisterRoutes is mounted by the server.
	ResultsPath = "/api/v1/results/"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/queries", h.SubmitQuery)
	api.GET("/results", h.ListResults)
	api.GET("/results/:id", h.GetResult)
	api.DELETE("/results/:id", h.CancelResult)
	api.GET("/results/:id/data", h.GetResultData)
}

func httpError(err error) error {
	return echo.NewHTTPError(failure.HTTPStatus(err), err.Error())
}

func respondAsync(c echo.Context) bool {
	for _, pref := range strings.Split(c.Request().Header.Get("Prefer"), ",") {
		if strings.EqualFold(strings.TrimSpace(pref), "respond-async") {
			return true
		}
	}
	return false
}

// SubmitQuery runs a query. Without "Prefer: respond-async" the request
// blocks until the query reaches a terminal status.
func (h *Handler) SubmitQuery(c echo.Context) error {
	var q resource.Query
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(q.Select) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "select must name at least one parameter")
	}
	ctx := c.Request().Context()
	session := auth.SessionFromContext(ctx)

	if respondAsync(c) {
		r, err := h.svc.Start(ctx, session, q)
		if err != nil {
			return httpError(err)
		}
		c.Response().Header().Set("Content-Location", ResultsPath+r.ID)
		return c.JSON(http.StatusAccepted, r)
	}

	r, err := h.svc.Run(ctx, session, q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetResult(c echo.Context) error {
	r, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListResults(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL.Path, total)
	return c.JSON(http.StatusOK, resp)
}

// CancelResult stops a running query (202) or deletes a finished one (204).
func (h *Handler) CancelResult(c echo.Context) error {
	cancelled, err := h.svc.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if cancelled {
		return c.NoContent(http.StatusAccepted)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetResultData(c echo.Context) error {
	r, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if r.Status != resource.StatusComplete || r.Data == nil {
		return echo.NewHTTPError(http.StatusConflict, "result "+r.ID+" has no data, status "+string(r.Status))
	}

	format := strings.ToLower(c.QueryParam("format"))
	var buf bytes.Buffer
	switch format {
	case "", FormatJSON:
		return c.JSON(http.StatusOK, r.Data)
	case FormatCSV:
		if err := WriteCSV(&buf, r.Data); err != nil {
			return httpError(err)
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+r.ID+`.csv"`)
		return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
	case FormatXLSX:
		if err := WriteXLSX(&buf, r.Data); err != nil {
			return httpError(err)
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+r.ID+`.xlsx"`)
		return c.Blob(http.StatusOK, mimeXLSX, buf.Bytes())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported format "+format)
	}
}
