// Package ontology exposes the adapter's ontology over HTTP.
package ontology

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/warehouse/internal/platform/auth"
	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
)

type Handler struct {
	paths resource.PathResource
}

func NewHandler(paths resource.PathResource) *Handler {
	return &Handler{paths: paths}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/ontology")
	g.GET("/path", h.GetPathRelationship)
	g.GET("/search", h.SearchPaths)
	g.GET("/code", h.SearchOntology)
	g.GET("/find", h.Find)
	g.GET("/return-entities", h.ReturnEntities)
}

func httpError(err error) error {
	return echo.NewHTTPError(failure.HTTPStatus(err), err.Error())
}

// scope returns the entity named by the pui parameter, or nil to search
// every project.
func scope(c echo.Context) *resource.Entity {
	if pui := c.QueryParam("pui"); pui != "" {
		return &resource.Entity{PUI: pui}
	}
	return nil
}

func requireParam(c echo.Context, name string) (string, error) {
	v := c.QueryParam(name)
	if v == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, name+" query parameter is required")
	}
	return v, nil
}

func (h *Handler) GetPathRelationship(c echo.Context) error {
	pui, err := requireParam(c, "pui")
	if err != nil {
		return err
	}
	rel := resource.RelationshipChild
	if r := c.QueryParam("relationship"); r != "" {
		rel = resource.Relationship(strings.ToUpper(r))
	}
	ctx := c.Request().Context()
	entities, err := h.paths.GetPathRelationship(ctx, auth.SessionFromContext(ctx), resource.Entity{PUI: pui}, rel)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entities)
}

func (h *Handler) SearchPaths(c echo.Context) error {
	term, err := requireParam(c, "term")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	entities, err := h.paths.SearchPaths(ctx, auth.SessionFromContext(ctx), scope(c), term)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entities)
}

func (h *Handler) SearchOntology(c echo.Context) error {
	typ, err := requireParam(c, "type")
	if err != nil {
		return err
	}
	term, err := requireParam(c, "term")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	entities, err := h.paths.SearchOntology(ctx, auth.SessionFromContext(ctx), scope(c), typ, term)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entities)
}

func (h *Handler) Find(c echo.Context) error {
	term, err := requireParam(c, "term")
	if err != nil {
		return err
	}
	find := resource.FindByPath{Term: term, Strategy: c.QueryParam("strategy")}
	if v := c.QueryParam("observationOnly"); v != "" {
		if find.ObservationOnly, err = strconv.ParseBool(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid observationOnly")
		}
	}
	ctx := c.Request().Context()
	entities, err := h.paths.Find(ctx, auth.SessionFromContext(ctx), scope(c), find)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entities)
}

func (h *Handler) ReturnEntities(c echo.Context) error {
	return c.JSON(http.StatusOK, h.paths.ReturnEntities())
}
