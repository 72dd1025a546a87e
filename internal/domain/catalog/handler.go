package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler exposes catalog administration over HTTP. Publication is the only
// write: validate, persist, register. There is no update or delete; a
// revised instrument is published as a new version.
type Handler struct {
	reg  *Registry
	repo Repository
}

// NewHandler creates a catalog Handler. repo may be nil when running
// without a database (registry-only mode).
func NewHandler(reg *Registry, repo Repository) *Handler {
	return &Handler{reg: reg, repo: repo}
}

// RegisterRoutes binds catalog routes on the given (admin) group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/scales", h.Publish)
	g.GET("/scales", h.List)
	g.GET("/scales/:id", h.Get)
}

// Publish handles POST /scales. The definition is validated before any row
// is written; a failing scale never activates.
func (h *Handler) Publish(c echo.Context) error {
	var def Definition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	vs, err := Load(def)
	if err != nil {
		if errors.Is(err, ErrConfig) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if h.repo != nil {
		if err := h.repo.Save(c.Request().Context(), vs.Definition); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if err := h.reg.Register(vs); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	return c.JSON(http.StatusCreated, vs.Definition)
}

// List handles GET /scales: latest version of every registered scale.
func (h *Handler) List(c echo.Context) error {
	scales := h.reg.List()
	out := make([]Definition, 0, len(scales))
	for _, s := range scales {
		out = append(out, s.Definition)
	}
	return c.JSON(http.StatusOK, out)
}

// Get handles GET /scales/:id, optionally pinned with ?version=N.
func (h *Handler) Get(c echo.Context) error {
	id := c.Param("id")

	var (
		vs  *ValidatedScale
		err error
	)
	if v := c.QueryParam("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid version")
		}
		vs, err = h.reg.Get(id, version)
	} else {
		vs, err = h.reg.Latest(id)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "scale not found")
	}
	return c.JSON(http.StatusOK, vs.Definition)
}
