package invitation

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/psicore/psicore/internal/domain/scoring"
	"github.com/psicore/psicore/pkg/pagination"
)

// Handler exposes the public token endpoints and the administrator
// invitation endpoints. The public responses are discriminated by a
// status field so the patient UI can render a distinct terminal page per
// outcome instead of a generic error.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the unauthenticated token endpoints.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.GET("/assessments/:token", h.HandleAccess)
	g.POST("/assessments/:token/progress", h.HandleSaveProgress)
	g.POST("/assessments/:token/complete", h.HandleComplete)
}

// RegisterAdminRoutes mounts the authenticated administrator endpoints.
func (h *Handler) RegisterAdminRoutes(g *echo.Group) {
	g.POST("/invitations", h.HandleCreate)
	g.GET("/invitations", h.HandleList)
	g.GET("/invitations/:id", h.HandleGet)
	g.POST("/invitations/:id/cancel", h.HandleCancel)
}

func meta(c echo.Context) Meta {
	return Meta{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

// terminalResponse maps the token-facing sentinel errors onto the
// discriminated status shapes. Anything else bubbles up unchanged.
func terminalResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"status": "not_found"})
	case errors.Is(err, ErrTokenExpired):
		return c.JSON(http.StatusGone, map[string]string{"status": "expired"})
	case errors.Is(err, ErrAlreadyCompleted):
		return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) HandleAccess(c echo.Context) error {
	view, err := h.svc.Access(c.Request().Context(), c.Param("token"), meta(c))
	if err != nil {
		return terminalResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "active",
		"active": view,
	})
}

type saveProgressRequest struct {
	Responses          []scoring.ItemResponse `json:"responses"`
	CurrentItemIndex   int                    `json:"currentItemIndex"`
	PercentageComplete float64                `json:"percentageComplete"`
}

func (h *Handler) HandleSaveProgress(c echo.Context) error {
	var req saveProgressRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	snap := ProgressSnapshot{
		Responses:          req.Responses,
		CurrentItemIndex:   req.CurrentItemIndex,
		PercentageComplete: req.PercentageComplete,
	}
	if err := h.svc.SaveProgress(c.Request().Context(), c.Param("token"), snap, meta(c)); err != nil {
		return terminalResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "saved"})
}

type completeRequest struct {
	Responses []scoring.ItemResponse `json:"responses"`
}

func (h *Handler) HandleComplete(c echo.Context) error {
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	result, err := h.svc.Complete(c.Request().Context(), c.Param("token"), req.Responses, meta(c))
	if err != nil {
		return terminalResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "completed",
		"result": map[string]interface{}{
			"raw":            result.RawScore,
			"max":            result.ScoreMax,
			"interpretation": result.Interpretation.Severity,
		},
	})
}

func (h *Handler) HandleCreate(c echo.Context) error {
	var p CreateParams
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	inv, link, err := h.svc.Create(c.Request().Context(), p)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"invitation": inv,
		"link":       link,
	})
}

func (h *Handler) HandleGet(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invitation id")
	}
	inv, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "invitation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) HandleCancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invitation id")
	}
	err = h.svc.Cancel(c.Request().Context(), id)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
	case errors.Is(err, ErrTokenNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "invitation not found")
	case errors.Is(err, ErrAlreadyCompleted), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrCancelled):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) HandleList(c echo.Context) error {
	adminParam := c.QueryParam("administrator_id")
	if adminParam == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "administrator_id is required")
	}
	adminID, err := uuid.Parse(adminParam)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid administrator_id")
	}
	p := pagination.FromContext(c)
	page, total, err := h.svc.List(c.Request().Context(), adminID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if page == nil {
		page = []*Invitation{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(page, total, p.Limit, p.Offset))
}
