package waitlist

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes the administrator waitlist endpoints.
type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/waitlist", h.HandleEnroll)
	g.GET("/waitlist", h.HandleList)
	g.POST("/waitlist/:id/withdraw", h.HandleWithdraw)
}

type enrollRequest struct {
	PatientID        uuid.UUID `json:"patient_id"`
	AdministratorID  uuid.UUID `json:"administrator_id"`
	ScaleID          string    `json:"scale_id"`
	Recipient        string    `json:"recipient"`
	Priority         Priority  `json:"priority"`
	PreferredWindows []Window  `json:"preferred_windows,omitempty"`
}

func (h *Handler) HandleEnroll(c echo.Context) error {
	var req enrollRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == uuid.Nil || req.AdministratorID == uuid.Nil || req.ScaleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id, administrator_id and scale_id are required")
	}
	if !validPriorities[req.Priority] {
		return echo.NewHTTPError(http.StatusBadRequest, "priority must be high, medium or low")
	}
	for _, w := range req.PreferredWindows {
		if err := w.validate(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	e := &Entry{
		PatientID:        req.PatientID,
		AdministratorID:  req.AdministratorID,
		ScaleID:          req.ScaleID,
		Recipient:        req.Recipient,
		Priority:         req.Priority,
		PreferredWindows: req.PreferredWindows,
		Status:           StatusWaiting,
		RequestedAt:      time.Now().UTC(),
	}
	if err := h.repo.Create(c.Request().Context(), e); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) HandleList(c echo.Context) error {
	scaleID := c.QueryParam("scale_id")
	if scaleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scale_id is required")
	}
	entries, err := h.repo.ListWaiting(c.Request().Context(), scaleID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) HandleWithdraw(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid entry id")
	}
	claimed, err := h.repo.Withdraw(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "entry not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !claimed {
		return echo.NewHTTPError(http.StatusConflict, ErrNotWaiting.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "withdrawn"})
}
