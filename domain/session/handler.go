package session

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler serves the manager's state on the admin surface.
type Handler struct {
	mgr *Manager
}

// NewHandler creates a session handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

// HandleSnapshot returns the current session state.
// GET /api/session
func (h *Handler) HandleSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mgr.Snapshot())
}
