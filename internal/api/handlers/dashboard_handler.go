package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MilanSurkos/fakturomat/internal/services"
)

// DashboardHandler serves the aggregated dashboard numbers.
type DashboardHandler struct {
	dashboardService services.IDashboardService
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(dashboardService services.IDashboardService) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService}
}

// Get handles GET /v1/dashboard. Results come from the short-lived cache when
// one is configured.
func (h *DashboardHandler) Get(c *gin.Context) {
	stats, err := h.dashboardService.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
