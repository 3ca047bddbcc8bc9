package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ninho/pkg/api/types"
	"github.com/urmzd/ninho/pkg/device"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	controller device.Controller
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(controller device.Controller) *HealthHandler {
	return &HealthHandler{controller: controller}
}

// Health handles GET /health
// @Summary      Health check
// @Description  Returns the health of the bridge and the board session. A bridge without a board is degraded but still serves requests.
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse  "Board connected"
// @Failure      503  {object}  types.HealthResponse  "No board session"
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	st := h.controller.Status()

	status := "healthy"
	httpStatus := http.StatusOK
	if st.Status != device.StatusConnected {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, types.HealthResponse{
		Status:     status,
		Controller: st.Status,
		Timestamp:  time.Now(),
	})
}
