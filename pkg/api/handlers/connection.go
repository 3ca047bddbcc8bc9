package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ninho/pkg/api/types"
	"github.com/urmzd/ninho/pkg/device"
)

// ConnectionHandler handles port listing and the serial session lifecycle
type ConnectionHandler struct {
	controller device.Controller
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(controller device.Controller) *ConnectionHandler {
	return &ConnectionHandler{controller: controller}
}

// ListPorts handles GET /ports
// @Summary      List serial ports
// @Description  Returns the serial ports on the host; ports behind a known USB-UART bridge are listed first
// @Tags         connection
// @Produce      json
// @Success      200  {object}  types.ListPortsResponse
// @Failure      501  {object}  types.ErrorResponse  "Serial not supported on this host"
// @Router       /ports [get]
func (h *ConnectionHandler) ListPorts(c *gin.Context) {
	ports, err := h.controller.ListPorts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if ports == nil {
		ports = []device.PortInfo{}
	}

	c.JSON(http.StatusOK, types.ListPortsResponse{
		Ports: ports,
		Count: len(ports),
	})
}

// Connect handles POST /connection
// @Summary      Connect to the board
// @Description  Opens the serial session. Without a port the configured one, or the first USB bridge found, is used. Connecting while connected is a no-op.
// @Tags         connection
// @Accept       json
// @Produce      json
// @Param        request  body      types.ConnectRequest  false  "Port and baud rate"
// @Success      200      {object}  device.ConnectionStatus
// @Failure      400      {object}  types.ErrorResponse  "No port selected"
// @Failure      403      {object}  types.ErrorResponse  "Permission denied"
// @Failure      503      {object}  types.ErrorResponse  "Board unplugged"
// @Router       /connection [post]
func (h *ConnectionHandler) Connect(c *gin.Context) {
	var req types.ConnectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}

	opts := device.ConnectOptions{Port: req.Port, BaudRate: req.BaudRate}
	if err := h.controller.Connect(c.Request.Context(), opts); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.controller.Status())
}

// Disconnect handles DELETE /connection
// @Summary      Disconnect from the board
// @Description  Closes the serial session. Always succeeds.
// @Tags         connection
// @Produce      json
// @Success      200  {object}  device.ConnectionStatus
// @Router       /connection [delete]
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	h.controller.Disconnect()
	c.JSON(http.StatusOK, h.controller.Status())
}

// Status handles GET /connection
// @Summary      Connection status
// @Description  Returns the session state and the chip found by the last detection
// @Tags         connection
// @Produce      json
// @Success      200  {object}  device.ConnectionStatus
// @Router       /connection [get]
func (h *ConnectionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Status())
}

// DetectChip handles POST /chip/detect
// @Summary      Detect the chip
// @Description  Resets the board into its ROM loader, reads the chip type and MAC, then resets it back into the application
// @Tags         connection
// @Produce      json
// @Success      200  {object}  types.ChipResponse
// @Failure      409  {object}  types.ErrorResponse  "Not connected or busy"
// @Failure      500  {object}  types.ErrorResponse  "Loader handshake failed"
// @Router       /chip/detect [post]
func (h *ConnectionHandler) DetectChip(c *gin.Context) {
	chip, err := h.controller.DetectChip(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.ChipResponse{Chip: *chip})
}
