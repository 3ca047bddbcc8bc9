package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ninho/pkg/api/types"
	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/missions"
)

// maxCommandTimeout bounds client supplied timeouts.
const maxCommandTimeout = 60 * time.Second

// CommandHandler handles commands sent to the mission firmware
type CommandHandler struct {
	controller device.Controller
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(controller device.Controller) *CommandHandler {
	return &CommandHandler{controller: controller}
}

// Send handles POST /commands
// @Summary      Send a command
// @Description  Writes a command line and waits for the board to acknowledge it
// @Tags         commands
// @Accept       json
// @Produce      json
// @Param        request  body      types.CommandRequest  true  "Command"
// @Success      200      {object}  types.AckResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid payload"
// @Failure      409      {object}  types.ErrorResponse  "Not connected or busy"
// @Failure      502      {object}  types.ErrorResponse  "Board reported an error"
// @Failure      504      {object}  types.ErrorResponse  "No acknowledgement"
// @Router       /commands [post]
func (h *CommandHandler) Send(c *gin.Context) {
	var req types.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: type is required")
		return
	}
	if req.TimeoutMS < 0 || time.Duration(req.TimeoutMS)*time.Millisecond > maxCommandTimeout {
		badRequest(c, "timeout_ms must be between 0 and 60000")
		return
	}

	ctx := c.Request.Context()
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	command := strings.ToUpper(req.Type)
	if err := h.controller.SendCommand(ctx, command, req.Payload); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.AckResponse{
		Command:   command,
		Status:    "acknowledged",
		Timestamp: time.Now(),
	})
}

// Post handles POST /commands/raw
// @Summary      Post a command
// @Description  Writes a command line without waiting for any reply
// @Tags         commands
// @Accept       json
// @Produce      json
// @Param        request  body      types.CommandRequest  true  "Command"
// @Success      202      {object}  types.AckResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid payload"
// @Failure      409      {object}  types.ErrorResponse  "Not connected or busy"
// @Router       /commands/raw [post]
func (h *CommandHandler) Post(c *gin.Context) {
	var req types.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: type is required")
		return
	}

	command := strings.ToUpper(req.Type)
	if err := h.controller.PostCommand(c.Request.Context(), command, req.Payload); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, types.AckResponse{
		Command:   command,
		Status:    "sent",
		Timestamp: time.Now(),
	})
}

// SetIdentity handles POST /identity
// @Summary      Set the learner identity
// @Description  Connects if needed, waits for a freshly opened board to boot, then sends SET_ID
// @Tags         commands
// @Accept       json
// @Produce      json
// @Param        request  body      types.IdentityRequest  true  "User"
// @Success      200      {object}  types.AckResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid user id or no port"
// @Failure      504      {object}  types.ErrorResponse  "No acknowledgement"
// @Router       /identity [post]
func (h *CommandHandler) SetIdentity(c *gin.Context) {
	var req types.IdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: user_id is required")
		return
	}

	if err := h.controller.SetIdentity(c.Request.Context(), req.UserID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.AckResponse{
		Command:   "SET_ID",
		Status:    "acknowledged",
		Timestamp: time.Now(),
	})
}

// SetMission handles POST /mission
// @Summary      Select a mission
// @Description  Switches the firmware to a mission, given either its firmware id or a lesson level (0-5)
// @Tags         commands
// @Accept       json
// @Produce      json
// @Param        request  body      types.MissionRequest  true  "Mission"
// @Success      200      {object}  types.MissionResponse
// @Failure      400      {object}  types.ErrorResponse  "Unknown level"
// @Failure      409      {object}  types.ErrorResponse  "Not connected"
// @Failure      504      {object}  types.ErrorResponse  "No acknowledgement"
// @Router       /mission [post]
func (h *CommandHandler) SetMission(c *gin.Context) {
	var req types.MissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	resp := types.MissionResponse{MissionID: req.MissionID, Level: req.Level}
	switch {
	case req.Level != nil:
		m, err := missions.ByLevel(*req.Level)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.MissionID, resp.Title = m.FirmwareCommand, m.Title
	case req.MissionID != "":
		if m, ok := missions.ByFirmwareCommand(req.MissionID); ok {
			level := m.Level
			resp.Level, resp.Title = &level, m.Title
		}
	default:
		badRequest(c, "mission_id or level is required")
		return
	}

	if err := h.controller.SetMission(c.Request.Context(), resp.MissionID); err != nil {
		respondError(c, err)
		return
	}

	resp.Timestamp = time.Now()
	c.JSON(http.StatusOK, resp)
}

// RequestStatus handles POST /status/request
// @Summary      Request a status report
// @Description  Sends GET_STATUS; the answer arrives on the telemetry and log streams
// @Tags         commands
// @Produce      json
// @Success      202  {object}  types.AckResponse
// @Failure      409  {object}  types.ErrorResponse  "Not connected"
// @Router       /status/request [post]
func (h *CommandHandler) RequestStatus(c *gin.Context) {
	if err := h.controller.RequestStatus(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, types.AckResponse{
		Command:   "GET_STATUS",
		Status:    "sent",
		Timestamp: time.Now(),
	})
}
