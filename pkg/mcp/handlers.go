package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/firmware"
	"github.com/urmzd/ninho/pkg/missions"
)

func (s *Server) handleGetHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.controller.Status()

	status := "healthy"
	if st.Status != device.StatusConnected {
		status = "degraded"
	}

	out := GetHealthOutput{
		Status:     status,
		Controller: string(st.Status),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleListPorts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ports, err := s.controller.ListPorts(ctx)
	if err != nil {
		return toolError("failed to list ports", err), nil
	}
	if ports == nil {
		ports = []device.PortInfo{}
	}

	return mcp.NewToolResultText(formatJSON(ListPortsOutput{Ports: ports, Count: len(ports)})), nil
}

func (s *Server) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	var opts device.ConnectOptions
	if p, ok := args["port"].(string); ok {
		opts.Port = p
	}
	if b, ok := args["baud_rate"].(float64); ok && b > 0 {
		opts.BaudRate = int(b)
	}

	if err := s.controller.Connect(ctx, opts); err != nil {
		return toolError("failed to connect", err), nil
	}
	return mcp.NewToolResultText(formatJSON(s.controller.Status())), nil
}

func (s *Server) handleDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.controller.Disconnect()
	return mcp.NewToolResultText(formatJSON(s.controller.Status())), nil
}

func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatJSON(s.controller.Status())), nil
}

func (s *Server) handleDetectChip(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chip, err := s.controller.DetectChip(ctx)
	if err != nil {
		return toolError("failed to detect chip", err), nil
	}
	return mcp.NewToolResultText(formatJSON(chip)), nil
}

func (s *Server) handleSendCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := requiredString(request, "type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command := strings.ToUpper(typ)

	var payload map[string]any
	if p, ok := request.GetArguments()["payload"].(map[string]any); ok {
		payload = p
	}

	if err := s.controller.SendCommand(ctx, command, payload); err != nil {
		return toolError(fmt.Sprintf("%s failed", command), err), nil
	}

	out := CommandOutput{
		Success: true,
		Command: command,
		Message: "Board acknowledged " + command,
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleSetIdentity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := requiredString(request, "user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.controller.SetIdentity(ctx, userID); err != nil {
		return toolError("failed to set identity", err), nil
	}

	out := CommandOutput{
		Success: true,
		Command: "SET_ID",
		Message: fmt.Sprintf("Board now identifies as %q", userID),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleSetMission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	var out SetMissionOutput
	if lvl, ok := args["level"].(float64); ok {
		m, err := missions.ByLevel(int(lvl))
		if err != nil {
			return toolError("unknown level", err), nil
		}
		level := m.Level
		out = SetMissionOutput{MissionID: m.FirmwareCommand, Level: &level, Title: m.Title}
	} else if id, ok := args["mission_id"].(string); ok && id != "" {
		out.MissionID = id
		if m, ok := missions.ByFirmwareCommand(id); ok {
			level := m.Level
			out.Level, out.Title = &level, m.Title
		}
	} else {
		return mcp.NewToolResultError("either mission_id or level is required"), nil
	}

	if err := s.controller.SetMission(ctx, out.MissionID); err != nil {
		return toolError("failed to set mission", err), nil
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleRequestStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.controller.RequestStatus(ctx); err != nil {
		return toolError("failed to request status", err), nil
	}

	out := CommandOutput{
		Success: true,
		Command: "GET_STATUS",
		Message: "Status requested; call get_latest_telemetry for the answer",
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetFirmwareVersion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, err := s.controller.FirmwareVersion(ctx)
	if err != nil {
		return toolError("failed to read firmware version", err), nil
	}

	out := FirmwareVersionOutput{
		Version:         v,
		Expected:        s.expectedFirmware,
		UpdateAvailable: s.expectedFirmware != "" && v != s.expectedFirmware,
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetLatestTelemetry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, ok := s.subscriber.LatestTelemetry()
	if !ok {
		return mcp.NewToolResultText(`{"telemetry":null,"message":"No reading received yet"}`), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{"telemetry": t})), nil
}

func (s *Server) handleFlashFirmware(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requiredString(request, "manifest")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	m, err := firmware.LoadManifest(path)
	if err != nil {
		return toolError("failed to load manifest", fmt.Errorf("%w: %v", device.ErrInvalidFirmware, err)), nil
	}
	img, err := m.Image()
	if err != nil {
		return toolError("invalid firmware", err), nil
	}

	last := -10
	result, err := s.controller.FlashFirmware(ctx, img, func(p device.FlashProgress) {
		// Progress goes to the log; stdout carries the protocol.
		if p.Overall >= last+10 || (p.Overall == 100 && last != 100) {
			last = p.Overall
			log.Info().Str("segment", p.Segment).Int("overall", p.Overall).Msg("Flashing")
		}
	})
	if err != nil {
		return toolError("flash failed", err), nil
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// --- helpers ---

// toolError reports err with its stable kind so the assistant can decide
// whether to retry.
func toolError(prefix string, err error) *mcp.CallToolResult {
	out := ErrorOutput{
		Error:     device.KindOf(err),
		Message:   fmt.Sprintf("%s: %s", prefix, err),
		Retryable: device.Retryable(err),
	}
	return mcp.NewToolResultError(formatJSON(out))
}

func requiredString(request mcp.CallToolRequest, key string) (string, error) {
	args := request.GetArguments()
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("required parameter %q is missing", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func formatJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response: %s"}`, err)
	}
	return string(b)
}
