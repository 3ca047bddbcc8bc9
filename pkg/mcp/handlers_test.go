package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/esp"
	"github.com/urmzd/ninho/pkg/serialport"
	"github.com/urmzd/ninho/pkg/serialport/porttest"
)

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content %T", res.Content[0])
	}
	return tc.Text
}

func newTestServer(t *testing.T, port *porttest.Port) *Server {
	t.Helper()
	cfg := esp.DefaultConfig()
	cfg.Port = "/dev/ttyUSB0"
	cfg.SettleDelay = 0
	cfg.MissionTimeout = 200 * time.Millisecond
	m := esp.NewManager(cfg, esp.WithOpener(func(string, int) (serialport.Port, error) { return port, nil }))
	t.Cleanup(m.Close)
	return NewServer(m, m, WithExpectedFirmware("1.0.0"))
}

func TestGetHealth_NullController(t *testing.T) {
	s := NewServer(device.NewNullController(), device.NewNullEventSubscriber())

	res, err := s.handleGetHealth(context.Background(), call(nil))
	if err != nil {
		t.Fatal(err)
	}
	var out GetHealthOutput
	if err := json.Unmarshal([]byte(text(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "degraded" || out.Controller != string(device.StatusDisconnected) {
		t.Errorf("health = %+v", out)
	}
}

func TestListPorts_ReportsKind(t *testing.T) {
	s := NewServer(device.NewNullController(), device.NewNullEventSubscriber())

	res, _ := s.handleListPorts(context.Background(), call(nil))
	if !res.IsError {
		t.Fatal("expected tool error")
	}
	var out ErrorOutput
	if err := json.Unmarshal([]byte(text(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Error != device.KindNotSupported || out.Retryable {
		t.Errorf("error = %+v", out)
	}
}

func TestSetMission_ByLevel(t *testing.T) {
	port := porttest.New()
	port.OnWrite = func(p *porttest.Port, data []byte) {
		if strings.Contains(string(data), "SET_MISSION") {
			p.FeedString(`{"type":"ACK","command":"SET_MISSION"}` + "\n")
		}
	}
	s := newTestServer(t, port)
	if _, err := s.handleConnect(context.Background(), call(nil)); err != nil {
		t.Fatal(err)
	}

	res, _ := s.handleSetMission(context.Background(), call(map[string]any{"level": float64(3)}))
	if res.IsError {
		t.Fatalf("tool error: %s", text(t, res))
	}
	var out SetMissionOutput
	if err := json.Unmarshal([]byte(text(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if out.MissionID != "MISSION_3_BUZZER" || out.Level == nil || *out.Level != 3 {
		t.Errorf("mission = %+v", out)
	}
}

func TestSetMission_RequiresArgument(t *testing.T) {
	s := newTestServer(t, porttest.New())

	res, _ := s.handleSetMission(context.Background(), call(map[string]any{}))
	if !res.IsError {
		t.Error("expected tool error")
	}
}

func TestSendCommand_NotConnected(t *testing.T) {
	s := newTestServer(t, porttest.New())

	res, _ := s.handleSendCommand(context.Background(), call(map[string]any{"type": "get_status"}))
	if !res.IsError || !strings.Contains(text(t, res), device.KindNotConnected) {
		t.Errorf("result = %s", text(t, res))
	}
}

func TestGetFirmwareVersion_UpToDate(t *testing.T) {
	port := porttest.New()
	port.OnWrite = func(p *porttest.Port, data []byte) {
		p.FeedString(`{"type":"VERSION","version":"1.0.0"}` + "\n")
	}
	s := newTestServer(t, port)
	if _, err := s.handleConnect(context.Background(), call(nil)); err != nil {
		t.Fatal(err)
	}

	res, _ := s.handleGetFirmwareVersion(context.Background(), call(nil))
	var out FirmwareVersionOutput
	if err := json.Unmarshal([]byte(text(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Version != "1.0.0" || out.UpdateAvailable {
		t.Errorf("version = %+v", out)
	}
}

func TestFlashFirmware_BadManifest(t *testing.T) {
	s := newTestServer(t, porttest.New())

	res, _ := s.handleFlashFirmware(context.Background(), call(map[string]any{"manifest": "/nonexistent/manifest.yaml"}))
	if !res.IsError || !strings.Contains(text(t, res), device.KindInvalidFirmware) {
		t.Errorf("result = %s", text(t, res))
	}
}

func TestGetLatestTelemetry_Empty(t *testing.T) {
	s := NewServer(device.NewNullController(), device.NewNullEventSubscriber())

	res, _ := s.handleGetLatestTelemetry(context.Background(), call(nil))
	if res.IsError || !strings.Contains(text(t, res), `"telemetry":null`) {
		t.Errorf("result = %s", text(t, res))
	}
}
