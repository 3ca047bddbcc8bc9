package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ninho/pkg/api/types"
	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/esp"
	"github.com/urmzd/ninho/pkg/firmware"
	"github.com/urmzd/ninho/pkg/flasher/flashertest"
	"github.com/urmzd/ninho/pkg/serialport"
	"github.com/urmzd/ninho/pkg/serialport/porttest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ackAll answers every command line with an ACK for its type.
func ackAll(p *porttest.Port, data []byte) {
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var cmd struct {
			Type string `json:"type"`
		}
		if json.Unmarshal([]byte(line), &cmd) != nil || cmd.Type == "" {
			continue
		}
		p.FeedString(`{"type":"ACK","command":"` + cmd.Type + `"}` + "\n")
	}
}

func newManager(t *testing.T, port *porttest.Port) *esp.Manager {
	t.Helper()
	cfg := esp.DefaultConfig()
	cfg.Port = "/dev/ttyUSB0"
	cfg.SettleDelay = 0
	cfg.CommandTimeout = 200 * time.Millisecond
	cfg.SegmentPause = 0

	m := esp.NewManager(cfg, esp.WithOpener(func(string, int) (serialport.Port, error) {
		return port, nil
	}))
	t.Cleanup(m.Close)
	return m
}

func do(t *testing.T, r *Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var e types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("bad error body %q: %v", w.Body.String(), err)
	}
	return e
}

func TestHealth_NullController(t *testing.T) {
	r := NewRouter(device.NewNullController(), device.NewNullEventSubscriber())

	w := do(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
	var h types.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "degraded" || h.Controller != device.StatusDisconnected {
		t.Errorf("health = %+v", h)
	}
}

func TestListPorts_NotSupported(t *testing.T) {
	r := NewRouter(device.NewNullController(), device.NewNullEventSubscriber())

	w := do(t, r, http.MethodGet, "/api/v1/ports", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Error != device.KindNotSupported || e.Retryable {
		t.Errorf("error = %+v", e)
	}
}

func TestCommand_NotConnected(t *testing.T) {
	m := newManager(t, porttest.New())
	r := NewRouter(m, m)

	w := do(t, r, http.MethodPost, "/api/v1/commands", types.CommandRequest{Type: "set_mission", Payload: map[string]any{"missionId": "INTRO"}})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Error != device.KindNotConnected || !e.Retryable {
		t.Errorf("error = %+v", e)
	}
}

func TestCommand_MissingType(t *testing.T) {
	m := newManager(t, porttest.New())
	r := NewRouter(m, m)

	w := do(t, r, http.MethodPost, "/api/v1/commands", map[string]any{"payload": map[string]any{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestCommand_Timeout(t *testing.T) {
	port := porttest.New()
	m := newManager(t, port)
	r := NewRouter(m, m)

	if w := do(t, r, http.MethodPost, "/api/v1/connection", nil); w.Code != http.StatusOK {
		t.Fatalf("connect status = %d: %s", w.Code, w.Body.String())
	}

	w := do(t, r, http.MethodPost, "/api/v1/commands", types.CommandRequest{Type: "BLINK", TimeoutMS: 50})
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Error != device.KindCommandTimeout {
		t.Errorf("error = %+v", e)
	}
}

func TestIdentity_AutoConnects(t *testing.T) {
	port := porttest.New()
	port.OnWrite = ackAll
	m := newManager(t, port)
	r := NewRouter(m, m)

	w := do(t, r, http.MethodPost, "/api/v1/identity", types.IdentityRequest{UserID: "user_123"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if got := string(port.Written()); got != `{"type":"SET_ID","userId":"user_123"}`+"\n" {
		t.Errorf("written %q", got)
	}

	w = do(t, r, http.MethodGet, "/api/v1/connection", nil)
	var st device.ConnectionStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Status != device.StatusConnected || st.Port != "/dev/ttyUSB0" {
		t.Errorf("status = %+v", st)
	}
}

func TestMission_ByLevel(t *testing.T) {
	port := porttest.New()
	port.OnWrite = ackAll
	m := newManager(t, port)
	r := NewRouter(m, m)
	do(t, r, http.MethodPost, "/api/v1/connection", types.ConnectRequest{})

	level := 1
	w := do(t, r, http.MethodPost, "/api/v1/mission", types.MissionRequest{Level: &level})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp types.MissionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.MissionID != "MISSION_1_BLINK" {
		t.Errorf("mission = %+v", resp)
	}
	if !strings.Contains(string(port.Written()), `"missionId":"MISSION_1_BLINK"`) {
		t.Errorf("written %q", port.Written())
	}

	bad := 9
	w = do(t, r, http.MethodPost, "/api/v1/mission", types.MissionRequest{Level: &bad})
	if w.Code != http.StatusBadRequest || decodeError(t, w).Error != device.KindValidation {
		t.Errorf("bad level: %d %s", w.Code, w.Body.String())
	}
}

func TestFirmwareVersion_UpdateAvailable(t *testing.T) {
	port := porttest.New()
	port.OnWrite = func(p *porttest.Port, data []byte) {
		if strings.Contains(string(data), "GET_VERSION") {
			p.FeedString(`{"type":"VERSION","version":"1.0.0"}` + "\n")
		}
	}
	m := newManager(t, port)
	r := NewRouter(m, m, WithExpectedFirmware("1.1.0"))
	do(t, r, http.MethodPost, "/api/v1/connection", nil)

	w := do(t, r, http.MethodGet, "/api/v1/firmware/version", nil)
	var v types.FirmwareVersionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Version != "1.0.0" || !v.UpdateAvailable {
		t.Errorf("version = %+v", v)
	}
}

func multipartBody(t *testing.T, files map[string][]byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(data)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestFlash_UnknownFileNeedsOffset(t *testing.T) {
	m := newManager(t, porttest.New())
	r := NewRouter(m, m)

	body, ctype := multipartBody(t, map[string][]byte{"mystery.bin": {0xE9, 0}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/firmware/flash", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest || decodeError(t, w).Error != device.KindInvalidFirmware {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}

func TestFlash_StreamsProgress(t *testing.T) {
	port := porttest.New()
	flashertest.New().Attach(port)
	m := newManager(t, port)
	r := NewRouter(m, m)
	do(t, r, http.MethodPost, "/api/v1/connection", nil)

	app := bytes.Repeat([]byte{0x11}, 0x900)
	app[0] = 0xE9
	body, ctype := multipartBody(t,
		map[string][]byte{"firmware.bin": app, "extra.bin": {0xE9, 1, 2, 3}},
		map[string]string{"offset_extra.bin": "0x20000"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/firmware/flash", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Accept", "text/event-stream")
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	out := w.Body.String()
	if !strings.Contains(out, "event: progress") || !strings.Contains(out, "event: done") {
		t.Errorf("stream = %s", out)
	}
	if strings.Contains(out, "event: error") {
		t.Errorf("flash failed: %s", out)
	}
	if !strings.Contains(out, device.RebootAdvisory) {
		t.Error("reboot advisory missing")
	}
}

func TestFlash_UsesConfiguredLayout(t *testing.T) {
	port := porttest.New()
	rom := flashertest.New()
	rom.Attach(port)
	m := newManager(t, port)

	manifest, err := firmware.ParseManifest([]byte("segments:\n  - role: app\n    offset: 0x20000\n    path: build/lesson.bin\n"))
	if err != nil {
		t.Fatal(err)
	}
	r := NewRouter(m, m, WithFirmwareLayout(manifest.Layout()))
	do(t, r, http.MethodPost, "/api/v1/connection", nil)

	app := bytes.Repeat([]byte{0x33}, 0x400)
	app[0] = 0xE9
	body, ctype := multipartBody(t, map[string][]byte{"lesson.bin": app}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/firmware/flash", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if !bytes.Equal(rom.Contents(0x20000, len(app)), app) {
		t.Error("lesson.bin not written at the manifest offset")
	}

	// The default layout's firmware.bin is unknown to this layout.
	body, ctype = multipartBody(t, map[string][]byte{"firmware.bin": app}, nil)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/firmware/flash", body)
	req.Header.Set("Content-Type", ctype)
	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("firmware.bin status = %d", w.Code)
	}
}

func TestTelemetryLatest_Empty(t *testing.T) {
	r := NewRouter(device.NewNullController(), device.NewNullEventSubscriber())

	w := do(t, r, http.MethodGet, "/api/v1/telemetry/latest", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"telemetry":null`) {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}
