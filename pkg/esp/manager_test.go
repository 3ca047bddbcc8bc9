package esp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/flasher/flashertest"
	"github.com/urmzd/ninho/pkg/serialport"
	"github.com/urmzd/ninho/pkg/serialport/porttest"
)

// board answers JSON command lines written to a porttest.Port.
type board struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	replies map[string]string
	delay   time.Duration
	lines   []string
}

func (b *board) handle(p *porttest.Port, data []byte) {
	b.mu.Lock()
	b.buf.Write(data)
	var replies []string
	for {
		line, err := b.buf.ReadString('\n')
		if err != nil {
			b.buf.Reset()
			b.buf.WriteString(line)
			break
		}
		b.lines = append(b.lines, line)

		var cmd struct {
			Type string `json:"type"`
		}
		if json.Unmarshal([]byte(line), &cmd) != nil {
			continue
		}
		if r, ok := b.replies[cmd.Type]; ok {
			replies = append(replies, r)
		}
	}
	delay := b.delay
	b.mu.Unlock()

	for _, r := range replies {
		r := r
		if delay > 0 {
			time.AfterFunc(delay, func() { p.FeedString(r) })
		} else {
			p.FeedString(r)
		}
	}
}

func (b *board) written() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

type fixture struct {
	m     *Manager
	port  *porttest.Port
	board *board
	opens atomic.Int32
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		port:  porttest.New(),
		board: &board{replies: map[string]string{}},
	}
	f.port.OnWrite = f.board.handle

	cfg.Port = "/dev/ttyUSB0"
	f.m = NewManager(cfg, WithOpener(func(path string, baud int) (serialport.Port, error) {
		f.opens.Add(1)
		return f.port, nil
	}))
	t.Cleanup(f.m.Close)
	return f
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	cfg.CommandTimeout = 200 * time.Millisecond
	cfg.IdentityTimeout = time.Second
	cfg.MissionTimeout = time.Second
	cfg.SegmentPause = 0
	return cfg
}

func TestManager_SetIdentityAutoConnects(t *testing.T) {
	f := newFixture(t, testConfig())
	f.board.replies["SET_ID"] = `{"type":"ACK","command":"SET_ID"}` + "\n"
	f.board.delay = 50 * time.Millisecond

	if err := f.m.SetIdentity(context.Background(), "user_123"); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}

	lines := f.board.written()
	if len(lines) != 1 || lines[0] != `{"type":"SET_ID","userId":"user_123"}`+"\n" {
		t.Errorf("written = %q", lines)
	}
	if !f.m.IsConnected() || f.m.Status().Status != device.StatusConnected {
		t.Errorf("status = %+v", f.m.Status())
	}
}

func TestManager_SetIdentityWaitsForSettle(t *testing.T) {
	cfg := testConfig()
	cfg.SettleDelay = 150 * time.Millisecond
	f := newFixture(t, cfg)
	f.board.replies["SET_ID"] = `{"type":"ACK","command":"SET_ID"}` + "\n"

	start := time.Now()
	if err := f.m.SetIdentity(context.Background(), "u1"); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Error("SET_ID was sent before the board settled")
	}
}

func TestManager_TelemetryIgnoresBootBanner(t *testing.T) {
	f := newFixture(t, testConfig())
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	got := make(chan device.Telemetry, 4)
	f.m.SubscribeTelemetry(func(tm device.Telemetry) { got <- tm })

	f.port.FeedString("INIT ESP32 v1.2\n" +
		`{"type":"TELEMETRY","userId":"u1","missionId":"MISSION_1_BLINK","readings":{"led":1,"btn":0,"pot":512}}` + "\n")

	select {
	case tm := <-got:
		if tm.GPIO["led"].Value != 1 || tm.ADC["pot"] != 512 {
			t.Errorf("unexpected reading %+v", tm)
		}
	case <-time.After(time.Second):
		t.Fatal("no telemetry delivered")
	}

	select {
	case tm := <-got:
		t.Errorf("unexpected second reading %+v", tm)
	case <-time.After(100 * time.Millisecond):
	}

	var banner bool
	for _, l := range f.m.RecentLogs() {
		if l.Message == "INIT ESP32 v1.2" {
			banner = true
		}
	}
	if !banner {
		t.Error("boot banner missing from console")
	}
}

func TestManager_CommandWithoutConnection(t *testing.T) {
	f := newFixture(t, testConfig())

	err := f.m.SetMission(context.Background(), "MISSION_1_BLINK")
	if !errors.Is(err, device.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if f.opens.Load() != 0 || f.port.Writes != 0 {
		t.Error("nothing should be opened or written")
	}
}

func TestManager_ConnectTwiceIsNoop(t *testing.T) {
	f := newFixture(t, testConfig())

	for i := 0; i < 2; i++ {
		if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if n := f.opens.Load(); n != 1 {
		t.Errorf("port opened %d times", n)
	}
}

func TestManager_DisconnectMidCommand(t *testing.T) {
	cfg := testConfig()
	cfg.CommandTimeout = 5 * time.Second
	f := newFixture(t, cfg)
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- f.m.SetMission(context.Background(), "MISSION_1_BLINK") }()

	deadline := time.Now().Add(time.Second)
	for len(f.board.written()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.port.Unplug()

	select {
	case err := <-errCh:
		if !errors.Is(err, device.ErrDisconnected) {
			t.Errorf("expected ErrDisconnected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command hung after unplug")
	}

	st := f.m.Status()
	if st.Status != device.StatusError || f.m.IsConnected() {
		t.Errorf("status after unplug = %+v", st)
	}
}

func TestManager_TimeoutThenTelemetry(t *testing.T) {
	f := newFixture(t, testConfig())
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	err := f.m.SendCommand(context.Background(), "BLINK", nil)
	if !errors.Is(err, device.ErrCommandTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	got := make(chan device.Telemetry, 1)
	f.m.SubscribeTelemetry(func(tm device.Telemetry) { got <- tm })
	f.port.FeedString(`{"type":"TELEMETRY","userId":"u1","readings":{"btn":1}}` + "\n")

	select {
	case tm := <-got:
		if tm.GPIO["btn"].Value != 1 {
			t.Errorf("unexpected reading %+v", tm)
		}
	case <-time.After(time.Second):
		t.Fatal("telemetry not delivered after timeout")
	}
}

func TestManager_DeviceErrorSurfaced(t *testing.T) {
	f := newFixture(t, testConfig())
	f.board.replies["SET_MISSION"] = `{"type":"ERROR","msg":"unknown mission"}` + "\n"
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	err := f.m.SetMission(context.Background(), "MISSION_9")
	var de *device.DeviceError
	if !errors.As(err, &de) || de.Message != "unknown mission" {
		t.Errorf("expected device error, got %v", err)
	}
}

func TestManager_ValidationBeforeWrite(t *testing.T) {
	f := newFixture(t, testConfig())
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	err := f.m.SendCommand(context.Background(), "SET_ID", map[string]any{})
	if !errors.Is(err, device.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if err := f.m.SetIdentity(context.Background(), ""); !errors.Is(err, device.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if f.port.Writes != 0 {
		t.Errorf("invalid commands were written")
	}
}

func TestManager_RequestStatusIsFireAndForget(t *testing.T) {
	f := newFixture(t, testConfig())
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := f.m.RequestStatus(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lines := f.board.written(); len(lines) != 1 || !strings.Contains(lines[0], `"GET_STATUS"`) {
		t.Errorf("written = %q", lines)
	}
}

func TestManager_FirmwareVersion(t *testing.T) {
	f := newFixture(t, testConfig())
	f.board.replies["GET_VERSION"] = `{"type":"VERSION","version":"1.2.0"}` + "\n"
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	v, err := f.m.FirmwareVersion(context.Background())
	if err != nil || v != "1.2.0" {
		t.Errorf("version = %q, %v", v, err)
	}
}

func TestManager_FirmwareVersionSilentBoard(t *testing.T) {
	cfg := testConfig()
	cfg.VersionAttempts = 2
	cfg.VersionTimeout = 30 * time.Millisecond
	cfg.VersionGap = 0
	f := newFixture(t, cfg)
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	v, err := f.m.FirmwareVersion(context.Background())
	if err != nil || v != "" {
		t.Errorf("version = %q, %v", v, err)
	}
	if n := len(f.board.written()); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestManager_DisconnectAlwaysEndsDisconnected(t *testing.T) {
	f := newFixture(t, testConfig())
	f.m.Disconnect()
	if f.m.Status().Status != device.StatusDisconnected {
		t.Error("disconnect without a session should still report disconnected")
	}

	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}
	f.m.Disconnect()
	if f.m.Status().Status != device.StatusDisconnected || !f.port.Closed() {
		t.Errorf("status = %+v closed=%v", f.m.Status(), f.port.Closed())
	}
}

func TestManager_ConnectFailure(t *testing.T) {
	m := NewManager(testConfig(),
		WithLister(func() ([]device.PortInfo, error) { return nil, nil }),
	)

	err := m.Connect(context.Background(), device.ConnectOptions{})
	if !errors.Is(err, device.ErrNoPortSelected) {
		t.Errorf("expected ErrNoPortSelected, got %v", err)
	}
	if m.Status().Status != device.StatusError {
		t.Errorf("status = %s", m.Status().Status)
	}
}

func TestManager_FlashRejectsInvalidImage(t *testing.T) {
	f := newFixture(t, testConfig())
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	_, err := f.m.FlashFirmware(context.Background(), device.Image{}, nil)
	if !errors.Is(err, device.ErrInvalidFirmware) {
		t.Errorf("expected ErrInvalidFirmware, got %v", err)
	}
	if f.port.Writes != 0 {
		t.Error("invalid image touched the port")
	}
}

func TestManager_FlashNotConnected(t *testing.T) {
	f := newFixture(t, testConfig())
	img := device.Image{Segments: []device.Segment{{Name: "firmware.bin", Role: device.RoleApp, Offset: 0x10000, Data: []byte{0xE9, 1, 2}}}}

	if _, err := f.m.FlashFirmware(context.Background(), img, nil); !errors.Is(err, device.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestManager_FlashFirmware(t *testing.T) {
	f := newFixture(t, testConfig())
	rom := flashertest.New()
	rom.Attach(f.port)
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	app := bytes.Repeat([]byte{0x42}, 0x600)
	app[0] = 0xE9
	img := device.Image{Segments: []device.Segment{
		{Name: "partitions.bin", Role: device.RolePartitions, Offset: 0x8000},
		{Name: "firmware.bin", Role: device.RoleApp, Offset: 0x10000, Data: app},
	}}

	var last device.FlashProgress
	res, err := f.m.FlashFirmware(context.Background(), img, func(p device.FlashProgress) { last = p })
	if err != nil {
		t.Fatalf("flash: %v", err)
	}
	if res.Advisory != device.RebootAdvisory || res.Chip.Name != "ESP32" {
		t.Errorf("unexpected result %+v", res)
	}
	if last.Percent != 100 || last.Segment != "firmware.bin" {
		t.Errorf("last progress = %+v", last)
	}
	if !bytes.Equal(rom.Contents(0x10000, len(app)), app) {
		t.Error("application not written")
	}

	if chip := f.m.ChipInfo(); chip == nil || chip.MAC != "AA:BB:12:34:56:78" {
		t.Errorf("chip info = %+v", chip)
	}
	if !f.m.IsConnected() || f.m.Status().Flashing {
		t.Errorf("session should resume after flashing: %+v", f.m.Status())
	}
}

func TestManager_CommandsBusyWhileFlashing(t *testing.T) {
	f := newFixture(t, testConfig())
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	s := f.m.session()
	if err := s.intent.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer s.intent.Release(1)

	err := f.m.SetMission(context.Background(), "MISSION_1_BLINK")
	if !errors.Is(err, device.ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestManager_DetectChip(t *testing.T) {
	f := newFixture(t, testConfig())
	flashertest.New().Attach(f.port)
	if err := f.m.Connect(context.Background(), device.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	info, err := f.m.DetectChip(context.Background())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if info.Name != "ESP32" {
		t.Errorf("chip = %+v", info)
	}
	if st := f.m.Status(); st.Chip == nil || st.Chip.MAC != info.MAC {
		t.Errorf("status chip = %+v", st.Chip)
	}
	if chip := f.m.ChipInfo(); chip == nil || chip.Name != "ESP32" {
		t.Errorf("chip info = %+v", chip)
	}
}
