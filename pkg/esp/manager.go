// Package esp implements device.Controller for an ESP32 running the mission
// firmware: a line-delimited JSON session over USB serial, plus flashing
// through the ROM loader.
package esp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/device/schema"
	"github.com/urmzd/ninho/pkg/firmware"
	"github.com/urmzd/ninho/pkg/flasher"
	"github.com/urmzd/ninho/pkg/protocol"
	"github.com/urmzd/ninho/pkg/serialport"
)

// Option configures a Manager.
type Option func(*Manager)

// WithOpener replaces the function used to open ports.
func WithOpener(open serialport.Opener) Option {
	return func(m *Manager) { m.open = open }
}

// WithLister replaces port enumeration.
func WithLister(list serialport.Lister) Option {
	return func(m *Manager) { m.list = list }
}

// Manager implements device.Controller and device.EventSubscriber.
type Manager struct {
	cfg       Config
	open      serialport.Opener
	list      serialport.Lister
	validator *schema.Validator
	telemetry *protocol.TelemetryChannel
	console   *console

	// lifecycle serialises Connect and Disconnect.
	lifecycle sync.Mutex

	mu          sync.RWMutex
	sess        *session
	status      device.Status
	lastErr     string
	since       time.Time
	connectedAt time.Time
	chip        *device.ChipInfo
	flashCancel context.CancelFunc

	flashing atomic.Bool
}

var (
	_ device.Controller      = (*Manager)(nil)
	_ device.EventSubscriber = (*Manager)(nil)
)

// NewManager creates a disconnected manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		open:      serialport.Open,
		list:      serialport.List,
		validator: schema.NewValidator(),
		telemetry: protocol.NewTelemetryChannel(),
		console:   newConsole(cfg.LogHistory),
		status:    device.StatusDisconnected,
		since:     time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ListPorts returns the serial ports present on the host.
func (m *Manager) ListPorts(_ context.Context) ([]device.PortInfo, error) {
	return m.list()
}

// Connect opens the serial session and starts the reader. Calling it while
// connected is a no-op, even with different options.
func (m *Manager) Connect(ctx context.Context, opts device.ConnectOptions) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.session() != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := opts.Port
	if path == "" {
		path = m.cfg.Port
	}
	baud := opts.BaudRate
	if baud <= 0 {
		baud = m.cfg.BaudRate
	}

	m.setStatus(device.StatusConnecting, "")

	path, err := serialport.Select(path, m.list)
	if err != nil {
		m.setStatus(device.StatusError, err.Error())
		m.console.add(device.LogError, "connect failed: %v", err)
		return err
	}

	log.Info().Str("port", path).Int("baud", baud).Msg("Connecting to board")
	port, err := m.open(path, baud)
	if err != nil {
		m.setStatus(device.StatusError, err.Error())
		m.console.add(device.LogError, "connect failed: %v", err)
		return fmt.Errorf("connect %s: %w", path, err)
	}

	s := newSession(port, path, baud)
	s.onFrame = m.dispatch
	s.onExit = m.handleSessionExit

	m.mu.Lock()
	m.sess = s
	m.status = device.StatusConnected
	m.lastErr = ""
	m.since = time.Now()
	m.connectedAt = m.since
	m.mu.Unlock()

	s.start()

	m.console.add(device.LogInfo, "connected to %s at %d baud", path, baud)
	log.Info().Str("port", path).Msg("Board connected")
	return nil
}

// Disconnect tears the session down. It always ends disconnected; teardown
// errors are logged and dropped.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.chip = nil
	cancel := m.flashCancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s != nil {
		if err := s.close(device.ErrDisconnected, false); err != nil {
			log.Warn().Err(err).Str("port", s.path).Msg("Error closing serial port")
		}
		m.console.add(device.LogInfo, "disconnected from %s", s.path)
		log.Info().Str("port", s.path).Msg("Board disconnected")
	}

	m.setStatus(device.StatusDisconnected, "")
}

// handleSessionExit runs when the port fails underneath a live session,
// usually because the cable was pulled.
func (m *Manager) handleSessionExit(s *session, cause error) {
	m.mu.Lock()
	current := m.sess == s
	if current {
		m.sess = nil
		m.chip = nil
		m.status = device.StatusError
		m.lastErr = cause.Error()
		m.since = time.Now()
	}
	m.mu.Unlock()

	_ = s.close(fmt.Errorf("%w: %v", device.ErrDisconnected, cause), true)

	if current {
		m.console.add(device.LogError, "connection lost: %v", cause)
	}
}

// dispatch routes one inbound frame. Replies go to the coordinator first;
// anything it does not claim continues to telemetry and the console.
func (m *Manager) dispatch(s *session, f protocol.Frame) {
	switch f.Kind() {
	case protocol.KindAck, protocol.KindError, protocol.KindVersion:
		if s.coord.Dispatch(f) {
			m.console.add(device.LogDebug, "%s", f.Raw())
			return
		}
	}

	m.telemetry.Deliver(f)
	m.console.frame(f)
}

// SendCommand writes a command and waits for its ACK.
func (m *Manager) SendCommand(ctx context.Context, command string, payload map[string]any) error {
	return m.send(ctx, command, payload, m.cfg.CommandTimeout)
}

func (m *Manager) send(ctx context.Context, command string, payload map[string]any, timeout time.Duration) error {
	s := m.session()
	if s == nil {
		return fmt.Errorf("%s: %w", command, device.ErrNotConnected)
	}
	if err := m.validator.ValidateCommand(command, payload); err != nil {
		return err
	}

	m.console.add(device.LogDebug, "> %s", command)
	if err := s.coord.Send(ctx, command, payload, timeoutFor(ctx, timeout)); err != nil {
		m.console.add(device.LogWarn, "%s failed: %v", command, err)
		return err
	}
	return nil
}

// PostCommand writes a command without waiting for any reply.
func (m *Manager) PostCommand(_ context.Context, command string, payload map[string]any) error {
	s := m.session()
	if s == nil {
		return fmt.Errorf("%s: %w", command, device.ErrNotConnected)
	}
	if err := m.validator.ValidateCommand(command, payload); err != nil {
		return err
	}

	m.console.add(device.LogDebug, "> %s", command)
	return s.coord.Post(command, payload)
}

// SetIdentity connects if needed, lets a freshly opened board finish
// booting, then sends SET_ID.
func (m *Manager) SetIdentity(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", device.ErrValidation)
	}

	if !m.IsConnected() {
		if err := m.Connect(ctx, device.ConnectOptions{}); err != nil {
			return err
		}
	}

	m.mu.RLock()
	settle := time.Until(m.connectedAt.Add(m.cfg.SettleDelay))
	m.mu.RUnlock()
	if settle > 0 {
		log.Debug().Dur("wait", settle).Msg("Waiting for board to settle")
		if err := sleepCtx(ctx, settle); err != nil {
			return err
		}
	}

	if err := m.send(ctx, "SET_ID", map[string]any{"userId": userID}, m.cfg.IdentityTimeout); err != nil {
		return fmt.Errorf("set identity: %w", err)
	}
	m.console.add(device.LogInfo, "identity set to %s", userID)
	return nil
}

// SetMission switches the firmware to a mission.
func (m *Manager) SetMission(ctx context.Context, missionID string) error {
	if err := m.send(ctx, "SET_MISSION", map[string]any{"missionId": missionID}, m.cfg.MissionTimeout); err != nil {
		return fmt.Errorf("set mission: %w", err)
	}
	m.console.add(device.LogInfo, "mission set to %s", missionID)
	return nil
}

// RequestStatus asks the firmware to report; the answer arrives as
// telemetry or STATUS lines, not as an ACK.
func (m *Manager) RequestStatus(ctx context.Context) error {
	return m.PostCommand(ctx, "GET_STATUS", nil)
}

// FirmwareVersion asks the running firmware for its version. Boards that
// never answer (blank or older firmware) yield an empty string.
func (m *Manager) FirmwareVersion(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= m.cfg.VersionAttempts; attempt++ {
		s := m.session()
		if s == nil {
			return "", fmt.Errorf("GET_VERSION: %w", device.ErrNotConnected)
		}

		f, err := s.coord.Request(ctx, protocol.Request{
			Command: "GET_VERSION",
			Reply:   protocol.KindVersion,
			Timeout: timeoutFor(ctx, m.cfg.VersionTimeout),
		})
		if err == nil {
			if v, ok := f.(protocol.VersionFrame); ok {
				return v.Version, nil
			}
		}

		switch {
		case errors.Is(err, device.ErrCommandTimeout):
			log.Debug().Int("attempt", attempt).Msg("No version reply")
		case errors.Is(err, device.ErrDeviceError):
			log.Debug().Err(err).Msg("Firmware does not report a version")
			return "", nil
		case err != nil:
			return "", err
		}

		if attempt < m.cfg.VersionAttempts {
			if err := sleepCtx(ctx, m.cfg.VersionGap); err != nil {
				return "", err
			}
		}
	}

	log.Warn().Msg("Firmware never reported a version")
	return "", nil
}

// DetectChip resets the board into the ROM loader, identifies the chip and
// resets it back into its application.
func (m *Manager) DetectChip(ctx context.Context) (*device.ChipInfo, error) {
	var info device.ChipInfo
	err := m.withLoader(ctx, func(ctx context.Context, f *flasher.Flasher) error {
		var err error
		if info, err = f.Detect(ctx); err != nil {
			return err
		}
		m.rememberChip(info)
		if err := f.Release(); err != nil {
			log.Warn().Err(err).Msg("Restoring baud rate failed")
		}
		return f.HardReset()
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// FlashFirmware validates the image, then detects the chip, erases it and
// writes every non-empty segment. The board is left for the user to reset.
func (m *Manager) FlashFirmware(ctx context.Context, img device.Image, onProgress func(device.FlashProgress)) (*device.FlashResult, error) {
	if err := firmware.Validate(img, m.cfg.FlashSize); err != nil {
		return nil, err
	}

	var result *device.FlashResult
	err := m.withLoader(ctx, func(ctx context.Context, f *flasher.Flasher) error {
		info, err := f.Detect(ctx)
		if err != nil {
			return err
		}
		m.rememberChip(info)
		defer func() {
			if err := f.Release(); err != nil {
				log.Warn().Err(err).Msg("Restoring baud rate failed")
			}
		}()

		result, err = f.Flash(ctx, img, onProgress)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.console.add(device.LogInfo, "flash complete: %d bytes in %s", result.Written, result.Duration.Round(time.Millisecond))
	m.console.add(device.LogWarn, "%s", result.Advisory)
	return result, nil
}

// withLoader hands the port to a flasher for the duration of fn. Commands
// issued meanwhile fail with ErrBusy.
func (m *Manager) withLoader(ctx context.Context, fn func(context.Context, *flasher.Flasher) error) error {
	s := m.session()
	if s == nil {
		return fmt.Errorf("flash: %w", device.ErrNotConnected)
	}
	if !m.flashing.CompareAndSwap(false, true) {
		return fmt.Errorf("flash already in progress: %w", device.ErrBusy)
	}
	defer m.flashing.Store(false)

	if err := s.intent.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.intent.Release(1)

	opts := []flasher.Option{
		flasher.WithBaudRate(s.baud),
		flasher.WithFlashBaud(m.cfg.FlashBaudRate),
		flasher.WithFlashSize(m.cfg.FlashSize),
		flasher.WithVerify(m.cfg.Verify),
		flasher.WithSegmentPause(m.cfg.SegmentPause),
		flasher.WithStateHandler(func(st device.FlashState) {
			m.console.add(device.LogInfo, "flasher: %s", st)
		}),
	}
	if m.cfg.StubPath != "" {
		stub, err := flasher.LoadStub(m.cfg.StubPath)
		if err != nil {
			return fmt.Errorf("%w: %v", device.ErrInvalidFirmware, err)
		}
		opts = append(opts, flasher.WithStub(stub))
	}

	flashCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return fmt.Errorf("flash: %w", device.ErrNotConnected)
	}
	m.flashCancel = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.flashCancel = nil
		m.mu.Unlock()
	}()

	// The board is about to reset, so nothing outstanding can be answered.
	s.coord.FailPending(fmt.Errorf("board entering loader: %w", device.ErrBusy))
	s.pause()

	f := flasher.New(s.port, opts...)
	err := fn(flashCtx, f)

	if errors.Is(err, device.ErrDisconnected) {
		m.handleSessionExit(s, err)
		return err
	}

	if m.session() != s {
		// Disconnect ran while the flasher held the port.
		if err != nil {
			return fmt.Errorf("%w: %w", device.ErrDisconnected, err)
		}
		return nil
	}

	_ = s.port.ResetInputBuffer()
	s.start()
	return err
}

// rememberChip records the identity read from the ROM loader. It outlives
// the loader hand-off so Status and ChipInfo keep reporting it.
func (m *Manager) rememberChip(info device.ChipInfo) {
	m.mu.Lock()
	m.chip = &info
	m.mu.Unlock()
}

// Status returns a snapshot of the session.
func (m *Manager) Status() device.ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := device.ConnectionStatus{
		Status:   m.status,
		Flashing: m.flashing.Load(),
		Error:    m.lastErr,
		Since:    m.since,
	}
	if m.sess != nil {
		st.Port = m.sess.path
		st.BaudRate = m.sess.baud
	}
	if m.chip != nil {
		chip := *m.chip
		st.Chip = &chip
	}
	return st
}

// ChipInfo returns the chip found by the last detection on this session.
func (m *Manager) ChipInfo() *device.ChipInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.chip == nil {
		return nil
	}
	chip := *m.chip
	return &chip
}

// IsConnected returns true while a session is open.
func (m *Manager) IsConnected() bool {
	return m.session() != nil
}

// Close disconnects.
func (m *Manager) Close() {
	m.Disconnect()
}

// SubscribeTelemetry registers fn for readings arriving from now on.
func (m *Manager) SubscribeTelemetry(fn func(device.Telemetry)) func() {
	return m.telemetry.Subscribe(fn)
}

// LatestTelemetry returns the last reading seen.
func (m *Manager) LatestTelemetry() (device.Telemetry, bool) {
	return m.telemetry.Latest()
}

// SubscribeLogs registers fn for console lines arriving from now on.
func (m *Manager) SubscribeLogs(fn func(device.LogLine)) func() {
	return m.console.hub.Subscribe(fn)
}

// RecentLogs returns the console history, oldest first.
func (m *Manager) RecentLogs() []device.LogLine {
	return m.console.recent()
}

func (m *Manager) session() *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess
}

func (m *Manager) setStatus(st device.Status, errMsg string) {
	m.mu.Lock()
	m.status = st
	m.lastErr = errMsg
	m.since = time.Now()
	m.mu.Unlock()
}

// timeoutFor shortens def to the context deadline so callers see
// ErrCommandTimeout rather than a bare deadline error.
func timeoutFor(ctx context.Context, def time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && left < def {
			return left
		}
	}
	return def
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
