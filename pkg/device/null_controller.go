package device

import (
	"context"
	"time"
)

// NullController is a no-op controller used when the host has no serial
// support. It allows the API to run in limited mode without a board.
type NullController struct {
	since time.Time
}

// NewNullController creates a new NullController.
func NewNullController() *NullController {
	return &NullController{since: time.Now()}
}

func (c *NullController) ListPorts(ctx context.Context) ([]PortInfo, error) {
	return nil, ErrNotSupported
}

func (c *NullController) Connect(ctx context.Context, opts ConnectOptions) error {
	return ErrNotSupported
}

func (c *NullController) Disconnect() {}

func (c *NullController) SendCommand(ctx context.Context, command string, payload map[string]any) error {
	return ErrNotConnected
}

func (c *NullController) PostCommand(ctx context.Context, command string, payload map[string]any) error {
	return ErrNotConnected
}

func (c *NullController) SetIdentity(ctx context.Context, userID string) error {
	return ErrNotSupported
}

func (c *NullController) SetMission(ctx context.Context, missionID string) error {
	return ErrNotConnected
}

func (c *NullController) RequestStatus(ctx context.Context) error {
	return ErrNotConnected
}

func (c *NullController) FirmwareVersion(ctx context.Context) (string, error) {
	return "", ErrNotConnected
}

func (c *NullController) DetectChip(ctx context.Context) (*ChipInfo, error) {
	return nil, ErrNotConnected
}

func (c *NullController) FlashFirmware(ctx context.Context, img Image, onProgress func(FlashProgress)) (*FlashResult, error) {
	return nil, ErrNotConnected
}

func (c *NullController) Status() ConnectionStatus {
	return ConnectionStatus{
		Status: StatusDisconnected,
		Error:  ErrNotSupported.Error(),
		Since:  c.since,
	}
}

func (c *NullController) ChipInfo() *ChipInfo {
	return nil
}

func (c *NullController) IsConnected() bool {
	return false
}

func (c *NullController) Close() {}

// NullEventSubscriber is a no-op subscriber paired with NullController.
type NullEventSubscriber struct{}

// NewNullEventSubscriber creates a new NullEventSubscriber.
func NewNullEventSubscriber() *NullEventSubscriber {
	return &NullEventSubscriber{}
}

func (s *NullEventSubscriber) SubscribeTelemetry(fn func(Telemetry)) func() {
	// Nothing is ever delivered; callers should check IsConnected() on the controller
	return func() {}
}

func (s *NullEventSubscriber) LatestTelemetry() (Telemetry, bool) {
	return Telemetry{}, false
}

func (s *NullEventSubscriber) SubscribeLogs(fn func(LogLine)) func() {
	return func() {}
}

func (s *NullEventSubscriber) RecentLogs() []LogLine {
	return nil
}
