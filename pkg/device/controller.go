package device

import "context"

// Controller defines the interface for talking to the attached board.
// The API and MCP surfaces only ever see this abstraction.
type Controller interface {
	// ListPorts returns the serial ports present on the host
	ListPorts(ctx context.Context) ([]PortInfo, error)

	// Connect opens the serial session; a no-op when already connected
	Connect(ctx context.Context, opts ConnectOptions) error

	// Disconnect tears the session down; always ends disconnected
	Disconnect()

	// SendCommand writes a command and waits for its ACK
	SendCommand(ctx context.Context, command string, payload map[string]any) error

	// PostCommand writes a command without waiting for a reply
	PostCommand(ctx context.Context, command string, payload map[string]any) error

	// SetIdentity forwards the learner's user ID, connecting first if needed
	SetIdentity(ctx context.Context, userID string) error

	// SetMission selects the firmware mission to run
	SetMission(ctx context.Context, missionID string) error

	// RequestStatus asks the firmware to report its state
	RequestStatus(ctx context.Context) error

	// FirmwareVersion probes the running firmware; empty when it never answers
	FirmwareVersion(ctx context.Context) (string, error)

	// DetectChip enters the ROM loader, identifies the chip and resets back
	DetectChip(ctx context.Context) (*ChipInfo, error)

	// FlashFirmware erases the flash and writes every non-empty segment
	FlashFirmware(ctx context.Context, img Image, onProgress func(FlashProgress)) (*FlashResult, error)

	// Status returns a snapshot of the session
	Status() ConnectionStatus

	// ChipInfo returns the detected chip, or nil before detection
	ChipInfo() *ChipInfo

	// IsConnected returns true if the session is open
	IsConnected() bool

	// Close disconnects the controller
	Close()
}

// EventSubscriber defines the interface for subscribing to device output.
// Callbacks run synchronously on the reader goroutine and must not block.
type EventSubscriber interface {
	// SubscribeTelemetry registers fn for every telemetry reading
	SubscribeTelemetry(fn func(Telemetry)) (unsubscribe func())

	// LatestTelemetry returns the most recent reading, if any
	LatestTelemetry() (Telemetry, bool)

	// SubscribeLogs registers fn for every device console line
	SubscribeLogs(fn func(LogLine)) (unsubscribe func())

	// RecentLogs returns the buffered console history, oldest first
	RecentLogs() []LogLine
}
