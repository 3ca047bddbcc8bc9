package device

import "time"

// Status is the connection state of the serial session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ConnectOptions selects the port to open. Zero values fall back to the
// configured port (or USB auto-detection) and the configured baud rate.
type ConnectOptions struct {
	Port     string `json:"port,omitempty"`
	BaudRate int    `json:"baud_rate,omitempty"`
}

// ConnectionStatus is a snapshot of the session for display.
type ConnectionStatus struct {
	Status   Status    `json:"status"`
	Port     string    `json:"port,omitempty"`
	BaudRate int       `json:"baud_rate,omitempty"`
	Chip     *ChipInfo `json:"chip,omitempty"`
	Flashing bool      `json:"flashing"`
	Error    string    `json:"error,omitempty"`
	Since    time.Time `json:"since"`
}

// ChipInfo identifies the microcontroller once the ROM loader has answered.
type ChipInfo struct {
	Name  string `json:"name"`            // ESP32, ESP32-S3, ...
	MAC   string `json:"mac"`             // AA:BB:CC:DD:EE:FF
	Magic uint32 `json:"magic,omitempty"` // chip detect register value
	Stub  bool   `json:"stub"`            // flasher stub is running
}

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Path         string `json:"path"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
	Bridge       string `json:"bridge,omitempty"` // known USB-UART bridge, if recognised
}

// PinState is a single digital pin reading.
type PinState struct {
	Mode  string `json:"mode"` // input or output
	Value int    `json:"value"`
}

// Telemetry is one decoded TELEMETRY frame.
type Telemetry struct {
	UserID    string              `json:"user_id"`
	MissionID string              `json:"mission_id,omitempty"`
	DeviceID  string              `json:"device_id"`
	Timestamp time.Time           `json:"timestamp"`
	GPIO      map[string]PinState `json:"gpio"`
	ADC       map[string]float64  `json:"adc"`
}

// LogLine is one entry of the device console.
type LogLine struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"` // debug, info, warn, error
	Message string    `json:"message"`
}

// Log levels used on the device console.
const (
	LogDebug = "debug"
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// SegmentRole tells the validator what a firmware segment should look like.
type SegmentRole string

const (
	RoleBootloader SegmentRole = "bootloader"
	RolePartitions SegmentRole = "partitions"
	RoleBootApp0   SegmentRole = "boot_app0"
	RoleApp        SegmentRole = "app"
)

// Segment is one flat binary written at a fixed flash offset.
type Segment struct {
	Name   string      `json:"name"`
	Role   SegmentRole `json:"role,omitempty"`
	Offset uint32      `json:"offset"`
	Data   []byte      `json:"-"`
}

// Image is the ordered list of segments that make up a firmware build.
type Image struct {
	Segments []Segment `json:"segments"`
}

// TotalSize returns the number of bytes that will be written.
func (img Image) TotalSize() int {
	n := 0
	for _, s := range img.Segments {
		n += len(s.Data)
	}
	return n
}

// FlashState is a step of the flashing state machine.
type FlashState string

const (
	FlashIdle       FlashState = "idle"
	FlashDetecting  FlashState = "detecting-chip"
	FlashStubLoaded FlashState = "stub-loaded"
	FlashErasing    FlashState = "erasing"
	FlashWriting    FlashState = "writing"
	FlashVerifying  FlashState = "verifying"
	FlashDone       FlashState = "done"
	FlashFailed     FlashState = "error"
)

// FlashProgress is reported after every block written.
type FlashProgress struct {
	Segment string `json:"segment"`
	Index   int    `json:"index"` // 1-based
	Count   int    `json:"count"`
	Written int    `json:"written"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"` // this segment, 0-100
	Overall int    `json:"overall"` // whole image, 0-100
}

// FlashResult summarises a completed flash.
type FlashResult struct {
	Chip     ChipInfo      `json:"chip"`
	Written  int           `json:"written"`
	Skipped  []string      `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
	Advisory string        `json:"advisory"`
}

// RebootAdvisory is surfaced after a successful flash. The flasher never
// resets the board itself.
const RebootAdvisory = "reboot required: press the RESET (EN) button on the board"
