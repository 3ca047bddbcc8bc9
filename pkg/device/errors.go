package device

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported indicates the host has no usable serial capability
	ErrNotSupported = errors.New("serial not supported on this host")

	// ErrNoPortSelected indicates no port was chosen and none could be detected
	ErrNoPortSelected = errors.New("no serial port selected")

	// ErrPermissionDenied indicates the host refused access to the port
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDisconnected indicates the device went away mid-session
	ErrDisconnected = errors.New("device disconnected")

	// ErrCommandTimeout indicates no ACK or ERROR arrived before the deadline
	ErrCommandTimeout = errors.New("command timed out")

	// ErrDeviceError indicates the device explicitly reported a failure
	ErrDeviceError = errors.New("device error")

	// ErrNotConnected indicates the controller is not connected
	ErrNotConnected = errors.New("controller not connected")

	// ErrFlashFailed indicates an erase or write step failed
	ErrFlashFailed = errors.New("flash failed")

	// ErrInvalidFirmware indicates a corrupt or wrong-format image
	ErrInvalidFirmware = errors.New("invalid firmware")

	// ErrBusy indicates another operation holds the transport
	ErrBusy = errors.New("device busy")

	// ErrUnsupported indicates an operation is not supported by the controller
	ErrUnsupported = errors.New("operation not supported")

	// ErrValidation indicates a command payload failed schema validation
	ErrValidation = errors.New("validation error")
)

// DeviceError carries the message the firmware sent in an ERROR frame.
type DeviceError struct {
	Command string
	Message string
}

func (e *DeviceError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("device error: %s", e.Message)
	}
	return fmt.Sprintf("device error on %s: %s", e.Command, e.Message)
}

func (e *DeviceError) Is(target error) bool {
	return target == ErrDeviceError
}

// FlashError wraps the cause of a failed flash attempt. The flash memory may
// already have been partially written when it is returned.
type FlashError struct {
	Stage   FlashState
	Segment string
	Err     error
}

func (e *FlashError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("flash failed while %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("flash failed while %s %s: %v", e.Stage, e.Segment, e.Err)
}

func (e *FlashError) Unwrap() error {
	return e.Err
}

func (e *FlashError) Is(target error) bool {
	return target == ErrFlashFailed
}

// Error kinds reported to API and MCP clients.
const (
	KindNotSupported     = "NOT_SUPPORTED"
	KindNoPortSelected   = "NO_PORT_SELECTED"
	KindPermissionDenied = "PERMISSION_DENIED"
	KindDisconnected     = "DISCONNECTED"
	KindCommandTimeout   = "COMMAND_TIMEOUT"
	KindDeviceError      = "DEVICE_ERROR"
	KindNotConnected     = "NOT_CONNECTED"
	KindFlashFailed      = "FLASH_FAILED"
	KindInvalidFirmware  = "INVALID_FIRMWARE"
	KindBusy             = "BUSY"
	KindValidation       = "VALIDATION"
	KindUnsupported      = "UNSUPPORTED"
	KindInternal         = "INTERNAL"
)

// Flash failures are checked first so a FlashError caused by a disconnect
// still reports FLASH_FAILED.
var kinds = []struct {
	err  error
	kind string
}{
	{ErrFlashFailed, KindFlashFailed},
	{ErrInvalidFirmware, KindInvalidFirmware},
	{ErrNotSupported, KindNotSupported},
	{ErrNoPortSelected, KindNoPortSelected},
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrDisconnected, KindDisconnected},
	{ErrCommandTimeout, KindCommandTimeout},
	{ErrDeviceError, KindDeviceError},
	{ErrNotConnected, KindNotConnected},
	{ErrBusy, KindBusy},
	{ErrValidation, KindValidation},
	{ErrUnsupported, KindUnsupported},
}

// KindOf returns the stable error kind for err.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable reports whether the user can reasonably try the operation again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNotSupported, KindInvalidFirmware, KindValidation, KindUnsupported:
		return false
	case "":
		return false
	}
	return true
}
