package types

import (
	"time"

	"github.com/urmzd/ninho/pkg/device"
)

// --- Request DTOs ---

// ConnectRequest is the request body for POST /connection
type ConnectRequest struct {
	Port     string `json:"port,omitempty"`
	BaudRate int    `json:"baud_rate,omitempty"`
}

// CommandRequest is the request body for POST /commands and /commands/raw
type CommandRequest struct {
	Type      string         `json:"type" binding:"required"`
	Payload   map[string]any `json:"payload,omitempty"`
	TimeoutMS int            `json:"timeout_ms,omitempty"`
}

// IdentityRequest is the request body for POST /identity
type IdentityRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// MissionRequest is the request body for POST /mission. Either the firmware
// mission id or a lesson level is given.
type MissionRequest struct {
	MissionID string `json:"mission_id,omitempty"`
	Level     *int   `json:"level,omitempty"`
}

// FlashManifestRequest is the JSON body for POST /firmware/flash
type FlashManifestRequest struct {
	Manifest string `json:"manifest" binding:"required"`
}

// --- Response DTOs ---

// ErrorResponse represents an API error. Error is a stable kind such as
// NOT_CONNECTED or COMMAND_TIMEOUT.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

// HealthResponse is returned from GET /health
type HealthResponse struct {
	Status     string        `json:"status"`
	Controller device.Status `json:"controller"`
	Timestamp  time.Time     `json:"timestamp"`
}

// ListPortsResponse is returned from GET /ports
type ListPortsResponse struct {
	Ports []device.PortInfo `json:"ports"`
	Count int               `json:"count"`
}

// AckResponse is returned when the board acknowledged a command
type AckResponse struct {
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// MissionResponse is returned from POST /mission
type MissionResponse struct {
	MissionID string    `json:"mission_id"`
	Level     *int      `json:"level,omitempty"`
	Title     string    `json:"title,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FirmwareVersionResponse is returned from GET /firmware/version
type FirmwareVersionResponse struct {
	Version         string `json:"version"`
	Expected        string `json:"expected,omitempty"`
	UpdateAvailable bool   `json:"update_available"`
}

// ChipResponse is returned from POST /chip/detect
type ChipResponse struct {
	Chip device.ChipInfo `json:"chip"`
}

// TelemetryResponse is returned from GET /telemetry/latest
type TelemetryResponse struct {
	Telemetry *device.Telemetry `json:"telemetry"`
}
