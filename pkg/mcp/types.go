package mcp

import "github.com/urmzd/ninho/pkg/device"

// GetHealthOutput is the output for the get_health tool
type GetHealthOutput struct {
	Status     string `json:"status" jsonschema:"description=Overall health status (healthy or degraded)"`
	Controller string `json:"controller" jsonschema:"description=Board session status"`
	Timestamp  string `json:"timestamp" jsonschema:"description=ISO8601 timestamp"`
}

// ListPortsOutput is the output for the list_ports tool
type ListPortsOutput struct {
	Ports []device.PortInfo `json:"ports" jsonschema:"description=Serial ports on the host"`
	Count int               `json:"count" jsonschema:"description=Number of ports"`
}

// SetMissionInput is the input for the set_mission tool
type SetMissionInput struct {
	MissionID string `json:"mission_id,omitempty" jsonschema:"description=Firmware mission id"`
	Level     *int   `json:"level,omitempty" jsonschema:"description=Lesson level 0-5"`
}

// SetMissionOutput is the output for the set_mission tool
type SetMissionOutput struct {
	MissionID string `json:"mission_id" jsonschema:"description=Mission the firmware switched to"`
	Level     *int   `json:"level,omitempty" jsonschema:"description=Lesson level"`
	Title     string `json:"title,omitempty" jsonschema:"description=Lesson title"`
}

// CommandOutput is the output for commands that the board acknowledges
type CommandOutput struct {
	Success bool   `json:"success" jsonschema:"description=Whether the board acknowledged"`
	Command string `json:"command" jsonschema:"description=Command type"`
	Message string `json:"message" jsonschema:"description=Status message"`
}

// FirmwareVersionOutput is the output for the get_firmware_version tool
type FirmwareVersionOutput struct {
	Version         string `json:"version" jsonschema:"description=Reported version, empty when the firmware never answered"`
	Expected        string `json:"expected,omitempty" jsonschema:"description=Version this bridge expects"`
	UpdateAvailable bool   `json:"update_available" jsonschema:"description=True when the board should be reflashed"`
}

// ErrorOutput is returned as the text of failed tool calls
type ErrorOutput struct {
	Error     string `json:"error" jsonschema:"description=Stable error kind"`
	Message   string `json:"message" jsonschema:"description=Human readable message"`
	Retryable bool   `json:"retryable" jsonschema:"description=Whether trying again may help"`
}
