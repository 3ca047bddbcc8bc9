package protocol

import (
	"bytes"
	"encoding/json"
)

// Kind tags a decoded line.
type Kind string

const (
	KindTelemetry Kind = "TELEMETRY"
	KindAck       Kind = "ACK"
	KindError     Kind = "ERROR"
	KindLog       Kind = "LOG"
	KindStatus    Kind = "STATUS"
	KindVersion   Kind = "VERSION"
	KindUnknown   Kind = "UNKNOWN"
	KindRaw       Kind = "RAW"
)

// Frame is one classified input line. The concrete types below are the
// only implementations.
type Frame interface {
	Kind() Kind
	Raw() string
	isFrame()
}

type line struct {
	raw string
}

func (l line) Raw() string { return l.raw }
func (line) isFrame()      {}

// TelemetryFrame carries pin readings.
type TelemetryFrame struct {
	line
	UserID    string
	MissionID string
	DeviceID  string
	Readings  map[string]any // json.Number or bool values
}

func (TelemetryFrame) Kind() Kind { return KindTelemetry }

// AckFrame confirms a command.
type AckFrame struct {
	line
	Command string
}

func (AckFrame) Kind() Kind { return KindAck }

// ErrorFrame reports a device-side failure. Command is set only when the
// firmware names the command it rejects.
type ErrorFrame struct {
	line
	Command string
	Message string
}

func (ErrorFrame) Kind() Kind { return KindError }

// LogFrame is an informational LOG or STATUS line.
type LogFrame struct {
	line
	Type    Kind
	Message string
	Fields  map[string]any
}

func (f LogFrame) Kind() Kind { return f.Type }

// VersionFrame answers GET_VERSION.
type VersionFrame struct {
	line
	Version string
}

func (VersionFrame) Kind() Kind { return KindVersion }

// UnknownFrame is valid JSON without a usable type, or with a type this
// package does not model.
type UnknownFrame struct {
	line
	Type string
}

func (UnknownFrame) Kind() Kind { return KindUnknown }

// RawFrame is a non-JSON line, usually boot output.
type RawFrame struct {
	line
}

func (RawFrame) Kind() Kind { return KindRaw }

// Parse classifies a trimmed line. It never fails: input that cannot be
// decoded degrades to UnknownFrame or RawFrame.
func Parse(raw string) Frame {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		if json.Valid([]byte(raw)) {
			return UnknownFrame{line: line{raw}}
		}
		return RawFrame{line: line{raw}}
	}
	if fields == nil {
		// "null"
		return UnknownFrame{line: line{raw}}
	}

	var typ string
	if err := json.Unmarshal(fields["type"], &typ); err != nil || typ == "" {
		return UnknownFrame{line: line{raw}}
	}

	l := line{raw}
	switch Kind(typ) {
	case KindTelemetry:
		var msg struct {
			UserID    string         `json:"userId"`
			MissionID string         `json:"missionId"`
			DeviceID  string         `json:"deviceId"`
			Readings  map[string]any `json:"readings"`
		}
		if err := decodeNumbers(raw, &msg); err != nil {
			return UnknownFrame{line: l, Type: typ}
		}
		return TelemetryFrame{
			line:      l,
			UserID:    msg.UserID,
			MissionID: msg.MissionID,
			DeviceID:  msg.DeviceID,
			Readings:  msg.Readings,
		}

	case KindAck:
		var msg struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return UnknownFrame{line: l, Type: typ}
		}
		return AckFrame{line: l, Command: msg.Command}

	case KindError:
		return ErrorFrame{line: l, Command: stringField(fields, "command"), Message: message(fields)}

	case KindLog, KindStatus:
		var all map[string]any
		_ = decodeNumbers(raw, &all)
		delete(all, "type")
		delete(all, "msg")
		delete(all, "message")
		return LogFrame{line: l, Type: Kind(typ), Message: message(fields), Fields: all}

	case KindVersion:
		return VersionFrame{line: l, Version: stringField(fields, "version")}
	}

	return UnknownFrame{line: l, Type: typ}
}

// message reads "message" and falls back to "msg"; firmware builds use both.
// A missing or non-string field is an empty message.
func message(fields map[string]json.RawMessage) string {
	if m := stringField(fields, "message"); m != "" {
		return m
	}
	return stringField(fields, "msg")
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := fields[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func decodeNumbers(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	return dec.Decode(v)
}
