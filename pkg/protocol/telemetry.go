package protocol

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/urmzd/ninho/pkg/device"
)

// DefaultDeviceID is used when the firmware does not report one.
const DefaultDeviceID = "esp32"

// Digital pins wired on the lesson board and their direction.
var digitalPins = map[string]string{
	"led":    "output",
	"btn":    "input",
	"buzzer": "output",
}

// TelemetryChannel turns TELEMETRY frames into device.Telemetry and
// republishes them. Other frame kinds are ignored.
type TelemetryChannel struct {
	hub Hub[device.Telemetry]
	now func() time.Time

	mu     sync.RWMutex
	latest *device.Telemetry
}

// NewTelemetryChannel creates an empty channel.
func NewTelemetryChannel() *TelemetryChannel {
	return &TelemetryChannel{now: time.Now}
}

// Subscribe registers fn for every reading that arrives after this call.
func (c *TelemetryChannel) Subscribe(fn func(device.Telemetry)) func() {
	return c.hub.Subscribe(fn)
}

// Deliver publishes f if it is telemetry and reports whether it was.
func (c *TelemetryChannel) Deliver(f Frame) bool {
	tf, ok := f.(TelemetryFrame)
	if !ok {
		return false
	}

	t := DecodeTelemetry(tf, c.now())

	c.mu.Lock()
	c.latest = &t
	c.mu.Unlock()

	c.hub.Publish(t)
	return true
}

// Latest returns the most recent reading.
func (c *TelemetryChannel) Latest() (device.Telemetry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return device.Telemetry{}, false
	}
	return *c.latest, true
}

// DecodeTelemetry maps raw readings onto digital pins and analog inputs.
// Known digital pins keep their board direction; any other boolean is an
// input pin; any other number is an analog reading.
func DecodeTelemetry(f TelemetryFrame, at time.Time) device.Telemetry {
	t := device.Telemetry{
		UserID:    f.UserID,
		MissionID: f.MissionID,
		DeviceID:  f.DeviceID,
		Timestamp: at,
		GPIO:      make(map[string]device.PinState),
		ADC:       make(map[string]float64),
	}
	if t.DeviceID == "" {
		t.DeviceID = DefaultDeviceID
	}

	for name, raw := range f.Readings {
		if mode, ok := digitalPins[name]; ok {
			if v, ok := pinValue(raw); ok {
				t.GPIO[name] = device.PinState{Mode: mode, Value: v}
			}
			continue
		}

		switch v := raw.(type) {
		case bool:
			t.GPIO[name] = device.PinState{Mode: "input", Value: boolToInt(v)}
		case json.Number:
			if n, err := v.Float64(); err == nil {
				t.ADC[name] = n
			}
		case float64:
			t.ADC[name] = v
		}
	}

	return t
}

func pinValue(raw any) (int, bool) {
	switch v := raw.(type) {
	case bool:
		return boolToInt(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			n = int64(f)
		}
		return int(n), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
