package protocol

import (
	"testing"
	"time"

	"github.com/urmzd/ninho/pkg/device"
)

func TestDecodeTelemetry(t *testing.T) {
	tf := Parse(`{"type":"TELEMETRY","userId":"u1","missionId":"MISSION_1_BLINK","readings":{"led":1,"btn":0,"pot":512,"touch":true,"temp":21.5}}`).(TelemetryFrame)
	at := time.Unix(1700000000, 0)

	tm := DecodeTelemetry(tf, at)

	if tm.UserID != "u1" || tm.MissionID != "MISSION_1_BLINK" {
		t.Errorf("unexpected ids: %+v", tm)
	}
	if tm.DeviceID != DefaultDeviceID {
		t.Errorf("device id = %q, want default", tm.DeviceID)
	}
	if !tm.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v", tm.Timestamp)
	}
	if tm.GPIO["led"] != (device.PinState{Mode: "output", Value: 1}) {
		t.Errorf("led = %+v", tm.GPIO["led"])
	}
	if tm.GPIO["btn"] != (device.PinState{Mode: "input", Value: 0}) {
		t.Errorf("btn = %+v", tm.GPIO["btn"])
	}
	if tm.GPIO["touch"] != (device.PinState{Mode: "input", Value: 1}) {
		t.Errorf("touch = %+v", tm.GPIO["touch"])
	}
	if tm.ADC["pot"] != 512 || tm.ADC["temp"] != 21.5 {
		t.Errorf("adc = %+v", tm.ADC)
	}
}

func TestTelemetryChannel_OnlyTelemetry(t *testing.T) {
	c := NewTelemetryChannel()

	var got []device.Telemetry
	c.Subscribe(func(tm device.Telemetry) { got = append(got, tm) })

	frames := []string{
		"INIT ESP32 v1.2",
		`{"type":"ACK","command":"SET_ID"}`,
		`{"type":"TELEMETRY","readings":"broken"}`,
		`{"type":"TELEMETRY","userId":"u1","readings":{"led":1}}`,
		`{"type":"TELEMETRY","userId":"u1","readings":{"led":0}}`,
	}
	for _, line := range frames {
		c.Deliver(Parse(line))
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(got))
	}
	if got[0].GPIO["led"].Value != 1 || got[1].GPIO["led"].Value != 0 {
		t.Errorf("readings out of order: %+v", got)
	}

	latest, ok := c.Latest()
	if !ok || latest.GPIO["led"].Value != 0 {
		t.Errorf("latest = %+v, %v", latest, ok)
	}
}

func TestHub_OrderAndUnsubscribe(t *testing.T) {
	var h Hub[int]
	var order []string

	unA := h.Subscribe(func(v int) { order = append(order, "a") })
	h.Subscribe(func(v int) { order = append(order, "b") })

	h.Publish(1)
	unA()
	unA()
	h.Publish(2)

	want := []string{"a", "b", "b"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
	if h.Len() != 1 {
		t.Errorf("expected 1 subscriber, got %d", h.Len())
	}
}

func TestHub_NoReplayForLateSubscriber(t *testing.T) {
	var h Hub[string]
	h.Publish("early")

	var got []string
	h.Subscribe(func(s string) { got = append(got, s) })
	h.Publish("late")

	if len(got) != 1 || got[0] != "late" {
		t.Errorf("got %v, want [late]", got)
	}
}
