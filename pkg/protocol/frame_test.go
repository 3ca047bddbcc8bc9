package protocol

import (
	"encoding/json"
	"testing"
)

func TestParse_NonJSONIsRaw(t *testing.T) {
	inputs := []string{
		"INIT ESP32 v1.2",
		"ets Jun  8 2016 00:22:57",
		"{not json",
		"{\"type\":\"ACK\"} trailing",
		"rst:0x1 (POWERON_RESET),boot:0x13 (SPI_FAST_FLASH_BOOT)",
	}

	for _, in := range inputs {
		f := Parse(in)
		raw, ok := f.(RawFrame)
		if !ok {
			t.Errorf("Parse(%q) = %T, want RawFrame", in, f)
			continue
		}
		if raw.Raw() != in {
			t.Errorf("raw text = %q, want %q", raw.Raw(), in)
		}
	}
}

func TestParse_JSONWithoutTypeIsUnknown(t *testing.T) {
	inputs := []string{
		`{"command":"SET_ID"}`,
		`{"type":""}`,
		`{"type":7}`,
		`[1,2,3]`,
		`42`,
		`null`,
	}

	for _, in := range inputs {
		f := Parse(in)
		if f.Kind() != KindUnknown {
			t.Errorf("Parse(%q).Kind() = %s, want UNKNOWN", in, f.Kind())
		}
		if f.Raw() != in {
			t.Errorf("raw text = %q, want %q", f.Raw(), in)
		}
	}
}

func TestParse_Telemetry(t *testing.T) {
	in := `{"type":"TELEMETRY","userId":"u1","missionId":"MISSION_1_BLINK","readings":{"led":1,"btn":0,"pot":512}}`

	tf, ok := Parse(in).(TelemetryFrame)
	if !ok {
		t.Fatalf("expected TelemetryFrame, got %T", Parse(in))
	}
	if tf.UserID != "u1" || tf.MissionID != "MISSION_1_BLINK" {
		t.Errorf("unexpected ids: %+v", tf)
	}
	if tf.Readings["pot"] != json.Number("512") {
		t.Errorf("pot = %v, want 512", tf.Readings["pot"])
	}
}

func TestParse_MalformedTelemetryIsUnknown(t *testing.T) {
	f := Parse(`{"type":"TELEMETRY","readings":"oops"}`)

	u, ok := f.(UnknownFrame)
	if !ok {
		t.Fatalf("expected UnknownFrame, got %T", f)
	}
	if u.Type != "TELEMETRY" {
		t.Errorf("type = %q, want TELEMETRY", u.Type)
	}
}

func TestParse_Ack(t *testing.T) {
	f := Parse(`{"type":"ACK","command":"SET_MISSION"}`)

	ack, ok := f.(AckFrame)
	if !ok {
		t.Fatalf("expected AckFrame, got %T", f)
	}
	if ack.Command != "SET_MISSION" {
		t.Errorf("command = %q", ack.Command)
	}
}

func TestParse_ErrorMessageFields(t *testing.T) {
	cases := map[string]string{
		`{"type":"ERROR","message":"bad id"}`:             "bad id",
		`{"type":"ERROR","msg":"bad id"}`:                 "bad id",
		`{"type":"ERROR","message":"a","msg":"b"}`:        "a",
		`{"type":"ERROR"}`:                                "",
		`{"type":"ERROR","message":42}`:                   "",
		`{"type":"ERROR","command":"SET_ID","msg":"nope"}`: "nope",
	}

	for in, want := range cases {
		ef, ok := Parse(in).(ErrorFrame)
		if !ok {
			t.Errorf("Parse(%q) is not an ErrorFrame", in)
			continue
		}
		if ef.Message != want {
			t.Errorf("Parse(%q).Message = %q, want %q", in, ef.Message, want)
		}
	}
}

func TestParse_LogAndStatus(t *testing.T) {
	f := Parse(`{"type":"STATUS","msg":"mission running","mission":"INTRO"}`)

	lf, ok := f.(LogFrame)
	if !ok {
		t.Fatalf("expected LogFrame, got %T", f)
	}
	if lf.Kind() != KindStatus || lf.Message != "mission running" {
		t.Errorf("unexpected frame: %+v", lf)
	}
	if lf.Fields["mission"] != "INTRO" {
		t.Errorf("extra fields not kept: %+v", lf.Fields)
	}

	if Parse(`{"type":"LOG","message":"hi"}`).Kind() != KindLog {
		t.Error("expected LOG kind")
	}
}

func TestParse_Version(t *testing.T) {
	vf, ok := Parse(`{"type":"VERSION","version":"1.0.0"}`).(VersionFrame)
	if !ok {
		t.Fatal("expected VersionFrame")
	}
	if vf.Version != "1.0.0" {
		t.Errorf("version = %q", vf.Version)
	}
}

func TestParse_UnmodelledType(t *testing.T) {
	u, ok := Parse(`{"type":"HELLO"}`).(UnknownFrame)
	if !ok {
		t.Fatal("expected UnknownFrame")
	}
	if u.Type != "HELLO" {
		t.Errorf("type = %q", u.Type)
	}
}
