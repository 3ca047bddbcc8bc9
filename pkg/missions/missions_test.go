package missions

import (
	"errors"
	"testing"

	"github.com/urmzd/ninho/pkg/device"
)

func TestByLevel(t *testing.T) {
	m, err := ByLevel(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.FirmwareCommand != "MISSION_1_BLINK" || m.LessonID != "1" {
		t.Errorf("unexpected mission %+v", m)
	}

	intro, _ := ByLevel(0)
	if intro.FirmwareCommand != "INTRO" || intro.Practice {
		t.Errorf("unexpected intro %+v", intro)
	}
}

func TestByLevel_Unknown(t *testing.T) {
	for _, level := range []int{-1, 6} {
		if _, err := ByLevel(level); !errors.Is(err, device.ErrValidation) {
			t.Errorf("level %d: expected validation error, got %v", level, err)
		}
	}
}

func TestByFirmwareCommand(t *testing.T) {
	m, ok := ByFirmwareCommand("MISSION_3_BUZZER")
	if !ok || m.Level != 3 {
		t.Errorf("got %+v, %v", m, ok)
	}
	if _, ok := ByFirmwareCommand("MISSION_9"); ok {
		t.Error("unknown id should not resolve")
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	all := All()
	all[0].Title = "changed"
	if m, _ := ByLevel(0); m.Title == "changed" {
		t.Error("All must not expose the catalogue")
	}
}
