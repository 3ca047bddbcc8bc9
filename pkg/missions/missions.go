// Package missions maps course lessons onto the mission ids the board
// firmware switches between.
package missions

import (
	"fmt"
	"strconv"

	"github.com/urmzd/ninho/pkg/device"
)

// Mission is one lesson of the course and the firmware mode it needs.
type Mission struct {
	Level           int    `json:"level"`
	LessonID        string `json:"lesson_id"`
	Title           string `json:"title"`
	FirmwareCommand string `json:"firmware_command"`
	Practice        bool   `json:"practice"`
}

var catalogue = []Mission{
	{Level: 0, Title: "Introduction: what is a microcontroller?", FirmwareCommand: "INTRO"},
	{Level: 1, Title: "Mission 1: LED (digital output)", FirmwareCommand: "MISSION_1_BLINK", Practice: true},
	{Level: 2, Title: "Mission 2: external LED and resistor", FirmwareCommand: "MISSION_2_LED_1K", Practice: true},
	{Level: 3, Title: "Mission 3: buzzer", FirmwareCommand: "MISSION_3_BUZZER", Practice: true},
	{Level: 4, Title: "Mission 4: state machine", FirmwareCommand: "MISSION_4_STATE_MACHINE", Practice: true},
	{Level: 5, Title: "Mission 5: final project", FirmwareCommand: "MISSION_5_FINAL", Practice: true},
}

func init() {
	for i := range catalogue {
		catalogue[i].LessonID = strconv.Itoa(catalogue[i].Level)
	}
}

// All returns the catalogue in level order.
func All() []Mission {
	return append([]Mission(nil), catalogue...)
}

// ByLevel returns the mission for a lesson level.
func ByLevel(level int) (Mission, error) {
	if level < 0 || level >= len(catalogue) {
		return Mission{}, fmt.Errorf("%w: no mission for level %d", device.ErrValidation, level)
	}
	return catalogue[level], nil
}

// ByFirmwareCommand looks a mission up by the id sent in SET_MISSION.
func ByFirmwareCommand(id string) (Mission, bool) {
	for _, m := range catalogue {
		if m.FirmwareCommand == id {
			return m, true
		}
	}
	return Mission{}, false
}
