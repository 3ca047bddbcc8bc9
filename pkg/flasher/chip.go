package flasher

import "fmt"

// chipMagicReg holds a per-family constant in every ESP ROM.
const chipMagicReg = 0x40001000

// chipFamily describes what the flasher needs to know per chip family.
type chipFamily struct {
	Name    string
	Magic   uint32
	MACReg  uint32 // two consecutive eFuse words hold the base MAC
	BeginV2 bool   // ROM FLASH_BEGIN takes a fifth "encrypted" word
}

var chipFamilies = []chipFamily{
	{Name: "ESP32", Magic: 0x00F01D83, MACReg: 0x3FF5A004},
	{Name: "ESP32-S2", Magic: 0x000007C6, MACReg: 0x3F41A044, BeginV2: true},
	{Name: "ESP32-S3", Magic: 0x00000009, MACReg: 0x60007044, BeginV2: true},
	{Name: "ESP32-C3", Magic: 0x6921506F, MACReg: 0x60008844, BeginV2: true},
	{Name: "ESP32-C3", Magic: 0x1B31506F, MACReg: 0x60008844, BeginV2: true},
}

func chipByMagic(magic uint32) (chipFamily, bool) {
	for _, c := range chipFamilies {
		if c.Magic == magic {
			return c, true
		}
	}
	return chipFamily{}, false
}

// formatMAC packs the two eFuse words the way esptool does: the low 16 bits
// of the second word, then the first word, big-endian.
func formatMAC(word0, word1 uint32) string {
	b := []byte{
		byte(word1 >> 8), byte(word1),
		byte(word0 >> 24), byte(word0 >> 16), byte(word0 >> 8), byte(word0),
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}
