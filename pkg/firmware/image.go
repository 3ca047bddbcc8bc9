// Package firmware validates and loads ESP32 firmware images.
package firmware

import (
	"fmt"
	"sort"

	"github.com/urmzd/ninho/pkg/device"
)

// SectorSize is the flash erase granularity; every offset must be aligned to it.
const SectorSize = 0x1000

const (
	imageMagic     = 0xE9
	partitionMagic = 0x50AA // little-endian 0xAA 0x50
)

// DefaultLayout is the Arduino-ESP32 layout used by the lesson firmware.
func DefaultLayout() []device.Segment {
	return []device.Segment{
		{Name: "bootloader.bin", Role: device.RoleBootloader, Offset: 0x1000},
		{Name: "partitions.bin", Role: device.RolePartitions, Offset: 0x8000},
		{Name: "boot_app0.bin", Role: device.RoleBootApp0, Offset: 0xE000},
		{Name: "firmware.bin", Role: device.RoleApp, Offset: 0x10000},
	}
}

// Validate checks an image before anything is written to the board.
// Empty segments are allowed and skipped when flashing, but at least one
// segment must carry data.
func Validate(img device.Image, flashSize uint32) error {
	if img.TotalSize() == 0 {
		return fmt.Errorf("%w: image has no data", device.ErrInvalidFirmware)
	}

	type span struct {
		name       string
		start, end uint64
	}
	var spans []span

	for _, s := range img.Segments {
		if s.Offset%SectorSize != 0 {
			return fmt.Errorf("%w: %s offset 0x%X is not sector aligned", device.ErrInvalidFirmware, s.Name, s.Offset)
		}
		if len(s.Data) == 0 {
			continue
		}

		end := uint64(s.Offset) + uint64(len(s.Data))
		if flashSize > 0 && end > uint64(flashSize) {
			return fmt.Errorf("%w: %s ends at 0x%X, past the 0x%X byte flash", device.ErrInvalidFirmware, s.Name, end, flashSize)
		}
		if err := checkMagic(s); err != nil {
			return err
		}
		spans = append(spans, span{s.Name, uint64(s.Offset), end})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return fmt.Errorf("%w: %s overlaps %s", device.ErrInvalidFirmware, spans[i].name, spans[i-1].name)
		}
	}

	return nil
}

func checkMagic(s device.Segment) error {
	switch s.Role {
	case device.RoleBootloader, device.RoleApp:
		if s.Data[0] != imageMagic {
			return fmt.Errorf("%w: %s is not an ESP image (magic 0x%02X)", device.ErrInvalidFirmware, s.Name, s.Data[0])
		}
	case device.RolePartitions:
		if len(s.Data) < 2 || uint16(s.Data[0])|uint16(s.Data[1])<<8 != partitionMagic {
			return fmt.Errorf("%w: %s is not a partition table", device.ErrInvalidFirmware, s.Name)
		}
	}
	return nil
}
