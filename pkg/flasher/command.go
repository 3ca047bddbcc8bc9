package flasher

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ROM loader opcodes.
const (
	opFlashBegin   = 0x02
	opFlashData    = 0x03
	opFlashEnd     = 0x04
	opMemBegin     = 0x05
	opMemEnd       = 0x06
	opMemData      = 0x07
	opSync         = 0x08
	opWriteReg     = 0x09
	opReadReg      = 0x0A
	opSPISetParams = 0x0B
	opSPIAttach    = 0x0D
	opChangeBaud   = 0x0F
	opSPIFlashMD5  = 0x13

	// Stub only.
	opEraseFlash  = 0xD0
	opEraseRegion = 0xD1
)

const (
	dirRequest  = 0x00
	dirResponse = 0x01

	checksumSeed = 0xEF

	// FlashBlockSize is the payload of one FLASH_DATA packet.
	FlashBlockSize = 0x400
	// FlashSectorSize is the erase granularity.
	FlashSectorSize = 0x1000

	// ROM status trailer is 4 bytes on ESP32 (2 on ESP8266); the stub sends 2.
	romStatusLen  = 4
	stubStatusLen = 2
)

var (
	errNoResponse    = errors.New("no response from ROM loader")
	errShortResponse = errors.New("short response")
)

// loaderError is a failure status returned by the ROM or stub.
type loaderError struct {
	Op     byte
	Status byte
	Code   byte
}

func (e *loaderError) Error() string {
	return fmt.Sprintf("command 0x%02X failed: status=0x%02X error=0x%02X (%s)", e.Op, e.Status, e.Code, loaderErrorText(e.Code))
}

func loaderErrorText(code byte) string {
	switch code {
	case 0x05:
		return "invalid message"
	case 0x06:
		return "failed to act"
	case 0x07:
		return "invalid CRC"
	case 0x08:
		return "flash write error"
	case 0x09:
		return "flash read error"
	case 0x0A:
		return "flash read length error"
	case 0x0B:
		return "deflate error"
	case 0xC0:
		return "stub: bad data length"
	case 0xC1:
		return "stub: bad data checksum"
	case 0xC3:
		return "stub: bad block size"
	case 0xC5:
		return "stub: flash erase failed"
	case 0xC6:
		return "stub: flash write failed"
	case 0xC8:
		return "stub: flash not aligned"
	}
	return "unknown error"
}

// response is a decoded loader reply.
type response struct {
	Op    byte
	Value uint32
	Data  []byte
}

// checksum is the XOR of the data bytes seeded with 0xEF.
func checksum(data []byte) uint32 {
	c := byte(checksumSeed)
	for _, b := range data {
		c ^= b
	}
	return uint32(c)
}

// encodeRequest builds an unframed request packet.
func encodeRequest(op byte, data []byte, chk uint32) []byte {
	packet := make([]byte, 8+len(data))
	packet[0] = dirRequest
	packet[1] = op
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(data)))
	binary.LittleEndian.PutUint32(packet[4:8], chk)
	copy(packet[8:], data)
	return packet
}

// decodeResponse parses an unframed reply. statusLen is the size of the
// status trailer at the end of the data.
func decodeResponse(packet []byte, statusLen int) (response, error) {
	if len(packet) < 8 || packet[0] != dirResponse {
		return response{}, fmt.Errorf("%w: % x", errShortResponse, packet)
	}

	size := int(binary.LittleEndian.Uint16(packet[2:4]))
	if size > len(packet)-8 {
		return response{}, fmt.Errorf("%w: declared %d bytes, have %d", errShortResponse, size, len(packet)-8)
	}
	data := packet[8 : 8+size]
	if len(data) < statusLen {
		// Some ROMs answer with a 2-byte trailer regardless.
		statusLen = stubStatusLen
	}
	if len(data) < statusLen {
		return response{}, fmt.Errorf("%w: no status trailer", errShortResponse)
	}

	r := response{
		Op:    packet[1],
		Value: binary.LittleEndian.Uint32(packet[4:8]),
		Data:  data[:len(data)-statusLen],
	}
	status := data[len(data)-statusLen]
	code := data[len(data)-statusLen+1]
	if status != 0 {
		return r, &loaderError{Op: r.Op, Status: status, Code: code}
	}
	return r, nil
}

func le32(values ...uint32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

func syncPayload() []byte {
	data := make([]byte, 36)
	copy(data, []byte{0x07, 0x07, 0x12, 0x20})
	for i := 4; i < len(data); i++ {
		data[i] = 0x55
	}
	return data
}

// spiParamsPayload describes the flash chip: id, total size, block, sector,
// page, status mask.
func spiParamsPayload(flashSize uint32) []byte {
	return le32(0, flashSize, 0x10000, FlashSectorSize, 0x100, 0xFFFF)
}

// flashDataPayload pads the block with 0xFF to FlashBlockSize.
func flashDataPayload(block []byte, seq uint32) []byte {
	payload := make([]byte, 16+FlashBlockSize)
	copy(payload, le32(FlashBlockSize, seq, 0, 0))
	n := copy(payload[16:], block)
	for i := 16 + n; i < len(payload); i++ {
		payload[i] = 0xFF
	}
	return payload
}

func blockCount(size int) uint32 {
	return uint32((size + FlashBlockSize - 1) / FlashBlockSize)
}

func eraseSize(size int) uint32 {
	return uint32((size + FlashSectorSize - 1) / FlashSectorSize * FlashSectorSize)
}
