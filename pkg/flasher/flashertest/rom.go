// Package flashertest emulates the ESP32 ROM serial loader on top of a
// porttest.Port.
package flashertest

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/urmzd/ninho/pkg/serialport/porttest"
)

// Loader opcodes the emulator understands.
const (
	OpFlashBegin = 0x02
	OpFlashData  = 0x03
	OpFlashEnd   = 0x04
	OpMemEnd     = 0x06
	OpMemData    = 0x07
	OpSync       = 0x08
	OpReadReg    = 0x0A
	OpFlashMD5   = 0x13
	OpEraseFlash = 0xD0
)

const blockSize = 0x400

// ROM answers loader requests written to a port. Register values and the
// flash array can be inspected or preset by tests.
type ROM struct {
	mu   sync.Mutex
	dec  decoder
	seen map[byte]int

	Regs  map[uint32]uint32
	Flash []byte
	Stub  bool

	// FailOp replies with a flash write error once it has been seen
	// more than FailAfter times.
	FailOp    byte
	FailAfter int

	// UnplugOp unplugs the port once it has been seen more than
	// UnplugAfter times.
	UnplugOp    byte
	UnplugAfter int

	beginAt uint32
}

// New returns an ESP32 with MAC AA:BB:12:34:56:78 and 256KB of flash.
func New() *ROM {
	return &ROM{
		seen: map[byte]int{},
		Regs: map[uint32]uint32{
			0x40001000: 0x00F01D83,
			0x3FF5A004: 0x12345678,
			0x3FF5A008: 0x0000AABB,
		},
		Flash: bytes.Repeat([]byte{0xAA}, 0x40000),
	}
}

// Attach installs the ROM as the port's write hook.
func (r *ROM) Attach(p *porttest.Port) {
	p.OnWrite = r.Handle
}

// Count returns how many requests with op were received.
func (r *ROM) Count(op byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[op]
}

// Contents returns a copy of a flash region.
func (r *ROM) Contents(offset, size int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.Flash[offset:offset+size]...)
}

// Handle consumes bytes written by the host.
func (r *ROM) Handle(p *porttest.Port, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, frame := range r.dec.push(data) {
		if len(frame) < 8 || frame[0] != 0x00 {
			continue
		}
		op := frame[1]
		body := frame[8:]
		r.seen[op]++

		if r.UnplugOp != 0 && op == r.UnplugOp && r.seen[op] > r.UnplugAfter {
			p.Unplug()
			return
		}
		if r.FailOp != 0 && op == r.FailOp && r.seen[op] > r.FailAfter {
			p.Feed(r.reply(op, 0, nil, 0x01, 0x08))
			continue
		}

		switch op {
		case OpSync:
			for i := 0; i < 8; i++ {
				p.Feed(r.reply(op, 0, nil, 0, 0))
			}
		case OpReadReg:
			p.Feed(r.reply(op, r.Regs[binary.LittleEndian.Uint32(body)], nil, 0, 0))
		case OpMemEnd:
			p.Feed(r.reply(op, 0, nil, 0, 0))
			p.Feed(Encode([]byte("OHAI")))
			r.Stub = true
		case OpEraseFlash:
			for i := range r.Flash {
				r.Flash[i] = 0xFF
			}
			p.Feed(r.reply(op, 0, nil, 0, 0))
		case OpFlashBegin:
			size := binary.LittleEndian.Uint32(body[0:4])
			r.beginAt = binary.LittleEndian.Uint32(body[12:16])
			if binary.LittleEndian.Uint32(body[4:8]) == 0 {
				// Erase-only begin.
				for i := uint64(r.beginAt); i < uint64(r.beginAt)+uint64(size) && i < uint64(len(r.Flash)); i++ {
					r.Flash[i] = 0xFF
				}
			}
			p.Feed(r.reply(op, 0, nil, 0, 0))
		case OpFlashData:
			seq := binary.LittleEndian.Uint32(body[4:8])
			copy(r.Flash[r.beginAt+seq*blockSize:], body[16:])
			p.Feed(r.reply(op, 0, nil, 0, 0))
		case OpFlashMD5:
			addr := binary.LittleEndian.Uint32(body[0:4])
			size := binary.LittleEndian.Uint32(body[4:8])
			sum := md5.Sum(r.Flash[addr : addr+size])
			digest := []byte(hex.EncodeToString(sum[:]))
			if r.Stub {
				digest = sum[:]
			}
			p.Feed(r.reply(op, 0, digest, 0, 0))
		default:
			p.Feed(r.reply(op, 0, nil, 0, 0))
		}
	}
}

// Reply builds a framed loader response with a 4-byte (ROM) or 2-byte
// (stub) status trailer.
func (r *ROM) reply(op byte, value uint32, data []byte, status, code byte) []byte {
	trailer := []byte{status, code, 0, 0}
	if r.Stub {
		trailer = trailer[:2]
	}
	return Reply(op, value, append(append([]byte(nil), data...), trailer...))
}

// Reply frames a response packet whose body already carries its status.
func Reply(op byte, value uint32, body []byte) []byte {
	packet := make([]byte, 8, 8+len(body))
	packet[0] = 0x01
	packet[1] = op
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(body)))
	binary.LittleEndian.PutUint32(packet[4:8], value)
	return Encode(append(packet, body...))
}

// Encode SLIP-frames a packet.
func Encode(packet []byte) []byte {
	out := []byte{0xC0}
	for _, b := range packet {
		switch b {
		case 0xC0:
			out = append(out, 0xDB, 0xDC)
		case 0xDB:
			out = append(out, 0xDB, 0xDD)
		default:
			out = append(out, b)
		}
	}
	return append(out, 0xC0)
}

type decoder struct {
	buf     []byte
	inFrame bool
	escaped bool
}

func (d *decoder) push(data []byte) [][]byte {
	var frames [][]byte
	for _, b := range data {
		switch {
		case !d.inFrame:
			if b == 0xC0 {
				d.inFrame = true
				d.buf = d.buf[:0]
			}
		case d.escaped:
			d.escaped = false
			if b == 0xDC {
				d.buf = append(d.buf, 0xC0)
			} else {
				d.buf = append(d.buf, 0xDB)
			}
		case b == 0xDB:
			d.escaped = true
		case b == 0xC0:
			if len(d.buf) == 0 {
				continue
			}
			frames = append(frames, append([]byte(nil), d.buf...))
			d.inFrame = false
		default:
			d.buf = append(d.buf, b)
		}
	}
	return frames
}
