package flasher

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// SLIP framing used by the ESP ROM loader.
const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD

	slipMaxFrameLen = 0x4000
)

// slipEncode wraps a packet in END bytes, escaping END and ESC inside it.
func slipEncode(packet []byte) []byte {
	out := make([]byte, 0, len(packet)+8)
	out = append(out, slipEnd)
	for _, b := range packet {
		switch b {
		case slipEnd:
			out = append(out, slipEsc, slipEscEnd)
		case slipEsc:
			out = append(out, slipEsc, slipEscEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, slipEnd)
}

// slipDecoder pulls frames out of a byte stream. Bytes outside a frame
// (boot banner text, line noise) are dropped.
type slipDecoder struct {
	frame   bytes.Buffer
	inFrame bool
	escaped bool
	queue   [][]byte
}

// push feeds raw bytes and returns any frames completed by them.
func (d *slipDecoder) push(data []byte) [][]byte {
	var frames [][]byte
	for _, b := range data {
		if !d.inFrame {
			if b == slipEnd {
				d.inFrame = true
				d.frame.Reset()
			}
			continue
		}

		switch {
		case d.escaped:
			d.escaped = false
			switch b {
			case slipEscEnd:
				d.frame.WriteByte(slipEnd)
			case slipEscEsc:
				d.frame.WriteByte(slipEsc)
			default:
				// Invalid escape; abandon the frame.
				d.inFrame = false
			}
		case b == slipEsc:
			d.escaped = true
		case b == slipEnd:
			if d.frame.Len() == 0 {
				// Back-to-back END bytes: treat the second as a new start.
				continue
			}
			frames = append(frames, append([]byte(nil), d.frame.Bytes()...))
			d.frame.Reset()
			d.inFrame = false
		default:
			if d.frame.Len() >= slipMaxFrameLen {
				d.inFrame = false
				continue
			}
			d.frame.WriteByte(b)
		}
	}
	return frames
}

func (d *slipDecoder) reset() {
	d.frame.Reset()
	d.inFrame = false
	d.escaped = false
	d.queue = nil
}

// readFrame reads from r until a full frame arrives or the timeout expires.
// r must return (0, nil) when its own read timeout expires.
func (d *slipDecoder) readFrame(r io.Reader, timeout time.Duration) ([]byte, error) {
	if len(d.queue) > 0 {
		f := d.queue[0]
		d.queue = d.queue[1:]
		return f, nil
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 512)
	for time.Now().Before(deadline) {
		n, err := r.Read(buf)
		if n > 0 {
			d.queue = append(d.queue, d.push(buf[:n])...)
			if len(d.queue) > 0 {
				f := d.queue[0]
				d.queue = d.queue[1:]
				return f, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %s", errNoResponse, timeout)
}
