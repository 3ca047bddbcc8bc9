package flasher

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/serialport"
)

const (
	syncAttempts   = 10
	syncTimeout    = 500 * time.Millisecond
	commandTimeout = 3 * time.Second
	eraseTimeout   = 120 * time.Second
	memBlockSize   = 0x1800
)

// loader speaks the ROM (or stub) loader protocol over a port that has
// already been reset into download mode.
type loader struct {
	port      serialport.Port
	dec       slipDecoder
	statusLen int
	stub      bool
}

func newLoader(port serialport.Port) *loader {
	return &loader{port: port, statusLen: romStatusLen}
}

// command sends one request and waits for the reply to the same opcode.
// Stray replies (extra SYNC answers, boot text) are skipped.
func (l *loader) command(ctx context.Context, op byte, data []byte, chk uint32, timeout time.Duration) (response, error) {
	if err := ctx.Err(); err != nil {
		return response{}, err
	}

	if _, err := l.port.Write(slipEncode(encodeRequest(op, data, chk))); err != nil {
		return response{}, fmt.Errorf("write command 0x%02X: %w", op, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return response{}, fmt.Errorf("command 0x%02X: %w after %s", op, errNoResponse, timeout)
		}

		frame, err := l.dec.readFrame(l.port, remaining)
		if err != nil {
			if errors.Is(err, errNoResponse) {
				return response{}, fmt.Errorf("command 0x%02X: %w", op, err)
			}
			return response{}, fmt.Errorf("read reply to 0x%02X: %w", op, err)
		}
		if len(frame) < 2 || frame[0] != dirResponse || frame[1] != op {
			continue
		}
		return decodeResponse(frame, l.statusLen)
	}
}

// sync establishes the baud-rate lock with the ROM.
func (l *loader) sync(ctx context.Context) error {
	payload := syncPayload()
	var lastErr error

	for attempt := 1; attempt <= syncAttempts; attempt++ {
		_ = l.port.ResetInputBuffer()
		l.dec.reset()

		_, err := l.command(ctx, opSync, payload, 0, syncTimeout)
		if err == nil {
			// The ROM answers a SYNC several times; drop the extras.
			for i := 0; i < 7; i++ {
				if _, err := l.dec.readFrame(l.port, 100*time.Millisecond); err != nil {
					break
				}
			}
			log.Debug().Int("attempt", attempt).Msg("ROM loader synced")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, device.ErrDisconnected) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("sync failed after %d attempts: %w", syncAttempts, lastErr)
}

func (l *loader) readReg(ctx context.Context, addr uint32) (uint32, error) {
	r, err := l.command(ctx, opReadReg, le32(addr), 0, commandTimeout)
	if err != nil {
		return 0, fmt.Errorf("read register 0x%08X: %w", addr, err)
	}
	return r.Value, nil
}

func (l *loader) spiAttach(ctx context.Context) error {
	if _, err := l.command(ctx, opSPIAttach, make([]byte, 8), 0, commandTimeout); err != nil {
		return fmt.Errorf("spi attach: %w", err)
	}
	return nil
}

func (l *loader) spiSetParams(ctx context.Context, flashSize uint32) error {
	if _, err := l.command(ctx, opSPISetParams, spiParamsPayload(flashSize), 0, commandTimeout); err != nil {
		return fmt.Errorf("spi set params: %w", err)
	}
	return nil
}

// changeBaud switches both ends to a new rate.
func (l *loader) changeBaud(ctx context.Context, baud, current int) error {
	prior := uint32(0)
	if l.stub {
		prior = uint32(current)
	}
	if _, err := l.command(ctx, opChangeBaud, le32(uint32(baud), prior), 0, commandTimeout); err != nil {
		return fmt.Errorf("change baud: %w", err)
	}
	if err := l.port.SetBaudRate(baud); err != nil {
		return fmt.Errorf("set host baud: %w", err)
	}
	if err := sleepCtx(ctx, 50*time.Millisecond); err != nil {
		return err
	}
	_ = l.port.ResetInputBuffer()
	l.dec.reset()
	return nil
}

// uploadStub writes the flasher stub to RAM and jumps to it.
func (l *loader) uploadStub(ctx context.Context, s *Stub) error {
	for _, seg := range []struct {
		name string
		addr uint32
		data []byte
	}{
		{"text", s.TextStart, s.Text},
		{"data", s.DataStart, s.Data},
	} {
		if len(seg.data) == 0 {
			continue
		}
		blocks := uint32((len(seg.data) + memBlockSize - 1) / memBlockSize)
		begin := le32(uint32(len(seg.data)), blocks, memBlockSize, seg.addr)
		if _, err := l.command(ctx, opMemBegin, begin, 0, commandTimeout); err != nil {
			return fmt.Errorf("stub %s begin: %w", seg.name, err)
		}

		for seq := uint32(0); seq < blocks; seq++ {
			start := int(seq) * memBlockSize
			end := min(start+memBlockSize, len(seg.data))
			block := seg.data[start:end]
			payload := append(le32(uint32(len(block)), seq, 0, 0), block...)
			if _, err := l.command(ctx, opMemData, payload, checksum(block), commandTimeout); err != nil {
				return fmt.Errorf("stub %s block %d: %w", seg.name, seq, err)
			}
		}
	}

	noEntry := uint32(0)
	if s.Entry == 0 {
		noEntry = 1
	}
	if _, err := l.command(ctx, opMemEnd, le32(noEntry, s.Entry), 0, commandTimeout); err != nil {
		return fmt.Errorf("stub start: %w", err)
	}

	frame, err := l.dec.readFrame(l.port, commandTimeout)
	if err != nil {
		return fmt.Errorf("stub greeting: %w", err)
	}
	if string(frame) != "OHAI" {
		return fmt.Errorf("stub greeting: unexpected % x", frame)
	}

	l.stub = true
	l.statusLen = stubStatusLen
	return nil
}

// eraseAll erases the whole chip. The stub has a dedicated command; the
// ROM erases through FLASH_BEGIN over the full size.
func (l *loader) eraseAll(ctx context.Context, flashSize uint32) error {
	if l.stub {
		if _, err := l.command(ctx, opEraseFlash, nil, 0, eraseTimeout); err != nil {
			return fmt.Errorf("erase flash: %w", err)
		}
		return nil
	}
	if _, err := l.command(ctx, opFlashBegin, le32(flashSize, 0, FlashBlockSize, 0), 0, eraseTimeout); err != nil {
		return fmt.Errorf("erase flash: %w", err)
	}
	return nil
}

func (l *loader) flashBegin(ctx context.Context, size int, offset uint32, v2 bool) error {
	payload := le32(eraseSize(size), blockCount(size), FlashBlockSize, offset)
	if v2 && !l.stub {
		payload = append(payload, le32(0)...)
	}
	if _, err := l.command(ctx, opFlashBegin, payload, 0, timeoutPerMB(size, 30*time.Second)); err != nil {
		return fmt.Errorf("flash begin at 0x%X: %w", offset, err)
	}
	return nil
}

func (l *loader) flashData(ctx context.Context, block []byte, seq uint32) error {
	payload := flashDataPayload(block, seq)
	if _, err := l.command(ctx, opFlashData, payload, checksum(payload[16:]), commandTimeout); err != nil {
		return fmt.Errorf("flash block %d: %w", seq, err)
	}
	return nil
}

// flashEnd leaves the board in the loader; rebooting is up to the user.
func (l *loader) flashEnd(ctx context.Context) error {
	if _, err := l.command(ctx, opFlashEnd, le32(1), 0, commandTimeout); err != nil {
		return fmt.Errorf("flash end: %w", err)
	}
	return nil
}

// flashMD5 returns the hex MD5 of a flash region as computed on the chip.
func (l *loader) flashMD5(ctx context.Context, offset uint32, size int) (string, error) {
	r, err := l.command(ctx, opSPIFlashMD5, le32(offset, uint32(size), 0, 0), 0, timeoutPerMB(size, 8*time.Second))
	if err != nil {
		return "", fmt.Errorf("flash md5 at 0x%X: %w", offset, err)
	}
	switch len(r.Data) {
	case 16:
		return hex.EncodeToString(r.Data), nil
	case 32:
		return string(r.Data), nil
	}
	return "", fmt.Errorf("flash md5 at 0x%X: unexpected digest length %d", offset, len(r.Data))
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func timeoutPerMB(size int, perMB time.Duration) time.Duration {
	t := time.Duration(float64(perMB) * float64(size) / 1e6)
	return max(t, commandTimeout)
}

// enterBootloader pulses EN with IO0 held low (DTR=IO0, RTS=EN on the
// usual auto-reset circuit).
func enterBootloader(ctx context.Context, port serialport.Port) error {
	steps := []struct {
		dtr, rts bool
		wait     time.Duration
	}{
		{false, true, 100 * time.Millisecond},
		{true, false, 50 * time.Millisecond},
		{false, false, 0},
	}
	for _, s := range steps {
		if err := port.SetDTR(s.dtr); err != nil {
			return fmt.Errorf("set DTR: %w", err)
		}
		if err := port.SetRTS(s.rts); err != nil {
			return fmt.Errorf("set RTS: %w", err)
		}
		if err := sleepCtx(ctx, s.wait); err != nil {
			return err
		}
	}
	return nil
}

// hardReset pulses EN with IO0 released so the application boots.
func hardReset(port serialport.Port) error {
	if err := port.SetDTR(false); err != nil {
		return fmt.Errorf("set DTR: %w", err)
	}
	if err := port.SetRTS(true); err != nil {
		return fmt.Errorf("set RTS: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := port.SetRTS(false); err != nil {
		return fmt.Errorf("set RTS: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
