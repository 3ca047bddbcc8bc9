// Package flasher writes firmware to ESP32 boards through the ROM serial
// loader.
package flasher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/serialport"
)

const (
	// DefaultFlashSize is the 4MB part on the common DevKit boards.
	DefaultFlashSize = 4 << 20
	// DefaultSegmentPause lets the board settle between segments.
	DefaultSegmentPause = 100 * time.Millisecond
)

// Option configures a Flasher.
type Option func(*Flasher)

// WithStub uploads the given stub after detection.
func WithStub(s *Stub) Option {
	return func(f *Flasher) { f.stub = s }
}

// WithFlashSize sets the flash size used for SPI parameters and erase.
func WithFlashSize(n uint32) Option {
	return func(f *Flasher) {
		if n > 0 {
			f.flashSize = n
		}
	}
}

// WithFlashBaud switches to a faster baud rate once the loader is synced.
func WithFlashBaud(baud int) Option {
	return func(f *Flasher) { f.flashBaud = baud }
}

// WithVerify checks every segment's MD5 after writing.
func WithVerify(v bool) Option {
	return func(f *Flasher) { f.verify = v }
}

// WithSegmentPause overrides the delay between segments.
func WithSegmentPause(d time.Duration) Option {
	return func(f *Flasher) { f.pause = d }
}

// WithStateHandler is called on every state transition.
func WithStateHandler(fn func(device.FlashState)) Option {
	return func(f *Flasher) { f.onState = fn }
}

// WithBaudRate tells the flasher the rate the port is currently open at.
func WithBaudRate(baud int) Option {
	return func(f *Flasher) { f.baud = baud }
}

// Flasher drives one flashing session on an open port. It is not safe for
// concurrent use.
type Flasher struct {
	port   serialport.Port
	loader *loader

	stub      *Stub
	flashSize uint32
	flashBaud int
	baud      int
	verify    bool
	pause     time.Duration
	onState   func(device.FlashState)

	mu     sync.Mutex
	state  device.FlashState
	chip   *device.ChipInfo
	family chipFamily
}

// New creates a flasher for a port the caller keeps ownership of.
func New(port serialport.Port, opts ...Option) *Flasher {
	f := &Flasher{
		port:      port,
		loader:    newLoader(port),
		flashSize: DefaultFlashSize,
		baud:      serialport.DefaultBaudRate,
		pause:     DefaultSegmentPause,
		state:     device.FlashIdle,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current step of the state machine.
func (f *Flasher) State() device.FlashState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Chip returns what Detect found.
func (f *Flasher) Chip() (device.ChipInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chip == nil {
		return device.ChipInfo{}, false
	}
	return *f.chip, true
}

func (f *Flasher) setState(s device.FlashState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()

	log.Debug().Str("state", string(s)).Msg("Flasher state")
	if f.onState != nil {
		f.onState(s)
	}
}

func (f *Flasher) fail(stage device.FlashState, segment string, err error) error {
	f.setState(device.FlashFailed)
	return &device.FlashError{Stage: stage, Segment: segment, Err: err}
}

// Detect resets the board into the ROM loader, identifies the chip and
// prepares SPI flash access. The board stays in the loader afterwards.
func (f *Flasher) Detect(ctx context.Context) (device.ChipInfo, error) {
	f.setState(device.FlashDetecting)

	if err := enterBootloader(ctx, f.port); err != nil {
		return device.ChipInfo{}, f.fail(device.FlashDetecting, "", err)
	}
	if err := f.loader.sync(ctx); err != nil {
		return device.ChipInfo{}, f.fail(device.FlashDetecting, "", err)
	}

	magic, err := f.loader.readReg(ctx, chipMagicReg)
	if err != nil {
		return device.ChipInfo{}, f.fail(device.FlashDetecting, "", err)
	}
	family, ok := chipByMagic(magic)
	if !ok {
		err := fmt.Errorf("%w: chip magic 0x%08X", device.ErrUnsupported, magic)
		return device.ChipInfo{}, f.fail(device.FlashDetecting, "", err)
	}

	word0, err := f.loader.readReg(ctx, family.MACReg)
	if err != nil {
		return device.ChipInfo{}, f.fail(device.FlashDetecting, "", err)
	}
	word1, err := f.loader.readReg(ctx, family.MACReg+4)
	if err != nil {
		return device.ChipInfo{}, f.fail(device.FlashDetecting, "", err)
	}

	info := device.ChipInfo{Name: family.Name, MAC: formatMAC(word0, word1), Magic: magic}
	log.Info().Str("chip", info.Name).Str("mac", info.MAC).Msg("Chip detected")

	if f.stub != nil {
		if err := f.loader.uploadStub(ctx, f.stub); err != nil {
			return device.ChipInfo{}, f.fail(device.FlashDetecting, "", err)
		}
		info.Stub = true
		f.setState(device.FlashStubLoaded)
		log.Info().Msg("Flasher stub running")
	}

	if err := f.loader.spiAttach(ctx); err != nil {
		return device.ChipInfo{}, f.fail(device.FlashDetecting, "", err)
	}
	if err := f.loader.spiSetParams(ctx, f.flashSize); err != nil {
		return device.ChipInfo{}, f.fail(device.FlashDetecting, "", err)
	}

	if f.flashBaud > 0 && f.flashBaud != f.baud {
		if err := f.loader.changeBaud(ctx, f.flashBaud, f.baud); err != nil {
			return device.ChipInfo{}, f.fail(device.FlashDetecting, "", err)
		}
		log.Info().Int("baud", f.flashBaud).Msg("Flash baud rate set")
	}

	f.mu.Lock()
	f.chip = &info
	f.family = family
	f.mu.Unlock()

	return info, nil
}

// Flash erases the chip and writes every non-empty segment in order.
// Detect must have succeeded first. The board is not rebooted.
func (f *Flasher) Flash(ctx context.Context, img device.Image, progress func(device.FlashProgress)) (*device.FlashResult, error) {
	chip, ok := f.Chip()
	if !ok {
		return nil, fmt.Errorf("flash: chip not detected: %w", device.ErrNotConnected)
	}
	total := img.TotalSize()
	if total == 0 {
		return nil, fmt.Errorf("%w: image has no data", device.ErrInvalidFirmware)
	}
	if progress == nil {
		progress = func(device.FlashProgress) {}
	}

	start := time.Now()

	f.setState(device.FlashErasing)
	log.Info().Uint32("size", f.flashSize).Msg("Erasing flash")
	if err := f.loader.eraseAll(ctx, f.flashSize); err != nil {
		return nil, f.fail(device.FlashErasing, "", err)
	}

	f.setState(device.FlashWriting)
	count := len(img.Segments)
	written := 0
	var skipped []string

	for i, seg := range img.Segments {
		if len(seg.Data) == 0 {
			log.Warn().Str("segment", seg.Name).Msg("Skipping empty segment")
			skipped = append(skipped, seg.Name)
			continue
		}
		if written > 0 {
			if err := sleepCtx(ctx, f.pause); err != nil {
				return nil, f.fail(device.FlashWriting, seg.Name, err)
			}
		}

		done := written
		report := func(n int) {
			progress(device.FlashProgress{
				Segment: seg.Name,
				Index:   i + 1,
				Count:   count,
				Written: n,
				Total:   len(seg.Data),
				Percent: n * 100 / len(seg.Data),
				Overall: (done + n) * 100 / total,
			})
		}

		if err := f.writeSegment(ctx, seg, report); err != nil {
			return nil, f.fail(device.FlashWriting, seg.Name, err)
		}
		written += len(seg.Data)
	}

	if err := f.loader.flashEnd(ctx); err != nil {
		if errors.Is(err, device.ErrDisconnected) || ctx.Err() != nil {
			return nil, f.fail(device.FlashWriting, "", err)
		}
		// Data is already committed; some ROMs reject FLASH_END here.
		log.Warn().Err(err).Msg("Flash end not acknowledged")
	}

	if f.verify {
		f.setState(device.FlashVerifying)
		for _, seg := range img.Segments {
			if len(seg.Data) == 0 {
				continue
			}
			if err := f.verifySegment(ctx, seg); err != nil {
				return nil, f.fail(device.FlashVerifying, seg.Name, err)
			}
		}
	}

	f.setState(device.FlashDone)
	result := &device.FlashResult{
		Chip:     chip,
		Written:  written,
		Skipped:  skipped,
		Duration: time.Since(start),
		Advisory: device.RebootAdvisory,
	}
	log.Info().
		Int("bytes", written).
		Dur("duration", result.Duration).
		Msg("Flash complete")
	return result, nil
}

func (f *Flasher) writeSegment(ctx context.Context, seg device.Segment, report func(int)) error {
	log.Info().
		Str("segment", seg.Name).
		Str("offset", fmt.Sprintf("0x%X", seg.Offset)).
		Int("size", len(seg.Data)).
		Msg("Writing segment")

	if err := f.loader.flashBegin(ctx, len(seg.Data), seg.Offset, f.family.BeginV2); err != nil {
		return err
	}

	blocks := blockCount(len(seg.Data))
	for seq := uint32(0); seq < blocks; seq++ {
		start := int(seq) * FlashBlockSize
		end := min(start+FlashBlockSize, len(seg.Data))
		if err := f.loader.flashData(ctx, seg.Data[start:end], seq); err != nil {
			return err
		}
		report(end)
	}
	return nil
}

func (f *Flasher) verifySegment(ctx context.Context, seg device.Segment) error {
	got, err := f.loader.flashMD5(ctx, seg.Offset, len(seg.Data))
	if err != nil {
		return err
	}
	if want := md5Hex(seg.Data); !strings.EqualFold(got, want) {
		return fmt.Errorf("md5 mismatch at 0x%X: flash %s, image %s", seg.Offset, got, want)
	}
	return nil
}

// Release restores the host baud rate and forgets the detected chip.
func (f *Flasher) Release() error {
	f.mu.Lock()
	f.chip = nil
	f.mu.Unlock()

	if f.flashBaud > 0 && f.flashBaud != f.baud {
		if err := f.port.SetBaudRate(f.baud); err != nil {
			return fmt.Errorf("restore baud: %w", err)
		}
	}
	return nil
}

// HardReset reboots the board into its application.
func (f *Flasher) HardReset() error {
	return hardReset(f.port)
}
