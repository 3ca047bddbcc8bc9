// Command flash writes a firmware manifest to an ESP32 board without going
// through the bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/firmware"
	"github.com/urmzd/ninho/pkg/flasher"
	"github.com/urmzd/ninho/pkg/serialport"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	portPath := flag.String("port", "", "Serial port of the board (default: first ESP32-looking port)")
	baud := flag.Int("baud", serialport.DefaultBaudRate, "Baud rate used to talk to the ROM loader")
	flashBaud := flag.Int("flash-baud", 0, "Switch to this baud rate after sync (0 keeps -baud)")
	manifestPath := flag.String("manifest", "firmware.yaml", "Firmware manifest")
	stubPath := flag.String("stub", "", "Path to a flasher stub JSON file")
	verify := flag.Bool("verify", false, "Check every segment with an MD5 readback")
	flag.Parse()

	if err := run(*portPath, *baud, *flashBaud, *manifestPath, *stubPath, *verify); err != nil {
		log.Error().Err(err).Str("kind", device.KindOf(err)).Msg("Flash failed")
		os.Exit(1)
	}
}

func run(portPath string, baud, flashBaud int, manifestPath, stubPath string, verify bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manifest, err := firmware.LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	img, err := manifest.Image()
	if err != nil {
		return err
	}
	flashSize := uint32(manifest.FlashSize)
	if flashSize == 0 {
		flashSize = flasher.DefaultFlashSize
	}
	if err := firmware.Validate(img, flashSize); err != nil {
		return err
	}

	path, err := serialport.Select(portPath, serialport.List)
	if err != nil {
		return err
	}
	port, err := serialport.Open(path, baud)
	if err != nil {
		return err
	}
	defer func() { _ = port.Close() }()

	opts := []flasher.Option{
		flasher.WithBaudRate(baud),
		flasher.WithFlashBaud(flashBaud),
		flasher.WithFlashSize(flashSize),
		flasher.WithVerify(verify),
		flasher.WithStateHandler(func(s device.FlashState) {
			log.Debug().Str("state", string(s)).Msg("Flasher state")
		}),
	}
	if stubPath != "" {
		stub, err := flasher.LoadStub(stubPath)
		if err != nil {
			return err
		}
		opts = append(opts, flasher.WithStub(stub))
	}

	f := flasher.New(port, opts...)
	chip, err := f.Detect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Release(); err != nil {
			log.Warn().Err(err).Msg("Restoring baud rate failed")
		}
	}()

	log.Info().
		Str("port", path).
		Str("chip", chip.Name).
		Str("mac", chip.MAC).
		Bool("stub", chip.Stub).
		Str("version", manifest.Version).
		Msg("Board detected")

	bar := progressbar.NewOptions(img.TotalSize(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Writing"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWriter(os.Stderr),
	)

	// Progress is cumulative per segment; the bar tracks bytes across all of them.
	done := 0
	current := ""
	last := 0
	res, err := f.Flash(ctx, img, func(p device.FlashProgress) {
		if p.Segment != current {
			done += last
			current, last = p.Segment, 0
			bar.Describe(fmt.Sprintf("[%d/%d] %s", p.Index, p.Count, p.Segment))
		}
		last = p.Written
		_ = bar.Set(done + p.Written)
	})
	if err != nil {
		return err
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	log.Info().
		Int("written", res.Written).
		Strs("skipped", res.Skipped).
		Dur("took", res.Duration.Round(time.Millisecond)).
		Msg("Flash complete")
	fmt.Println(res.Advisory)
	return nil
}
