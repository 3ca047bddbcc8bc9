package esp

import (
	"time"

	"github.com/urmzd/ninho/pkg/flasher"
	"github.com/urmzd/ninho/pkg/serialport"
)

// Config holds the tunables of a Manager. Zero fields take the defaults,
// except SettleDelay, VersionGap and SegmentPause, where zero means no wait,
// and FlashBaudRate, where zero keeps BaudRate while flashing. Start from
// DefaultConfig to get the tuned waits.
type Config struct {
	Port     string
	BaudRate int

	CommandTimeout  time.Duration
	IdentityTimeout time.Duration
	MissionTimeout  time.Duration
	SettleDelay     time.Duration

	VersionAttempts int
	VersionTimeout  time.Duration
	VersionGap      time.Duration

	FlashBaudRate int
	FlashSize     uint32
	StubPath      string
	Verify        bool
	SegmentPause  time.Duration

	LogHistory int
}

// DefaultConfig returns the values the lesson firmware was tuned against.
func DefaultConfig() Config {
	return Config{
		BaudRate:        serialport.DefaultBaudRate,
		CommandTimeout:  5 * time.Second,
		IdentityTimeout: 10 * time.Second,
		MissionTimeout:  5 * time.Second,
		SettleDelay:     1500 * time.Millisecond,
		VersionAttempts: 3,
		VersionTimeout:  3 * time.Second,
		VersionGap:      time.Second,
		FlashSize:       flasher.DefaultFlashSize,
		SegmentPause:    flasher.DefaultSegmentPause,
		LogHistory:      200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaudRate <= 0 {
		c.BaudRate = d.BaudRate
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.IdentityTimeout <= 0 {
		c.IdentityTimeout = d.IdentityTimeout
	}
	if c.MissionTimeout <= 0 {
		c.MissionTimeout = d.MissionTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.VersionAttempts <= 0 {
		c.VersionAttempts = d.VersionAttempts
	}
	if c.VersionTimeout <= 0 {
		c.VersionTimeout = d.VersionTimeout
	}
	if c.VersionGap < 0 {
		c.VersionGap = 0
	}
	if c.FlashSize == 0 {
		c.FlashSize = d.FlashSize
	}
	if c.SegmentPause < 0 {
		c.SegmentPause = 0
	}
	if c.LogHistory <= 0 {
		c.LogHistory = d.LogHistory
	}
	return c
}
