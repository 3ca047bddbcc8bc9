package esp

import (
	"fmt"
	"sync"
	"time"

	"github.com/urmzd/ninho/pkg/device"
	"github.com/urmzd/ninho/pkg/protocol"
)

// console is the device log shown to the learner: every line the board
// prints plus lifecycle messages. A bounded history is kept for late joiners.
type console struct {
	hub protocol.Hub[device.LogLine]

	mu    sync.Mutex
	lines []device.LogLine
	max   int
	now   func() time.Time
}

func newConsole(max int) *console {
	return &console{max: max, now: time.Now}
}

func (c *console) add(level, format string, args ...any) {
	line := device.LogLine{Time: c.now(), Level: level, Message: fmt.Sprintf(format, args...)}

	c.mu.Lock()
	c.lines = append(c.lines, line)
	if over := len(c.lines) - c.max; over > 0 {
		c.lines = append(c.lines[:0:0], c.lines[over:]...)
	}
	c.mu.Unlock()

	c.hub.Publish(line)
}

func (c *console) recent() []device.LogLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]device.LogLine(nil), c.lines...)
}

// frame records an inbound frame at a level that matches its kind.
func (c *console) frame(f protocol.Frame) {
	switch fr := f.(type) {
	case protocol.RawFrame:
		c.add(device.LogInfo, "%s", fr.Raw())
	case protocol.LogFrame:
		msg := fr.Message
		if msg == "" {
			msg = fr.Raw()
		}
		c.add(device.LogInfo, "[%s] %s", fr.Kind(), msg)
	case protocol.ErrorFrame:
		c.add(device.LogError, "device error: %s", fr.Message)
	case protocol.TelemetryFrame:
		c.add(device.LogDebug, "%s", fr.Raw())
	default:
		c.add(device.LogDebug, "%s", f.Raw())
	}
}
