// Package porttest provides an in-memory serial port for tests.
package porttest

import (
	"sync"
	"time"

	"github.com/urmzd/ninho/pkg/device"
)

// Port is an in-memory serialport.Port. Bytes queued with Feed are returned
// by Read; bytes written by the host are recorded and passed to OnWrite.
type Port struct {
	mu      sync.Mutex
	cond    *sync.Cond
	rx      []byte
	tx      []byte
	closed  bool
	broken  error
	timeout time.Duration

	// Writes counts Write calls.
	Writes int

	// DTR, RTS and Baud record the last control line values.
	DTR, RTS bool
	Baud     int

	// OnWrite is called outside the lock with each written buffer.
	OnWrite func(p *Port, data []byte)
}

// New returns an open port with a short read timeout.
func New() *Port {
	p := &Port{timeout: 20 * time.Millisecond, Baud: 115200}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed queues bytes for the host to read.
func (p *Port) Feed(data []byte) {
	p.mu.Lock()
	p.rx = append(p.rx, data...)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// FeedString queues text for the host to read.
func (p *Port) FeedString(s string) {
	p.Feed([]byte(s))
}

// Unplug makes every further Read and Write fail as if the cable was pulled.
func (p *Port) Unplug() {
	p.mu.Lock()
	p.broken = device.ErrDisconnected
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Written returns a copy of everything the host wrote.
func (p *Port) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.tx...)
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Port) Read(buf []byte) (int, error) {
	deadline := time.Now().Add(p.readTimeout())

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.rx) == 0 {
		if p.closed {
			return 0, device.ErrDisconnected
		}
		if p.broken != nil {
			return 0, p.broken
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}
		// sync.Cond has no timed wait, so wake ourselves up.
		t := time.AfterFunc(remaining, p.cond.Broadcast)
		p.cond.Wait()
		t.Stop()
	}

	n := copy(buf, p.rx)
	p.rx = p.rx[n:]
	return n, nil
}

func (p *Port) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed || p.broken != nil {
		p.mu.Unlock()
		return 0, device.ErrDisconnected
	}
	p.tx = append(p.tx, data...)
	p.Writes++
	hook := p.OnWrite
	p.mu.Unlock()

	if hook != nil {
		hook(p, append([]byte(nil), data...))
	}
	return len(data), nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

func (p *Port) SetDTR(dtr bool) error {
	p.mu.Lock()
	p.DTR = dtr
	p.mu.Unlock()
	return nil
}

func (p *Port) SetRTS(rts bool) error {
	p.mu.Lock()
	p.RTS = rts
	p.mu.Unlock()
	return nil
}

func (p *Port) SetBaudRate(baud int) error {
	p.mu.Lock()
	p.Baud = baud
	p.mu.Unlock()
	return nil
}

func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	p.rx = nil
	p.mu.Unlock()
	return nil
}

func (p *Port) readTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timeout <= 0 {
		return 20 * time.Millisecond
	}
	return p.timeout
}
