package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/device"
	"golang.org/x/sync/semaphore"
)

// DefaultTimeout applies when a request does not set one.
const DefaultTimeout = 5 * time.Second

// Request is one outbound command and the reply it waits for.
type Request struct {
	Command string
	Payload map[string]any
	Timeout time.Duration
	Reply   Kind // KindAck unless set; KindVersion for GET_VERSION
}

// Coordinator correlates outbound commands with inbound ACK, ERROR and
// VERSION frames. Outstanding requests are kept in issue order; each reply
// settles the oldest request it matches, so several commands may be in
// flight at once.
type Coordinator struct {
	w       io.Writer
	intent  *semaphore.Weighted
	writeMu sync.Mutex

	mu      sync.Mutex
	pending []*pending
	closed  error
}

type pending struct {
	req     Request
	created time.Time
	done    chan result
}

type result struct {
	frame Frame
	err   error
}

// NewCoordinator writes command lines to w. When intent is non-nil every
// write must win it without waiting; a holder such as the flasher makes
// writes fail with device.ErrBusy.
func NewCoordinator(w io.Writer, intent *semaphore.Weighted) *Coordinator {
	return &Coordinator{w: w, intent: intent}
}

// Send writes {"type": command, ...payload} and waits for the matching ACK.
func (c *Coordinator) Send(ctx context.Context, command string, payload map[string]any, timeout time.Duration) error {
	_, err := c.Request(ctx, Request{Command: command, Payload: payload, Timeout: timeout})
	return err
}

// Request writes the command and waits for its reply frame.
func (c *Coordinator) Request(ctx context.Context, req Request) (Frame, error) {
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	if req.Reply == "" {
		req.Reply = KindAck
	}

	line, err := EncodeCommand(req.Command, req.Payload)
	if err != nil {
		return nil, err
	}

	// Register before writing so a fast reply cannot slip past.
	p := &pending{req: req, created: time.Now(), done: make(chan result, 1)}
	c.mu.Lock()
	if c.closed != nil {
		err := c.closed
		c.mu.Unlock()
		return nil, err
	}
	c.pending = append(c.pending, p)
	c.mu.Unlock()

	if err := c.write(line); err != nil {
		c.remove(p)
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}

	log.Debug().
		Str("command", req.Command).
		Str("reply", string(req.Reply)).
		Dur("timeout", req.Timeout).
		Msg("Command sent")

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case r := <-p.done:
		return r.frame, r.err
	case <-timer.C:
		if c.remove(p) {
			return nil, fmt.Errorf("%s after %s: %w", req.Command, req.Timeout, device.ErrCommandTimeout)
		}
	case <-ctx.Done():
		if c.remove(p) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%s: %w: %w", req.Command, device.ErrCommandTimeout, ctx.Err())
			}
			return nil, ctx.Err()
		}
	}

	// Settled between the timer firing and remove taking the lock.
	r := <-p.done
	return r.frame, r.err
}

// Post writes a command without registering for a reply.
func (c *Coordinator) Post(command string, payload map[string]any) error {
	line, err := EncodeCommand(command, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed != nil {
		return closed
	}

	if err := c.write(line); err != nil {
		return fmt.Errorf("send %s: %w", command, err)
	}
	log.Debug().Str("command", command).Msg("Command posted")
	return nil
}

// Dispatch offers an inbound frame to the outstanding requests and reports
// whether one of them consumed it. ACK settles the oldest request for the
// acknowledged command. ERROR settles the oldest request for the command it
// names, or the oldest request of any type when it names none.
func (c *Coordinator) Dispatch(f Frame) bool {
	switch fr := f.(type) {
	case AckFrame:
		return c.settle(func(p *pending) bool {
			return p.req.Reply == KindAck && p.req.Command == fr.Command
		}, func(p *pending) result {
			return result{frame: fr}
		})

	case VersionFrame:
		return c.settle(func(p *pending) bool {
			return p.req.Reply == KindVersion
		}, func(p *pending) result {
			return result{frame: fr}
		})

	case ErrorFrame:
		match := func(p *pending) bool { return true }
		if fr.Command != "" {
			match = func(p *pending) bool { return p.req.Command == fr.Command }
		}
		return c.settle(match, func(p *pending) result {
			return result{err: &device.DeviceError{Command: p.req.Command, Message: fr.Message}}
		})
	}
	return false
}

// FailPending rejects every outstanding request with err. New requests are
// still accepted.
func (c *Coordinator) FailPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(err)
}

// Close rejects every outstanding request with err and refuses new ones.
func (c *Coordinator) Close(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed == nil {
		c.closed = err
	}
	c.failLocked(err)
}

// Outstanding returns the command types still awaiting a reply, oldest first.
func (c *Coordinator) Outstanding() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p.req.Command)
	}
	return out
}

func (c *Coordinator) failLocked(err error) {
	for _, p := range c.pending {
		p.done <- result{err: fmt.Errorf("%s: %w", p.req.Command, err)}
	}
	c.pending = nil
}

func (c *Coordinator) settle(match func(*pending) bool, res func(*pending) result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.pending {
		if !match(p) {
			continue
		}
		c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
		p.done <- res(p)

		log.Debug().
			Str("command", p.req.Command).
			Dur("elapsed", time.Since(p.created)).
			Msg("Command settled")
		return true
	}
	return false
}

// remove drops p if it is still outstanding and reports whether it was.
func (c *Coordinator) remove(p *pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Coordinator) write(line []byte) error {
	if c.intent != nil {
		if !c.intent.TryAcquire(1) {
			return device.ErrBusy
		}
		defer c.intent.Release(1)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.w.Write(line)
	return err
}

// EncodeCommand renders one newline-terminated command line with "type"
// first and the payload keys sorted. A payload "type" must equal command,
// since the ACK is correlated on it.
func EncodeCommand(command string, payload map[string]any) ([]byte, error) {
	if command == "" {
		return nil, fmt.Errorf("%w: empty command type", device.ErrValidation)
	}
	if t, ok := payload["type"]; ok && t != command {
		return nil, fmt.Errorf("%w: payload type %v conflicts with command %s", device.ErrValidation, t, command)
	}

	typ, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrValidation, err)
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k != "type" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	for _, k := range keys {
		v, err := json.Marshal(payload[k])
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", device.ErrValidation, k, err)
		}
		key, _ := json.Marshal(k)
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString("}\n")

	return buf.Bytes(), nil
}
