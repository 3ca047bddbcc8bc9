package protocol

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urmzd/ninho/pkg/device"
	"golang.org/x/sync/semaphore"
)

type lineWriter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	wrote chan string
}

func newLineWriter() *lineWriter {
	return &lineWriter{wrote: make(chan string, 16)}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	w.wrote <- string(p)
	return len(p), nil
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// sendAsync runs Send in the background once the line has been written.
func sendAsync(t *testing.T, c *Coordinator, w *lineWriter, command string, timeout time.Duration) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Send(context.Background(), command, nil, timeout)
	}()
	select {
	case <-w.wrote:
	case <-time.After(time.Second):
		t.Fatalf("%s was never written", command)
	}
	return errCh
}

func wait(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return")
		return nil
	}
}

func TestEncodeCommand(t *testing.T) {
	line, err := EncodeCommand("SET_ID", map[string]any{"userId": "user_123", "type": "SET_ID"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "{\"type\":\"SET_ID\",\"userId\":\"user_123\"}\n" {
		t.Errorf("got %q", line)
	}

	if _, err := EncodeCommand("SET_ID", map[string]any{"userId": "u", "type": "SET_MISSION"}); !errors.Is(err, device.ErrValidation) {
		t.Errorf("expected validation error for conflicting type, got %v", err)
	}

	if _, err := EncodeCommand("", nil); !errors.Is(err, device.ErrValidation) {
		t.Errorf("expected validation error for empty type, got %v", err)
	}
}

func TestCoordinator_AckResolves(t *testing.T) {
	w := newLineWriter()
	c := NewCoordinator(w, nil)

	errCh := sendAsync(t, c, w, "SET_ID", time.Second)
	if !c.Dispatch(Parse(`{"type":"ACK","command":"SET_ID"}`)) {
		t.Fatal("ACK was not consumed")
	}
	if err := wait(t, errCh); err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if len(c.Outstanding()) != 0 {
		t.Errorf("pending table not empty: %v", c.Outstanding())
	}
}

func TestCoordinator_AckForOtherCommandPassesThrough(t *testing.T) {
	w := newLineWriter()
	c := NewCoordinator(w, nil)

	errCh := sendAsync(t, c, w, "SET_MISSION", 200*time.Millisecond)
	if c.Dispatch(Parse(`{"type":"ACK","command":"SET_ID"}`)) {
		t.Error("ACK for SET_ID must not be consumed by SET_MISSION")
	}

	err := wait(t, errCh)
	if !errors.Is(err, device.ErrCommandTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestCoordinator_UnscopedErrorRejectsOldest(t *testing.T) {
	w := newLineWriter()
	c := NewCoordinator(w, nil)

	first := sendAsync(t, c, w, "SET_ID", time.Second)
	second := sendAsync(t, c, w, "SET_MISSION", time.Second)

	if !c.Dispatch(Parse(`{"type":"ERROR","msg":"id rejected"}`)) {
		t.Fatal("ERROR was not consumed")
	}

	err := wait(t, first)
	var devErr *device.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if devErr.Message != "id rejected" || devErr.Command != "SET_ID" {
		t.Errorf("unexpected device error: %+v", devErr)
	}

	c.Dispatch(Parse(`{"type":"ACK","command":"SET_MISSION"}`))
	if err := wait(t, second); err != nil {
		t.Errorf("second command should still succeed, got %v", err)
	}
}

func TestCoordinator_ScopedErrorTargetsCommand(t *testing.T) {
	w := newLineWriter()
	c := NewCoordinator(w, nil)

	first := sendAsync(t, c, w, "SET_ID", time.Second)
	second := sendAsync(t, c, w, "SET_MISSION", time.Second)

	c.Dispatch(Parse(`{"type":"ERROR","command":"SET_MISSION","message":"unknown mission"}`))
	if err := wait(t, second); !errors.Is(err, device.ErrDeviceError) {
		t.Errorf("expected device error for SET_MISSION, got %v", err)
	}

	c.Dispatch(Parse(`{"type":"ACK","command":"SET_ID"}`))
	if err := wait(t, first); err != nil {
		t.Errorf("SET_ID should succeed, got %v", err)
	}
}

func TestCoordinator_ErrorWithNothingOutstanding(t *testing.T) {
	c := NewCoordinator(newLineWriter(), nil)
	if c.Dispatch(Parse(`{"type":"ERROR","message":"spontaneous"}`)) {
		t.Error("ERROR with no outstanding command should fall through")
	}
}

func TestCoordinator_ConcurrentSameType(t *testing.T) {
	w := newLineWriter()
	c := NewCoordinator(w, nil)

	first := sendAsync(t, c, w, "SET_ID", time.Second)
	second := sendAsync(t, c, w, "SET_ID", time.Second)

	c.Dispatch(Parse(`{"type":"ACK","command":"SET_ID"}`))
	if err := wait(t, first); err != nil {
		t.Errorf("first: %v", err)
	}
	if got := c.Outstanding(); len(got) != 1 {
		t.Fatalf("expected one outstanding, got %v", got)
	}

	c.Dispatch(Parse(`{"type":"ACK","command":"SET_ID"}`))
	if err := wait(t, second); err != nil {
		t.Errorf("second: %v", err)
	}
}

func TestCoordinator_TimeoutClearsEntry(t *testing.T) {
	w := newLineWriter()
	c := NewCoordinator(w, nil)
	channel := NewTelemetryChannel()

	var got []device.Telemetry
	channel.Subscribe(func(tm device.Telemetry) { got = append(got, tm) })

	start := time.Now()
	err := wait(t, sendAsync(t, c, w, "SET_ID", 50*time.Millisecond))
	if !errors.Is(err, device.ErrCommandTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("returned before the deadline")
	}
	if len(c.Outstanding()) != 0 {
		t.Errorf("timed out command still registered: %v", c.Outstanding())
	}

	// A late ACK is no longer claimed and telemetry still flows.
	if c.Dispatch(Parse(`{"type":"ACK","command":"SET_ID"}`)) {
		t.Error("late ACK should not be consumed")
	}
	channel.Deliver(Parse(`{"type":"TELEMETRY","userId":"u1","readings":{"led":1}}`))
	if len(got) != 1 {
		t.Errorf("expected telemetry after timeout, got %d readings", len(got))
	}
}

func TestCoordinator_CloseRejectsPending(t *testing.T) {
	w := newLineWriter()
	c := NewCoordinator(w, nil)

	errCh := sendAsync(t, c, w, "SET_ID", 10*time.Second)
	c.Close(device.ErrDisconnected)

	if err := wait(t, errCh); !errors.Is(err, device.ErrDisconnected) {
		t.Errorf("expected disconnect, got %v", err)
	}

	if err := c.Send(context.Background(), "SET_ID", nil, time.Second); !errors.Is(err, device.ErrDisconnected) {
		t.Errorf("send after close should fail, got %v", err)
	}
	if err := c.Post("GET_STATUS", nil); !errors.Is(err, device.ErrDisconnected) {
		t.Errorf("post after close should fail, got %v", err)
	}
}

func TestCoordinator_ContextCancel(t *testing.T) {
	w := newLineWriter()
	c := NewCoordinator(w, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Send(ctx, "SET_ID", nil, 10*time.Second) }()
	<-w.wrote
	cancel()

	if err := wait(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCoordinator_BusyWhileIntentHeld(t *testing.T) {
	intent := semaphore.NewWeighted(1)
	w := newLineWriter()
	c := NewCoordinator(w, intent)

	if err := intent.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer intent.Release(1)

	err := c.Send(context.Background(), "SET_ID", nil, time.Second)
	if !errors.Is(err, device.ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if w.String() != "" {
		t.Errorf("nothing should be written, got %q", w.String())
	}
	if len(c.Outstanding()) != 0 {
		t.Error("failed send left an entry behind")
	}
}

func TestCoordinator_VersionReply(t *testing.T) {
	w := newLineWriter()
	c := NewCoordinator(w, nil)

	type reply struct {
		f   Frame
		err error
	}
	done := make(chan reply, 1)
	go func() {
		f, err := c.Request(context.Background(), Request{Command: "GET_VERSION", Reply: KindVersion, Timeout: time.Second})
		done <- reply{f, err}
	}()
	line := <-w.wrote
	if !strings.Contains(line, `"GET_VERSION"`) {
		t.Fatalf("unexpected line %q", line)
	}

	c.Dispatch(Parse(`{"type":"VERSION","version":"1.0.0"}`))
	r := <-done
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if v, ok := r.f.(VersionFrame); !ok || v.Version != "1.0.0" {
		t.Errorf("unexpected reply %#v", r.f)
	}
}

func TestCoordinator_Post(t *testing.T) {
	w := newLineWriter()
	c := NewCoordinator(w, nil)

	if err := c.Post("GET_STATUS", map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.String() != "{\"type\":\"GET_STATUS\"}\n" {
		t.Errorf("got %q", w.String())
	}
	if len(c.Outstanding()) != 0 {
		t.Error("post must not register a pending entry")
	}
}
