package serialport

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/device"
	"go.bug.st/serial"
)

// DefaultBaudRate is what the mission firmware prints at.
const DefaultBaudRate = 115200

// ReadTimeout bounds every Read so reader loops can notice a stop request.
const ReadTimeout = 100 * time.Millisecond

// Port is the byte-level transport shared by the session reader and the
// flasher. Read returns (0, nil) when the read timeout expires.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	SetBaudRate(baud int) error
	ResetInputBuffer() error
}

// Opener opens a port by path.
type Opener func(path string, baud int) (Port, error)

// SerialPort wraps a go.bug.st/serial connection.
type SerialPort struct {
	port   serial.Port
	path   string
	mu     sync.Mutex
	closed bool
}

// Open opens the serial port at the given baud rate, 8N1.
func Open(path string, baud int) (Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, Classify(err))
	}

	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout: %w", Classify(err))
	}

	log.Info().Str("port", path).Int("baud", baud).Msg("Serial port opened")

	return &SerialPort{port: port, path: path}, nil
}

// Path returns the device path the port was opened with.
func (s *SerialPort) Path() string {
	return s.path
}

// Write sends raw bytes to the serial port.
func (s *SerialPort) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, device.ErrDisconnected
	}
	n, err := s.port.Write(data)
	if err != nil {
		return n, Classify(err)
	}
	return n, nil
}

// Read reads raw bytes from the serial port.
func (s *SerialPort) Read(buf []byte) (int, error) {
	n, err := s.port.Read(buf)
	if err != nil {
		return n, Classify(err)
	}
	return n, nil
}

// Close closes the serial port. Closing twice is a no-op.
func (s *SerialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

func (s *SerialPort) SetReadTimeout(t time.Duration) error {
	return s.port.SetReadTimeout(t)
}

func (s *SerialPort) SetDTR(dtr bool) error {
	return s.port.SetDTR(dtr)
}

func (s *SerialPort) SetRTS(rts bool) error {
	return s.port.SetRTS(rts)
}

func (s *SerialPort) SetBaudRate(baud int) error {
	return s.port.SetMode(&serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

func (s *SerialPort) ResetInputBuffer() error {
	return s.port.ResetInputBuffer()
}

// Classify maps go.bug.st/serial errors onto the device error taxonomy while
// keeping the original error in the chain.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("%w: %w", device.ErrNoPortSelected, err)
		case errors.Is(err, fs.ErrPermission):
			return fmt.Errorf("%w: %w", device.ErrPermissionDenied, err)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: %w", device.ErrDisconnected, err)
		}
		return err
	}

	switch portErr.Code() {
	case serial.PortNotFound, serial.InvalidSerialPort:
		return fmt.Errorf("%w: %w", device.ErrNoPortSelected, err)
	case serial.PermissionDenied:
		return fmt.Errorf("%w: %w", device.ErrPermissionDenied, err)
	case serial.PortBusy:
		return fmt.Errorf("%w: %w", device.ErrBusy, err)
	case serial.FunctionNotImplemented, serial.ErrorEnumeratingPorts:
		return fmt.Errorf("%w: %w", device.ErrNotSupported, err)
	case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity,
		serial.InvalidStopBits, serial.InvalidTimeoutValue:
		return fmt.Errorf("%w: %w", device.ErrValidation, err)
	}

	// PortClosed is also what Linux reports when the cable is pulled.
	return fmt.Errorf("%w: %w", device.ErrDisconnected, err)
}
