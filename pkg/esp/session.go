package esp

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/protocol"
	"github.com/urmzd/ninho/pkg/serialport"
	"golang.org/x/sync/semaphore"
)

// session is one open serial connection. It is created by Connect and
// discarded by Disconnect; nothing about it outlives the port.
type session struct {
	port   serialport.Port
	path   string
	baud   int
	intent *semaphore.Weighted
	coord  *protocol.Coordinator

	onFrame func(*session, protocol.Frame)
	onExit  func(*session, error)

	mu     sync.Mutex
	reader *readLoop
	closed bool
}

// readLoop is one run of the reader goroutine. The flasher stops it to
// take the port and a new one is started afterwards.
type readLoop struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (l *readLoop) halt() {
	l.once.Do(func() { close(l.stop) })
	<-l.done
}

func newSession(port serialport.Port, path string, baud int) *session {
	intent := semaphore.NewWeighted(1)
	return &session{
		port:   port,
		path:   path,
		baud:   baud,
		intent: intent,
		coord:  protocol.NewCoordinator(port, intent),
	}
}

// start launches a reader goroutine with a fresh framer.
func (s *session) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.reader != nil {
		return
	}
	l := &readLoop{stop: make(chan struct{}), done: make(chan struct{})}
	s.reader = l
	go s.read(l)
}

// pause stops the reader and waits for it so another user can own the port.
func (s *session) pause() {
	s.mu.Lock()
	l := s.reader
	s.reader = nil
	s.mu.Unlock()

	if l != nil {
		l.halt()
	}
}

func (s *session) read(l *readLoop) {
	defer close(l.done)

	var framer protocol.Framer
	buf := make([]byte, 1024)
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		n, err := s.port.Read(buf)
		if n > 0 {
			for _, line := range framer.Push(buf[:n]) {
				s.onFrame(s, protocol.Parse(line))
			}
		}
		if err != nil {
			select {
			case <-l.stop:
				// Closed on purpose.
			default:
				log.Warn().Err(err).Str("port", s.path).Msg("Serial read failed")
				s.onExit(s, err)
			}
			return
		}
	}
}

// close stops the reader, closes the port and fails outstanding commands.
// It is safe to call from the reader goroutine itself.
func (s *session) close(cause error, fromReader bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l := s.reader
	s.reader = nil
	s.mu.Unlock()

	if l != nil {
		l.once.Do(func() { close(l.stop) })
	}
	err := s.port.Close()
	if l != nil && !fromReader {
		<-l.done
	}
	s.coord.Close(cause)
	return err
}
