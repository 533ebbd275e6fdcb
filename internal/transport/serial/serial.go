// Package serial implements a transport session over a serial port, such as
// the RFCOMM device node of a paired JDY-31 module.
package serial

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobug "go.bug.st/serial"
	"go.uber.org/atomic"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

// portHandle is the subset of gobug.Port the session uses.
type portHandle interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// allow tests to override the port
var openPort = func(name string, mode *gobug.Mode) (portHandle, error) { return gobug.Open(name, mode) }

const readTimeout = 100 * time.Millisecond

// Options configure the port.
type Options struct {
	BaudRate int
}

// Session is a serial link.
type Session struct {
	transport.Notifier

	log  zerolog.Logger
	mode *gobug.Mode

	mu     sync.Mutex
	port   portHandle
	lost   chan struct{}
	open   atomic.Bool
	stop   chan struct{}
	reader sync.WaitGroup
}

var (
	_ transport.Session     = (*Session)(nil)
	_ transport.LinkWatcher = (*Session)(nil)
)

// New returns a closed session.
func New(log zerolog.Logger, opts Options) *Session {
	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}
	return &Session{
		log:  log.With().Str("transport", "serial").Logger(),
		mode: &gobug.Mode{BaudRate: opts.BaudRate, DataBits: 8, Parity: gobug.NoParity, StopBits: gobug.OneStopBit},
		lost: make(chan struct{}),
	}
}

// Connect opens the port named by address.
func (s *Session) Connect(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return &transport.ConnectError{Address: address, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open.Load() {
		return nil
	}

	port, err := openPort(address, s.mode)
	if err != nil {
		return &transport.ConnectError{Address: address, Err: err}
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return &transport.ConnectError{Address: address, Err: err}
	}

	s.port = port
	s.lost = make(chan struct{})
	s.stop = make(chan struct{})
	s.open.Store(true)

	s.reader.Add(1)
	go s.readLoop(port, s.stop, s.lost)

	s.log.Info().Str("port", address).Int("baud", s.mode.BaudRate).Msg("port opened")
	return nil
}

func (s *Session) readLoop(port portHandle, stop <-chan struct{}, lost chan struct{}) {
	defer s.reader.Done()

	var lines transport.LineBuffer
	buf := make([]byte, 256)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				s.Notify(line)
			}
		}
		if err != nil {
			if s.open.CompareAndSwap(true, false) {
				s.log.Warn().Err(err).Msg("port lost")
				close(lost)
			}
			return
		}
	}
}

// Write sends b.
func (s *Session) Write(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return &transport.WriteError{Frame: string(b), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open.Load() || s.port == nil {
		return &transport.WriteError{Frame: string(b), Err: transport.ErrNotConnected}
	}
	if _, err := s.port.Write(b); err != nil {
		return &transport.WriteError{Frame: string(b), Err: err}
	}
	return nil
}

// Disconnect closes the port.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	port := s.port
	stop := s.stop
	s.port = nil
	s.stop = nil
	s.mu.Unlock()

	if port == nil {
		return nil
	}

	s.open.Store(false)
	close(stop)
	err := port.Close()
	s.reader.Wait()

	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	s.log.Info().Msg("port closed")
	return nil
}

// Lost is closed when the port fails underneath the session.
func (s *Session) Lost() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}
