// Package tcp implements a transport session over a TCP line stream, used to
// reach the emulator or a serial-to-network bridge.
package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

// Session is a TCP link.
type Session struct {
	transport.Notifier

	log         zerolog.Logger
	dialTimeout time.Duration

	mu        sync.Mutex
	conn      net.Conn
	lost      chan struct{}
	connected atomic.Bool
	wg        sync.WaitGroup
}

var (
	_ transport.Session     = (*Session)(nil)
	_ transport.LinkWatcher = (*Session)(nil)
)

// New returns a disconnected session.
func New(log zerolog.Logger, dialTimeout time.Duration) *Session {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	lost := make(chan struct{})
	return &Session{
		log:         log.With().Str("transport", "tcp").Logger(),
		dialTimeout: dialTimeout,
		lost:        lost,
	}
}

// Connect dials address (host:port).
func (s *Session) Connect(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: s.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return &transport.ConnectError{Address: address, Err: err}
	}

	s.conn = conn
	s.lost = make(chan struct{})
	s.connected.Store(true)

	s.wg.Add(1)
	go s.readLoop(conn, s.lost)

	s.log.Info().Str("address", address).Msg("connected")
	return nil
}

func (s *Session) readLoop(conn net.Conn, lost chan struct{}) {
	defer s.wg.Done()

	var lines transport.LineBuffer
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				s.Notify(line)
			}
		}
		if err != nil {
			if s.connected.CompareAndSwap(true, false) {
				s.log.Warn().Err(err).Msg("link lost")
				s.mu.Lock()
				if s.conn == conn {
					s.conn = nil
				}
				s.mu.Unlock()
				_ = conn.Close()
				close(lost)
			}
			return
		}
	}
}

// Write sends b.
func (s *Session) Write(ctx context.Context, b []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return &transport.WriteError{Frame: string(b), Err: transport.ErrNotConnected}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(b); err != nil {
		return &transport.WriteError{Frame: string(b), Err: err}
	}
	return nil
}

// Disconnect closes the link and waits for the reader to exit.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	s.connected.Store(false)
	err := conn.Close()
	s.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	s.log.Info().Msg("disconnected")
	return nil
}

// Lost is closed when the peer closes the current link.
func (s *Session) Lost() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}
