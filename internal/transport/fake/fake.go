// Package fake provides an in-memory transport session for tests.
package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

// ErrInjected is the cause of simulated failures.
var ErrInjected = errors.New("injected failure")

// Session records writes and lets tests inject notifications.
type Session struct {
	transport.Notifier

	mu          sync.Mutex
	connected   bool
	address     string
	writes      []string
	failConnect bool
	failWrites  bool
	writeDelay  time.Duration
	onWrite     func(frame string)
	lost        chan struct{}
	written     chan struct{}
}

var (
	_ transport.Session     = (*Session)(nil)
	_ transport.LinkWatcher = (*Session)(nil)
)

// New returns a disconnected fake session.
func New() *Session {
	return &Session{
		lost:    make(chan struct{}),
		written: make(chan struct{}, 1),
	}
}

// Connect marks the session connected unless FailConnect is set.
func (s *Session) Connect(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return &transport.ConnectError{Address: address, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failConnect {
		return &transport.ConnectError{Address: address, Err: ErrInjected}
	}
	s.connected = true
	s.address = address
	s.lost = make(chan struct{})
	return nil
}

// Write records b.
func (s *Session) Write(ctx context.Context, b []byte) error {
	s.mu.Lock()
	delay := s.writeDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &transport.WriteError{Frame: string(b), Err: ctx.Err()}
		}
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return &transport.WriteError{Frame: string(b), Err: transport.ErrNotConnected}
	}
	if s.failWrites {
		s.mu.Unlock()
		return &transport.WriteError{Frame: string(b), Err: ErrInjected}
	}
	s.writes = append(s.writes, string(b))
	hook := s.onWrite
	s.mu.Unlock()

	select {
	case s.written <- struct{}{}:
	default:
	}
	if hook != nil {
		hook(string(b))
	}
	return nil
}

// Disconnect marks the session disconnected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Lost is closed by Drop.
func (s *Session) Lost() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// Drop simulates the device going away.
func (s *Session) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	close(s.lost)
}

// Inject delivers a notification as if it came from the device.
func (s *Session) Inject(payload string) {
	s.Notify([]byte(payload))
}

// Connected reports the link state.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Address returns the last address connected to.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Writes returns a copy of every frame written so far.
func (s *Session) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.writes))
	copy(out, s.writes)
	return out
}

// WaitForWrites blocks until at least n frames were written or timeout.
func (s *Session) WaitForWrites(n int, timeout time.Duration) []string {
	deadline := time.After(timeout)
	for {
		if w := s.Writes(); len(w) >= n {
			return w
		}
		select {
		case <-s.written:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			return s.Writes()
		}
	}
}

// FailConnect makes subsequent Connect calls fail.
func (s *Session) FailConnect(fail bool) {
	s.mu.Lock()
	s.failConnect = fail
	s.mu.Unlock()
}

// FailWrites makes subsequent Write calls fail.
func (s *Session) FailWrites(fail bool) {
	s.mu.Lock()
	s.failWrites = fail
	s.mu.Unlock()
}

// SetWriteDelay makes each Write take d.
func (s *Session) SetWriteDelay(d time.Duration) {
	s.mu.Lock()
	s.writeDelay = d
	s.mu.Unlock()
}

// OnWrite installs a hook called after each successful write, outside the
// session lock. Tests use it to answer reads.
func (s *Session) OnWrite(fn func(frame string)) {
	s.mu.Lock()
	s.onWrite = fn
	s.mu.Unlock()
}
