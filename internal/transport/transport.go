// Package transport defines the session contract between the protocol engine
// and a physical link to the generator.
//
// A Session is a bidirectional text channel: writes go out on one path and
// device notifications arrive asynchronously on another. The engine never
// assumes a reply correlates with a request; the code embedded in each frame
// is the only correlation.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Normalized transport errors.
var (
	ErrConnect      = errors.New("CONNECT_FAILED")
	ErrWrite        = errors.New("WRITE_FAILED")
	ErrNotConnected = errors.New("NOT_CONNECTED")
)

// NotificationHandler receives one inbound notification payload. It runs on
// the session's receive goroutine and must not block.
type NotificationHandler func(payload []byte)

// Session is a link to one device.
type Session interface {
	// Connect opens the link to address. Failures are *ConnectError.
	Connect(ctx context.Context, address string) error

	// Write sends one encoded frame. Failures are *WriteError.
	Write(ctx context.Context, b []byte) error

	// Subscribe registers a handler for inbound notifications. Handlers
	// survive reconnects.
	Subscribe(h NotificationHandler)

	// Disconnect closes the link. It is safe to call when not connected.
	Disconnect() error
}

// LinkWatcher is implemented by sessions that can detect the remote side
// dropping the link.
type LinkWatcher interface {
	// Lost is closed when the current link goes away without Disconnect.
	Lost() <-chan struct{}
}

// ConnectError reports a failed connection attempt. It ends the session.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

// WriteError reports a failed write of one frame.
type WriteError struct {
	Frame string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q: %v", e.Frame, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// NotConnectedError reports a frame rejected because no link is up. The
// frame is dropped, never buffered for a later link.
type NotConnectedError struct {
	Frame string
}

func (e *NotConnectedError) Error() string {
	if e.Frame == "" {
		return "not connected"
	}
	return fmt.Sprintf("not connected: dropped %q", e.Frame)
}

func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// Notifier fans inbound payloads out to subscribed handlers. Sessions embed
// it to implement Subscribe.
type Notifier struct {
	mu       sync.RWMutex
	handlers []NotificationHandler
}

// Subscribe registers h.
func (n *Notifier) Subscribe(h NotificationHandler) {
	if h == nil {
		return
	}
	n.mu.Lock()
	n.handlers = append(n.handlers, h)
	n.mu.Unlock()
}

// Notify delivers payload to every handler in subscription order.
func (n *Notifier) Notify(payload []byte) {
	n.mu.RLock()
	handlers := n.handlers
	n.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}
