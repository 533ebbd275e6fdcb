// Package ble implements a transport session over Bluetooth LE GATT: frames
// are written to one characteristic and the device answers through
// notifications on another.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"tinygo.org/x/bluetooth"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

// Device identity of the JDY-31 bridge fitted to the PSG9080.
const (
	DefaultAddress           = "5C:53:10:DA:D2:DD"
	WriteCharacteristicUUID  = "0000fff2-0000-1000-8000-00805f9b34fb"
	NotifyCharacteristicUUID = "0000fff1-0000-1000-8000-00805f9b34fb"
)

// chunkSize is the default ATT payload (MTU 23 minus header).
const chunkSize = 20

var (
	errNotFound       = errors.New("device not found")
	errCharacteristic = errors.New("characteristic not found")
)

// Options configure the session.
type Options struct {
	ScanTimeout time.Duration
}

// Session is a GATT link.
type Session struct {
	transport.Notifier

	log         zerolog.Logger
	adapter     *bluetooth.Adapter
	scanTimeout time.Duration

	enableOnce sync.Once
	enableErr  error

	mu        sync.Mutex
	device    bluetooth.Device
	write     bluetooth.DeviceCharacteristic
	connected atomic.Bool
}

var _ transport.Session = (*Session)(nil)

// New returns a session on the system default adapter.
func New(log zerolog.Logger, opts Options) *Session {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 10 * time.Second
	}
	return &Session{
		log:         log.With().Str("transport", "ble").Logger(),
		adapter:     bluetooth.DefaultAdapter,
		scanTimeout: opts.ScanTimeout,
	}
}

// Connect scans for address, connects and subscribes to notifications.
func (s *Session) Connect(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected.Load() {
		return nil
	}

	s.enableOnce.Do(func() { s.enableErr = s.adapter.Enable() })
	if s.enableErr != nil {
		return &transport.ConnectError{Address: address, Err: fmt.Errorf("enable adapter: %w", s.enableErr)}
	}

	found, err := s.scan(ctx, address)
	if err != nil {
		return &transport.ConnectError{Address: address, Err: err}
	}

	device, err := s.adapter.Connect(found, bluetooth.ConnectionParams{})
	if err != nil {
		return &transport.ConnectError{Address: address, Err: err}
	}

	write, notify, err := characteristics(device)
	if err != nil {
		_ = device.Disconnect()
		return &transport.ConnectError{Address: address, Err: err}
	}

	err = notify.EnableNotifications(func(buf []byte) {
		payload := make([]byte, len(buf))
		copy(payload, buf)
		s.Notify(payload)
	})
	if err != nil {
		_ = device.Disconnect()
		return &transport.ConnectError{Address: address, Err: fmt.Errorf("enable notifications: %w", err)}
	}

	s.device = device
	s.write = write
	s.connected.Store(true)

	s.log.Info().Str("address", address).Msg("connected")
	return nil
}

// scan looks for address until it is seen, ctx ends or the scan times out.
func (s *Session) scan(ctx context.Context, address string) (bluetooth.Address, error) {
	want := normalizeAddress(address)

	ctx, cancel := context.WithTimeout(ctx, s.scanTimeout)
	defer cancel()

	var (
		result bluetooth.Address
		found  atomic.Bool
	)
	done := make(chan error, 1)
	go func() {
		done <- s.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if normalizeAddress(r.Address.String()) != want || found.Load() {
				return
			}
			result = r.Address
			found.Store(true)
			_ = a.StopScan()
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return result, fmt.Errorf("scan: %w", err)
		}
	case <-ctx.Done():
		_ = s.adapter.StopScan()
		<-done
	}

	if !found.Load() {
		return result, errNotFound
	}
	return result, nil
}

func characteristics(device bluetooth.Device) (write, notify bluetooth.DeviceCharacteristic, err error) {
	writeUUID, err := bluetooth.ParseUUID(WriteCharacteristicUUID)
	if err != nil {
		return write, notify, err
	}
	notifyUUID, err := bluetooth.ParseUUID(NotifyCharacteristicUUID)
	if err != nil {
		return write, notify, err
	}

	services, err := device.DiscoverServices(nil)
	if err != nil {
		return write, notify, fmt.Errorf("discover services: %w", err)
	}

	var haveWrite, haveNotify bool
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			continue
		}
		for _, c := range chars {
			switch c.UUID() {
			case writeUUID:
				write, haveWrite = c, true
			case notifyUUID:
				notify, haveNotify = c, true
			}
		}
	}

	if !haveWrite || !haveNotify {
		return write, notify, errCharacteristic
	}
	return write, notify, nil
}

// Write sends b in ATT-sized chunks without response.
func (s *Session) Write(ctx context.Context, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected.Load() {
		return &transport.WriteError{Frame: string(b), Err: transport.ErrNotConnected}
	}

	for _, c := range chunks(b, chunkSize) {
		if err := ctx.Err(); err != nil {
			return &transport.WriteError{Frame: string(b), Err: err}
		}
		if _, err := s.write.WriteWithoutResponse(c); err != nil {
			return &transport.WriteError{Frame: string(b), Err: err}
		}
	}
	return nil
}

// Disconnect drops the GATT connection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected.Swap(false) {
		return nil
	}
	if err := s.device.Disconnect(); err != nil {
		return err
	}
	s.log.Info().Msg("disconnected")
	return nil
}

func chunks(b []byte, size int) [][]byte {
	var out [][]byte
	for len(b) > size {
		out = append(out, b[:size])
		b = b[size:]
	}
	if len(b) > 0 {
		out = append(out, b)
	}
	return out
}

func normalizeAddress(a string) string {
	return strings.ToUpper(strings.TrimSpace(a))
}
