package emulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

const writeTimeout = 5 * time.Second

// Server accepts line clients for a Device.
type Server struct {
	cfg     *config.EmulatorConfig
	device  *Device
	log     zerolog.Logger
	allowed []*net.IPNet

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewServer validates the allow-list. An empty list admits every client.
func NewServer(cfg *config.EmulatorConfig, device *Device, log zerolog.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		device: device,
		log:    log,
		conns:  make(map[net.Conn]struct{}),
		done:   make(chan struct{}),
	}
	for _, cidr := range cfg.AllowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("allowed cidr %q: %w", cidr, err)
		}
		s.allowed = append(s.allowed, network)
	}
	return s, nil
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.log.Info().Str("addr", l.Addr().String()).Msg("emulator listening")
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts clients until ctx ends or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("emulator: Serve called before Listen")
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		if !s.isAllowed(conn.RemoteAddr()) {
			s.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("rejected connection outside allowed cidrs")
			_ = conn.Close()
			continue
		}
		if !s.track(conn) {
			s.log.Warn().Str("remote", conn.RemoteAddr().String()).Int("maxConns", s.cfg.MaxConns).Msg("rejected connection over limit")
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

// Close stops accepting, drops every client and waits for their handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	close(s.done)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.cfg.MaxConns > 0 && len(s.conns) >= s.cfg.MaxConns) {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) isAllowed(addr net.Addr) bool {
	if len(s.allowed) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range s.allowed {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.log.Info().Str("remote", remote).Msg("client connected")
	defer s.log.Info().Str("remote", remote).Msg("client disconnected")

	var lines transport.LineBuffer
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		for _, line := range lines.Feed(buf[:n]) {
			text := strings.TrimSpace(string(line))
			if text == "" {
				continue
			}
			if !s.answer(ctx, conn, text) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// answer executes one frame and writes the reply. It reports false once the
// client is gone.
func (s *Server) answer(ctx context.Context, conn net.Conn, text string) bool {
	reply, err := s.device.Execute(ctx, text)
	if err != nil {
		s.log.Debug().Err(err).Str("frame", text).Msg("frame rejected")
		return !errors.Is(err, ErrStopped) && ctx.Err() == nil
	}
	if reply == "" {
		return true
	}

	if s.cfg.ResponseDelay > 0 {
		t := time.NewTimer(s.cfg.ResponseDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return false
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write([]byte(protocol.Terminate(reply.String()))); err != nil {
		s.log.Debug().Err(err).Msg("reply write failed")
		return false
	}
	return true
}
