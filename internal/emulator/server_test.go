package emulator

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
)

func startServer(t *testing.T, mutate func(*config.EmulatorConfig)) *Server {
	t.Helper()
	cfg := config.DefaultEmulator()
	cfg.Listen = "127.0.0.1:0"
	cfg.ResponseDelay = 0
	if mutate != nil {
		mutate(cfg)
	}

	d := NewDevice(cfg.QueueSize, cfg.EchoWrites, zerolog.Nop())
	s, err := NewServer(cfg, d, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
		d.Close()
	})
	return s
}

func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func roundTrip(t *testing.T, conn net.Conn, r *bufio.Reader, frame string) string {
	t.Helper()
	if _, err := conn.Write([]byte(frame + "\r\n")); err != nil {
		t.Fatalf("write %s: %v", frame, err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply to %s: %v", frame, err)
	}
	return line
}

func TestServerAnswersReads(t *testing.T) {
	s := startServer(t, nil)
	conn, r := dial(t, s)

	if got := roundTrip(t, conn, r, ":r15=0."); got != ":r15=5000.\r\n" {
		t.Errorf("reply = %q, want %q", got, ":r15=5000.\r\n")
	}

	// writes are silent; the next read shows the stored value
	if _, err := conn.Write([]byte(":w15=1200.\r\n:w16=800.\r\n")); err != nil {
		t.Fatal(err)
	}
	if got := roundTrip(t, conn, r, ":r15=0."); got != ":r15=1200.\r\n" {
		t.Errorf("reply = %q, want %q", got, ":r15=1200.\r\n")
	}
}

func TestServerSkipsBadFrames(t *testing.T) {
	s := startServer(t, nil)
	conn, r := dial(t, s)

	if _, err := conn.Write([]byte("garbage\r\n\r\n:r99=0.\r\n")); err != nil {
		t.Fatal(err)
	}
	if got := roundTrip(t, conn, r, ":r17=0."); got != ":r17=1000.\r\n" {
		t.Errorf("reply = %q, want %q", got, ":r17=1000.\r\n")
	}
}

func TestServerEchoesWrites(t *testing.T) {
	s := startServer(t, func(c *config.EmulatorConfig) { c.EchoWrites = true })
	conn, r := dial(t, s)

	if got := roundTrip(t, conn, r, ":w11=3."); got != ":w11=3.\r\n" {
		t.Errorf("reply = %q, want %q", got, ":w11=3.\r\n")
	}
}

func TestServerResponseDelay(t *testing.T) {
	s := startServer(t, func(c *config.EmulatorConfig) { c.ResponseDelay = 50 * time.Millisecond })
	conn, r := dial(t, s)

	start := time.Now()
	roundTrip(t, conn, r, ":r10=0.")
	if took := time.Since(start); took < 45*time.Millisecond {
		t.Errorf("reply after %v, want at least 50ms", took)
	}
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("connection still open, want closed by server")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Error("read timed out, want connection closed by server")
	}
}

func TestServerConnectionLimit(t *testing.T) {
	s := startServer(t, func(c *config.EmulatorConfig) { c.MaxConns = 1 })
	first, r := dial(t, s)
	roundTrip(t, first, r, ":r10=0.") // first client is registered

	second, _ := dial(t, s)
	expectClosed(t, second)

	if got := roundTrip(t, first, r, ":r15=0."); got != ":r15=5000.\r\n" {
		t.Errorf("first client reply = %q, want %q", got, ":r15=5000.\r\n")
	}
}

func TestServerRejectsOutsideAllowList(t *testing.T) {
	s := startServer(t, func(c *config.EmulatorConfig) { c.AllowedCIDRs = []string{"10.0.0.0/8"} })
	conn, _ := dial(t, s)
	expectClosed(t, conn)
}

func TestNewServerRejectsBadCIDR(t *testing.T) {
	cfg := config.DefaultEmulator()
	cfg.AllowedCIDRs = []string{"not-a-cidr"}
	if _, err := NewServer(cfg, nil, zerolog.Nop()); err == nil {
		t.Error("NewServer() error = nil, want error")
	}
}
