package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/refresh"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	cfg := config.Default().Audit
	cfg.Path = filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	l, err := NewLogger(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestLogAction(t *testing.T) {
	l := newTestLogger(t)

	ctx := WithUser(context.Background(), "alice")
	l.LogAction(ctx, "setParameter", map[string]interface{}{"id": "ch1.amplitude", "value": 5.0}, nil, 12*time.Millisecond)

	entries := readEntries(t, l.Path())
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Kind != KindAction || e.Action != "setParameter" {
		t.Errorf("entry = %+v, want setParameter action", e)
	}
	if e.User != "alice" {
		t.Errorf("User = %q, want alice", e.User)
	}
	if e.Outcome != "SUCCESS" || e.Code != "SUCCESS" {
		t.Errorf("Outcome/Code = %s/%s, want SUCCESS/SUCCESS", e.Outcome, e.Code)
	}
	if e.Params["id"] != "ch1.amplitude" {
		t.Errorf("Params[id] = %v, want ch1.amplitude", e.Params["id"])
	}
	if e.LatencyMs != 12 {
		t.Errorf("LatencyMs = %v, want 12", e.LatencyMs)
	}
}

func TestLogActionFailure(t *testing.T) {
	l := newTestLogger(t)

	l.LogAction(context.Background(), "connect", nil, &transport.ConnectError{Address: "dev", Err: errors.New("timeout")}, 0)

	e := readEntries(t, l.Path())[0]
	if e.User != "local" {
		t.Errorf("User = %q, want local", e.User)
	}
	if e.Outcome != "FAILURE" || e.Code != "BAD_GATEWAY" {
		t.Errorf("Outcome/Code = %s/%s, want FAILURE/BAD_GATEWAY", e.Outcome, e.Code)
	}
	if e.Error == "" {
		t.Error("Error is empty")
	}
}

func TestLogFrame(t *testing.T) {
	l := newTestLogger(t)

	l.LogFrame("tx", ":r10=0.", nil)
	l.LogFrame("rx", ":r99garbage", &protocol.ParseError{Frame: ":r99garbage", Reason: "missing '='"})

	entries := readEntries(t, l.Path())
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Direction != "tx" || entries[0].Frame != ":r10=0." {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Code != "BAD_REQUEST" {
		t.Errorf("entries[1].Code = %q, want BAD_REQUEST", entries[1].Code)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "SUCCESS"},
		{&protocol.ValidationError{Reason: "below minimum"}, "INVALID_RANGE"},
		{&transport.NotConnectedError{}, "UNAVAILABLE"},
		{&refresh.RefreshInProgressError{Index: 1, Total: 44}, "BUSY"},
		{&transport.WriteError{Err: errors.New("io")}, "BAD_GATEWAY"},
		{errors.New("boom"), "ERROR"},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestCloseDropsLaterEntries(t *testing.T) {
	l := newTestLogger(t)
	l.LogFrame("tx", ":r10=0.", nil)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	l.LogFrame("tx", ":r11=0.", nil)

	if n := len(readEntries(t, l.Path())); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
	if err := l.Rotate(); err == nil {
		t.Error("Rotate() after Close = nil, want error")
	}
}
