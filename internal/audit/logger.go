package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/refresh"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

// Entry kinds.
const (
	KindAction = "action"
	KindFrame  = "frame"
)

// Entry is one audit line.
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	Kind      string                 `json:"kind"`
	User      string                 `json:"user,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Direction string                 `json:"direction,omitempty"`
	Frame     string                 `json:"frame,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code"`
	LatencyMs float64                `json:"latencyMs,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Logger appends entries to a rotated JSONL file.
type Logger struct {
	mu   sync.Mutex
	path string
	file *lumberjack.Logger
	log  zerolog.Logger
}

// NewLogger opens the audit file described by cfg.
func NewLogger(cfg config.AuditConfig, log zerolog.Logger) (*Logger, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	return &Logger{
		path: cfg.Path,
		file: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		},
		log: log,
	}, nil
}

type userKey struct{}

// WithUser attaches the acting user to ctx.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the user stored by WithUser, or "local".
func UserFrom(ctx context.Context) string {
	if u, ok := ctx.Value(userKey{}).(string); ok && u != "" {
		return u
	}
	return "local"
}

// LogAction records a control action and its outcome.
func (l *Logger) LogAction(ctx context.Context, action string, params map[string]interface{}, err error, latency time.Duration) {
	e := Entry{
		Timestamp: time.Now().UTC(),
		Kind:      KindAction,
		User:      UserFrom(ctx),
		Action:    action,
		Params:    params,
		Outcome:   outcome(err),
		Code:      Code(err),
		LatencyMs: float64(latency.Microseconds()) / 1000,
	}
	if err != nil {
		e.Error = err.Error()
	}
	l.write(e)
}

// LogFrame records a frame sent ("tx") or received ("rx").
func (l *Logger) LogFrame(direction, frame string, err error) {
	e := Entry{
		Timestamp: time.Now().UTC(),
		Kind:      KindFrame,
		Direction: direction,
		Frame:     frame,
		Outcome:   outcome(err),
		Code:      Code(err),
	}
	if err != nil {
		e.Error = err.Error()
	}
	l.write(e)
}

func (l *Logger) write(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to marshal audit entry")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		l.log.Error().Err(err).Msg("failed to write audit entry")
	}
}

// Path returns the audit file path.
func (l *Logger) Path() string {
	return l.path
}

// Rotate closes the current file and starts a new one.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("audit logger closed")
	}
	return l.file.Rotate()
}

// Close releases the file. Later entries are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func outcome(err error) string {
	if err != nil {
		return "FAILURE"
	}
	return "SUCCESS"
}

// Code maps an engine error to its normalized code.
func Code(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, protocol.ErrValidation):
		return "INVALID_RANGE"
	case errors.Is(err, protocol.ErrParse):
		return "BAD_REQUEST"
	case errors.Is(err, refresh.ErrRefreshInProgress):
		return "BUSY"
	case errors.Is(err, transport.ErrNotConnected):
		return "UNAVAILABLE"
	case errors.Is(err, transport.ErrConnect), errors.Is(err, transport.ErrWrite):
		return "BAD_GATEWAY"
	}
	return "ERROR"
}
