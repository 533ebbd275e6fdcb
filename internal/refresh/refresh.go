// Package refresh reads the whole device configuration back into the mirror.
//
// A refresh submits one read request per code in a fixed order and reports
// progress after every submission. Replies are not awaited: they arrive
// through the notification path like any other frame.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/dispatch"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/metrics"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/telemetry"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

// ErrRefreshInProgress is matched by RefreshInProgressError.
var ErrRefreshInProgress = errors.New("BUSY")

// RefreshInProgressError rejects a Start while a run is active. It carries
// the progress of the active run.
type RefreshInProgressError struct {
	Index int
	Total int
}

func (e *RefreshInProgressError) Error() string {
	return fmt.Sprintf("refresh in progress (%d/%d)", e.Index, e.Total)
}

func (e *RefreshInProgressError) Is(target error) bool { return target == ErrRefreshInProgress }

// Submitter sends one frame and returns once it is on the wire.
type Submitter interface {
	Submit(ctx context.Context, f protocol.Frame) error
}

var sequence = buildSequence()

func buildSequence() []int {
	codes := []int{10}
	codes = appendRange(codes, 11, 18) // waveform, frequency, amplitude, offset per channel
	codes = append(codes, 19, 20, 21, 22)
	codes = appendRange(codes, 40, 56)
	codes = appendRange(codes, 57, 61)
	codes = appendRange(codes, 80, 86)
	return append(codes, 62, 63)
}

func appendRange(codes []int, from, to int) []int {
	for c := from; c <= to; c++ {
		codes = append(codes, c)
	}
	return codes
}

// Sequence returns the codes a refresh reads, in order.
func Sequence() []int {
	out := make([]int, len(sequence))
	copy(out, sequence)
	return out
}

// Orchestrator runs at most one refresh at a time.
type Orchestrator struct {
	log     zerolog.Logger
	sub     Submitter
	events  telemetry.Publisher
	metrics *metrics.Metrics
	gap     time.Duration

	running atomic.Bool
	index   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle orchestrator. gap is the pause after each read on top
// of the dispatcher's settle delay.
func New(sub Submitter, gap time.Duration, events telemetry.Publisher, m *metrics.Metrics, log zerolog.Logger) *Orchestrator {
	if events == nil {
		events = telemetry.Discard
	}
	done := make(chan struct{})
	close(done)
	return &Orchestrator{
		log:     log,
		sub:     sub,
		events:  events,
		metrics: m,
		gap:     gap,
		done:    done,
	}
}

// Start launches a refresh bounded by ctx and returns immediately. While a
// run is active it returns a RefreshInProgressError and leaves the active
// run untouched.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		o.metrics.Refresh("rejected")
		return &RefreshInProgressError{Index: int(o.index.Load()), Total: len(sequence)}
	}
	o.index.Store(0)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.mu.Lock()
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	go o.run(runCtx, cancel, done)
	return nil
}

// Running reports whether a refresh is active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Progress returns the number of reads submitted by the current or last run.
func (o *Orchestrator) Progress() (index, total int) {
	return int(o.index.Load()), len(sequence)
}

// Done is closed when the current run ends.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Stop cancels the active run, if any, and waits for it to end.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-done
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer o.running.Store(false)
	defer cancel()

	total := len(sequence)
	start := time.Now()
	o.log.Info().Int("total", total).Msg("refresh started")
	o.events.Publish(telemetry.RefreshStarted(total))

	for i, code := range sequence {
		err := o.sub.Submit(ctx, protocol.ReadFrame(code))
		switch {
		case err == nil:
		case ctx.Err() != nil:
			o.finish("cancelled", i, start)
			return
		case errors.Is(err, transport.ErrNotConnected), errors.Is(err, dispatch.ErrClosed):
			o.events.Publish(telemetry.Diagnostic(telemetry.DiagNotConnected, "refresh halted: "+err.Error()))
			o.finish("halted", i, start)
			return
		default:
			o.log.Warn().Err(err).Int("code", code).Msg("refresh read failed")
		}

		o.index.Store(int64(i + 1))
		o.events.Publish(telemetry.RefreshProgress(i+1, total))

		if o.gap > 0 && i < total-1 {
			t := time.NewTimer(o.gap)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				o.finish("cancelled", i+1, start)
				return
			}
		}
	}

	o.events.Publish(telemetry.RefreshCompleted(total))
	o.finish("completed", total, start)
}

func (o *Orchestrator) finish(outcome string, submitted int, start time.Time) {
	o.metrics.Refresh(outcome)
	o.log.Info().
		Str("outcome", outcome).
		Int("submitted", submitted).
		Dur("took", time.Since(start)).
		Msg("refresh finished")
}
