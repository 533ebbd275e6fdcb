package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/metrics"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/telemetry"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

// ErrClosed is returned once the dispatcher has been shut down.
var ErrClosed = errors.New("DISPATCHER_CLOSED")

// Options holds the dispatcher timings.
type Options struct {
	SettleDelay  time.Duration
	PollInterval time.Duration
	WriteTimeout time.Duration
}

// OptionsFrom extracts dispatcher options from the timing config.
func OptionsFrom(t *config.TimingConfig) Options {
	return Options{
		SettleDelay:  t.SettleDelay,
		PollInterval: t.QueuePoll,
		WriteTimeout: t.WriteTimeout,
	}
}

// FrameLogger records frames that went out on the link.
type FrameLogger interface {
	LogFrame(direction, frame string, err error)
}

type item struct {
	frame protocol.Frame
	// result is nil for fire-and-forget frames.
	result chan error
}

// Dispatcher serializes outbound frames onto the attached session. It is the
// only writer of that session.
type Dispatcher struct {
	log     zerolog.Logger
	opts    Options
	events  telemetry.Publisher
	metrics *metrics.Metrics
	frames  FrameLogger

	mu      sync.Mutex
	queue   []item
	session transport.Session
	closed  bool

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New starts the send loop. frames may be nil.
func New(opts Options, events telemetry.Publisher, m *metrics.Metrics, frames FrameLogger, log zerolog.Logger) *Dispatcher {
	if events == nil {
		events = telemetry.Discard
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}

	d := &Dispatcher{
		log:     log,
		opts:    opts,
		events:  events,
		metrics: m,
		frames:  frames,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Attach makes s the write target. Frames enqueued from now on are sent.
func (d *Dispatcher) Attach(s transport.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session = s
}

// Attached reports whether a session is attached.
func (d *Dispatcher) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session != nil
}

// Detach drops the session and every frame still queued for it. Waiting
// submitters get a NotConnectedError.
func (d *Dispatcher) Detach() {
	d.mu.Lock()
	d.session = nil
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	d.metrics.QueueDepth(0)
	for _, it := range pending {
		d.metrics.FrameDropped("detached")
		if it.result != nil {
			it.result <- &transport.NotConnectedError{Frame: it.frame.String()}
		}
	}
	if len(pending) > 0 {
		d.log.Info().Int("dropped", len(pending)).Msg("queue cleared on detach")
	}
}

// Enqueue queues f for sending and returns immediately.
func (d *Dispatcher) Enqueue(f protocol.Frame) error {
	return d.push(item{frame: f})
}

// Submit queues f and waits until it has been written and the settle delay
// has passed. If ctx ends first the frame stays queued and ctx.Err() is
// returned.
func (d *Dispatcher) Submit(ctx context.Context, f protocol.Frame) error {
	it := item{frame: f, result: make(chan error, 1)}
	if err := d.push(it); err != nil {
		return err
	}
	select {
	case err := <-it.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) push(it item) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.session == nil {
		d.mu.Unlock()
		d.metrics.FrameDropped("not_connected")
		return &transport.NotConnectedError{Frame: it.frame.String()}
	}
	d.queue = append(d.queue, it)
	n := len(d.queue)
	d.mu.Unlock()

	d.metrics.QueueDepth(n)
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of queued frames.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting frames, fails whatever is still queued and waits for
// the loop to finish the write in progress.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		pending := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, it := range pending {
			if it.result != nil {
				it.result <- ErrClosed
			}
		}
		close(d.stop)
	})
	<-d.done
}

func (d *Dispatcher) next() (item, transport.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 || d.session == nil {
		return item{}, nil, false
	}
	it := d.queue[0]
	d.queue[0] = item{}
	d.queue = d.queue[1:]
	d.metrics.QueueDepth(len(d.queue))
	return it, d.session, true
}

func (d *Dispatcher) run() {
	defer close(d.done)

	poll := time.NewTicker(d.opts.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-d.stop:
			return
		default:
		}

		it, s, ok := d.next()
		if !ok {
			select {
			case <-d.stop:
				return
			case <-d.wake:
			case <-poll.C:
			}
			continue
		}

		err := d.write(s, it.frame)
		d.settle()
		if it.result != nil {
			it.result <- err
		}
	}
}

func (d *Dispatcher) write(s transport.Session, f protocol.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := s.Write(ctx, f.Bytes())
	if err != nil {
		var we *transport.WriteError
		if !errors.As(err, &we) {
			err = &transport.WriteError{Frame: f.String(), Err: err}
		}
	}
	if d.frames != nil {
		d.frames.LogFrame("tx", f.String(), err)
	}

	if err != nil {
		d.metrics.WriteFailed()
		d.log.Warn().Err(err).Str("frame", f.String()).Msg("write failed")
		d.events.Publish(telemetry.Diagnostic(telemetry.DiagWrite, err.Error()))
		return err
	}

	d.metrics.FrameSent(opOf(f), time.Since(start))
	d.log.Debug().Str("frame", f.String()).Msg("frame sent")
	d.events.Publish(telemetry.FrameSent(f.String()))
	return nil
}

func (d *Dispatcher) settle() {
	if d.opts.SettleDelay <= 0 {
		return
	}
	t := time.NewTimer(d.opts.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-d.stop:
	}
}

func opOf(f protocol.Frame) byte {
	if len(f) < 2 {
		return '?'
	}
	return f[1]
}
