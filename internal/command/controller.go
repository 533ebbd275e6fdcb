package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/dispatch"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/metrics"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/notify"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/refresh"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/state"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/telemetry"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
)

// Options configures the connection lifecycle.
type Options struct {
	DefaultAddress   string
	ConnectTimeout   time.Duration
	RefreshOnConnect bool
}

// OptionsFrom extracts controller options from the service config.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		DefaultAddress:   cfg.Transport.Address,
		ConnectTimeout:   cfg.Timing.ConnectTimeout,
		RefreshOnConnect: cfg.Transport.RefreshOnConnect,
	}
}

// Engine bundles the protocol engine parts the controller drives.
type Engine struct {
	Session    transport.Session
	Dispatcher *dispatch.Dispatcher
	Router     *notify.Router
	Refresher  *refresh.Orchestrator
	State      *state.DeviceState
}

// Controller routes validated intents to the protocol engine.
type Controller struct {
	log     zerolog.Logger
	opts    Options
	engine  Engine
	events  telemetry.Publisher
	metrics *metrics.Metrics
	audit   AuditLogger

	// base bounds background work started by the controller (refresh runs).
	base       context.Context
	cancelBase context.CancelFunc

	connected atomic.Bool

	mu        sync.Mutex // serializes Connect/Disconnect/link loss
	watchStop chan struct{}

	linkMu  sync.RWMutex
	address string
	since   time.Time

	cmdMu     sync.Mutex
	commanded map[protocol.ParameterID]commandedValue
}

type commandedValue struct {
	value float64
	at    time.Time
}

var _ ControllerPort = (*Controller)(nil)

// New creates a disconnected controller and registers the router on the
// session.
func New(engine Engine, opts Options, events telemetry.Publisher, m *metrics.Metrics, log zerolog.Logger) *Controller {
	if events == nil {
		events = telemetry.Discard
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 20 * time.Second
	}

	base, cancel := context.WithCancel(context.Background())
	c := &Controller{
		log:        log,
		opts:       opts,
		engine:     engine,
		events:     events,
		metrics:    m,
		base:       base,
		cancelBase: cancel,
		commanded:  make(map[protocol.ParameterID]commandedValue),
	}
	engine.Session.Subscribe(engine.Router.Handle)
	return c
}

// SetAuditLogger installs the audit sink.
func (c *Controller) SetAuditLogger(l AuditLogger) {
	c.audit = l
}

// Connect opens the link and attaches it to the dispatcher. An empty address
// uses the configured default.
func (c *Controller) Connect(ctx context.Context, address string) error {
	start := time.Now()
	if address == "" {
		address = c.opts.DefaultAddress
	}
	params := map[string]interface{}{"address": address}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		err := fmt.Errorf("%w: %s", ErrAlreadyConnected, c.currentAddress())
		c.logAudit(ctx, "connect", params, err, time.Since(start))
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	c.log.Info().Str("address", address).Msg("connecting")
	err := c.engine.Session.Connect(cctx, address)
	c.metrics.ConnectAttempt(err)
	if err != nil {
		c.log.Error().Err(err).Str("address", address).Msg("connect failed")
		c.events.Publish(telemetry.Diagnostic(telemetry.DiagLink, err.Error()))
		c.logAudit(ctx, "connect", params, err, time.Since(start))
		return err
	}

	c.engine.State.Reset()
	c.cmdMu.Lock()
	c.commanded = make(map[protocol.ParameterID]commandedValue)
	c.cmdMu.Unlock()

	c.engine.Dispatcher.Attach(c.engine.Session)
	c.linkMu.Lock()
	c.address = address
	c.since = time.Now().UTC()
	c.linkMu.Unlock()
	c.connected.Store(true)
	c.metrics.Connected(true)
	c.watchLink()

	c.log.Info().Str("address", address).Dur("took", time.Since(start)).Msg("connected")
	c.events.Publish(telemetry.ConnectionChanged(true, address))
	c.logAudit(ctx, "connect", params, nil, time.Since(start))

	if c.opts.RefreshOnConnect {
		if err := c.engine.Refresher.Start(c.base); err != nil {
			c.log.Warn().Err(err).Msg("initial refresh not started")
		}
	}
	return nil
}

// Disconnect closes the link. It is a no-op when not connected.
func (c *Controller) Disconnect(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		return nil
	}
	address := c.currentAddress()
	err := c.teardown()
	if err != nil {
		c.log.Warn().Err(err).Msg("session disconnect reported an error")
	}

	c.log.Info().Str("address", address).Msg("disconnected")
	c.events.Publish(telemetry.ConnectionChanged(false, address))
	c.logAudit(ctx, "disconnect", map[string]interface{}{"address": address}, err, time.Since(start))
	return err
}

// teardown detaches and closes the link. c.mu must be held.
func (c *Controller) teardown() error {
	c.connected.Store(false)
	c.metrics.Connected(false)
	if c.watchStop != nil {
		close(c.watchStop)
		c.watchStop = nil
	}

	c.engine.Dispatcher.Detach()
	c.engine.Refresher.Stop()
	return c.engine.Session.Disconnect()
}

// watchLink starts a watcher for sessions that report link loss. c.mu must
// be held.
func (c *Controller) watchLink() {
	lw, ok := c.engine.Session.(transport.LinkWatcher)
	if !ok {
		return
	}
	stop := make(chan struct{})
	c.watchStop = stop
	lost := lw.Lost()

	go func() {
		select {
		case <-lost:
			c.linkLost(stop)
		case <-stop:
		}
	}()
}

func (c *Controller) linkLost(stop chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a Disconnect or a newer link got here first
	if c.watchStop != stop {
		return
	}
	address := c.currentAddress()
	if err := c.teardown(); err != nil {
		c.log.Debug().Err(err).Msg("disconnect after link loss")
	}

	c.log.Warn().Str("address", address).Msg("link lost")
	c.events.Publish(telemetry.Diagnostic(telemetry.DiagLink, "link to "+address+" lost"))
	c.events.Publish(telemetry.ConnectionChanged(false, address))
}

// Close disconnects and cancels background work.
func (c *Controller) Close() error {
	err := c.Disconnect(context.Background())
	c.cancelBase()
	return err
}

// Status reports the link and refresh state.
func (c *Controller) Status() Status {
	st := Status{Connected: c.connected.Load()}
	if st.Connected {
		c.linkMu.RLock()
		st.Address = c.address
		st.Since = c.since
		c.linkMu.RUnlock()
	}

	index, total := c.engine.Refresher.Progress()
	st.QueueDepth = c.engine.Dispatcher.Len()
	st.Refresh = RefreshStatus{Running: c.engine.Refresher.Running(), Index: index, Total: total}
	return st
}

func (c *Controller) currentAddress() string {
	c.linkMu.RLock()
	defer c.linkMu.RUnlock()
	return c.address
}

// Snapshot returns a copy of the device mirror.
func (c *Controller) Snapshot() state.Snapshot {
	return c.engine.State.Snapshot()
}

// SetParameter writes one parameter. For codes that carry two fields the
// companion field is filled from the mirror or the last commanded value,
// whichever is newer, else from its default.
func (c *Controller) SetParameter(ctx context.Context, id protocol.ParameterID, value float64) error {
	return c.setParameter(ctx, "setParameter", id, value)
}

func (c *Controller) setParameter(ctx context.Context, action string, id protocol.ParameterID, value float64) error {
	start := time.Now()
	params := map[string]interface{}{"id": id.String(), "value": value}

	f, err := c.compose(id, value)
	if err != nil {
		return c.reject(ctx, action, params, err, start)
	}
	if err := c.engine.Dispatcher.Enqueue(f); err != nil {
		return c.reject(ctx, action, params, err, start)
	}

	c.remember(id, value)
	c.logAudit(ctx, action, params, nil, time.Since(start))
	return nil
}

// SetFrequency writes the frequency of ch expressed in unit.
func (c *Controller) SetFrequency(ctx context.Context, ch protocol.Channel, value float64, unit protocol.FrequencyUnit) error {
	start := time.Now()
	params := map[string]interface{}{"channel": int(ch), "value": value, "unit": unit.String()}

	f, err := protocol.EncodeFrequency(ch, value, unit)
	if err != nil {
		return c.reject(ctx, "setFrequency", params, err, start)
	}
	if err := c.engine.Dispatcher.Enqueue(f); err != nil {
		return c.reject(ctx, "setFrequency", params, err, start)
	}

	c.remember(protocol.ID(ch, protocol.KindFrequency), value)
	c.remember(protocol.ID(ch, protocol.KindFrequencyUnit), float64(unit))
	c.logAudit(ctx, "setFrequency", params, nil, time.Since(start))
	return nil
}

// SetOutput switches the output of ch. The frame also carries the other
// channel's output state.
func (c *Controller) SetOutput(ctx context.Context, ch protocol.Channel, on bool) error {
	return c.setParameter(ctx, "setOutput", protocol.ID(ch, protocol.KindOutput), boolValue(on))
}

// ApplyAll sends the basic setup of ch: waveform, frequency, amplitude,
// offset, duty, phase and finally the output state. Every value is
// validated before the first frame is queued.
func (c *Controller) ApplyAll(ctx context.Context, ch protocol.Channel, s ChannelSettings) error {
	start := time.Now()
	params := map[string]interface{}{"channel": int(ch), "settings": s}

	frames := make([]protocol.Frame, 0, 7)
	add := func(f protocol.Frame, err error) error {
		if err != nil {
			return err
		}
		frames = append(frames, f)
		return nil
	}

	writes := []struct {
		id    protocol.ParameterID
		value float64
	}{
		{protocol.ID(ch, protocol.KindAmplitude), s.Amplitude},
		{protocol.ID(ch, protocol.KindOffset), s.Offset},
		{protocol.ID(ch, protocol.KindDuty), s.Duty},
		{protocol.ID(ch, protocol.KindPhase), s.Phase},
		{protocol.ID(ch, protocol.KindOutput), boolValue(s.Output)},
	}

	if err := add(c.compose(protocol.ID(ch, protocol.KindWaveform), float64(s.Waveform))); err != nil {
		return c.reject(ctx, "applyAll", params, err, start)
	}
	if err := add(protocol.EncodeFrequency(ch, s.Frequency, s.Unit)); err != nil {
		return c.reject(ctx, "applyAll", params, err, start)
	}
	for _, w := range writes {
		if err := add(c.compose(w.id, w.value)); err != nil {
			return c.reject(ctx, "applyAll", params, err, start)
		}
	}

	for _, f := range frames {
		if err := c.engine.Dispatcher.Enqueue(f); err != nil {
			return c.reject(ctx, "applyAll", params, err, start)
		}
	}

	for _, w := range writes {
		c.remember(w.id, w.value)
	}
	c.remember(protocol.ID(ch, protocol.KindWaveform), float64(s.Waveform))
	c.remember(protocol.ID(ch, protocol.KindFrequency), s.Frequency)
	c.remember(protocol.ID(ch, protocol.KindFrequencyUnit), float64(s.Unit))
	c.logAudit(ctx, "applyAll", params, nil, time.Since(start))
	return nil
}

// SendRaw queues a frame typed by hand. It must match the frame grammar,
// final '.' included, and goes out in canonical form with the line
// terminator appended.
func (c *Controller) SendRaw(ctx context.Context, text string) (protocol.Frame, error) {
	start := time.Now()
	text = strings.TrimSpace(text)
	params := map[string]interface{}{"frame": text}

	msg, err := protocol.ParseStrict(text)
	if err != nil {
		return "", c.reject(ctx, "sendRaw", params, err, start)
	}
	f := msg.Frame()
	if err := c.engine.Dispatcher.Enqueue(f); err != nil {
		return "", c.reject(ctx, "sendRaw", params, err, start)
	}

	c.logAudit(ctx, "sendRaw", params, nil, time.Since(start))
	return f, nil
}

// Query queues the read request for id. The reply updates the mirror when it
// arrives.
func (c *Controller) Query(ctx context.Context, id protocol.ParameterID) error {
	start := time.Now()
	params := map[string]interface{}{"id": id.String()}

	f, err := protocol.Read(id)
	if err != nil {
		return c.reject(ctx, "query", params, err, start)
	}
	if err := c.engine.Dispatcher.Enqueue(f); err != nil {
		return c.reject(ctx, "query", params, err, start)
	}

	c.logAudit(ctx, "query", params, nil, time.Since(start))
	return nil
}

// Refresh starts a full read-back. It returns at once; progress is reported
// through events.
func (c *Controller) Refresh(ctx context.Context) error {
	start := time.Now()

	if !c.connected.Load() {
		return c.reject(ctx, "refresh", nil, &transport.NotConnectedError{}, start)
	}
	if err := c.engine.Refresher.Start(c.base); err != nil {
		c.logAudit(ctx, "refresh", nil, err, time.Since(start))
		return err
	}

	c.logAudit(ctx, "refresh", nil, nil, time.Since(start))
	return nil
}

// compose encodes id=value, filling the companion field of two-field codes.
func (c *Controller) compose(id protocol.ParameterID, value float64) (protocol.Frame, error) {
	if !id.Valid() {
		return "", fmt.Errorf("%w: invalid parameter %s", ErrInvalidParameter, id)
	}
	companion, ok := protocol.Companion(id)
	if !ok {
		return protocol.Encode(id, value)
	}
	return protocol.EncodePair(id, value, c.complement(companion))
}

// complement returns the newest known value for id: the mirror or the last
// command, whichever was recorded later, else the default.
func (c *Controller) complement(id protocol.ParameterID) float64 {
	observed, seen := c.engine.State.Observed(id)

	c.cmdMu.Lock()
	cmd, commanded := c.commanded[id]
	c.cmdMu.Unlock()

	v, known := observed.Get()
	switch {
	case known && (!commanded || seen.After(cmd.at)):
		return v
	case commanded:
		return cmd.value
	}
	return protocol.Default(id)
}

func (c *Controller) remember(id protocol.ParameterID, value float64) {
	c.cmdMu.Lock()
	c.commanded[id] = commandedValue{value: value, at: time.Now()}
	c.cmdMu.Unlock()
}

// reject reports a request that produced no frame.
func (c *Controller) reject(ctx context.Context, action string, params map[string]interface{}, err error, start time.Time) error {
	kind := telemetry.DiagValidation
	if errors.Is(err, transport.ErrNotConnected) || errors.Is(err, dispatch.ErrClosed) {
		kind = telemetry.DiagNotConnected
	}
	c.log.Debug().Err(err).Str("action", action).Msg("request rejected")
	c.events.Publish(telemetry.Diagnostic(kind, err.Error()))
	c.logAudit(ctx, action, params, err, time.Since(start))
	return err
}

func (c *Controller) logAudit(ctx context.Context, action string, params map[string]interface{}, err error, latency time.Duration) {
	if c.audit != nil {
		c.audit.LogAction(ctx, action, params, err, latency)
	}
}

func boolValue(on bool) float64 {
	if on {
		return 1
	}
	return 0
}
