package emulator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
)

// ErrStopped is returned by Execute after Close.
var ErrStopped = errors.New("EMULATOR_STOPPED")

// ErrReadOnly rejects writes to measurement readings.
var ErrReadOnly = errors.New("READ_ONLY")

type request struct {
	line  string
	reply chan result
}

type result struct {
	frame protocol.Frame
	err   error
}

// Device is the emulated generator.
type Device struct {
	log        zerolog.Logger
	echoWrites bool

	// mu guards regs and counted for Register; the worker is the only writer.
	mu       sync.RWMutex
	regs     map[int][]int64
	readings map[int]protocol.ParameterID
	counted  float64

	queue chan request
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewDevice powers the device on and starts its worker. With echoWrites
// every accepted write is answered with its canonical frame; otherwise
// writes are silent.
func NewDevice(queueSize int, echoWrites bool, log zerolog.Logger) *Device {
	if queueSize <= 0 {
		queueSize = 100
	}
	d := &Device{
		log:        log,
		echoWrites: echoWrites,
		regs:       make(map[int][]int64),
		readings:   make(map[int]protocol.ParameterID),
		queue:      make(chan request, queueSize),
		stop:       make(chan struct{}),
	}
	d.powerOn()

	d.wg.Add(1)
	go d.worker()
	return d
}

// powerOn loads the rule defaults into every register, then sets both
// outputs up for 1 kHz at 5 V with 50% duty. Outputs start disabled.
func (d *Device) powerOn() {
	byCode := map[int][]protocol.ParameterID{}
	for _, id := range protocol.Parameters() {
		code, _ := protocol.CodeOf(id)
		byCode[code] = append(byCode[code], id)
	}

	for code, ids := range byCode {
		if protocol.IsReadOnly(ids[0]) {
			d.readings[code] = ids[0]
			continue
		}
		d.regs[code] = make([]int64, len(ids))

		var f protocol.Frame
		var err error
		if len(ids) == 2 {
			f, err = protocol.EncodePair(ids[0], protocol.Default(ids[0]), protocol.Default(ids[1]))
		} else {
			f, err = protocol.Encode(ids[0], protocol.Default(ids[0]))
		}
		if err == nil {
			d.store(f)
		}
	}

	for _, ch := range []protocol.Channel{protocol.Ch1, protocol.Ch2} {
		if f, err := protocol.EncodeFrequency(ch, 1, protocol.KHz); err == nil {
			d.store(f)
		}
		if f, err := protocol.Encode(protocol.ID(ch, protocol.KindAmplitude), 5); err == nil {
			d.store(f)
		}
		if f, err := protocol.Encode(protocol.ID(ch, protocol.KindDuty), 50); err == nil {
			d.store(f)
		}
	}
}

func (d *Device) store(f protocol.Frame) {
	msg, err := protocol.Parse(f.String())
	if err != nil {
		return
	}
	d.mu.Lock()
	d.regs[msg.Code] = msg.Fields
	d.mu.Unlock()
}

// Execute runs one frame through the worker and returns the reply. An
// empty reply means the device stays silent.
func (d *Device) Execute(ctx context.Context, line string) (protocol.Frame, error) {
	req := request{line: line, reply: make(chan result, 1)}
	select {
	case d.queue <- req:
	case <-d.stop:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.frame, r.err
	case <-d.stop:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Register returns a copy of the raw fields stored for code.
func (d *Device) Register(code int) ([]int64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fields, ok := d.regs[code]
	if !ok {
		return nil, false
	}
	out := make([]int64, len(fields))
	copy(out, fields)
	return out, true
}

// Close stops the worker.
func (d *Device) Close() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func (d *Device) worker() {
	defer d.wg.Done()
	for {
		select {
		case req := <-d.queue:
			f, err := d.process(req.line)
			req.reply <- result{frame: f, err: err}
		case <-d.stop:
			return
		}
	}
}

func (d *Device) process(line string) (protocol.Frame, error) {
	msg, err := protocol.Parse(line)
	if err != nil {
		return "", err
	}

	switch msg.Op {
	case protocol.OpWrite:
		if _, ok := d.readings[msg.Code]; ok {
			return "", fmt.Errorf("%w: code %02d", ErrReadOnly, msg.Code)
		}
		if _, err := protocol.Decode(line); err != nil {
			return "", err
		}
		d.mu.Lock()
		d.regs[msg.Code] = msg.Fields
		d.mu.Unlock()
		d.log.Debug().Int("code", msg.Code).Ints64("fields", msg.Fields).Msg("register written")

		if d.echoWrites {
			return msg.Frame(), nil
		}
		return "", nil

	default:
		if id, ok := d.readings[msg.Code]; ok {
			return d.reading(id)
		}
		fields, ok := d.Register(msg.Code)
		if !ok {
			return "", &protocol.ParseError{Frame: line, Reason: fmt.Sprintf("unknown code %02d", msg.Code)}
		}
		return protocol.Message{Op: protocol.OpRead, Code: msg.Code, Fields: fields}.Frame(), nil
	}
}

// signal returns the channel 1 output frequency in Hz and its duty cycle
// in percent. A disabled output reads as no signal.
func (d *Device) signal() (hz, duty float64) {
	if on := d.value(protocol.ID(protocol.Ch1, protocol.KindOutput)); on == 0 {
		return 0, 0
	}
	freq := d.value(protocol.ID(protocol.Ch1, protocol.KindFrequency))
	unit := protocol.FrequencyUnit(d.value(protocol.ID(protocol.Ch1, protocol.KindFrequencyUnit)))
	return unit.Hertz(freq), d.value(protocol.ID(protocol.Ch1, protocol.KindDuty))
}

// value decodes id from its register.
func (d *Device) value(id protocol.ParameterID) float64 {
	code, ok := protocol.CodeOf(id)
	if !ok {
		return 0
	}
	fields, ok := d.Register(code)
	if !ok {
		return 0
	}
	u, err := protocol.Decode(protocol.Message{Op: protocol.OpRead, Code: code, Fields: fields}.Frame().String())
	if err != nil {
		return 0
	}
	for _, f := range u.Fields {
		if f.ID == id {
			return f.Value
		}
	}
	return 0
}

// reading simulates the counter input wired to channel 1. Periods and
// pulse widths are in microseconds; the count advances by one gate second
// of edges per read.
func (d *Device) reading(id protocol.ParameterID) (protocol.Frame, error) {
	hz, duty := d.signal()
	var period float64
	if hz > 0 {
		period = 1e6 / hz
	}

	var v float64
	switch id.Kind {
	case protocol.KindCount:
		d.mu.Lock()
		d.counted += float64(int64(hz))
		v = d.counted
		d.mu.Unlock()
	case protocol.KindHighFrequency, protocol.KindLowFrequency:
		v = hz
	case protocol.KindPeriod:
		v = period
	case protocol.KindPositivePulseWidth:
		v = period * duty / 100
	case protocol.KindNegativePulseWidth:
		v = period * (100 - duty) / 100
	case protocol.KindMeasuredDuty:
		v = duty
	}
	return protocol.EncodeReading(id, v)
}
