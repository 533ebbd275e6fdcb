// Package state holds the device mirror: the last value observed for every
// parameter of both outputs plus the shared measurement subsystem.
//
// The mirror starts empty. Values arrive one frame at a time through Apply
// and are never assumed complete; anything not yet read is Absent.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
)

// ErrUnknownParameter is returned by Apply for identifiers without a slot.
var ErrUnknownParameter = errors.New("UNKNOWN_PARAMETER")

// Channel mirrors one generator output.
type Channel struct {
	Output        Value `json:"output"`
	Waveform      Value `json:"waveform"`
	Frequency     Value `json:"frequency"`
	FrequencyUnit Value `json:"frequencyUnit"`
	Amplitude     Value `json:"amplitude"`
	Offset        Value `json:"offset"`
	Duty          Value `json:"duty"`
	Phase         Value `json:"phase"`

	ModType      Value `json:"modType"`
	ModSource    Value `json:"modSource"`
	ModWave      Value `json:"modWave"`
	ModFrequency Value `json:"modFrequency"`
	AMDepth      Value `json:"amDepth"`
	FMDeviation  Value `json:"fmDeviation"`
	FSKHop       Value `json:"fskHop"`
	PMPhase      Value `json:"pmPhase"`
	PulseWidth   Value `json:"pulseWidth"`
	PulsePeriod  Value `json:"pulsePeriod"`

	PulseInversion Value `json:"pulseInversion"`
	BurstIdle      Value `json:"burstIdle"`
	Polarity       Value `json:"polarity"`
	TriggerSource  Value `json:"triggerSource"`
	BurstCount     Value `json:"burstCount"`

	SweepTime           Value `json:"sweepTime"`
	SweepDirection      Value `json:"sweepDirection"`
	SweepMode           Value `json:"sweepMode"`
	SweepStartFrequency Value `json:"sweepStartFrequency"`
	SweepEndFrequency   Value `json:"sweepEndFrequency"`
	SweepStartAmplitude Value `json:"sweepStartAmplitude"`
	SweepEndAmplitude   Value `json:"sweepEndAmplitude"`
	SweepStartDuty      Value `json:"sweepStartDuty"`
	SweepEndDuty        Value `json:"sweepEndDuty"`
}

// MeasurementConfig mirrors the measurement subsystem settings.
type MeasurementConfig struct {
	Coupling       Value `json:"coupling"`
	GateTime       Value `json:"gateTime"`
	FrequencyRange Value `json:"frequencyRange"`
	Mode           Value `json:"mode"`
}

// Measurement is the latest set of readings. It belongs to neither channel.
type Measurement struct {
	Count              Value `json:"count"`
	HighFrequency      Value `json:"highFrequency"`
	LowFrequency       Value `json:"lowFrequency"`
	PositivePulseWidth Value `json:"positivePulseWidth"`
	NegativePulseWidth Value `json:"negativePulseWidth"`
	Period             Value `json:"period"`
	Duty               Value `json:"duty"`
}

// Snapshot is a point-in-time copy of the whole mirror.
type Snapshot struct {
	Ch1               Channel           `json:"ch1"`
	Ch2               Channel           `json:"ch2"`
	MeasurementConfig MeasurementConfig `json:"measurementConfig"`
	Measurement       Measurement       `json:"measurement"`
	UpdatedAt         time.Time         `json:"updatedAt,omitempty"`
}

// DeviceState is the owned mirror. The notification path is its only
// writer; readers get copies.
type DeviceState struct {
	mu   sync.RWMutex
	snap Snapshot
	seen map[protocol.ParameterID]time.Time
}

// New returns an empty mirror.
func New() *DeviceState {
	return &DeviceState{seen: make(map[protocol.ParameterID]time.Time)}
}

// Apply overwrites the value of id.
func (s *DeviceState) Apply(id protocol.ParameterID, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.snap.slot(id)
	if slot == nil {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, id)
	}
	now := time.Now()
	*slot = Known(v)
	if s.seen == nil {
		s.seen = make(map[protocol.ParameterID]time.Time)
	}
	s.seen[id] = now
	s.snap.UpdatedAt = now.UTC()
	return nil
}

// Observed returns the value of id and when it was applied. The time is
// zero for absent values and carries the monotonic clock reading.
func (s *DeviceState) Observed(id protocol.ParameterID) (Value, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot := s.snap.slot(id)
	if slot == nil {
		return Absent, time.Time{}
	}
	return *slot, s.seen[id]
}

// Get returns the value of id, Absent if it was never observed or id has
// no slot.
func (s *DeviceState) Get(id protocol.ParameterID) Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if slot := s.snap.slot(id); slot != nil {
		return *slot
	}
	return Absent
}

// Snapshot returns a copy of the mirror.
func (s *DeviceState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Measurement returns a copy of the latest readings.
func (s *DeviceState) Measurement() Measurement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Measurement
}

// Reset discards everything observed, as at the start of a session.
func (s *DeviceState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{}
	s.seen = make(map[protocol.ParameterID]time.Time)
}

// Channel returns the per-output record of snapshot sn.
func (sn *Snapshot) Channel(ch protocol.Channel) *Channel {
	switch ch {
	case protocol.Ch1:
		return &sn.Ch1
	case protocol.Ch2:
		return &sn.Ch2
	}
	return nil
}

// Get looks up id inside the snapshot.
func (sn Snapshot) Get(id protocol.ParameterID) Value {
	if slot := sn.slot(id); slot != nil {
		return *slot
	}
	return Absent
}

func (sn *Snapshot) slot(id protocol.ParameterID) *Value {
	if !id.Valid() {
		return nil
	}
	if id.Kind.IsShared() {
		return sn.sharedSlot(id.Kind)
	}
	if c := sn.Channel(id.Channel); c != nil {
		return c.slot(id.Kind)
	}
	return nil
}

func (sn *Snapshot) sharedSlot(k protocol.Kind) *Value {
	mc, m := &sn.MeasurementConfig, &sn.Measurement
	switch k {
	case protocol.KindMeasureCoupling:
		return &mc.Coupling
	case protocol.KindMeasureGateTime:
		return &mc.GateTime
	case protocol.KindMeasureFrequencyRange:
		return &mc.FrequencyRange
	case protocol.KindMeasureMode:
		return &mc.Mode
	case protocol.KindCount:
		return &m.Count
	case protocol.KindHighFrequency:
		return &m.HighFrequency
	case protocol.KindLowFrequency:
		return &m.LowFrequency
	case protocol.KindPositivePulseWidth:
		return &m.PositivePulseWidth
	case protocol.KindNegativePulseWidth:
		return &m.NegativePulseWidth
	case protocol.KindPeriod:
		return &m.Period
	case protocol.KindMeasuredDuty:
		return &m.Duty
	}
	return nil
}

func (c *Channel) slot(k protocol.Kind) *Value {
	switch k {
	case protocol.KindOutput:
		return &c.Output
	case protocol.KindWaveform:
		return &c.Waveform
	case protocol.KindFrequency:
		return &c.Frequency
	case protocol.KindFrequencyUnit:
		return &c.FrequencyUnit
	case protocol.KindAmplitude:
		return &c.Amplitude
	case protocol.KindOffset:
		return &c.Offset
	case protocol.KindDuty:
		return &c.Duty
	case protocol.KindPhase:
		return &c.Phase
	case protocol.KindModType:
		return &c.ModType
	case protocol.KindModSource:
		return &c.ModSource
	case protocol.KindModWave:
		return &c.ModWave
	case protocol.KindModFrequency:
		return &c.ModFrequency
	case protocol.KindAMDepth:
		return &c.AMDepth
	case protocol.KindFMDeviation:
		return &c.FMDeviation
	case protocol.KindFSKHop:
		return &c.FSKHop
	case protocol.KindPMPhase:
		return &c.PMPhase
	case protocol.KindPulseWidth:
		return &c.PulseWidth
	case protocol.KindPulsePeriod:
		return &c.PulsePeriod
	case protocol.KindPulseInversion:
		return &c.PulseInversion
	case protocol.KindBurstIdle:
		return &c.BurstIdle
	case protocol.KindPolarity:
		return &c.Polarity
	case protocol.KindTriggerSource:
		return &c.TriggerSource
	case protocol.KindBurstCount:
		return &c.BurstCount
	case protocol.KindSweepTime:
		return &c.SweepTime
	case protocol.KindSweepDirection:
		return &c.SweepDirection
	case protocol.KindSweepMode:
		return &c.SweepMode
	case protocol.KindSweepStartFrequency:
		return &c.SweepStartFrequency
	case protocol.KindSweepEndFrequency:
		return &c.SweepEndFrequency
	case protocol.KindSweepStartAmplitude:
		return &c.SweepStartAmplitude
	case protocol.KindSweepEndAmplitude:
		return &c.SweepEndAmplitude
	case protocol.KindSweepStartDuty:
		return &c.SweepStartDuty
	case protocol.KindSweepEndDuty:
		return &c.SweepEndDuty
	}
	return nil
}
