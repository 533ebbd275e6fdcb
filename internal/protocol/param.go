package protocol

import (
	"fmt"
	"strings"
)

// Channel selects one of the two generator outputs. Shared addresses
// quantities that belong to neither output, such as the measurement
// subsystem.
type Channel int

const (
	Shared Channel = 0
	Ch1    Channel = 1
	Ch2    Channel = 2
)

// Other returns the opposite output channel. Shared has no opposite.
func (c Channel) Other() Channel {
	switch c {
	case Ch1:
		return Ch2
	case Ch2:
		return Ch1
	}
	return Shared
}

// Kind identifies a controllable or readable quantity independent of channel.
type Kind int

const (
	KindOutput Kind = iota + 1
	KindWaveform
	KindFrequency
	KindFrequencyUnit
	KindAmplitude
	KindOffset
	KindDuty
	KindPhase

	// Modulation bank
	KindModType
	KindModSource
	KindModWave
	KindModFrequency
	KindAMDepth
	KindFMDeviation
	KindFSKHop
	KindPMPhase
	KindPulseWidth
	KindPulsePeriod

	// Burst and trigger bank
	KindPulseInversion
	KindBurstIdle
	KindPolarity
	KindTriggerSource
	KindBurstCount

	// Sweep bank
	KindSweepTime
	KindSweepDirection
	KindSweepMode
	KindSweepStartFrequency
	KindSweepEndFrequency
	KindSweepStartAmplitude
	KindSweepEndAmplitude
	KindSweepStartDuty
	KindSweepEndDuty

	// Measurement configuration (shared)
	KindMeasureCoupling
	KindMeasureGateTime
	KindMeasureFrequencyRange
	KindMeasureMode

	// Measurement readings (shared, read-only)
	KindCount
	KindHighFrequency
	KindLowFrequency
	KindPositivePulseWidth
	KindNegativePulseWidth
	KindPeriod
	KindMeasuredDuty

	kindEnd
)

var kindNames = map[Kind]string{
	KindOutput:                "output-enable",
	KindWaveform:              "waveform-type",
	KindFrequency:             "frequency",
	KindFrequencyUnit:         "frequency-unit",
	KindAmplitude:             "amplitude",
	KindOffset:                "offset",
	KindDuty:                  "duty-cycle",
	KindPhase:                 "phase",
	KindModType:               "modulation-type",
	KindModSource:             "modulation-source",
	KindModWave:               "modulation-wave",
	KindModFrequency:          "modulation-frequency",
	KindAMDepth:               "am-depth",
	KindFMDeviation:           "fm-deviation",
	KindFSKHop:                "fsk-hop",
	KindPMPhase:               "pm-phase",
	KindPulseWidth:            "pulse-width",
	KindPulsePeriod:           "pulse-period",
	KindPulseInversion:        "pulse-inversion",
	KindBurstIdle:             "burst-idle-mode",
	KindPolarity:              "polarity",
	KindTriggerSource:         "trigger-source",
	KindBurstCount:            "burst-count",
	KindSweepTime:             "sweep-time",
	KindSweepDirection:        "sweep-direction",
	KindSweepMode:             "sweep-mode",
	KindSweepStartFrequency:   "sweep-start-frequency",
	KindSweepEndFrequency:     "sweep-end-frequency",
	KindSweepStartAmplitude:   "sweep-start-amplitude",
	KindSweepEndAmplitude:     "sweep-end-amplitude",
	KindSweepStartDuty:        "sweep-start-duty",
	KindSweepEndDuty:          "sweep-end-duty",
	KindMeasureCoupling:       "measurement-coupling",
	KindMeasureGateTime:       "measurement-gate-time",
	KindMeasureFrequencyRange: "measurement-frequency-range",
	KindMeasureMode:           "measurement-mode",
	KindCount:                 "count",
	KindHighFrequency:         "high-frequency",
	KindLowFrequency:          "low-frequency",
	KindPositivePulseWidth:    "positive-pulse-width",
	KindNegativePulseWidth:    "negative-pulse-width",
	KindPeriod:                "period",
	KindMeasuredDuty:          "measured-duty-cycle",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsShared reports whether the kind belongs to the measurement subsystem
// rather than to an output channel.
func (k Kind) IsShared() bool {
	return k >= KindMeasureCoupling && k < kindEnd
}

// IsReading reports whether the kind is a measurement reading. Readings can
// be read but never written.
func (k Kind) IsReading() bool {
	return k >= KindCount && k < kindEnd
}

// ParseKind resolves a kind from its wire-independent name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown parameter kind %q", name)
}

// ParameterID identifies one quantity on one channel.
type ParameterID struct {
	Channel Channel
	Kind    Kind
}

// ID returns the identifier of kind k on channel ch.
func ID(ch Channel, k Kind) ParameterID {
	return ParameterID{Channel: ch, Kind: k}
}

// Measure returns the identifier of a shared measurement quantity.
func Measure(k Kind) ParameterID {
	return ParameterID{Channel: Shared, Kind: k}
}

// Valid reports whether the channel and kind fit together.
func (id ParameterID) Valid() bool {
	if id.Kind <= 0 || id.Kind >= kindEnd {
		return false
	}
	if id.Kind.IsShared() {
		return id.Channel == Shared
	}
	return id.Channel == Ch1 || id.Channel == Ch2
}

// String renders the identifier as "ch1.frequency" or, for shared
// quantities, as the bare kind name.
func (id ParameterID) String() string {
	if id.Channel == Shared {
		return id.Kind.String()
	}
	return fmt.Sprintf("ch%d.%s", int(id.Channel), id.Kind)
}

// ParseParameterID is the inverse of ParameterID.String.
func ParseParameterID(s string) (ParameterID, error) {
	ch := Shared
	name := s
	if prefix, rest, ok := strings.Cut(s, "."); ok {
		switch prefix {
		case "ch1":
			ch = Ch1
		case "ch2":
			ch = Ch2
		default:
			return ParameterID{}, fmt.Errorf("unknown channel %q", prefix)
		}
		name = rest
	}

	k, err := ParseKind(name)
	if err != nil {
		return ParameterID{}, err
	}
	id := ID(ch, k)
	if !id.Valid() {
		return ParameterID{}, fmt.Errorf("parameter %q needs a channel prefix", s)
	}
	return id, nil
}

// MarshalText lets identifiers appear as JSON strings and map keys.
func (id ParameterID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the text form produced by MarshalText.
func (id *ParameterID) UnmarshalText(text []byte) error {
	parsed, err := ParseParameterID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
