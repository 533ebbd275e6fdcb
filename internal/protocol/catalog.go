package protocol

import "fmt"

var waveformNames = []string{
	"Sine",
	"Square",
	"Pulse",
	"Triangle",
	"Slope",
	"CMOS",
	"DC level",
	"Partial sine wave",
	"Half wave",
	"Full wave",
	"Positive ladder wave",
	"Negative ladder wave",
	"Positive trapezoidal wave",
	"Negative trapezoidal wave",
	"Noise wave",
	"Index rise",
	"Index fall",
	"Logarithmic rise",
	"Logarithmic fall",
	"Sinker Pulse",
	"Multi-audio",
	"Lorenz",
}

var modulationNames = []string{"AM", "FM", "PM", "ASK", "FSK", "PSK", "Pulse", "Burst"}

// Waveforms returns the waveform names indexed by their wire value.
func Waveforms() []string {
	return append([]string(nil), waveformNames...)
}

// WaveformName returns the display name of waveform index i.
func WaveformName(i int) (string, bool) {
	if i < 0 || i >= len(waveformNames) {
		return "", false
	}
	return waveformNames[i], true
}

// ModulationTypes returns the modulation type names indexed by wire value.
func ModulationTypes() []string {
	return append([]string(nil), modulationNames...)
}

// FrequencyUnit is the unit index sent next to every frequency value.
type FrequencyUnit int

const (
	Hz FrequencyUnit = iota
	KHz
	MHz
	MilliHz
	MicroHz
)

var frequencyUnitNames = []string{"Hz", "kHz", "MHz", "mHz", "µHz"}

var frequencyUnitHertz = []float64{1, 1e3, 1e6, 1e-3, 1e-6}

func (u FrequencyUnit) String() string {
	if u < 0 || int(u) >= len(frequencyUnitNames) {
		return fmt.Sprintf("unit(%d)", int(u))
	}
	return frequencyUnitNames[u]
}

// Hertz converts v expressed in u to hertz.
func (u FrequencyUnit) Hertz(v float64) float64 {
	if u < 0 || int(u) >= len(frequencyUnitHertz) {
		return v
	}
	return v * frequencyUnitHertz[u]
}

// ParseFrequencyUnit resolves a unit by name. "uHz" is accepted for µHz.
func ParseFrequencyUnit(s string) (FrequencyUnit, error) {
	if s == "uHz" {
		return MicroHz, nil
	}
	for i, name := range frequencyUnitNames {
		if name == s {
			return FrequencyUnit(i), nil
		}
	}
	return 0, fmt.Errorf("unknown frequency unit %q", s)
}

// FrequencyUnits returns the unit names indexed by wire value.
func FrequencyUnits() []string {
	return append([]string(nil), frequencyUnitNames...)
}
