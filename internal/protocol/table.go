package protocol

import (
	"math"
	"sort"
)

// scale converts between engineering units and wire integers:
// wire = trunc(value*factor + bias).
type scale struct {
	factor float64
	bias   float64
}

func (s scale) toWire(v float64) int64 {
	return truncate(v*s.factor + s.bias)
}

func (s scale) fromWire(w int64) float64 {
	return (float64(w) - s.bias) / s.factor
}

// truncate drops the fractional part of x. Products that land within 1e-6
// of an integer (0.29*100 = 28.999999999999996) snap to it first, so 0.29%
// duty is sent as 29 where a plain integer conversion would send 28.
func truncate(x float64) int64 {
	if r := math.Round(x); math.Abs(x-r) < 1e-6 {
		return int64(r)
	}
	return int64(math.Trunc(x))
}

// domain is the accepted input range of a field.
type domain struct {
	min, max float64
	openMax  bool // max itself is excluded
	integral bool
}

// check returns an empty string when v is acceptable, otherwise the reason.
func (d domain) check(v float64) string {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return "not a finite number"
	case d.integral && v != math.Trunc(v):
		return "must be an integer"
	case v < d.min:
		return "below minimum"
	case d.openMax && v >= d.max:
		return "must be below maximum"
	case !d.openMax && v > d.max:
		return "above maximum"
	}
	return ""
}

// fieldSpec describes how one frame field is scaled and bounded.
type fieldSpec struct {
	scale  scale
	domain domain
	def    float64 // substituted when a paired value is unknown
}

type field struct {
	id ParameterID
	fieldSpec
}

// rule is one row of the code table.
type rule struct {
	code     int
	fields   []field
	readOnly bool
}

func linear(factor, min, max float64, openMax bool) fieldSpec {
	return fieldSpec{
		scale:  scale{factor: factor},
		domain: domain{min: min, max: max, openMax: openMax},
	}
}

func enum(n int) fieldSpec {
	return fieldSpec{
		scale:  scale{factor: 1},
		domain: domain{min: 0, max: float64(n - 1), integral: true},
	}
}

func flag() fieldSpec { return enum(2) }

var (
	specFrequency = linear(1000, 0, 1e6, true)
	specAmplitude = linear(1000, 0, 100, false)
	specOffset    = fieldSpec{scale: scale{factor: 100, bias: 1000}, domain: domain{min: -10, max: 10}}
	specDuty      = linear(100, 0, 100, false)
	specPhase     = linear(100, 0, 360, true)
	specTenth     = linear(10, 0, 1e8, true)
	specBurst     = fieldSpec{scale: scale{factor: 1}, domain: domain{min: 0, max: 1048575, integral: true}, def: 1}
)

// perChannel emits two single-field rules: code for channel 1 and code+1
// for channel 2.
func perChannel(code int, k Kind, spec fieldSpec) []rule {
	return []rule{
		{code: code, fields: []field{{ID(Ch1, k), spec}}},
		{code: code + 1, fields: []field{{ID(Ch2, k), spec}}},
	}
}

// dual emits one rule whose two fields carry both channels.
func dual(code int, k Kind, spec fieldSpec) rule {
	return rule{code: code, fields: []field{{ID(Ch1, k), spec}, {ID(Ch2, k), spec}}}
}

func frequency(code int, ch Channel) rule {
	return rule{code: code, fields: []field{
		{ID(ch, KindFrequency), specFrequency},
		{ID(ch, KindFrequencyUnit), enum(len(frequencyUnitNames))},
	}}
}

func reading(code int, k Kind, factor float64) rule {
	return rule{
		code:     code,
		fields:   []field{{Measure(k), linear(factor, 0, math.MaxFloat64, false)}},
		readOnly: true,
	}
}

// buildRules returns the code table. Codes 10-61 and the readings 80-86 are
// the ones the vendor tool uses. The sweep rows 64-78 and the field pairing
// of 62/63 follow the device's parameter numbering but are assumed, not
// confirmed against a device.
func buildRules() []rule {
	var rules []rule
	add := func(r ...rule) { rules = append(rules, r...) }

	add(dual(10, KindOutput, flag()))
	add(perChannel(11, KindWaveform, enum(len(waveformNames)))...)
	add(frequency(13, Ch1), frequency(14, Ch2))
	add(perChannel(15, KindAmplitude, specAmplitude)...)
	add(perChannel(17, KindOffset, specOffset)...)
	add(perChannel(19, KindDuty, specDuty)...)
	add(perChannel(21, KindPhase, specPhase)...)

	add(dual(40, KindModType, enum(len(modulationNames))))
	add(dual(41, KindModSource, flag()))
	add(dual(42, KindModWave, enum(len(waveformNames))))
	add(perChannel(43, KindModFrequency, specFrequency)...)
	add(perChannel(45, KindAMDepth, linear(10, 0, 120, false))...)
	add(perChannel(47, KindFMDeviation, specTenth)...)
	add(perChannel(49, KindFSKHop, specTenth)...)
	add(perChannel(51, KindPMPhase, linear(10, 0, 360, true))...)
	add(perChannel(53, KindPulseWidth, linear(1000, 0, 1e12, true))...)
	add(perChannel(55, KindPulsePeriod, linear(100, 0, 1e12, true))...)

	add(dual(57, KindPulseInversion, flag()))
	add(dual(58, KindBurstIdle, enum(3)))
	add(dual(59, KindPolarity, flag()))
	add(dual(60, KindTriggerSource, enum(4)))
	add(dual(61, KindBurstCount, specBurst))

	add(rule{code: 62, fields: []field{
		{Measure(KindMeasureCoupling), flag()},
		{Measure(KindMeasureGateTime), linear(100, 0, 100, false)},
	}})
	add(rule{code: 63, fields: []field{
		{Measure(KindMeasureFrequencyRange), flag()},
		{Measure(KindMeasureMode), enum(4)},
	}})

	add(dual(64, KindSweepTime, linear(100, 0, 1000, true)))
	add(dual(65, KindSweepDirection, enum(3)))
	add(dual(66, KindSweepMode, flag()))
	add(perChannel(67, KindSweepStartFrequency, specFrequency)...)
	add(perChannel(69, KindSweepEndFrequency, specFrequency)...)
	add(perChannel(71, KindSweepStartAmplitude, specAmplitude)...)
	add(perChannel(73, KindSweepEndAmplitude, specAmplitude)...)
	add(perChannel(75, KindSweepStartDuty, specDuty)...)
	add(perChannel(77, KindSweepEndDuty, specDuty)...)

	add(reading(80, KindCount, 1))
	add(reading(81, KindHighFrequency, 1000))
	add(reading(82, KindLowFrequency, 1000))
	add(reading(83, KindPositivePulseWidth, 1000))
	add(reading(84, KindNegativePulseWidth, 1000))
	add(reading(85, KindPeriod, 100))
	add(reading(86, KindMeasuredDuty, 100))

	return rules
}

type fieldRef struct {
	rule *rule
	pos  int
}

type codeTable struct {
	byCode map[int]*rule
	byID   map[ParameterID]fieldRef
	codes  []int
	ids    []ParameterID
}

func newCodeTable(rules []rule) *codeTable {
	t := &codeTable{
		byCode: make(map[int]*rule, len(rules)),
		byID:   make(map[ParameterID]fieldRef),
	}
	for i := range rules {
		r := &rules[i]
		if _, dup := t.byCode[r.code]; dup {
			panic("protocol: duplicate code in table")
		}
		t.byCode[r.code] = r
		t.codes = append(t.codes, r.code)
		for pos, f := range r.fields {
			if _, dup := t.byID[f.id]; dup {
				panic("protocol: parameter " + f.id.String() + " mapped twice")
			}
			t.byID[f.id] = fieldRef{rule: r, pos: pos}
			t.ids = append(t.ids, f.id)
		}
	}
	sort.Ints(t.codes)
	return t
}

var table = newCodeTable(buildRules())

// Codes returns every known parameter code in ascending order.
func Codes() []int {
	out := make([]int, len(table.codes))
	copy(out, table.codes)
	return out
}

// Parameters returns every parameter the table can address, in code order.
func Parameters() []ParameterID {
	out := make([]ParameterID, 0, len(table.ids))
	for _, code := range table.codes {
		for _, f := range table.byCode[code].fields {
			out = append(out, f.id)
		}
	}
	return out
}

// CodeOf returns the frame code that carries id.
func CodeOf(id ParameterID) (int, bool) {
	ref, ok := table.byID[id]
	if !ok {
		return 0, false
	}
	return ref.rule.code, true
}

// Companion returns the parameter that shares a two-field frame with id:
// the other channel for dual-channel codes, the unit for frequency codes.
func Companion(id ParameterID) (ParameterID, bool) {
	ref, ok := table.byID[id]
	if !ok || len(ref.rule.fields) != 2 {
		return ParameterID{}, false
	}
	return ref.rule.fields[1-ref.pos].id, true
}

// Default returns the value substituted for id when a two-field frame must
// be composed and nothing better is known.
func Default(id ParameterID) float64 {
	if ref, ok := table.byID[id]; ok {
		return ref.rule.fields[ref.pos].def
	}
	return 0
}

// IsReadOnly reports whether id can only be read.
func IsReadOnly(id ParameterID) bool {
	ref, ok := table.byID[id]
	return ok && ref.rule.readOnly
}
