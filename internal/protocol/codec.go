package protocol

// Field is one decoded value.
type Field struct {
	ID    ParameterID
	Value float64
}

// Update is the result of decoding one frame.
type Update struct {
	Op     Op
	Code   int
	Fields []Field
}

// IDs lists the parameters the update touches.
func (u Update) IDs() []ParameterID {
	ids := make([]ParameterID, len(u.Fields))
	for i, f := range u.Fields {
		ids[i] = f.ID
	}
	return ids
}

// Encode builds the write frame for a parameter whose code carries a single
// field. Two-field codes need EncodePair.
func Encode(id ParameterID, value float64) (Frame, error) {
	ref, err := writable(id, value)
	if err != nil {
		return "", err
	}
	if len(ref.rule.fields) != 1 {
		companion := ref.rule.fields[1-ref.pos].id
		return "", validationErr(id, value, "shares its frame with "+companion.String()+"; use EncodePair")
	}
	f := ref.rule.fields[0]
	if reason := f.domain.check(value); reason != "" {
		return "", validationErr(id, value, reason)
	}
	return Message{Op: OpWrite, Code: ref.rule.code, Fields: []int64{f.scale.toWire(value)}}.Frame(), nil
}

// EncodePair builds the write frame for a two-field code. value goes into
// id's position and other into the companion's position, whichever order
// the code uses on the wire.
func EncodePair(id ParameterID, value, other float64) (Frame, error) {
	ref, err := writable(id, value)
	if err != nil {
		return "", err
	}
	if len(ref.rule.fields) != 2 {
		return "", validationErr(id, value, "single-field parameter; use Encode")
	}

	values := [2]float64{}
	values[ref.pos] = value
	values[1-ref.pos] = other

	wire := make([]int64, 2)
	for i, f := range ref.rule.fields {
		if reason := f.domain.check(values[i]); reason != "" {
			return "", validationErr(f.id, values[i], reason)
		}
		wire[i] = f.scale.toWire(values[i])
	}
	return Message{Op: OpWrite, Code: ref.rule.code, Fields: wire}.Frame(), nil
}

// EncodeFrequency builds the frequency frame for ch. value is expressed in
// unit.
func EncodeFrequency(ch Channel, value float64, unit FrequencyUnit) (Frame, error) {
	return EncodePair(ID(ch, KindFrequency), value, float64(unit))
}

// EncodeReading builds the read reply a device sends for measurement
// reading id. Only readings are accepted.
func EncodeReading(id ParameterID, value float64) (Frame, error) {
	ref, ok := table.byID[id]
	if !ok || !ref.rule.readOnly {
		return "", validationErr(id, value, "not a measurement reading")
	}
	f := ref.rule.fields[0]
	if reason := f.domain.check(value); reason != "" {
		return "", validationErr(id, value, reason)
	}
	return Message{Op: OpRead, Code: ref.rule.code, Fields: []int64{f.scale.toWire(value)}}.Frame(), nil
}

// Read builds the read request for the code that carries id.
func Read(id ParameterID) (Frame, error) {
	code, ok := CodeOf(id)
	if !ok {
		return "", validationErr(id, 0, "unknown parameter")
	}
	return ReadFrame(code), nil
}

// Decode parses raw and converts its fields to engineering units. Both read
// replies (":r") and write echoes (":w") are accepted.
func Decode(raw string) (Update, error) {
	msg, err := Parse(raw)
	if err != nil {
		return Update{}, err
	}

	r, ok := table.byCode[msg.Code]
	if !ok {
		return Update{}, parseErr(raw, "unknown code %02d", msg.Code)
	}
	if len(msg.Fields) < len(r.fields) {
		return Update{}, parseErr(raw, "code %02d expects %d fields, got %d", msg.Code, len(r.fields), len(msg.Fields))
	}
	if len(msg.Fields) > len(r.fields) {
		return Update{}, parseErr(raw, "code %02d expects %d field, got %d", msg.Code, len(r.fields), len(msg.Fields))
	}

	u := Update{Op: msg.Op, Code: msg.Code, Fields: make([]Field, len(r.fields))}
	for i, f := range r.fields {
		u.Fields[i] = Field{ID: f.id, Value: f.scale.fromWire(msg.Fields[i])}
	}
	return u, nil
}

func writable(id ParameterID, value float64) (fieldRef, error) {
	ref, ok := table.byID[id]
	if !ok {
		return fieldRef{}, validationErr(id, value, "unknown parameter")
	}
	if ref.rule.readOnly {
		return fieldRef{}, validationErr(id, value, "read-only measurement")
	}
	return ref, nil
}
