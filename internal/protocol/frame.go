package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Terminator ends every frame on the wire.
const Terminator = "\r\n"

// ReadPlaceholder is the field value sent in read frames. The device is
// never asked to interpret it, so it is kept exactly as the vendor tool
// sends it.
const ReadPlaceholder = 0

// Op is the frame operation.
type Op byte

const (
	OpWrite Op = 'w'
	OpRead  Op = 'r'
)

func (op Op) String() string { return string(rune(op)) }

// Frame is the text of one frame without its line terminator.
type Frame string

// Bytes returns the frame as it goes on the wire, terminator included.
func (f Frame) Bytes() []byte {
	return []byte(Terminate(string(f)))
}

func (f Frame) String() string { return string(f) }

// Terminate appends the line terminator unless text already ends with it.
func Terminate(text string) string {
	if strings.HasSuffix(text, Terminator) {
		return text
	}
	return text + Terminator
}

// Message is a frame split into its grammar parts. It carries raw wire
// integers; scaling happens in Decode.
type Message struct {
	Op     Op
	Code   int
	Fields []int64
}

// Frame renders the message in canonical form.
func (m Message) Frame() Frame {
	parts := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		parts[i] = strconv.FormatInt(f, 10)
	}
	return Frame(fmt.Sprintf(":%c%02d=%s.", byte(m.Op), m.Code, strings.Join(parts, ",")))
}

// ReadFrame builds the read request for code.
func ReadFrame(code int) Frame {
	return Message{Op: OpRead, Code: code, Fields: []int64{ReadPlaceholder}}.Frame()
}

// Parse splits raw into its grammar parts. Surrounding whitespace and the
// line terminator are ignored and the final '.' may be missing, as in some
// device replies; everything else must match the grammar exactly.
func Parse(raw string) (Message, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Message{}, parseErr(raw, "empty frame")
	}

	head, body, ok := strings.Cut(text, "=")
	if !ok {
		return Message{}, parseErr(raw, "missing '='")
	}
	if len(head) != 4 || head[0] != ':' {
		return Message{}, parseErr(raw, "malformed header %q", head)
	}

	op := Op(head[1])
	if op != OpWrite && op != OpRead {
		return Message{}, parseErr(raw, "unknown operation %q", head[1])
	}

	code, err := parseDigits(head[2:])
	if err != nil {
		return Message{}, parseErr(raw, "malformed code %q", head[2:])
	}

	body = strings.TrimSuffix(body, ".")
	parts := strings.Split(body, ",")
	if len(parts) > 2 {
		return Message{}, parseErr(raw, "%d fields, at most 2 allowed", len(parts))
	}

	fields := make([]int64, len(parts))
	for i, p := range parts {
		v, err := parseDigits(p)
		if err != nil {
			return Message{}, parseErr(raw, "non-numeric field %q", p)
		}
		fields[i] = v
	}

	return Message{Op: op, Code: int(code), Fields: fields}, nil
}

// ParseStrict is Parse for outbound text: the final '.' is required.
func ParseStrict(raw string) (Message, error) {
	if !strings.HasSuffix(strings.TrimSpace(raw), ".") {
		return Message{}, parseErr(raw, "missing final '.'")
	}
	return Parse(raw)
}

// parseDigits accepts unsigned decimal integers only: no sign, no point.
func parseDigits(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a digit: %q", c)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}
