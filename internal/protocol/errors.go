package protocol

import (
	"errors"
	"fmt"
)

// Codec errors. Use errors.Is against these sentinels; the concrete
// ParseError and ValidationError values carry the offending input.
var (
	ErrParse      = errors.New("PARSE_ERROR")
	ErrValidation = errors.New("INVALID_RANGE")
)

// ParseError reports an inbound frame that does not match the grammar or
// addresses an unknown code.
type ParseError struct {
	Frame  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse frame %q: %s", e.Frame, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// ValidationError reports a value outside the domain of the parameter it
// was meant for. No frame is built when it is returned.
type ValidationError struct {
	Param  ParameterID
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s = %v: %s", e.Param, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func parseErr(frame, format string, args ...interface{}) error {
	return &ParseError{Frame: frame, Reason: fmt.Sprintf(format, args...)}
}

func validationErr(id ParameterID, v float64, reason string) error {
	return &ValidationError{Param: id, Value: v, Reason: reason}
}
