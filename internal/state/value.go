package state

import (
	"encoding/json"
	"strconv"
)

// Value is a parameter value that may not have been observed yet. The zero
// Value is absent.
type Value struct {
	v   float64
	set bool
}

// Absent is the value of every parameter that has never been read.
var Absent = Value{}

// Known wraps an observed value.
func Known(v float64) Value {
	return Value{v: v, set: true}
}

// Get returns the value and whether it was ever observed.
func (v Value) Get() (float64, bool) {
	return v.v, v.set
}

// IsAbsent reports whether the value was never observed.
func (v Value) IsAbsent() bool { return !v.set }

// Or returns the value, or def when absent.
func (v Value) Or(def float64) float64 {
	if !v.set {
		return def
	}
	return v.v
}

func (v Value) String() string {
	if !v.set {
		return "absent"
	}
	return strconv.FormatFloat(v.v, 'g', -1, 64)
}

// MarshalJSON encodes an absent value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.set {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Absent
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Known(f)
	return nil
}
