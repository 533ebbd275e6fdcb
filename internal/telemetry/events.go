package telemetry

import (
	"time"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/state"
)

// Event types.
const (
	EventReady              = "ready"
	EventHeartbeat          = "heartbeat"
	EventConnectionChanged  = "connectionChanged"
	EventFrameSent          = "frameSent"
	EventFrameReceived      = "frameReceived"
	EventStateChanged       = "stateChanged"
	EventRefreshStarted     = "refreshStarted"
	EventRefreshProgress    = "refreshProgress"
	EventRefreshCompleted   = "refreshCompleted"
	EventMeasurementUpdated = "measurementUpdated"
	EventDiagnostic         = "diagnostic"
)

// Diagnostic kinds for locally recoverable errors.
const (
	DiagParse        = "parse"
	DiagWrite        = "write"
	DiagNotConnected = "notConnected"
	DiagValidation   = "validation"
	DiagLink         = "link"
	DiagState        = "state"
)

// Event is one engine notification. ID is assigned by the hub.
type Event struct {
	ID   int64                  `json:"id,omitempty"`
	Type string                 `json:"type"`
	Time time.Time              `json:"ts"`
	Data map[string]interface{} `json:"data"`
}

// Publisher accepts events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

func newEvent(typ string, data map[string]interface{}) Event {
	return Event{Type: typ, Time: time.Now().UTC(), Data: data}
}

// ConnectionChanged reports the link going up or down.
func ConnectionChanged(connected bool, address string) Event {
	return newEvent(EventConnectionChanged, map[string]interface{}{
		"connected": connected,
		"address":   address,
	})
}

// FrameSent reports a frame handed to the transport.
func FrameSent(frame string) Event {
	return newEvent(EventFrameSent, map[string]interface{}{"frame": frame})
}

// FrameReceived reports a raw inbound frame, decodable or not.
func FrameReceived(frame string) Event {
	return newEvent(EventFrameReceived, map[string]interface{}{"frame": frame})
}

// StateChanged lists the parameters a frame updated.
func StateChanged(ids []protocol.ParameterID, values map[string]float64) Event {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return newEvent(EventStateChanged, map[string]interface{}{
		"ids":    names,
		"values": values,
	})
}

// RefreshStarted opens a refresh run.
func RefreshStarted(total int) Event {
	return newEvent(EventRefreshStarted, map[string]interface{}{"total": total})
}

// RefreshProgress reports read index of total submitted (1-based).
func RefreshProgress(index, total int) Event {
	return newEvent(EventRefreshProgress, map[string]interface{}{
		"index": index,
		"total": total,
	})
}

// RefreshCompleted closes a refresh run.
func RefreshCompleted(total int) Event {
	return newEvent(EventRefreshCompleted, map[string]interface{}{"total": total})
}

// MeasurementUpdated carries the latest readings.
func MeasurementUpdated(m state.Measurement) Event {
	return newEvent(EventMeasurementUpdated, map[string]interface{}{"measurement": m})
}

// Diagnostic reports a recoverable error.
func Diagnostic(kind, message string) Event {
	return newEvent(EventDiagnostic, map[string]interface{}{
		"kind":    kind,
		"message": message,
	})
}
