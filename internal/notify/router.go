// Package notify routes inbound frames into the device mirror.
package notify

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/metrics"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/state"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/telemetry"
)

// FrameLogger records frames that arrived on the link.
type FrameLogger interface {
	LogFrame(direction, frame string, err error)
}

// Router decodes inbound frames and applies them to the device mirror. It is
// registered as the session's notification handler and runs on the
// transport's receive goroutine, so nothing in it blocks.
type Router struct {
	log     zerolog.Logger
	state   *state.DeviceState
	events  telemetry.Publisher
	metrics *metrics.Metrics
	frames  FrameLogger
}

// New creates a router writing into st. frames may be nil.
func New(st *state.DeviceState, events telemetry.Publisher, m *metrics.Metrics, frames FrameLogger, log zerolog.Logger) *Router {
	if events == nil {
		events = telemetry.Discard
	}
	return &Router{
		log:     log,
		state:   st,
		events:  events,
		metrics: m,
		frames:  frames,
	}
}

// Handle processes one notification payload. A payload may carry several
// newline-separated frames; blank lines are skipped.
func (r *Router) Handle(payload []byte) {
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_ = r.Route(line)
	}
}

// Route decodes a single frame and applies every field it carries. A frame
// that fails to decode leaves the mirror untouched and is reported as a
// diagnostic; the error is returned for callers that want it.
func (r *Router) Route(raw string) error {
	r.events.Publish(telemetry.FrameReceived(raw))

	u, err := protocol.Decode(raw)
	if r.frames != nil {
		r.frames.LogFrame("rx", raw, err)
	}
	if err != nil {
		r.metrics.FrameReceived(false)
		r.log.Debug().Err(err).Str("frame", raw).Msg("undecodable frame")
		r.events.Publish(telemetry.Diagnostic(telemetry.DiagParse, err.Error()))
		return err
	}
	r.metrics.FrameReceived(true)

	ids := make([]protocol.ParameterID, 0, len(u.Fields))
	values := make(map[string]float64, len(u.Fields))
	reading := false
	for _, f := range u.Fields {
		if err := r.state.Apply(f.ID, f.Value); err != nil {
			r.log.Error().Err(err).Str("frame", raw).Msg("decoded field has no state slot")
			r.events.Publish(telemetry.Diagnostic(telemetry.DiagState, err.Error()))
			continue
		}
		ids = append(ids, f.ID)
		values[f.ID.String()] = f.Value
		reading = reading || f.ID.Kind.IsReading()
	}
	if len(ids) == 0 {
		return nil
	}

	r.log.Debug().Str("frame", raw).Int("code", u.Code).Msg("state updated")
	r.events.Publish(telemetry.StateChanged(ids, values))
	if reading {
		r.events.Publish(telemetry.MeasurementUpdated(r.state.Measurement()))
	}
	return nil
}
