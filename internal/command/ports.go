package command

import (
	"context"
	"errors"
	"time"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/state"
)

// ControllerPort is the interface the API needs from the controller.
type ControllerPort interface {
	Connect(ctx context.Context, address string) error
	Disconnect(ctx context.Context) error
	Status() Status
	Snapshot() state.Snapshot
	SetParameter(ctx context.Context, id protocol.ParameterID, value float64) error
	SetFrequency(ctx context.Context, ch protocol.Channel, value float64, unit protocol.FrequencyUnit) error
	SetOutput(ctx context.Context, ch protocol.Channel, on bool) error
	ApplyAll(ctx context.Context, ch protocol.Channel, s ChannelSettings) error
	SendRaw(ctx context.Context, text string) (protocol.Frame, error)
	Query(ctx context.Context, id protocol.ParameterID) error
	Refresh(ctx context.Context) error
}

// AuditLogger writes audit records for control actions.
type AuditLogger interface {
	LogAction(ctx context.Context, action string, params map[string]interface{}, err error, latency time.Duration)
}

// ErrInvalidParameter indicates a structurally invalid request.
var ErrInvalidParameter = errors.New("BAD_REQUEST")

// ErrAlreadyConnected rejects Connect while a link is up.
var ErrAlreadyConnected = errors.New("ALREADY_CONNECTED")

// ChannelSettings is the basic waveform setup of one output, applied in
// one go by ApplyAll.
type ChannelSettings struct {
	Waveform  int                    `json:"waveform"`
	Frequency float64                `json:"frequency"`
	Unit      protocol.FrequencyUnit `json:"unit"`
	Amplitude float64                `json:"amplitude"`
	Offset    float64                `json:"offset"`
	Duty      float64                `json:"duty"`
	Phase     float64                `json:"phase"`
	Output    bool                   `json:"output"`
}

// Status describes the link and the refresh run.
type Status struct {
	Connected  bool          `json:"connected"`
	Address    string        `json:"address,omitempty"`
	Since      time.Time     `json:"since,omitempty"`
	QueueDepth int           `json:"queueDepth"`
	Refresh    RefreshStatus `json:"refresh"`
}

// RefreshStatus reports the progress of the current or last refresh.
type RefreshStatus struct {
	Running bool `json:"running"`
	Index   int  `json:"index"`
	Total   int  `json:"total"`
}
