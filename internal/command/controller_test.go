package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/dispatch"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/notify"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/refresh"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/state"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/telemetry"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport/fake"
)

type auditRecord struct {
	action string
	err    error
}

type auditRecorder struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *auditRecorder) LogAction(_ context.Context, action string, _ map[string]interface{}, err error, _ time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{action, err})
}

func (a *auditRecorder) last() auditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.records) == 0 {
		return auditRecord{}
	}
	return a.records[len(a.records)-1]
}

type harness struct {
	c     *Controller
	s     *fake.Session
	st    *state.DeviceState
	rec   *telemetry.Recorder
	audit *auditRecorder
}

func newHarness(t *testing.T, refreshOnConnect bool) *harness {
	t.Helper()
	log := zerolog.Nop()
	rec := &telemetry.Recorder{}
	st := state.New()

	d := dispatch.New(dispatch.Options{PollInterval: 5 * time.Millisecond, WriteTimeout: time.Second}, rec, nil, nil, log)
	t.Cleanup(d.Close)

	s := fake.New()
	c := New(Engine{
		Session:    s,
		Dispatcher: d,
		Router:     notify.New(st, rec, nil, nil, log),
		Refresher:  refresh.New(d, 0, rec, nil, log),
		State:      st,
	}, Options{DefaultAddress: "dev", ConnectTimeout: time.Second, RefreshOnConnect: refreshOnConnect}, rec, nil, log)

	a := &auditRecorder{}
	c.SetAuditLogger(a)
	t.Cleanup(func() { _ = c.Close() })

	return &harness{c: c, s: s, st: st, rec: rec, audit: a}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectRunsInitialRefresh(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, true)
	h.connect(t)

	is.Equal(h.s.Address(), "dev")
	changed := h.rec.OfType(telemetry.EventConnectionChanged)
	is.Equal(len(changed), 1)
	is.Equal(changed[0].Data["connected"], true)

	waitFor(t, func() bool { return len(h.rec.OfType(telemetry.EventRefreshCompleted)) == 1 })
	writes := h.s.Writes()
	is.Equal(len(writes), len(refresh.Sequence()))
	is.Equal(writes[0], ":r10=0.\r\n")
}

func TestConnectFailure(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.s.FailConnect(true)

	err := h.c.Connect(context.Background(), "dev")
	is.True(errors.Is(err, transport.ErrConnect))
	is.True(!h.c.Status().Connected)
	is.Equal(h.audit.last().action, "connect")
	is.Equal(len(h.rec.OfType(telemetry.EventConnectionChanged)), 0)
}

func TestConnectTwiceIsRejected(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	err := h.c.Connect(context.Background(), "other")
	is.True(errors.Is(err, ErrAlreadyConnected))
	is.Equal(h.c.Status().Address, "dev")
}

func TestSetParameterBeforeConnect(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)

	err := h.c.SetParameter(context.Background(), protocol.ID(protocol.Ch1, protocol.KindAmplitude), 5)
	is.True(errors.Is(err, transport.ErrNotConnected))

	time.Sleep(20 * time.Millisecond)
	is.Equal(len(h.s.Writes()), 0)

	diags := h.rec.OfType(telemetry.EventDiagnostic)
	is.Equal(len(diags), 1)
	is.Equal(diags[0].Data["kind"], telemetry.DiagNotConnected)
	is.True(errors.Is(h.audit.last().err, transport.ErrNotConnected))
}

func TestSetParameterWritesFrame(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	is.NoErr(h.c.SetParameter(context.Background(), protocol.ID(protocol.Ch1, protocol.KindAmplitude), 5))
	is.NoErr(h.c.SetParameter(context.Background(), protocol.ID(protocol.Ch2, protocol.KindOffset), -2.5))

	is.Equal(h.s.WaitForWrites(2, 2*time.Second), []string{":w15=5000.\r\n", ":w18=750.\r\n"})
}

func TestSetFrequency(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	is.NoErr(h.c.SetFrequency(context.Background(), protocol.Ch1, 1000.5, protocol.Hz))
	is.Equal(h.s.WaitForWrites(1, 2*time.Second), []string{":w13=1000500,0.\r\n"})
}

func TestValidationErrorSendsNothing(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	err := h.c.SetParameter(context.Background(), protocol.ID(protocol.Ch1, protocol.KindDuty), 150)
	is.True(errors.Is(err, protocol.ErrValidation))

	err = h.c.SetParameter(context.Background(), protocol.Measure(protocol.KindCount), 1)
	is.True(errors.Is(err, protocol.ErrValidation)) // readings are read-only

	err = h.c.SetParameter(context.Background(), protocol.ID(protocol.Shared, protocol.KindAmplitude), 1)
	is.True(errors.Is(err, ErrInvalidParameter))

	time.Sleep(20 * time.Millisecond)
	is.Equal(len(h.s.Writes()), 0)
	diags := h.rec.OfType(telemetry.EventDiagnostic)
	is.Equal(len(diags), 3)
	is.Equal(diags[0].Data["kind"], telemetry.DiagValidation)
}

func TestSetOutputComposesFromState(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	h.s.Inject(":r10=0,1.\r\n") // ch2 reported on
	is.NoErr(h.c.SetOutput(context.Background(), protocol.Ch1, true))
	is.Equal(h.s.WaitForWrites(1, 2*time.Second), []string{":w10=1,1.\r\n"})
}

func TestSetOutputFallsBackToLastCommanded(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	// nothing known: the other channel defaults to off
	is.NoErr(h.c.SetOutput(context.Background(), protocol.Ch2, true))
	// ch2 is not in the mirror yet, but it was just commanded on
	is.NoErr(h.c.SetOutput(context.Background(), protocol.Ch1, true))
	// the mirror wins once the device reports
	h.s.Inject(":w10=1,0.\r\n")
	is.NoErr(h.c.SetOutput(context.Background(), protocol.Ch1, false))

	is.Equal(h.s.WaitForWrites(3, 2*time.Second), []string{
		":w10=0,1.\r\n",
		":w10=1,1.\r\n",
		":w10=0,0.\r\n",
	})
}

func TestNewerCommandBeatsStaleMirror(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	h.s.Inject(":r10=0,0.\r\n") // refresh reply, writes are not echoed afterwards
	is.NoErr(h.c.SetOutput(context.Background(), protocol.Ch1, true))
	is.NoErr(h.c.SetOutput(context.Background(), protocol.Ch2, true))

	is.Equal(h.s.WaitForWrites(2, 2*time.Second), []string{
		":w10=1,0.\r\n",
		":w10=1,1.\r\n",
	})
}

func TestBurstCountDefaultsToOne(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	is.NoErr(h.c.SetParameter(context.Background(), protocol.ID(protocol.Ch2, protocol.KindBurstCount), 5))
	is.Equal(h.s.WaitForWrites(1, 2*time.Second), []string{":w61=1,5.\r\n"})
}

func TestApplyAllOrder(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	err := h.c.ApplyAll(context.Background(), protocol.Ch2, ChannelSettings{
		Waveform:  1,
		Frequency: 2,
		Unit:      protocol.KHz,
		Amplitude: 3.3,
		Offset:    0,
		Duty:      25,
		Phase:     90,
		Output:    true,
	})
	is.NoErr(err)

	is.Equal(h.s.WaitForWrites(7, 2*time.Second), []string{
		":w12=1.\r\n",
		":w14=2000,1.\r\n",
		":w16=3300.\r\n",
		":w18=1000.\r\n",
		":w20=2500.\r\n",
		":w22=9000.\r\n",
		":w10=0,1.\r\n",
	})
}

func TestApplyAllValidatesEverythingFirst(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	err := h.c.ApplyAll(context.Background(), protocol.Ch1, ChannelSettings{Waveform: 1, Frequency: 1, Amplitude: 1, Phase: 400})
	is.True(errors.Is(err, protocol.ErrValidation))

	time.Sleep(20 * time.Millisecond)
	is.Equal(len(h.s.Writes()), 0)
}

func TestSendRaw(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	f, err := h.c.SendRaw(context.Background(), "  :w15=5000.  ")
	is.NoErr(err)
	is.Equal(f, protocol.Frame(":w15=5000."))

	_, err = h.c.SendRaw(context.Background(), "garbage")
	is.True(errors.Is(err, protocol.ErrParse))

	is.Equal(h.s.WaitForWrites(1, 2*time.Second), []string{":w15=5000.\r\n"})
}

func TestSendRawRequiresFinalPeriod(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	_, err := h.c.SendRaw(context.Background(), ":w15=1000")
	is.True(errors.Is(err, protocol.ErrParse))
	_, err = h.c.SendRaw(context.Background(), ":w15=1000\r\n")
	is.True(errors.Is(err, protocol.ErrParse))

	f, err := h.c.SendRaw(context.Background(), ":w15=01000.\r\n")
	is.NoErr(err)
	is.Equal(f, protocol.Frame(":w15=1000.")) // canonical form

	is.Equal(h.s.WaitForWrites(1, 2*time.Second), []string{":w15=1000.\r\n"})
	is.Equal(h.audit.last().action, "sendRaw")
}

func TestQuery(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	is.NoErr(h.c.Query(context.Background(), protocol.ID(protocol.Ch2, protocol.KindAmplitude)))
	is.Equal(h.s.WaitForWrites(1, 2*time.Second), []string{":r16=0.\r\n"})
}

func TestRefreshRequiresConnection(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)

	err := h.c.Refresh(context.Background())
	is.True(errors.Is(err, transport.ErrNotConnected))
}

func TestRefreshWhileRunningIsBusy(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.s.SetWriteDelay(20 * time.Millisecond)
	h.connect(t)

	is.NoErr(h.c.Refresh(context.Background()))
	err := h.c.Refresh(context.Background())
	is.True(errors.Is(err, refresh.ErrRefreshInProgress))
	is.True(h.c.Status().Refresh.Running)
	is.Equal(len(h.rec.OfType(telemetry.EventRefreshStarted)), 1)
}

func TestRefreshRepliesFillState(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.s.OnWrite(func(frame string) {
		if frame == ":r15=0.\r\n" {
			go h.s.Inject(":r15=4200.\r\n")
		}
	})
	h.connect(t)

	is.NoErr(h.c.Refresh(context.Background()))
	waitFor(t, func() bool { return len(h.rec.OfType(telemetry.EventRefreshCompleted)) == 1 })
	waitFor(t, func() bool { return !h.st.Get(protocol.ID(protocol.Ch1, protocol.KindAmplitude)).IsAbsent() })
	is.Equal(h.c.Snapshot().Ch1.Amplitude.Or(0), 4.2)
}

func TestDisconnect(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	is.NoErr(h.c.Disconnect(context.Background()))
	is.NoErr(h.c.Disconnect(context.Background())) // idempotent
	is.True(!h.s.Connected())

	st := h.c.Status()
	is.True(!st.Connected)
	is.Equal(st.Address, "")

	changed := h.rec.OfType(telemetry.EventConnectionChanged)
	is.Equal(len(changed), 2)
	is.Equal(changed[1].Data["connected"], false)

	err := h.c.Query(context.Background(), protocol.ID(protocol.Ch1, protocol.KindAmplitude))
	is.True(errors.Is(err, transport.ErrNotConnected))
}

func TestLinkLossDetaches(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, false)
	h.connect(t)

	h.s.Drop()
	waitFor(t, func() bool { return !h.c.Status().Connected })

	changed := h.rec.OfType(telemetry.EventConnectionChanged)
	is.Equal(len(changed), 2)
	is.Equal(changed[1].Data["connected"], false)

	err := h.c.SetOutput(context.Background(), protocol.Ch1, true)
	is.True(errors.Is(err, transport.ErrNotConnected))

	// reconnecting after a loss works
	h.connect(t)
	is.True(h.c.Status().Connected)
}
