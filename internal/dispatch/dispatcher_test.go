package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/protocol"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/telemetry"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/transport/fake"
)

type frameLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *frameLog) LogFrame(direction, frame string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, direction+" "+frame)
}

func newTestDispatcher(t *testing.T, settle time.Duration) (*Dispatcher, *fake.Session, *telemetry.Recorder) {
	t.Helper()
	rec := &telemetry.Recorder{}
	d := New(Options{SettleDelay: settle, PollInterval: 10 * time.Millisecond, WriteTimeout: time.Second}, rec, nil, nil, zerolog.Nop())
	t.Cleanup(d.Close)

	s := fake.New()
	if err := s.Connect(context.Background(), "dev"); err != nil {
		t.Fatal(err)
	}
	return d, s, rec
}

func frame(code int, n int64) protocol.Frame {
	return protocol.Message{Op: protocol.OpWrite, Code: code, Fields: []int64{n}}.Frame()
}

func TestEnqueueBeforeAttachIsRejected(t *testing.T) {
	is := is.New(t)
	d, s, _ := newTestDispatcher(t, 0)

	err := d.Enqueue(protocol.ReadFrame(10))
	is.True(errors.Is(err, transport.ErrNotConnected))
	var nce *transport.NotConnectedError
	is.True(errors.As(err, &nce))
	is.Equal(nce.Frame, ":r10=0.")

	d.Attach(s)
	is.NoErr(d.Submit(context.Background(), protocol.ReadFrame(11)))
	is.Equal(s.Writes(), []string{":r11=0.\r\n"}) // the rejected frame was never buffered
}

func TestFramesGoOutInOrder(t *testing.T) {
	is := is.New(t)
	d, s, rec := newTestDispatcher(t, 0)
	d.Attach(s)

	for i := 0; i < 20; i++ {
		is.NoErr(d.Enqueue(frame(15, int64(i))))
	}
	writes := s.WaitForWrites(20, 2*time.Second)
	is.Equal(len(writes), 20)
	for i, w := range writes {
		is.Equal(w, frame(15, int64(i)).String()+"\r\n")
	}
	is.Equal(len(rec.OfType(telemetry.EventFrameSent)), 20)
}

func TestConcurrentProducersKeepTheirOrder(t *testing.T) {
	is := is.New(t)
	d, s, _ := newTestDispatcher(t, 0)
	d.Attach(s)

	const producers, perProducer = 4, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(code int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := d.Enqueue(frame(code, int64(i))); err != nil {
					t.Error(err)
				}
			}
		}(43 + p)
	}
	wg.Wait()

	writes := s.WaitForWrites(producers*perProducer, 2*time.Second)
	is.Equal(len(writes), producers*perProducer)

	next := map[int]int64{}
	for _, w := range writes {
		u, err := protocol.Parse(w)
		is.NoErr(err)
		is.Equal(u.Fields[0], next[u.Code]) // per-producer FIFO
		next[u.Code]++
	}
}

func TestSettleDelaySpacesWrites(t *testing.T) {
	is := is.New(t)
	d, s, _ := newTestDispatcher(t, 40*time.Millisecond)
	d.Attach(s)

	var mu sync.Mutex
	var stamps []time.Time
	s.OnWrite(func(string) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		is.NoErr(d.Enqueue(frame(19, int64(i))))
	}
	is.Equal(len(s.WaitForWrites(3, 2*time.Second)), 3)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		is.True(gap >= 35*time.Millisecond)
	}
}

func TestSubmitWaitsForWriteAndSettle(t *testing.T) {
	is := is.New(t)
	d, s, _ := newTestDispatcher(t, 30*time.Millisecond)
	d.Attach(s)

	start := time.Now()
	is.NoErr(d.Submit(context.Background(), protocol.ReadFrame(13)))
	is.True(time.Since(start) >= 25*time.Millisecond)
	is.Equal(s.Writes(), []string{":r13=0.\r\n"})
}

func TestSubmitHonoursContext(t *testing.T) {
	is := is.New(t)
	d, s, _ := newTestDispatcher(t, 0)
	s.SetWriteDelay(200 * time.Millisecond)
	d.Attach(s)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Submit(ctx, protocol.ReadFrame(10))
	is.True(errors.Is(err, context.DeadlineExceeded))
}

func TestDetachDropsQueuedFrames(t *testing.T) {
	is := is.New(t)
	d, s, rec := newTestDispatcher(t, 0)
	s.SetWriteDelay(100 * time.Millisecond)
	d.Attach(s)

	for i := 0; i < 5; i++ {
		is.NoErr(d.Enqueue(frame(17, int64(1000+i))))
	}
	d.Detach()
	is.Equal(d.Len(), 0)
	is.True(!d.Attached())

	err := d.Enqueue(frame(17, 1000))
	is.True(errors.Is(err, transport.ErrNotConnected))

	time.Sleep(150 * time.Millisecond)
	is.True(len(s.Writes()) <= 1) // at most the frame already in flight
	is.True(len(rec.OfType(telemetry.EventFrameSent)) <= 1)
}

func TestWriteErrorBecomesDiagnostic(t *testing.T) {
	is := is.New(t)
	rec := &telemetry.Recorder{}
	frames := &frameLog{}
	d := New(Options{PollInterval: 10 * time.Millisecond}, rec, nil, frames, zerolog.Nop())
	defer d.Close()

	s := fake.New()
	is.NoErr(s.Connect(context.Background(), "dev"))
	s.FailWrites(true)
	d.Attach(s)

	err := d.Submit(context.Background(), protocol.ReadFrame(10))
	is.True(errors.Is(err, transport.ErrWrite))

	diags := rec.OfType(telemetry.EventDiagnostic)
	is.Equal(len(diags), 1)
	is.Equal(diags[0].Data["kind"], telemetry.DiagWrite)
	is.Equal(len(rec.OfType(telemetry.EventFrameSent)), 0)

	// the loop keeps running after a failed write
	s.FailWrites(false)
	is.NoErr(d.Submit(context.Background(), protocol.ReadFrame(11)))

	frames.mu.Lock()
	defer frames.mu.Unlock()
	is.Equal(len(frames.entries), 2)
	is.True(strings.HasPrefix(frames.entries[1], "tx :r11"))
}

func TestCloseStopsAccepting(t *testing.T) {
	is := is.New(t)
	d, s, _ := newTestDispatcher(t, 0)
	d.Attach(s)

	d.Close()
	d.Close()
	is.Equal(d.Enqueue(protocol.ReadFrame(10)), ErrClosed)
	is.Equal(d.Submit(context.Background(), protocol.ReadFrame(10)), ErrClosed)
}

func TestCloseFailsPendingSubmitters(t *testing.T) {
	is := is.New(t)
	d, s, _ := newTestDispatcher(t, 0)
	s.SetWriteDelay(100 * time.Millisecond)
	d.Attach(s)

	is.NoErr(d.Enqueue(protocol.ReadFrame(10)))
	result := make(chan error, 1)
	go func() { result <- d.Submit(context.Background(), protocol.ReadFrame(11)) }()

	for d.Len() < 1 {
		time.Sleep(time.Millisecond)
	}
	d.Close()

	select {
	case err := <-result:
		is.Equal(err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("submitter not released by Close")
	}
}
