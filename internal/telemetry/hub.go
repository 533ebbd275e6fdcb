package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
	"github.com/naelolaiz/JDY-31-PSG9080/internal/metrics"
)

// SnapshotFunc supplies the payload of the ready event sent to new stream
// clients.
type SnapshotFunc func() interface{}

// Hub fans engine events out to in-process subscribers and stream clients.
//
// Publish never blocks: a subscriber whose channel is full misses the event.
// Every non-heartbeat event gets a monotonic ID and is kept in a ring buffer
// so reconnecting stream clients can resume with Last-Event-ID.
type Hub struct {
	log     zerolog.Logger
	config  *config.TimingConfig
	metrics *metrics.Metrics

	buffer *EventBuffer

	// pubMu keeps live delivery in ID order across concurrent publishers.
	pubMu sync.Mutex

	mu       sync.RWMutex
	subs     map[int64]chan Event
	nextSub  int64
	snapshot SnapshotFunc
	stopped  bool

	upgrader websocket.Upgrader

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ Publisher = (*Hub)(nil)

// NewHub starts a hub and its heartbeat.
func NewHub(timing *config.TimingConfig, log zerolog.Logger, m *metrics.Metrics) *Hub {
	h := &Hub{
		log:     log.With().Str("component", "telemetry").Logger(),
		config:  timing,
		metrics: m,
		buffer:  NewEventBuffer(timing.EventBufferSize),
		subs:    make(map[int64]chan Event),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}

	h.wg.Add(1)
	go h.heartbeatLoop()
	return h
}

// SetSnapshotFunc installs the ready event payload source.
func (h *Hub) SetSnapshotFunc(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Publish assigns an ID, buffers and delivers e.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return
	}

	if e.Type != EventHeartbeat {
		e = h.buffer.AddEvent(e)
	}

	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.metrics.EventDropped()
		}
	}
}

// Subscribe registers a channel receiving every event published from now
// on. The cancel function unregisters and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	_, ch, cancel := h.SubscribeFrom(-1, buffer)
	return ch, cancel
}

// SubscribeFrom is Subscribe plus the buffered events with ID > lastID.
// Replay and live delivery neither overlap nor leave a gap. A negative
// lastID skips replay.
func (h *Hub) SubscribeFrom(lastID int64, buffer int) ([]Event, <-chan Event, func()) {
	if buffer <= 0 {
		buffer = h.config.ClientBufferSize
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		close(ch)
		return nil, ch, func() {}
	}

	var replay []Event
	if lastID >= 0 {
		replay = h.buffer.GetEventsAfter(lastID)
	}

	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
	return replay, ch, cancel
}

// LastID returns the ID of the most recent buffered event.
func (h *Hub) LastID() int64 {
	return h.buffer.LastID()
}

func (h *Hub) readySnapshot() interface{} {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()

	interval := h.config.HeartbeatInterval + time.Duration(float64(h.config.HeartbeatJitter)*0.5)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Publish(Event{
				Type: EventHeartbeat,
				Data: map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)},
			})
		case <-h.done:
			return
		}
	}
}

// Done is closed when the hub stops.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Stop closes every subscriber and ends the heartbeat.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		h.stopped = true
		for id, ch := range h.subs {
			close(ch)
			delete(h.subs, id)
		}
		h.mu.Unlock()

		h.wg.Wait()
		h.log.Info().Msg("telemetry hub stopped")
	})
}

// EventBuffer is a fixed-capacity ring of recent events. It owns event IDs
// so the ring is always in ID order.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
	start    int
	size     int
	lastID   int64
}

// NewEventBuffer creates a buffer holding at most capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{
		events:   make([]Event, capacity),
		capacity: capacity,
	}
}

// AddEvent assigns the next ID to e and appends it, evicting the oldest
// event when full. It returns e with its ID set.
func (b *EventBuffer) AddEvent(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastID++
	e.ID = b.lastID
	if b.size < b.capacity {
		b.events[(b.start+b.size)%b.capacity] = e
		b.size++
		return e
	}
	b.events[b.start] = e
	b.start = (b.start + 1) % b.capacity
	return e
}

// LastID returns the ID of the newest event, 0 when none was added.
func (b *EventBuffer) LastID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastID
}

// GetEventsAfter returns buffered events with ID > lastID, oldest first.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for i := 0; i < b.size; i++ {
		e := b.events[(b.start+i)%b.capacity]
		if e.ID > lastID {
			out = append(out, e)
		}
	}
	return out
}

// Size returns the number of buffered events.
func (b *EventBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}
