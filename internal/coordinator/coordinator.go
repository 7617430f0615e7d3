package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/mlat-client/internal/stats"
	"github.com/yegors/mlat-client/pkg/logger"
)

const (
	// WarmupMessages is how many messages an address needs before it is reported
	WarmupMessages = 10

	// MinSyncNUC is the lowest position quality accepted as a sync reference
	MinSyncNUC = 6

	// SyncWindowSeconds bounds the timestamp gap between paired even and odd frames
	SyncWindowSeconds = 5

	HeartbeatInterval = 500 * time.Millisecond
	ReportInterval    = 30 * time.Second
	StatsInterval     = 900 * time.Second
	ExpiryAge         = 60 * time.Second
	PositionRecency   = 60 * time.Second

	pollInterval = 100 * time.Millisecond
	eventBacklog = 1024
)

const (
	reasonServerLost = "Lost connection to multilateration server, no need for input data"
	reasonClockReset = "Normal clock rollover (GPS start of day, etc)"
	reasonShutdown   = "Client shutting down"
)

// event is a unit of work executed on the coordinator loop
type event func(*Coordinator)

// Coordinator owns the aircraft registry and drives the receiver, server and
// outputs. All of its state is confined to the goroutine running Run; other
// goroutines reach it through Inbound.
type Coordinator struct {
	receiver Receiver
	server   Server
	outputs  []Output
	freq     float64 // receiver clock ticks per second

	stats  *stats.Stats
	logger *logger.Logger
	now    func() time.Time

	aircraft  map[uint32]*Aircraft
	requested map[uint32]struct{}
	newlySeen map[uint32]struct{}

	nextReport time.Time // zero while no server session is active
	nextStats  time.Time

	events   chan event
	stopped  chan struct{}
	stopOnce sync.Once
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock replaces the wall clock used for all timing decisions
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a coordinator for the given collaborators. freq is the receiver
// timestamp frequency in Hz.
func New(receiver Receiver, server Server, outputs []Output, freq float64, st *stats.Stats, log *logger.Logger, opts ...Option) *Coordinator {
	if st == nil {
		st = stats.New()
	}
	if log == nil {
		log = logger.NewNop()
	}

	c := &Coordinator{
		receiver:  receiver,
		server:    server,
		outputs:   outputs,
		freq:      freq,
		stats:     st,
		logger:    log.Named("coordinator"),
		now:       time.Now,
		aircraft:  make(map[uint32]*Aircraft),
		requested: make(map[uint32]struct{}),
		newlySeen: make(map[uint32]struct{}),
		events:    make(chan event, eventBacklog),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.nextStats = c.now().Add(StatsInterval)
	return c
}

// InputConnected handles the receiver connection becoming ready
func (c *Coordinator) InputConnected() {
	c.logger.Info("Receiver input connected")
	c.server.SendInputConnected()
}

// InputDisconnected handles loss of the receiver connection. Every tracked
// aircraft is dropped and the server is told which reported ones went away.
func (c *Coordinator) InputDisconnected() {
	c.server.SendInputDisconnected()

	lost := c.removeAll()
	c.logger.Info("Receiver input disconnected", logger.Int("lost", len(lost)))
	if len(lost) > 0 {
		c.server.SendLost(lost)
	}
}

// ServerConnected starts a fresh server session
func (c *Coordinator) ServerConnected() {
	c.requested = make(map[uint32]struct{})
	c.newlySeen = make(map[uint32]struct{})
	c.aircraft = make(map[uint32]*Aircraft)
	c.nextReport = c.now().Add(ReportInterval)

	state := c.receiver.State()
	c.logger.Info("Server connected", logger.String("receiver_state", state))
	if state != StateReady {
		c.receiver.Reconnect()
	}
}

// ServerDisconnected ends the server session
func (c *Coordinator) ServerDisconnected() {
	c.logger.Info("Server disconnected")
	c.receiver.Disconnect(reasonServerLost)
	c.nextReport = time.Time{}
}

// ServerMLATResult forwards a computed position to every output
func (c *Coordinator) ServerMLATResult(r Result) {
	c.stats.MLATPositions.Inc()
	for _, o := range c.outputs {
		o.SendPosition(r)
	}
}

// ServerStartSending marks addresses the server wants traffic for
func (c *Coordinator) ServerStartSending(addrs []uint32) {
	for _, addr := range addrs {
		if ac, ok := c.aircraft[addr]; ok {
			ac.Requested = true
		}
		c.requested[addr] = struct{}{}
	}
}

// ServerStopSending clears the requested flag for addresses
func (c *Coordinator) ServerStopSending(addrs []uint32) {
	for _, addr := range addrs {
		if ac, ok := c.aircraft[addr]; ok {
			ac.Requested = false
		}
		delete(c.requested, addr)
	}
}

// post queues an event for the loop. It fails with ErrStopped once the loop has
// stopped, or with the context's error if ctx ends while the queue is full.
func (c *Coordinator) post(ctx context.Context, ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AircraftStatus describes one registry entry
type AircraftStatus struct {
	Address             string  `json:"address"`
	Messages            int     `json:"messages"`
	Reported            bool    `json:"reported"`
	Requested           bool    `json:"requested"`
	SecondsSinceMessage float64 `json:"seconds_since_message"`
	HasPosition         bool    `json:"has_position"`
}

// Status is a point-in-time snapshot of the coordinator
type Status struct {
	ReceiverState string           `json:"receiver_state"`
	ServerState   string           `json:"server_state"`
	SplitSync     bool             `json:"split_sync"`
	Requested     int              `json:"requested"`
	Aircraft      []AircraftStatus `json:"aircraft"`
}

// Status returns a snapshot taken on the coordinator loop
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := c.post(ctx, func(c *Coordinator) { reply <- c.snapshot() }); err != nil {
		return Status{}, err
	}

	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-c.stopped:
		return Status{}, ErrStopped
	}
}

func (c *Coordinator) snapshot() Status {
	now := c.now()
	s := Status{
		ReceiverState: c.receiver.State(),
		ServerState:   c.server.State(),
		SplitSync:     c.server.SplitSync(),
		Requested:     len(c.requested),
		Aircraft:      make([]AircraftStatus, 0, len(c.aircraft)),
	}

	addrs := make(map[uint32]struct{}, len(c.aircraft))
	for addr := range c.aircraft {
		addrs[addr] = struct{}{}
	}
	for _, addr := range sortedKeys(addrs) {
		ac := c.aircraft[addr]
		s.Aircraft = append(s.Aircraft, AircraftStatus{
			Address:             ac.hex(),
			Messages:            ac.Messages,
			Reported:            ac.Reported,
			Requested:           ac.Requested,
			SecondsSinceMessage: now.Sub(ac.LastMessageTime).Seconds(),
			HasPosition:         ac.hadRecentPosition(now),
		})
	}
	return s
}
