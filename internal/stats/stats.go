package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/yegors/mlat-client/pkg/logger"
)

// Counter is an interval counter mirrored into a cumulative Prometheus counter
type Counter struct {
	name     string
	interval atomic.Uint64
	total    prometheus.Counter
}

func newCounter(reg *prometheus.Registry, name, help string) *Counter {
	c := &Counter{
		name: name,
		total: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mlat_client",
			Name:      name + "_total",
			Help:      help,
		}),
	}
	reg.MustRegister(c.total)
	return c
}

// Add adds n to the counter
func (c *Counter) Add(n int) {
	if n <= 0 {
		return
	}
	c.interval.Add(uint64(n))
	c.total.Add(float64(n))
}

// Inc adds one to the counter
func (c *Counter) Inc() { c.Add(1) }

// Value returns the count accumulated in the current interval
func (c *Counter) Value() uint64 { return c.interval.Load() }

func (c *Counter) reset() uint64 { return c.interval.Swap(0) }

// Stats is the statistics context shared by the coordinator and its collaborators.
// Counters are safe for concurrent use; LogAndReset is called from the coordinator loop.
type Stats struct {
	ReceiverMessages    *Counter // frames decoded from the receiver
	ReceiverBadMessages *Counter // frames that failed to decode
	ReceiverClockResets *Counter
	ServerTxMessages    *Counter // lines written to the server
	ServerRxMessages    *Counter // lines read from the server
	ServerTxBytes       *Counter
	ServerRxBytes       *Counter
	MLATMessages        *Counter // MLAT candidates forwarded
	SyncMessages        *Counter // sync pairs or split-sync frames forwarded
	MLATPositions       *Counter // results received from the server

	registry *prometheus.Registry
	counters []*Counter

	mu            sync.Mutex
	intervalStart time.Time
	now           func() time.Time
}

// New creates a statistics context with its own Prometheus registry
func New() *Stats {
	reg := prometheus.NewRegistry()
	s := &Stats{
		registry:      reg,
		now:           time.Now,
		intervalStart: time.Now(),
	}

	s.ReceiverMessages = s.add(newCounter(reg, "receiver_messages", "Mode S frames decoded from the receiver"))
	s.ReceiverBadMessages = s.add(newCounter(reg, "receiver_bad_messages", "Receiver frames that failed to decode"))
	s.ReceiverClockResets = s.add(newCounter(reg, "receiver_clock_resets", "Receiver clock resets observed"))
	s.ServerTxMessages = s.add(newCounter(reg, "server_tx_messages", "Messages written to the MLAT server"))
	s.ServerRxMessages = s.add(newCounter(reg, "server_rx_messages", "Messages read from the MLAT server"))
	s.ServerTxBytes = s.add(newCounter(reg, "server_tx_bytes", "Bytes written to the MLAT server"))
	s.ServerRxBytes = s.add(newCounter(reg, "server_rx_bytes", "Bytes read from the MLAT server"))
	s.MLATMessages = s.add(newCounter(reg, "mlat_messages", "MLAT candidate messages forwarded"))
	s.SyncMessages = s.add(newCounter(reg, "sync_messages", "Sync references forwarded"))
	s.MLATPositions = s.add(newCounter(reg, "mlat_positions", "Multilateration results received"))

	return s
}

func (s *Stats) add(c *Counter) *Counter {
	s.counters = append(s.counters, c)
	return c
}

// Registry returns the Prometheus registry holding the cumulative counters
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

// Snapshot returns the current interval values keyed by counter name
func (s *Stats) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(s.counters))
	for _, c := range s.counters {
		out[c.name] = c.Value()
	}
	return out
}

// LogAndReset logs the interval totals and rates, then starts a new interval.
// The Prometheus totals are not reset.
func (s *Stats) LogAndReset(log *logger.Logger) {
	s.mu.Lock()
	now := s.now()
	elapsed := now.Sub(s.intervalStart)
	s.intervalStart = now
	s.mu.Unlock()

	secs := elapsed.Seconds()
	fields := make([]logger.Field, 0, len(s.counters)+1)
	fields = append(fields, logger.Duration("interval", elapsed.Round(time.Second)))
	for _, c := range s.counters {
		n := c.reset()
		if secs > 0 {
			fields = append(fields, logger.Float64(c.name+"_per_sec", float64(n)/secs))
		} else {
			fields = append(fields, logger.Uint64(c.name, n))
		}
	}

	log.Info("Statistics", fields...)
}
