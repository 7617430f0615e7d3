package coordinator

import (
	"time"

	"github.com/yegors/mlat-client/internal/modes"
)

// Connection states reported by the receiver and server collaborators
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateReady        = "ready"
)

// Receiver is the local receiver connection
type Receiver interface {
	State() string
	Heartbeat(now time.Time)
	Disconnect(reason string)
	Reconnect()
}

// Server is the connection to the multilateration server
type Server interface {
	State() string
	Heartbeat(now time.Time)
	Disconnect(reason string)

	// SplitSync reports whether the server pairs sync frames itself
	SplitSync() bool

	SendSeen(addrs []uint32)
	SendLost(addrs []uint32)
	SendRateReport(rates map[uint32]float64)
	SendMLAT(msg *modes.Message)
	SendSync(even, odd *modes.Message)
	SendSplitSync(msg *modes.Message)
	SendClockReset(reason string)
	SendInputConnected()
	SendInputDisconnected()
}

// Output receives multilateration results
type Output interface {
	Heartbeat(now time.Time)
	Disconnect()
	SendPosition(r Result)
}

// Result is a position computed by the server
type Result struct {
	Timestamp     time.Time `json:"timestamp"`
	Address       uint32    `json:"-"`
	Latitude      float64   `json:"lat"`
	Longitude     float64   `json:"lon"`
	Altitude      float64   `json:"alt"` // feet
	Callsign      string    `json:"callsign,omitempty"`
	Squawk        string    `json:"squawk,omitempty"`
	ErrorEstimate float64   `json:"error_est"` // metres
	Stations      int       `json:"nstations"`
}

// Hex returns the result's address as six hex digits
func (r Result) Hex() string {
	return modes.FormatAddress(r.Address)
}
