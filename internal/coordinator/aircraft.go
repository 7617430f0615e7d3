package coordinator

import (
	"slices"
	"time"

	"github.com/yegors/mlat-client/internal/modes"
	"github.com/yegors/mlat-client/pkg/logger"
)

// Aircraft is the state kept for one tracked address
type Aircraft struct {
	Address          uint32
	Messages         int
	LastMessageTime  time.Time
	LastPositionTime time.Time

	// Latest CPR frame of each parity, paired-sync mode only
	EvenMessage *modes.Message
	OddMessage  *modes.Message

	Reported  bool
	Requested bool

	RecentADSBPositions  int
	RateMeasurementStart time.Time
}

func newAircraft(addr uint32, requested bool, now time.Time) *Aircraft {
	return &Aircraft{
		Address:              addr,
		Messages:             1,
		LastMessageTime:      now,
		RateMeasurementStart: now,
		Requested:            requested,
	}
}

// hadRecentPosition reports whether a CPR position was seen within the recency window
func (ac *Aircraft) hadRecentPosition(now time.Time) bool {
	return now.Sub(ac.LastPositionTime) < PositionRecency
}

// observe applies the warm-up gate for an address-bearing message. It returns the
// aircraft only when the message passed the gate and needs further handling.
func (c *Coordinator) observe(msg *modes.Message, now time.Time, create bool) *Aircraft {
	ac, ok := c.aircraft[msg.Address]
	if !ok {
		if create {
			_, requested := c.requested[msg.Address]
			c.aircraft[msg.Address] = newAircraft(msg.Address, requested, now)
		}
		return nil
	}

	ac.Messages++
	ac.LastMessageTime = now

	if ac.Messages < WarmupMessages {
		return nil
	}
	if !ac.Reported {
		c.reportAircraft(ac)
		return nil
	}
	return ac
}

func (c *Coordinator) reportAircraft(ac *Aircraft) {
	ac.Reported = true
	c.newlySeen[ac.Address] = struct{}{}
}

// removeAll empties the registry and returns the reported addresses that were in it
func (c *Coordinator) removeAll() []uint32 {
	var lost []uint32
	for addr, ac := range c.aircraft {
		if ac.Reported {
			lost = append(lost, addr)
		}
	}
	c.aircraft = make(map[uint32]*Aircraft)
	slices.Sort(lost)
	return lost
}

// expire removes aircraft idle for longer than the expiry age
func (c *Coordinator) expire(now time.Time) {
	var stale []uint32
	for addr, ac := range c.aircraft {
		if now.Sub(ac.LastMessageTime) > ExpiryAge {
			stale = append(stale, addr)
		}
	}

	var lost []uint32
	for _, addr := range stale {
		if c.aircraft[addr].Reported {
			lost = append(lost, addr)
		}
		delete(c.aircraft, addr)
	}

	if len(lost) > 0 {
		slices.Sort(lost)
		c.logger.Debug("Expired aircraft",
			logger.Int("removed", len(stale)),
			logger.Int("lost", len(lost)))
		c.server.SendLost(lost)
	}
}

func sortedKeys(set map[uint32]struct{}) []uint32 {
	keys := make([]uint32, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (ac *Aircraft) hex() string {
	return modes.FormatAddress(ac.Address)
}
