package coordinator

import (
	"math"
	"time"

	"github.com/yegors/mlat-client/internal/modes"
)

// InputReceivedMessages processes a batch of frames from the receiver in order.
// One timestamp is taken for the whole batch.
func (c *Coordinator) InputReceivedMessages(messages []*modes.Message) {
	now := c.now()
	for _, msg := range messages {
		c.dispatch(msg, now)
	}
}

func (c *Coordinator) dispatch(msg *modes.Message, now time.Time) {
	switch msg.Kind {
	case modes.KindClockReset:
		c.receivedClockReset()
	case modes.KindDF0, modes.KindDF4, modes.KindDF5, modes.KindDF16, modes.KindDF20, modes.KindDF21:
		c.receivedMisc(msg, now)
	case modes.KindDF11:
		c.receivedDF11(msg, now)
	case modes.KindDF17:
		c.receivedDF17(msg, now)
	}
}

func (c *Coordinator) receivedClockReset() {
	c.logger.Info("Receiver clock reset")
	c.server.SendClockReset(reasonClockReset)
}

// receivedMisc handles frames whose address came from the CRC residual.
// These never create registry entries.
func (c *Coordinator) receivedMisc(msg *modes.Message, now time.Time) {
	ac := c.observe(msg, now, false)
	if ac == nil || !ac.Requested {
		return
	}
	c.candidate(ac, msg, now)
}

func (c *Coordinator) receivedDF11(msg *modes.Message, now time.Time) {
	ac := c.observe(msg, now, true)
	if ac == nil || !ac.Requested {
		return
	}
	c.candidate(ac, msg, now)
}

// candidate forwards a frame for multilateration unless the aircraft is already
// reporting its own position.
func (c *Coordinator) candidate(ac *Aircraft, msg *modes.Message, now time.Time) {
	if ac.hadRecentPosition(now) {
		return
	}
	c.stats.MLATMessages.Inc()
	c.server.SendMLAT(msg)
}

// receivedDF17 handles extended squitters. Position frames feed the rate
// accumulator and, for requested aircraft, become sync references.
func (c *Coordinator) receivedDF17(msg *modes.Message, now time.Time) {
	ac := c.observe(msg, now, true)
	if ac == nil {
		return
	}
	if !msg.EvenCPR && !msg.OddCPR {
		return
	}

	ac.LastPositionTime = now

	if msg.Altitude == nil || msg.NUC < MinSyncNUC {
		return
	}

	ac.RecentADSBPositions++

	if c.server.SplitSync() {
		if !ac.Requested {
			return
		}
		c.stats.SyncMessages.Inc()
		c.server.SendSplitSync(msg)
		return
	}

	// slots are overwritten but never cleared, so a stale partner can pair
	// with a fresh frame as long as it is inside the window
	if msg.EvenCPR {
		ac.EvenMessage = msg
	} else {
		ac.OddMessage = msg
	}

	if !ac.Requested || ac.EvenMessage == nil || ac.OddMessage == nil {
		return
	}
	gap := math.Abs(float64(ac.EvenMessage.Timestamp - ac.OddMessage.Timestamp))
	if gap > SyncWindowSeconds*c.freq {
		return
	}

	c.stats.SyncMessages.Inc()
	c.server.SendSync(ac.EvenMessage, ac.OddMessage)
}
