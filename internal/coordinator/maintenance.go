package coordinator

import (
	"time"

	"github.com/yegors/mlat-client/pkg/logger"
)

// Heartbeat drives the collaborators and the periodic work. The run loop calls
// it every HeartbeatInterval.
func (c *Coordinator) Heartbeat(now time.Time) {
	c.receiver.Heartbeat(now)
	c.server.Heartbeat(now)
	for _, o := range c.outputs {
		o.Heartbeat(now)
	}

	if !c.nextReport.IsZero() && !now.Before(c.nextReport) {
		c.nextReport = now.Add(ReportInterval)
		c.sendAircraftReport()
		c.expire(now)
		c.sendRateReport(now)
	}

	if !now.Before(c.nextStats) {
		c.nextStats = now.Add(StatsInterval)
		c.periodicStats()
	}
}

// sendAircraftReport announces aircraft that completed warm-up since the last report
func (c *Coordinator) sendAircraftReport() {
	if len(c.newlySeen) == 0 {
		return
	}
	seen := sortedKeys(c.newlySeen)
	c.newlySeen = make(map[uint32]struct{})
	c.server.SendSeen(seen)
}

// sendRateReport sends the ADS-B position rate of every aircraft with a recent
// position and restarts the measurement of the aircraft it reported.
func (c *Coordinator) sendRateReport(now time.Time) {
	rates := make(map[uint32]float64)
	for addr, ac := range c.aircraft {
		interval := now.Sub(ac.RateMeasurementStart)
		if interval <= 0 || !ac.hadRecentPosition(now) {
			// keeps accumulating until it is reported
			continue
		}
		rates[addr] = float64(ac.RecentADSBPositions) / interval.Seconds()
		ac.RecentADSBPositions = 0
		ac.RateMeasurementStart = now
	}

	if len(rates) > 0 {
		c.server.SendRateReport(rates)
	}
}

func (c *Coordinator) periodicStats() {
	var reported, tracked, positions int
	now := c.now()
	for _, ac := range c.aircraft {
		if ac.Reported {
			reported++
		}
		if ac.Requested {
			tracked++
		}
		if ac.hadRecentPosition(now) {
			positions++
		}
	}

	c.logger.Info("Status",
		logger.String("receiver", c.receiver.State()),
		logger.String("server", c.server.State()),
		logger.Int("aircraft", len(c.aircraft)),
		logger.Int("reported", reported),
		logger.Int("requested", len(c.requested)),
		logger.Int("requested_tracked", tracked),
		logger.Int("with_position", positions))
	c.stats.LogAndReset(c.logger)
}
