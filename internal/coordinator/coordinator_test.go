package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/mlat-client/internal/modes"
)

const addrA, addrB, addrC = 0x4ca1b2, 0x40621d, 0xa8c2f1

func TestWarmup(t *testing.T) {
	h := newHarness()

	for i := 1; i <= WarmupMessages; i++ {
		h.feed(identification(addrA))
		ac := h.c.aircraft[addrA]
		require.NotNil(t, ac)
		assert.Equal(t, i, ac.Messages)
		if i < WarmupMessages {
			assert.False(t, ac.Reported, "message %d", i)
			assert.Empty(t, h.c.newlySeen)
		}
	}

	assert.True(t, h.c.aircraft[addrA].Reported)
	assert.Contains(t, h.c.newlySeen, uint32(addrA))

	// further messages keep it reported without re-adding it
	h.c.sendAircraftReport()
	h.feed(identification(addrA))
	assert.Empty(t, h.c.newlySeen)
	assert.Equal(t, [][]uint32{{addrA}}, h.server.seen)
}

func TestMiscFramesNeverCreate(t *testing.T) {
	h := newHarness()

	for _, kind := range []modes.Kind{modes.KindDF0, modes.KindDF4, modes.KindDF5, modes.KindDF16, modes.KindDF20, modes.KindDF21} {
		for i := 0; i < 20; i++ {
			h.feed(misc(kind, addrA))
		}
	}
	assert.Empty(t, h.c.aircraft)

	// an existing entry is counted by misc frames
	h.feed(df11(addrB))
	h.feed(misc(modes.KindDF4, addrB))
	assert.Equal(t, 2, h.c.aircraft[addrB].Messages)
}

func TestIgnoredKinds(t *testing.T) {
	h := newHarness()
	h.feed(&modes.Message{DF: 18, Kind: modes.KindOther, Address: addrA})
	assert.Empty(t, h.c.aircraft)
}

func TestMLATCandidates(t *testing.T) {
	t.Run("requested without position", func(t *testing.T) {
		h := newHarness()
		h.warm(addrA)
		h.c.ServerStartSending([]uint32{addrA})

		m := df11(addrA)
		h.feed(m, misc(modes.KindDF20, addrA))
		require.Len(t, h.server.mlat, 2)
		assert.Same(t, m, h.server.mlat[0])
		assert.Equal(t, uint64(2), h.c.stats.MLATMessages.Value())
	})

	t.Run("not requested", func(t *testing.T) {
		h := newHarness()
		h.warm(addrA)
		h.feed(df11(addrA), misc(modes.KindDF5, addrA))
		assert.Empty(t, h.server.mlat)
	})

	t.Run("recent position suppresses", func(t *testing.T) {
		h := newHarness()
		h.warm(addrA)
		h.c.ServerStartSending([]uint32{addrA})
		h.feed(position(addrA, true, 0, 7))

		h.clock.Advance(59 * time.Second)
		h.feed(df11(addrA))
		assert.Empty(t, h.server.mlat)

		h.clock.Advance(2 * time.Second)
		h.feed(df11(addrA))
		assert.Len(t, h.server.mlat, 1)
	})

	t.Run("low quality position still suppresses", func(t *testing.T) {
		h := newHarness()
		h.warm(addrA)
		h.c.ServerStartSending([]uint32{addrA})
		h.feed(position(addrA, false, 0, 2))
		h.feed(df11(addrA))
		assert.Empty(t, h.server.mlat)
		assert.Zero(t, h.c.aircraft[addrA].RecentADSBPositions)
	})

	t.Run("warm-up message is not forwarded", func(t *testing.T) {
		h := newHarness()
		h.c.ServerStartSending([]uint32{addrA})
		h.warm(addrA)
		assert.Empty(t, h.server.mlat)
	})
}

func TestPairedSync(t *testing.T) {
	t.Run("requested pair within window", func(t *testing.T) {
		h := newHarness()
		h.warm(addrA)
		h.c.ServerStartSending([]uint32{addrA})

		even := position(addrA, true, 0, 7)
		odd := position(addrA, false, 3*testFreq, 7)
		h.feed(even, odd)

		require.Len(t, h.server.syncs, 1)
		assert.Same(t, even, h.server.syncs[0].even)
		assert.Same(t, odd, h.server.syncs[0].odd)
		assert.Equal(t, 2, h.c.aircraft[addrA].RecentADSBPositions)
	})

	t.Run("not requested", func(t *testing.T) {
		h := newHarness()
		h.warm(addrA)

		h.feed(position(addrA, true, 0, 7), position(addrA, false, 3*testFreq, 7))
		assert.Empty(t, h.server.syncs)
		assert.Equal(t, 2, h.c.aircraft[addrA].RecentADSBPositions)
	})

	t.Run("outside window", func(t *testing.T) {
		h := newHarness()
		h.warm(addrA)
		h.c.ServerStartSending([]uint32{addrA})

		h.feed(position(addrA, true, 0, 7), position(addrA, false, 6*testFreq, 7))
		assert.Empty(t, h.server.syncs)
	})

	t.Run("slots persist after a pair is sent", func(t *testing.T) {
		h := newHarness()
		h.warm(addrA)
		h.c.ServerStartSending([]uint32{addrA})

		even := position(addrA, true, 0, 7)
		h.feed(even, position(addrA, false, 1*testFreq, 7))
		later := position(addrA, false, 4*testFreq, 7)
		h.feed(later)

		require.Len(t, h.server.syncs, 2)
		assert.Same(t, even, h.server.syncs[1].even, "stale even frame is reused")
		assert.Same(t, later, h.server.syncs[1].odd)
	})

	t.Run("missing altitude", func(t *testing.T) {
		h := newHarness()
		h.warm(addrA)
		h.c.ServerStartSending([]uint32{addrA})

		even := position(addrA, true, 0, 7)
		odd := position(addrA, false, testFreq, 7)
		odd.Altitude = nil
		h.feed(even, odd)

		assert.Empty(t, h.server.syncs)
		assert.Nil(t, h.c.aircraft[addrA].OddMessage)
		assert.Equal(t, 1, h.c.aircraft[addrA].RecentADSBPositions)
	})
}

func TestSplitSync(t *testing.T) {
	h := newHarness()
	h.server.splitSync = true
	h.warm(addrA)

	h.feed(position(addrA, true, 0, 7))
	assert.Empty(t, h.server.splitSyncs)

	h.c.ServerStartSending([]uint32{addrA})
	m := position(addrA, false, 10, 8)
	h.feed(m)
	require.Len(t, h.server.splitSyncs, 1)
	assert.Same(t, m, h.server.splitSyncs[0])
	assert.Empty(t, h.server.syncs)
	assert.Nil(t, h.c.aircraft[addrA].OddMessage)
	assert.Equal(t, 2, h.c.aircraft[addrA].RecentADSBPositions)
}

func TestRequestedTracking(t *testing.T) {
	h := newHarness()

	// requested before the aircraft exists
	h.c.ServerStartSending([]uint32{addrA})
	h.feed(df11(addrA))
	assert.True(t, h.c.aircraft[addrA].Requested)

	h.c.ServerStopSending([]uint32{addrA})
	assert.False(t, h.c.aircraft[addrA].Requested)
	assert.NotContains(t, h.c.requested, uint32(addrA))

	// unknown address is harmless
	h.c.ServerStopSending([]uint32{addrC})
}

func TestClockReset(t *testing.T) {
	h := newHarness()
	h.feed(modes.ClockResetMarker(100))
	assert.Equal(t, []string{"Normal clock rollover (GPS start of day, etc)"}, h.server.clockResets)
}

func TestInputSession(t *testing.T) {
	h := newHarness()
	h.c.InputConnected()
	assert.Equal(t, 1, h.server.inputConnected)

	h.warm(addrA)
	h.warm(addrB)
	h.feed(df11(addrC))

	h.c.InputDisconnected()
	assert.Equal(t, 1, h.server.inputDisconnected)
	assert.Empty(t, h.c.aircraft)
	require.Len(t, h.server.lost, 1)
	assert.ElementsMatch(t, []uint32{addrA, addrB}, h.server.lost[0])

	// nothing reported means no lost batch
	h.feed(df11(addrC))
	h.c.InputDisconnected()
	assert.Len(t, h.server.lost, 1)
}

func TestServerSession(t *testing.T) {
	h := newHarness()
	h.warm(addrA)
	h.c.ServerStartSending([]uint32{addrA})
	h.receiver.state = StateDisconnected

	h.c.ServerConnected()
	assert.Empty(t, h.c.aircraft)
	assert.Empty(t, h.c.requested)
	assert.Empty(t, h.c.newlySeen)
	assert.Equal(t, h.clock.Now().Add(ReportInterval), h.c.nextReport)
	assert.Equal(t, 1, h.receiver.reconnects)

	h.receiver.state = StateReady
	h.c.ServerConnected()
	assert.Equal(t, 1, h.receiver.reconnects, "ready receiver is left alone")

	h.c.ServerDisconnected()
	assert.Equal(t, []string{"Lost connection to multilateration server, no need for input data"}, h.receiver.disconnects)
	assert.True(t, h.c.nextReport.IsZero())
}

func TestResultsFanOut(t *testing.T) {
	h := newHarness()
	second := &fakeOutput{}
	h.c.outputs = append(h.c.outputs, second)

	r := Result{Address: addrA, Latitude: 51.5, Longitude: -0.1, Altitude: 12000}
	h.c.ServerMLATResult(r)

	assert.Equal(t, []Result{r}, h.output.Positions())
	assert.Equal(t, []Result{r}, second.Positions())
	assert.Equal(t, uint64(1), h.c.stats.MLATPositions.Value())
}
