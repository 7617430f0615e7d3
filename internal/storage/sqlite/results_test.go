package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/mlat-client/internal/coordinator"
	"github.com/yegors/mlat-client/pkg/logger"
)

func openStorage(t *testing.T, maxResults int) (*ResultStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.db")
	s, err := NewResultStorage(path, maxResults, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func waitForCount(t *testing.T, s *ResultStorage, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := s.Count()
		return err == nil && n == want
	}, 3*time.Second, 10*time.Millisecond)
}

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestStoreAndRecent(t *testing.T) {
	s, _ := openStorage(t, 500)

	s.SendPosition(coordinator.Result{
		Timestamp:     base,
		Address:       0x4ca1b2,
		Latitude:      53.1,
		Longitude:     -6.2,
		Altitude:      35000,
		Callsign:      "EIN123",
		Squawk:        "7000",
		ErrorEstimate: 120,
		Stations:      5,
	})
	s.SendPosition(coordinator.Result{Timestamp: base.Add(500 * time.Millisecond), Address: 0x00abcd, Latitude: 1, Longitude: 2, Altitude: 1000})
	s.SendPosition(coordinator.Result{Timestamp: base.Add(2 * time.Second), Address: 0x4ca1b2, Latitude: 53.2, Longitude: -6.1, Altitude: 34000})

	waitForCount(t, s, 3)

	all, err := s.Recent("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Timestamp.Equal(base.Add(2*time.Second)))
	assert.True(t, all[1].Timestamp.Equal(base.Add(500*time.Millisecond)))
	assert.Equal(t, uint32(0x00abcd), all[1].Address)
	assert.Equal(t, "00abcd", all[1].Hex())

	one, err := s.Recent("4ca1b2", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, 34000.0, one[0].Altitude)

	older, err := s.Recent("4ca1b2", 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
	first := older[1]
	assert.Equal(t, "EIN123", first.Callsign)
	assert.Equal(t, "7000", first.Squawk)
	assert.Equal(t, 120.0, first.ErrorEstimate)
	assert.Equal(t, 5, first.Stations)
	assert.True(t, first.Timestamp.Equal(base))
}

func TestRecentLimitIsCapped(t *testing.T) {
	s, _ := openStorage(t, 2)
	for i := 0; i < 5; i++ {
		s.SendPosition(coordinator.Result{Timestamp: base.Add(time.Duration(i) * time.Second), Address: 1})
	}
	waitForCount(t, s, 5)

	got, err := s.Recent("", 100)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDisconnectFlushesQueue(t *testing.T) {
	s, path := openStorage(t, 500)
	for i := 0; i < writeBatch+7; i++ {
		s.SendPosition(coordinator.Result{Timestamp: base.Add(time.Duration(i) * time.Millisecond), Address: uint32(i)})
	}
	s.Disconnect()
	s.Disconnect()

	// ignored once closed
	s.SendPosition(coordinator.Result{Timestamp: base, Address: 1})

	reopened, err := NewResultStorage(path, 500, logger.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, writeBatch+7, n)
}
