package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/mlat-client/internal/coordinator"
	"github.com/yegors/mlat-client/internal/geo"
	"github.com/yegors/mlat-client/pkg/logger"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer(geo.Station{Latitude: 52.0, Longitude: 4.0}, logger.NewNop())
	go s.Run()
	ts := httptest.NewServer(http.HandlerFunc(s.HandleConnection))
	t.Cleanup(func() {
		s.Disconnect()
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, s *Server, url string) *websocket.Conn {
	t.Helper()
	before := s.ClientCount()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return s.ClientCount() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func result(addr uint32, lat, lon float64) coordinator.Result {
	return coordinator.Result{
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Address:   addr,
		Latitude:  lat,
		Longitude: lon,
		Altitude:  35000,
		Stations:  4,
	}
}

func TestSendPosition(t *testing.T) {
	s, url := startServer(t)
	conn := dial(t, s, url)

	s.SendPosition(result(0x4ca1b2, 53.0, 4.0))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypePosition, msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "4ca1b2", data["hex"])
	rel := data["relative"].(map[string]any)
	assert.InDelta(t, 60.04, rel["distance_nm"].(float64), 0.05)
	res := data["result"].(map[string]any)
	assert.Equal(t, 35000.0, res["alt"])
}

func TestFilters(t *testing.T) {
	s, url := startServer(t)
	conn := dial(t, s, url)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": MessageTypeFilterUpdate,
		"data": map[string]any{"addresses": map[string]bool{"abcdef": true}},
	}))
	// no ordering between the filter update and the broadcast, so wait for it to land
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for c := range s.clients {
			if c.GetFilters() != nil {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	s.SendPosition(result(0x4ca1b2, 53.0, 4.0))
	s.SendPosition(result(0xabcdef, 52.5, 4.0))

	msg := readMessage(t, conn)
	assert.Equal(t, "abcdef", msg["data"].(map[string]any)["hex"])
}

func TestMatchesFilters(t *testing.T) {
	c := &Client{}
	assert.True(t, c.MatchesFilters("4ca1b2", 500))

	c.UpdateFilters(&ClientFilters{MaxDistanceNM: 100})
	assert.True(t, c.MatchesFilters("4ca1b2", 99))
	assert.False(t, c.MatchesFilters("4ca1b2", 101))

	c.UpdateFilters(&ClientFilters{Addresses: map[string]bool{"4ca1b2": true}})
	assert.True(t, c.MatchesFilters("4ca1b2", 1000))
	assert.False(t, c.MatchesFilters("abcdef", 1))
}

func TestHeartbeatInterval(t *testing.T) {
	s, url := startServer(t)
	conn := dial(t, s, url)

	now := time.Now()
	s.Heartbeat(now)
	s.Heartbeat(now.Add(time.Second)) // too soon
	s.Heartbeat(now.Add(heartbeatInterval))

	first := readMessage(t, conn)
	second := readMessage(t, conn)
	assert.Equal(t, MessageTypeHeartbeat, first["type"])
	assert.Equal(t, MessageTypeHeartbeat, second["type"])
	assert.Equal(t, 1.0, first["data"].(map[string]any)["clients"])
}

func TestDisconnectClosesClients(t *testing.T) {
	s, url := startServer(t)
	conn := dial(t, s, url)

	s.Disconnect()
	s.Disconnect()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.False(t, s.Broadcast(&Message{Type: MessageTypeHeartbeat}))
}
