package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/mlat-client/internal/coordinator"
	"github.com/yegors/mlat-client/internal/geo"
	"github.com/yegors/mlat-client/pkg/logger"
)

// Message types
const (
	MessageTypePosition     = "mlat_position" // Server sends a multilateration result
	MessageTypeHeartbeat    = "heartbeat"     // Server keepalive with client count
	MessageTypeFilterUpdate = "filter_update" // Client sends filter preferences
)

const (
	heartbeatInterval = 30 * time.Second
	writeWait         = 10 * time.Second
	sendBuffer        = 256
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// ClientFilters represents the active filters for a WebSocket client
type ClientFilters struct {
	Addresses     map[string]bool `json:"addresses"`       // hex -> wanted; empty means all
	MaxDistanceNM float64         `json:"max_distance_nm"` // 0 means unlimited
}

// Client represents a WebSocket client
type Client struct {
	conn      *websocket.Conn
	send      chan *Message
	server    *Server
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
	filters   *ClientFilters // Active filters for this client
}

// Server fans multilateration results out to WebSocket clients
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	closeOnce  sync.Once
	upgrader   websocket.Upgrader
	station    geo.Station
	logger     *logger.Logger
	mu         sync.RWMutex

	lastHeartbeat time.Time
}

// NewServer creates a new WebSocket server. Distances in position messages are
// relative to station.
func NewServer(station geo.Station, logger *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, sendBuffer),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		station: station,
		logger:  logger.Named("web-socket"),
	}
}

// Run dispatches registrations and broadcasts until Disconnect
func (s *Server) Run() {
	s.logger.Info("Starting WebSocket server")

	for {
		select {
		case <-s.done:
			s.mu.Lock()
			for client := range s.clients {
				delete(s.clients, client)
				client.Close()
			}
			s.mu.Unlock()
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.Close()
			}
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", Int("client_count", clientCount))

		case message := <-s.broadcast:
			s.deliver(message)
		}
	}
}

func (s *Server) deliver(message *Message) {
	s.mu.RLock()
	clientsToRemove := make([]*Client, 0)
	for client := range s.clients {
		if !s.shouldSendToClient(client, message) {
			continue
		}
		if !client.SendMessage(message) {
			// Closed or too slow to keep up
			clientsToRemove = append(clientsToRemove, client)
		}
	}
	s.mu.RUnlock()

	if len(clientsToRemove) > 0 {
		s.mu.Lock()
		for _, client := range clientsToRemove {
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.Close()
			}
		}
		s.mu.Unlock()
		s.logger.Warn("Dropped slow WebSocket clients", Int("count", len(clientsToRemove)))
	}
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleConnection handles a WebSocket connection
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Handling new WebSocket connection request",
		String("remote_addr", r.RemoteAddr),
		String("user_agent", r.UserAgent()))

	// Upgrade HTTP connection to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			Error(err),
			String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan *Message, sendBuffer),
		server:    s,
		closeChan: make(chan struct{}),
	}

	select {
	case s.register <- client:
	case <-s.done:
		_ = conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// Broadcast queues a message for all clients without blocking. It reports
// whether the message was queued.
func (s *Server) Broadcast(message *Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.broadcast <- message:
		return true
	default:
		s.logger.Warn("Broadcast queue full, dropping message", String("message_type", message.Type))
		return false
	}
}

// SendPosition broadcasts a multilateration result
func (s *Server) SendPosition(r coordinator.Result) {
	rel := s.station.Relate(r.Latitude, r.Longitude, r.Altitude, r.Timestamp)
	s.Broadcast(&Message{
		Type: MessageTypePosition,
		Data: map[string]any{
			"hex":      r.Hex(),
			"result":   r,
			"relative": rel,
		},
	})
}

// Heartbeat periodically tells clients the stream is alive
func (s *Server) Heartbeat(now time.Time) {
	if now.Sub(s.lastHeartbeat) < heartbeatInterval {
		return
	}
	s.lastHeartbeat = now
	s.Broadcast(&Message{
		Type: MessageTypeHeartbeat,
		Data: map[string]any{
			"time":    now.UTC(),
			"clients": s.ClientCount(),
		},
	})
}

// Disconnect closes every client and stops Run
func (s *Server) Disconnect() {
	s.closeOnce.Do(func() {
		s.logger.Info("Stopping WebSocket server")
		close(s.done)
	})
}

// readPump reads filter updates from the client
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.Close()
	}()

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", Error(err))
			}
			return
		}

		var message struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.server.logger.Error("Failed to parse WebSocket message", Error(err))
			continue
		}

		switch message.Type {
		case MessageTypeFilterUpdate:
			var filters ClientFilters
			if err := json.Unmarshal(message.Data, &filters); err != nil {
				c.server.logger.Error("Failed to parse filter update", Error(err))
				continue
			}
			c.UpdateFilters(&filters)
		default:
			c.server.logger.Debug("Ignoring WebSocket message", String("type", message.Type))
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		c.Close()
		// unblocks readPump
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			data, err := json.Marshal(message)
			if err != nil {
				c.server.logger.Error("Failed to marshal message", Error(err))
				continue
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.closeChan:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.closeChan)
}

// SendMessage sends a message to this specific client
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if client is closed
	if c.closed {
		return false
	}

	// Try to send message with non-blocking select
	select {
	case c.send <- message:
		return true
	default:
		// Channel is full, drop message
		return false
	}
}

// UpdateFilters updates the client's active filters
func (c *Client) UpdateFilters(filters *ClientFilters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = filters
}

// GetFilters returns a copy of the client's current filters
func (c *Client) GetFilters() *ClientFilters {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filters == nil {
		return nil
	}
	// Return a copy to avoid race conditions
	filtersCopy := &ClientFilters{
		Addresses:     make(map[string]bool, len(c.filters.Addresses)),
		MaxDistanceNM: c.filters.MaxDistanceNM,
	}
	for hex, wanted := range c.filters.Addresses {
		filtersCopy.Addresses[hex] = wanted
	}
	return filtersCopy
}

// MatchesFilters checks if a position matches the client's active filters
func (c *Client) MatchesFilters(hex string, distanceNM float64) bool {
	filters := c.GetFilters()
	if filters == nil {
		// No filters set, show everything
		return true
	}

	if len(filters.Addresses) > 0 && !filters.Addresses[hex] {
		return false
	}
	if filters.MaxDistanceNM > 0 && distanceNM > filters.MaxDistanceNM {
		return false
	}
	return true
}

// shouldSendToClient determines if a message should be sent to a specific client based on their filters
func (s *Server) shouldSendToClient(client *Client, message *Message) bool {
	// Always send non-position messages
	if message.Type != MessageTypePosition {
		return true
	}

	hex, _ := message.Data["hex"].(string)
	rel, _ := message.Data["relative"].(geo.Relative)
	return client.MatchesFilters(hex, rel.DistanceNM)
}

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)
