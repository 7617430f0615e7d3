package adsb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yegors/mlat-client/internal/modes"
	"github.com/yegors/mlat-client/internal/stats"
	"github.com/yegors/mlat-client/pkg/logger"
)

// Connection states
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateReady        = "ready"
)

// Input types and their timestamp clocks
const (
	InputBeast     = "beast"
	InputRadarcape = "radarcape"

	BeastClockHz     = 12e6
	RadarcapeClockHz = 1e9
)

// Handler receives input events from the client. Calls are made from the
// client's read goroutine.
type Handler interface {
	InputConnected()
	InputDisconnected()
	InputMessages(messages []*modes.Message)
}

// Client maintains a Beast TCP connection to the local receiver
type Client struct {
	addr        string
	inputType   string
	freq        float64
	idleTimeout time.Duration
	dialTimeout time.Duration
	limiter     *rate.Limiter

	handler Handler
	stats   *stats.Stats
	logger  *logger.Logger

	mu       sync.Mutex
	state    string
	enabled  bool
	conn     net.Conn
	lastData time.Time

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewClient creates a receiver client. Reconnect attempts are spaced at least
// reconnectInterval apart; a connection silent for idleTimeout is dropped.
func NewClient(
	host string,
	port int,
	inputType string,
	reconnectInterval time.Duration,
	idleTimeout time.Duration,
	st *stats.Stats,
	loggerObj *logger.Logger,
) *Client {
	freq := BeastClockHz
	if inputType == InputRadarcape {
		freq = RadarcapeClockHz
	}
	if reconnectInterval <= 0 {
		reconnectInterval = 30 * time.Second
	}

	return &Client{
		addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		inputType:   inputType,
		freq:        freq,
		idleTimeout: idleTimeout,
		dialTimeout: 10 * time.Second,
		limiter:     rate.NewLimiter(rate.Every(reconnectInterval), 1),
		stats:       st,
		logger:      loggerObj.Named("receiver"),
		state:       StateDisconnected,
		enabled:     true,
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// SetHandler sets the receiver of input events. Must be called before Start.
func (c *Client) SetHandler(h Handler) {
	c.handler = h
}

// ClockFrequency returns the timestamp frequency in Hz for the input type
func (c *Client) ClockFrequency() float64 {
	return c.freq
}

// Start begins connecting to the receiver
func (c *Client) Start(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("receiver client has no handler")
	}

	c.logger.Info("Starting receiver client",
		logger.String("address", c.addr),
		logger.String("input_type", c.inputType))

	c.wg.Add(2)
	go c.run(ctx)
	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
		case <-c.stopCh:
		}
		c.closeConn()
	}()
	return nil
}

// Stop closes the connection and waits for the client goroutines to exit
func (c *Client) Stop() {
	c.logger.Info("Stopping receiver client")
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.wg.Wait()
}

// State returns the connection state
func (c *Client) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Heartbeat drops the connection if the receiver has gone quiet
func (c *Client) Heartbeat(now time.Time) {
	if c.idleTimeout <= 0 {
		return
	}

	c.mu.Lock()
	idle := c.state == StateReady && now.Sub(c.lastData) > c.idleTimeout
	c.mu.Unlock()

	if idle {
		c.logger.Warn("No data from receiver, reconnecting",
			logger.Duration("idle_timeout", c.idleTimeout))
		c.closeConn()
	}
}

// Disconnect closes the connection and stays disconnected until Reconnect
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	wasEnabled := c.enabled
	c.enabled = false
	c.mu.Unlock()

	if wasEnabled {
		c.logger.Info("Disconnecting from receiver", logger.String("reason", reason))
	}
	c.closeConn()
}

// Reconnect re-enables connecting after Disconnect
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) setState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Client) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// waitEnabled blocks until connecting is allowed. It returns false on shutdown.
func (c *Client) waitEnabled(ctx context.Context) bool {
	for {
		c.mu.Lock()
		enabled := c.enabled
		c.mu.Unlock()
		if enabled {
			return true
		}

		select {
		case <-c.wake:
		case <-ctx.Done():
			return false
		case <-c.stopCh:
			return false
		}
	}
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	dialer := net.Dialer{Timeout: c.dialTimeout}
	for !c.stopped(ctx) {
		if !c.waitEnabled(ctx) {
			return
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		c.setState(StateConnecting)
		conn, err := dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			c.setState(StateDisconnected)
			if !c.stopped(ctx) {
				c.logger.Warn("Failed to connect to receiver",
					logger.String("address", c.addr),
					logger.Error(err))
			}
			continue
		}

		if err := c.serve(ctx, conn); err != nil && !c.stopped(ctx) {
			c.logger.Warn("Receiver connection lost", logger.Error(err))
		}
	}
}

// serve reads frames until the connection fails or is closed
func (c *Client) serve(ctx context.Context, conn net.Conn) error {
	c.mu.Lock()
	if !c.enabled || c.stopped(ctx) {
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateReady
	c.lastData = time.Now()
	c.mu.Unlock()

	c.logger.Info("Connected to receiver", logger.String("address", c.addr))
	c.handler.InputConnected()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close()
		c.handler.InputDisconnected()
	}()

	reader := NewBeastReader(conn)
	var (
		batch []*modes.Message
		last  int64
	)
	for {
		frame, err := reader.Next()
		if err != nil {
			c.flush(batch)
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to read from receiver: %w", err)
		}

		if msg, ok := c.decode(frame, &last); ok {
			if msg.Kind == modes.KindClockReset {
				batch = append(batch, msg)
				// the frame that revealed the reset follows the marker
				if m, ok := c.decode(frame, &last); ok {
					batch = append(batch, m)
				}
			} else {
				batch = append(batch, msg)
			}
		}

		// deliver once everything from the current read has been framed
		if reader.Buffered() == 0 {
			batch = c.flush(batch)
		}
	}
}

func (c *Client) flush(batch []*modes.Message) []*modes.Message {
	if len(batch) == 0 {
		return batch
	}

	c.mu.Lock()
	c.lastData = time.Now()
	c.mu.Unlock()

	c.handler.InputMessages(batch)
	return nil
}

// decode converts a frame into a message. A timestamp far behind the previous
// one produces a clock reset marker instead; last is updated either way.
func (c *Client) decode(frame Frame, last *int64) (*modes.Message, bool) {
	if frame.Type == BeastModeAC {
		return nil, false
	}

	ts := c.timestamp(frame.Timestamp)
	if *last-ts > int64(c.freq) {
		*last = ts
		c.stats.ReceiverClockResets.Inc()
		return modes.ClockResetMarker(ts), true
	}
	if ts > *last {
		*last = ts
	}

	msg, err := modes.Decode(frame.Data, ts, frame.Signal)
	if err != nil {
		if !errors.Is(err, modes.ErrUnsupportedDF) {
			c.stats.ReceiverBadMessages.Inc()
		}
		return nil, false
	}
	c.stats.ReceiverMessages.Inc()
	return msg, true
}

// timestamp converts a raw Beast timestamp to clock ticks. Radarcape GPS
// timestamps carry seconds of day in the top 18 bits and nanoseconds below.
func (c *Client) timestamp(raw int64) int64 {
	if c.inputType != InputRadarcape {
		return raw
	}
	secs := raw >> 30
	nanos := raw & 0x3fffffff
	return secs*1_000_000_000 + nanos
}
