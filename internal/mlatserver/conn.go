package mlatserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/yegors/mlat-client/internal/coordinator"
	"github.com/yegors/mlat-client/internal/modes"
	"github.com/yegors/mlat-client/internal/stats"
	"github.com/yegors/mlat-client/pkg/logger"
)

// ClientVersion is reported to the server during the handshake
const ClientVersion = "mlat-client-go 0.2.0"

const (
	flushThreshold = 32 * 1024
	writeTimeout   = 10 * time.Second
	maxLineSize    = 1 << 20
)

// ErrDenied is returned when the server refuses the handshake
var ErrDenied = errors.New("server denied connection")

// Handler receives server events. Calls are made from the connection's read goroutine.
type Handler interface {
	ServerConnected()
	ServerDisconnected()
	MLATResult(r coordinator.Result)
	StartSending(addrs []uint32)
	StopSending(addrs []uint32)
}

// Config holds the connection settings
type Config struct {
	Host              string
	Port              int
	User              string
	Latitude          float64
	Longitude         float64
	AltitudeM         float64
	ClockType         string
	Compression       string
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	Backoff           *Backoff
}

// Connection is the client side of the multilateration server protocol
type Connection struct {
	cfg     Config
	addr    string
	backoff *Backoff
	handler Handler
	stats   *stats.Stats
	logger  *logger.Logger

	mu            sync.Mutex
	state         string
	enabled       bool
	splitSync     bool
	conn          net.Conn
	w             *bufio.Writer
	zw            *zlib.Writer
	lastHeartbeat time.Time
	reconnectIn   time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewConnection creates a server connection. It does not dial until Start.
func NewConnection(cfg Config, st *stats.Stats, loggerObj *logger.Logger) *Connection {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressZlib
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = DefaultBackoff()
	}

	return &Connection{
		cfg:     cfg,
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		backoff: backoff,
		stats:   st,
		logger:  loggerObj.Named("server"),
		state:   coordinator.StateDisconnected,
		enabled: true,
		stopCh:  make(chan struct{}),
	}
}

// SetHandler sets the receiver of server events. Must be called before Start.
func (c *Connection) SetHandler(h Handler) {
	c.handler = h
}

// Start connects in the background, reconnecting with backoff until Disconnect
func (c *Connection) Start(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("server connection has no handler")
	}

	c.logger.Info("Starting server connection",
		logger.String("address", c.addr),
		logger.String("user", c.cfg.User))

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

// Stop disconnects and waits for the connection goroutines to exit
func (c *Connection) Stop() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()

	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.wg.Wait()
}

// State returns the connection state
func (c *Connection) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SplitSync reports whether the server asked for unpaired sync frames
func (c *Connection) SplitSync() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.splitSync
}

// Heartbeat sends a keepalive when due and flushes pending writes
func (c *Connection) Heartbeat(now time.Time) {
	c.mu.Lock()
	if c.state != coordinator.StateReady {
		c.mu.Unlock()
		return
	}
	due := now.Sub(c.lastHeartbeat) >= c.cfg.HeartbeatInterval
	if due {
		c.lastHeartbeat = now
	}
	c.mu.Unlock()

	if due {
		c.send(map[string]any{
			"heartbeat": map[string]float64{"client_time": float64(now.UnixNano()) / 1e9},
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// Disconnect closes the connection and stops reconnecting
func (c *Connection) Disconnect(reason string) {
	c.mu.Lock()
	wasEnabled := c.enabled
	c.enabled = false
	c.mu.Unlock()

	if wasEnabled {
		c.logger.Info("Disconnecting from server", logger.String("reason", reason))
	}

	c.mu.Lock()
	c.flushLocked()
	c.mu.Unlock()
	c.closeConn()
}

func (c *Connection) SendSeen(addrs []uint32) {
	c.send(map[string]any{"seen": hexAddresses(addrs)})
}

func (c *Connection) SendLost(addrs []uint32) {
	c.send(map[string]any{"lost": hexAddresses(addrs)})
}

func (c *Connection) SendRateReport(rates map[uint32]float64) {
	report := make(map[string]float64, len(rates))
	for addr, r := range rates {
		report[modes.FormatAddress(addr)] = r
	}
	c.send(map[string]any{"rate_report": report})
}

func (c *Connection) SendMLAT(msg *modes.Message) {
	c.send(map[string]any{"mlat": mlatMessage{T: msg.Timestamp, M: msg.Hex()}})
}

func (c *Connection) SendSync(even, odd *modes.Message) {
	c.send(map[string]any{"sync": syncMessage{
		ET: even.Timestamp,
		OT: odd.Timestamp,
		EM: even.Hex(),
		OM: odd.Hex(),
	}})
}

func (c *Connection) SendSplitSync(msg *modes.Message) {
	c.send(map[string]any{"ssync": mlatMessage{T: msg.Timestamp, M: msg.Hex()}})
}

func (c *Connection) SendClockReset(reason string) {
	c.send(map[string]any{"clock_reset": map[string]string{"reason": reason}})
}

func (c *Connection) SendInputConnected() {
	c.send(map[string]any{"input_connected": "connected"})
}

func (c *Connection) SendInputDisconnected() {
	c.send(map[string]any{"input_disconnected": "disconnected"})
}

// send queues one JSON line. Messages are dropped while not connected.
func (c *Connection) send(v any) {
	line, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode message", logger.Error(err))
		return
	}
	line = append(line, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != coordinator.StateReady || c.w == nil {
		return
	}

	if _, err := c.w.Write(line); err != nil {
		c.failLocked(err)
		return
	}
	c.stats.ServerTxMessages.Inc()
	c.stats.ServerTxBytes.Add(len(line))

	if c.w.Buffered() >= flushThreshold {
		c.flushLocked()
	}
}

func (c *Connection) flushLocked() {
	if c.w == nil || c.conn == nil {
		return
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.w.Flush(); err != nil {
		c.failLocked(err)
		return
	}
	if c.zw != nil {
		if err := c.zw.Flush(); err != nil {
			c.failLocked(err)
		}
	}
}

// failLocked drops the writer and closes the socket; the read loop then
// observes the failure and reports the disconnect.
func (c *Connection) failLocked(err error) {
	c.logger.Warn("Failed to write to server", logger.Error(err))
	c.w = nil
	c.zw = nil
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Connection) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Connection) running(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Connection) run(ctx context.Context) {
	defer c.wg.Done()

	for c.running(ctx) {
		err := c.session(ctx)
		if !c.running(ctx) {
			return
		}

		delay := c.backoff.Next()
		c.mu.Lock()
		if c.reconnectIn > 0 {
			delay = c.reconnectIn
			c.reconnectIn = 0
		}
		c.mu.Unlock()

		if errors.Is(err, ErrDenied) {
			c.logger.Error("Server refused connection", logger.Error(err))
		} else {
			c.logger.Warn("Server connection ended", logger.Error(err))
		}
		c.logger.Info("Reconnecting to server", logger.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.stopCh:
			timer.Stop()
			return
		}
	}
}

func (c *Connection) setState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// session runs one connection from dial to close
func (c *Connection) session(ctx context.Context) error {
	c.setState(coordinator.StateConnecting)
	defer c.setState(coordinator.StateDisconnected)

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.w = nil
		c.zw = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	if !c.running(ctx) {
		return nil
	}

	br := bufio.NewReaderSize(conn, 64*1024)
	reply, err := handshake(conn, br, c.handshakeRequest(), c.cfg.ConnectTimeout)
	if reply.ReconnectIn > 0 {
		c.mu.Lock()
		c.reconnectIn = time.Duration(reply.ReconnectIn * float64(time.Second))
		c.mu.Unlock()
	}
	if err != nil {
		return err
	}
	if reply.MOTD != "" {
		c.logger.Info("Server message of the day", logger.String("motd", reply.MOTD))
	}

	compressed := reply.Compress == CompressZlib
	c.mu.Lock()
	if compressed {
		c.zw = zlib.NewWriter(conn)
		c.w = bufio.NewWriterSize(c.zw, 64*1024)
	} else {
		c.w = bufio.NewWriterSize(conn, 64*1024)
	}
	c.splitSync = reply.SplitSync
	c.lastHeartbeat = time.Now()
	c.state = coordinator.StateReady
	c.mu.Unlock()

	c.backoff.Reset()
	c.logger.Info("Connected to server",
		logger.String("address", c.addr),
		logger.String("compression", reply.Compress),
		logger.Bool("split_sync", reply.SplitSync))

	c.handler.ServerConnected()
	err = c.readLoop(br, compressed)

	c.mu.Lock()
	c.state = coordinator.StateDisconnected
	c.w = nil
	c.zw = nil
	c.mu.Unlock()
	c.handler.ServerDisconnected()
	return err
}

func (c *Connection) handshakeRequest() Handshake {
	compress := []string{CompressNone}
	if c.cfg.Compression == CompressZlib {
		compress = []string{CompressZlib, CompressNone}
	}

	return Handshake{
		Version:          ProtocolVersion,
		ClientVersion:    ClientVersion,
		User:             c.cfg.User,
		Lat:              c.cfg.Latitude,
		Lon:              c.cfg.Longitude,
		Alt:              c.cfg.AltitudeM,
		ClockType:        c.cfg.ClockType,
		Compress:         compress,
		SelectiveTraffic: true,
		Heartbeat:        true,
		ReturnResults:    true,
	}
}

// handshake exchanges the opening lines. The reply is returned even on error so
// that a reconnect hint from a refusing server is not lost.
func handshake(conn net.Conn, br *bufio.Reader, req Handshake, timeout time.Duration) (HandshakeReply, error) {
	var reply HandshakeReply

	_ = conn.SetDeadline(time.Now().Add(timeout))
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	line, err := json.Marshal(req)
	if err != nil {
		return reply, fmt.Errorf("failed to encode handshake: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return reply, fmt.Errorf("failed to send handshake: %w", err)
	}

	resp, err := br.ReadBytes('\n')
	if err != nil {
		return reply, fmt.Errorf("failed to read handshake reply: %w", err)
	}
	if err := json.Unmarshal(resp, &reply); err != nil {
		return reply, fmt.Errorf("failed to parse handshake reply: %w", err)
	}

	if len(reply.Deny) > 0 {
		return reply, fmt.Errorf("%w: %s", ErrDenied, strings.Join(reply.Deny, "; "))
	}

	switch reply.Compress {
	case "", CompressNone:
		reply.Compress = CompressNone
	case CompressZlib:
		if !slices.Contains(req.Compress, CompressZlib) {
			return reply, fmt.Errorf("server chose compression %q that was not offered", reply.Compress)
		}
	default:
		return reply, fmt.Errorf("unsupported compression %q", reply.Compress)
	}
	return reply, nil
}

func (c *Connection) readLoop(br *bufio.Reader, compressed bool) error {
	var r io.Reader = br
	if compressed {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return fmt.Errorf("failed to start decompression: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		c.stats.ServerRxMessages.Inc()
		c.stats.ServerRxBytes.Add(len(line) + 1)
		c.handleLine(line)
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return fmt.Errorf("failed to read from server: %w", err)
	}
	return io.EOF
}

// handleLine dispatches one JSON object from the server. Each key is handled
// independently; unknown keys are logged and skipped.
func (c *Connection) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}

	var msg map[string]json.RawMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("Ignoring malformed server message", logger.Error(err))
		return
	}

	for key, raw := range msg {
		switch key {
		case "start_sending":
			addrs, err := parseAddresses(raw)
			if err != nil {
				c.logger.Warn("Bad start_sending", logger.Error(err))
				continue
			}
			c.handler.StartSending(addrs)

		case "stop_sending":
			addrs, err := parseAddresses(raw)
			if err != nil {
				c.logger.Warn("Bad stop_sending", logger.Error(err))
				continue
			}
			c.handler.StopSending(addrs)

		case "result":
			var rm resultMessage
			if err := json.Unmarshal(raw, &rm); err != nil {
				c.logger.Warn("Bad result", logger.Error(err))
				continue
			}
			res, err := rm.toResult()
			if err != nil {
				c.logger.Warn("Bad result address", logger.Error(err))
				continue
			}
			c.handler.MLATResult(res)

		case "heartbeat":
			c.logger.Debug("Server heartbeat")

		default:
			c.logger.Warn("Unknown server message", logger.String("key", key))
		}
	}
}
