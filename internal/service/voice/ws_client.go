package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when a call command is sent before Connect.
var ErrNotConnected = errors.New("voice: sdk not connected")

// WSOptions configure the WebSocket gateway client.
type WSOptions struct {
	URL              string
	PublicKey        string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	MaxRetries       int
}

// DefaultWSOptions returns the keepalive and retry settings used in
// production.
func DefaultWSOptions() WSOptions {
	return WSOptions{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		MaxRetries:       3,
	}
}

type command struct {
	Type        string `json:"type"`
	APIKey      string `json:"apiKey,omitempty"`
	AssistantID string `json:"assistantId,omitempty"`
}

// WSClient implements Client over the vendor's JSON WebSocket gateway.
// Inbound frames are {"type": "ready"|"error"|"call-end", "message": ...}.
type WSClient struct {
	*Emitter

	opts   WSOptions
	logger *slog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	closed  bool
}

// NewWSClient creates a client; nothing is dialed until Connect.
func NewWSClient(opts WSOptions, logger *slog.Logger) *WSClient {
	defaults := DefaultWSOptions()
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		Emitter: NewEmitter(),
		opts:    opts,
		logger:  logger.With("component", "voice_ws"),
	}
}

// Connect dials the gateway with retries and starts the read and ping
// loops. Readiness is reported later through EventReady.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.connectWithRetry(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.closed = false
	c.mu.Unlock()

	go c.readLoop(loopCtx, conn)
	go c.pingLoop(loopCtx, conn)
	return nil
}

// Start asks the gateway to place a call with the given assistant.
func (c *WSClient) Start(_ context.Context, opts StartOptions) error {
	return c.send(command{Type: "start", APIKey: opts.APIKey, AssistantID: opts.AssistantID})
}

// Stop hangs up the active call.
func (c *WSClient) Stop(_ context.Context) error {
	return c.send(command{Type: "stop"})
}

// Close tears down the connection. Errors from the read loop after Close
// are not reported as SDK errors.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.closed = true
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *WSClient) send(cmd command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("voice: send %s failed: %w", cmd.Type, err)
	}
	return nil
}

func (c *WSClient) connectWithRetry(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error

	for i := 0; i < c.opts.MaxRetries; i++ {
		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		retryDelay := time.Duration(i+1) * 250 * time.Millisecond
		c.logger.Warn("voice gateway dial failed, retrying", "attempt", i+1, "delay", retryDelay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return nil, fmt.Errorf("voice: failed to connect after %d attempts: %w", c.opts.MaxRetries, lastErr)
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}

	header := http.Header{}
	if c.opts.PublicKey != "" {
		header.Set("Authorization", "Bearer "+c.opts.PublicKey)
	}

	conn, resp, err := dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		return nil
	})
	return conn, nil
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return
			}
			c.logger.Error("voice gateway read failed", "error", err)
			c.Emit(Event{Type: EventError, Message: fmt.Sprintf("voice connection lost: %v", err)})
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.Warn("ignoring malformed voice event", "error", err)
			continue
		}

		switch event.Type {
		case EventReady, EventError, EventEnded:
			c.Emit(event)
		default:
			c.logger.Debug("ignoring voice event", "type", event.Type)
		}
	}
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *WSClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
