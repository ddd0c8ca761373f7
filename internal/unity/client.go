// Package unity implements the client side of the Unity editor bridge: a
// request/response correlator over the framed transport, and a connection
// supervisor with reconnect policy.
package unity

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unitybridge/unitybridge/internal/transport"
)

// Request is the envelope sent for every command.
type Request struct {
	ID              string         `json:"id"`
	Command         string         `json:"command"`
	ClientTimestamp int64          `json:"client_timestamp"`
	Parameters      map[string]any `json:"parameters,omitempty"`
}

// Response is the envelope the peer sends back.
type Response struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// pendingResult resolves one pending slot: a matched response or a
// terminal error (never both).
type pendingResult struct {
	resp *Response
	err  error
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Addr is the Unity editor host:port.
	Addr string

	// ConnectDelay is the linear-backoff base between connect attempts.
	// Zero means 2s.
	ConnectDelay time.Duration

	// RequestTimeout bounds a SendCommand wait. Zero means 60s.
	RequestTimeout time.Duration

	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	MaxFrameSize      int
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.ConnectDelay <= 0 {
		o.ConnectDelay = 2 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	return o
}

// Client correlates commands with responses over one framed connection.
//
// One background read loop per connection resolves pending requests by
// correlation id, so out-of-order responses are handled correctly.
type Client struct {
	opts ClientOptions

	// connectMu serializes Connect so concurrent callers cannot each dial
	// and handshake; only one physical connection exists at a time.
	connectMu sync.Mutex

	mu      sync.Mutex
	conn    *transport.Conn
	pending map[string]chan pendingResult

	// onDisconnected fires once per connection when its read loop exits.
	onDisconnected func()

	// onMessage receives frames that match no pending request. Diagnostics
	// only; request flow never depends on it.
	onMessage func(map[string]any)
}

// NewClient creates a disconnected Client.
func NewClient(opts ClientOptions) *Client {
	return &Client{
		opts:    opts.withDefaults(),
		pending: make(map[string]chan pendingResult),
	}
}

// OnDisconnected registers the callback fired when the connection drops.
// Must be set before Connect.
func (c *Client) OnDisconnected(fn func()) { c.onDisconnected = fn }

// OnMessage registers the callback for unmatched inbound messages.
func (c *Client) OnMessage(fn func(map[string]any)) { c.onMessage = fn }

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.Connected()
}

// Connect dials and handshakes with the Unity editor, retrying up to
// maxAttempts times with linear backoff (delay × attempt number).
// Connecting while already connected is a no-op success.
func (c *Client) Connect(ctx context.Context, maxAttempts int) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	// Re-checked under the connect lock: a caller that lost the race to a
	// concurrent Connect joins its result instead of dialing again.
	if c.Connected() {
		slog.Warn("unity: already connected")
		return nil
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slog.Info("unity: connecting", "addr", c.opts.Addr, "attempt", attempt, "max", maxAttempts)

		conn := transport.New(transport.Options{
			Addr:              c.opts.Addr,
			HandshakeTimeout:  c.opts.HandshakeTimeout,
			KeepAliveInterval: c.opts.KeepAliveInterval,
			MaxFrameSize:      c.opts.MaxFrameSize,
		})
		if err := conn.Dial(ctx); err != nil {
			lastErr = err
			slog.Error("unity: connect attempt failed", "attempt", attempt, "err", err)
			if attempt < maxAttempts {
				wait := c.opts.ConnectDelay * time.Duration(attempt)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		go c.readLoop(conn)
		return nil
	}
	return fmt.Errorf("connect to %s failed after %d attempts: %w", c.opts.Addr, maxAttempts, lastErr)
}

// Disconnect closes the connection and rejects every pending request with
// a disconnected condition. It is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		slog.Warn("unity: not connected")
		return
	}
	conn.Close()
	c.drainPending(ErrDisconnected)
}

// SendCommand sends one command and blocks until its response arrives, the
// request timeout passes, or the connection drops.
//
// A peer response with status "error" returns a *CommandError; a missing
// response returns a *TimeoutError. The returned result is the raw JSON of
// the response's "result" field.
func (c *Client) SendCommand(ctx context.Context, command string, parameters map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !conn.Connected() {
		return nil, transport.ErrNotConnected
	}

	id := newRequestID()
	slot := make(chan pendingResult, 1)

	c.mu.Lock()
	c.pending[id] = slot
	c.mu.Unlock()

	req := Request{
		ID:              id,
		Command:         command,
		ClientTimestamp: time.Now().UnixMilli(),
		Parameters:      parameters,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if err := conn.SendFrame(string(payload)); err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("send command %s: %w", command, err)
	}
	slog.Debug("unity: sent request", "id", id, "command", command)

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-slot:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Status == "error" {
			msg := res.resp.Error
			if msg == "" {
				msg = "Unknown error"
			}
			return nil, &CommandError{Command: command, Message: msg}
		}
		return res.resp.Result, nil
	case <-timer.C:
		c.removePending(id)
		return nil, &TimeoutError{Command: command}
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

// readLoop receives frames for one connection until it drops, resolving
// pending slots by correlation id. Each slot resolves at most once.
func (c *Client) readLoop(conn *transport.Conn) {
	slog.Info("unity: read loop started")

	for {
		payload, err := conn.ReceiveFrame()
		if err != nil {
			slog.Info("unity: read loop ended", "err", err)
			break
		}

		var resp Response
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			slog.Error("unity: invalid JSON received, skipping frame", "err", err)
			continue
		}

		if slot, ok := c.takePending(resp.ID); ok {
			slot <- pendingResult{resp: &resp}
			continue
		}

		if c.onMessage != nil {
			var raw map[string]any
			if err := json.Unmarshal([]byte(payload), &raw); err == nil {
				c.onMessage(raw)
			}
		}
	}

	conn.Close()
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()

	// Only the loop of the published connection tears the client down.
	// A superseded loop (its conn already replaced by Disconnect or a
	// later Connect) must not drain another connection's pending work or
	// report a spurious disconnect.
	if !current {
		return
	}
	c.drainPending(ErrDisconnected)

	if c.onDisconnected != nil {
		c.onDisconnected()
	}
}

// takePending removes and returns the slot for id, enforcing at-most-once
// resolution.
func (c *Client) takePending(id string) (chan pendingResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return slot, ok
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// drainPending rejects every pending request with err.
func (c *Client) drainPending(err error) {
	c.mu.Lock()
	drained := c.pending
	c.pending = make(map[string]chan pendingResult)
	c.mu.Unlock()

	for id, slot := range drained {
		slot <- pendingResult{err: err}
		slog.Debug("unity: drained pending request", "id", id)
	}
}

// newRequestID returns a process-unique correlation id.
func newRequestID() string {
	u := uuid.New()
	return "req_" + hex.EncodeToString(u[:])
}
