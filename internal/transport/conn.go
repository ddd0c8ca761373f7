package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ErrNotConnected reports an operation attempted without a live connection.
// Its text is part of the contract: the connection supervisor recognizes
// "not connected" failures as the trigger for its one-shot reconnect retry.
var ErrNotConnected = errors.New("not connected to Unity TCP server")

// Options configures a Conn.
type Options struct {
	// Addr is the host:port of the Unity editor TCP listener.
	Addr string

	// HandshakeTimeout bounds the wait for HANDSHAKE_RESPONSE. Zero means 5s.
	HandshakeTimeout time.Duration

	// KeepAliveInterval is the idle time after which a PING frame is sent.
	// Zero means 30s.
	KeepAliveInterval time.Duration

	// MaxFrameSize bounds a single frame payload. Zero means 10 MiB.
	MaxFrameSize int
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = 30 * time.Second
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	return o
}

// Conn is one framed TCP connection to the Unity editor.
//
// A Conn is single-use: Dial once, then SendFrame/ReceiveFrame until Close
// or a receive error. Frame writes are atomic; concurrent SendFrame calls
// never interleave partial frames. ReceiveFrame must be called from a
// single reader goroutine.
type Conn struct {
	opts Options

	writeMu  sync.Mutex // serializes frame writes, guards lastSend
	lastSend time.Time

	mu        sync.Mutex // guards nc, connected
	nc        net.Conn
	br        *bufio.Reader
	connected bool

	done      chan struct{}
	closeOnce sync.Once
}

// New creates an unconnected Conn for the given options.
func New(opts Options) *Conn {
	return &Conn{
		opts: opts.withDefaults(),
		done: make(chan struct{}),
	}
}

// Dial opens the TCP connection and performs the handshake. It makes a
// single attempt; retry policy belongs to the caller.
func (c *Conn) Dial(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", c.opts.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.Addr, err)
	}

	br := bufio.NewReader(nc)
	if err := c.handshake(nc, br); err != nil {
		nc.Close()
		return err
	}

	c.mu.Lock()
	c.nc = nc
	c.br = br
	c.connected = true
	c.mu.Unlock()

	c.writeMu.Lock()
	c.lastSend = time.Now()
	c.writeMu.Unlock()

	go c.keepAliveLoop()

	slog.Info("transport: connected", "addr", c.opts.Addr)
	return nil
}

// handshake sends the handshake token and expects the exact response token
// within the handshake timeout. Anything else fails the connection attempt.
func (c *Conn) handshake(nc net.Conn, br *bufio.Reader) error {
	if _, err := nc.Write([]byte(HandshakeRequest)); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	if err := nc.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout)); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}
	defer nc.SetReadDeadline(time.Time{})

	// ReadFull tolerates the response arriving in fragments; the deadline
	// still bounds the whole exchange.
	buf := make([]byte, len(HandshakeResponse))
	if _, err := io.ReadFull(br, buf); err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}
	if string(buf) != HandshakeResponse {
		return fmt.Errorf("invalid handshake response %q", string(buf))
	}
	return nil
}

// Connected reports whether the connection is live.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendFrame encodes and writes one frame. The whole frame is written under
// the write lock so concurrent senders cannot interleave.
func (c *Conn) SendFrame(payload string) error {
	c.mu.Lock()
	nc := c.nc
	connected := c.connected
	c.mu.Unlock()
	if !connected || nc == nil {
		return ErrNotConnected
	}

	frame, err := EncodeFrame([]byte(payload), c.opts.MaxFrameSize)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := nc.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	c.lastSend = time.Now()
	return nil
}

// ReceiveFrame returns the next application payload.
//
// Keep-alive traffic never surfaces here: a received PING is answered with
// PONG, a received PONG is swallowed. Corrupt frames are logged and the
// connection keeps scanning for the next frame; ErrClosed means the peer
// went away.
func (c *Conn) ReceiveFrame() (string, error) {
	c.mu.Lock()
	br := c.br
	connected := c.connected
	c.mu.Unlock()
	if !connected || br == nil {
		return "", ErrNotConnected
	}

	corrupt := 0
	for {
		payload, err := DecodeFrame(br, c.opts.MaxFrameSize)
		if err != nil {
			var fe *FramingError
			if errors.As(err, &fe) && corrupt < 3 {
				// A corrupt frame is not fatal by itself; drop it and
				// resynchronize on the next start marker. Repeated
				// corruption means the stream is lost.
				corrupt++
				slog.Error("transport: discarding corrupt frame", "err", err)
				continue
			}
			return "", err
		}
		corrupt = 0

		switch payload {
		case PingMessage:
			if err := c.SendFrame(PongMessage); err != nil {
				slog.Error("transport: failed to answer PING", "err", err)
			}
			continue
		case PongMessage:
			continue
		}
		return payload, nil
	}
}

// keepAliveLoop sends a PING frame whenever no frame has been sent for the
// keep-alive interval. It exits when the connection closes.
func (c *Conn) keepAliveLoop() {
	ticker := time.NewTicker(c.opts.KeepAliveInterval / 3)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			idle := time.Since(c.lastSend)
			c.writeMu.Unlock()
			if idle < c.opts.KeepAliveInterval {
				continue
			}
			if err := c.SendFrame(PingMessage); err != nil {
				if !errors.Is(err, ErrNotConnected) {
					slog.Error("transport: keep-alive send failed", "err", err)
				}
				return
			}
			slog.Debug("transport: sent keep-alive PING")
		}
	}
}

// Close shuts the connection down. It is idempotent and unblocks any
// pending ReceiveFrame.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.connected = false
		nc := c.nc
		c.mu.Unlock()
		if nc != nil {
			err = nc.Close()
		}
		slog.Info("transport: disconnected", "addr", c.opts.Addr)
	})
	return err
}
