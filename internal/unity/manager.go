package unity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State is the supervisor's connection lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// ManagerOptions configures the connection supervisor.
type ManagerOptions struct {
	// ConnectAttempts is the linear-backoff try count for an explicit
	// Connect call. Zero means 5.
	ConnectAttempts int

	// ReconnectAttempts bounds one reconnect sequence. Zero means 5.
	ReconnectAttempts int

	// ReconnectDelay is the exponential-backoff base between reconnect
	// attempts (delay × 2^(attempt-1)). Zero means 2s.
	ReconnectDelay time.Duration

	// AutoReconnect starts a reconnect sequence when the transport drops
	// on its own.
	AutoReconnect bool

	// autoReconnectGrace delays the automatic reconnect so a deliberate
	// disconnect is not immediately fought by the supervisor.
	AutoReconnectGrace time.Duration
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = 5
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.AutoReconnectGrace <= 0 {
		o.AutoReconnectGrace = time.Second
	}
	return o
}

// Listener observes a connection state transition. A failing listener is
// logged and never blocks the transition or the other listeners.
type Listener func() error

// Manager owns the connection lifecycle: explicit connect/disconnect,
// bounded exponential-backoff reconnection, coalescing of concurrent
// reconnect requests, and state-transition listeners.
type Manager struct {
	client *Client
	opts   ManagerOptions

	reconnects singleflight.Group

	mu            sync.Mutex
	state         State
	expectingDrop bool // set during a deliberate Disconnect

	connListeners []Listener
	discListeners []Listener
}

// NewManager wires a supervisor around client. The manager registers
// itself for the client's disconnect notification; no other component may
// own that callback.
func NewManager(client *Client, opts ManagerOptions) *Manager {
	m := &Manager{
		client: client,
		opts:   opts.withDefaults(),
		state:  StateIdle,
	}
	client.OnDisconnected(m.handleDisconnect)
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a live connection exists.
func (m *Manager) Connected() bool { return m.client.Connected() }

// OnConnected registers a listener invoked after every successful
// connect or reconnect.
func (m *Manager) OnConnected(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connListeners = append(m.connListeners, l)
}

// OnDisconnected registers a listener invoked after every disconnect.
func (m *Manager) OnDisconnected(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discListeners = append(m.discListeners, l)
}

// Connect establishes the connection. Connecting while connected is a
// no-op success.
func (m *Manager) Connect(ctx context.Context) error {
	if m.client.Connected() {
		slog.Info("unity: already connected")
		return nil
	}

	m.setState(StateConnecting)
	if err := m.client.Connect(ctx, m.opts.ConnectAttempts); err != nil {
		m.setState(StateIdle)
		return err
	}
	m.setConnected()
	m.notify(m.snapshotListeners(true), "connection")
	return nil
}

// Disconnect tears the connection down and notifies disconnection
// listeners. It is idempotent.
func (m *Manager) Disconnect() {
	if !m.client.Connected() {
		slog.Info("unity: not connected")
		return
	}

	m.mu.Lock()
	m.expectingDrop = true
	m.mu.Unlock()

	m.client.Disconnect()
	m.setState(StateIdle)
	m.notify(m.snapshotListeners(false), "disconnection")
}

// Reconnect runs a bounded reconnect sequence with exponential backoff.
// If already connected it returns immediately. Concurrent callers coalesce
// onto one in-flight sequence and share its outcome.
func (m *Manager) Reconnect(ctx context.Context) error {
	if m.client.Connected() {
		slog.Info("unity: already connected")
		return nil
	}

	_, err, shared := m.reconnects.Do("reconnect", func() (any, error) {
		return nil, m.reconnectSequence(ctx)
	})
	if shared {
		slog.Debug("unity: joined in-flight reconnect")
	}
	return err
}

func (m *Manager) reconnectSequence(ctx context.Context) error {
	m.setState(StateReconnecting)
	slog.Info("unity: reconnecting", "maxAttempts", m.opts.ReconnectAttempts)

	for attempt := 1; attempt <= m.opts.ReconnectAttempts; attempt++ {
		slog.Info("unity: reconnection attempt", "attempt", attempt, "max", m.opts.ReconnectAttempts)

		if err := m.client.Connect(ctx, 1); err != nil {
			slog.Error("unity: reconnection attempt failed", "attempt", attempt, "err", err)
		} else {
			m.setConnected()
			m.notify(m.snapshotListeners(true), "connection")
			return nil
		}

		if attempt < m.opts.ReconnectAttempts {
			delay := m.opts.ReconnectDelay * (1 << (attempt - 1))
			slog.Info("unity: waiting before next reconnection attempt", "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				m.setState(StateIdle)
				return ctx.Err()
			}
		}
	}

	m.setState(StateIdle)
	return fmt.Errorf("failed to reconnect after %d attempts", m.opts.ReconnectAttempts)
}

// ExecuteWithReconnect runs op, reconnecting first when there is no live
// connection. If op fails with a connectivity error the manager reconnects
// once and retries op once; any other error propagates unchanged. The
// single bounded retry keeps a dropped peer from turning into a retry
// storm.
func (m *Manager) ExecuteWithReconnect(ctx context.Context, op func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if !m.client.Connected() {
		slog.Info("unity: not connected, attempting to reconnect before operation")
		if err := m.Reconnect(ctx); err != nil {
			return nil, fmt.Errorf("not connected to Unity and reconnection failed: %w", err)
		}
	}

	result, err := op(ctx)
	if err == nil {
		return result, nil
	}
	if !IsConnectivityError(err) {
		return nil, err
	}

	slog.Warn("unity: connectivity error during operation", "err", err)
	if rerr := m.Reconnect(ctx); rerr != nil {
		return nil, fmt.Errorf("operation failed and reconnection failed: %w", err)
	}
	slog.Info("unity: retrying operation after successful reconnection")
	return op(ctx)
}

// SendCommand issues one command through the underlying client. It is the
// single send path used by the capability layer.
func (m *Manager) SendCommand(ctx context.Context, command string, parameters map[string]any) (json.RawMessage, error) {
	return m.client.SendCommand(ctx, command, parameters)
}

// handleDisconnect reacts to an asynchronous drop reported by the client's
// read loop.
func (m *Manager) handleDisconnect() {
	m.mu.Lock()
	deliberate := m.expectingDrop
	m.expectingDrop = false
	m.mu.Unlock()
	if deliberate {
		return
	}

	slog.Info("unity: connection dropped")
	m.setState(StateIdle)
	m.notify(m.snapshotListeners(false), "disconnection")

	if m.opts.AutoReconnect {
		go func() {
			time.Sleep(m.opts.AutoReconnectGrace)
			if err := m.Reconnect(context.Background()); err != nil {
				slog.Error("unity: automatic reconnection failed", "err", err)
			}
		}()
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// setConnected records a live connection and clears any leftover
// deliberate-disconnect marker so the next genuine drop is handled.
func (m *Manager) setConnected() {
	m.mu.Lock()
	m.state = StateConnected
	m.expectingDrop = false
	m.mu.Unlock()
}

func (m *Manager) snapshotListeners(connected bool) []Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.discListeners
	if connected {
		src = m.connListeners
	}
	out := make([]Listener, len(src))
	copy(out, src)
	return out
}

// notify invokes each listener independently; failures are logged and do
// not affect the others.
func (m *Manager) notify(listeners []Listener, kind string) {
	for _, l := range listeners {
		if err := l(); err != nil {
			slog.Error("unity: listener failed", "kind", kind, "err", err)
		}
	}
}
