// Package gateway exposes the bridge to local callers over a WebSocket
// endpoint. It is a thin adapter: every action maps onto the supervisor or
// the capability invoker, and every failure comes back as a structured
// error payload, never a dropped connection.
package gateway

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

	"github.com/unitybridge/unitybridge/internal/registry"
	"github.com/unitybridge/unitybridge/internal/unity"
)

// request is one inbound gateway message.
type request struct {
	ID         string         `json:"id,omitempty"`
	Action     string         `json:"action"`
	Name       string         `json:"name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Args       []any          `json:"args,omitempty"`
}

// response is one outbound gateway message. Event pushes reuse the same
// shape with Event set and no ID.
type response struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Event  string `json:"event,omitempty"`
}

// Server is the WebSocket gateway.
type Server struct {
	addr    string
	mgr     *unity.Manager
	reg     *registry.Registry
	invoker *registry.Invoker

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// wsClient is one connected front-end caller. gorilla connections allow a
// single writer, so every write goes through the client's mutex.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// New creates a gateway listening on addr. The gateway registers
// supervisor listeners so every front-end connection sees
// connected/disconnected events.
func New(addr string, mgr *unity.Manager, reg *registry.Registry, invoker *registry.Invoker) *Server {
	s := &Server{
		addr:    addr,
		mgr:     mgr,
		reg:     reg,
		invoker: invoker,
		upgrader: websocket.Upgrader{
			// Local tool front ends connect from file:// and app origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
	mgr.OnConnected(func() error {
		s.broadcast("connected")
		return nil
	})
	mgr.OnDisconnected(func() error {
		s.broadcast("disconnected")
		return nil
	})
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)

	srv := &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("gateway: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"connected": s.mgr.Connected(),
		"state":     s.mgr.State(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: upgrade failed", "err", err)
		return
	}

	client := &wsClient{conn: conn}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	slog.Info("gateway: client connected", "remote", r.RemoteAddr, "active", n)

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.clients, client)
		n := len(s.clients)
		s.mu.Unlock()
		slog.Info("gateway: client disconnected", "remote", r.RemoteAddr, "active", n)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			_ = client.writeJSON(response{Status: "error", Error: "invalid JSON message"})
			continue
		}

		resp := s.dispatch(r.Context(), req)
		if err := client.writeJSON(resp); err != nil {
			slog.Error("gateway: write failed", "err", err)
			return
		}
	}
}

// dispatch executes one gateway action. It never panics outward; every
// outcome is a structured response.
func (s *Server) dispatch(ctx context.Context, req request) response {
	switch req.Action {
	case "connect":
		if err := s.mgr.Connect(ctx); err != nil {
			return errResponse(req.ID, err.Error())
		}
		return okResponse(req.ID, map[string]any{"connected": true})

	case "disconnect":
		s.mgr.Disconnect()
		return okResponse(req.ID, map[string]any{"connected": false})

	case "status":
		return okResponse(req.ID, map[string]any{
			"connected": s.mgr.Connected(),
			"state":     s.mgr.State(),
			"tools":     len(s.reg.Tools()),
			"resources": len(s.reg.Resources()),
		})

	case "register_schema":
		ok := s.reg.RegisterFromSchema(ctx)
		return okResponse(req.ID, map[string]any{"registered": ok})

	case "list_capabilities":
		return okResponse(req.ID, s.describeCapabilities())

	case "invoke_tool":
		if req.Name == "" {
			return errResponse(req.ID, "invoke_tool requires a name")
		}
		var result any
		if len(req.Args) > 0 {
			raw, err := s.invoker.CallTool(ctx, req.Name, req.Args, req.Parameters)
			if err != nil {
				return errResponse(req.ID, err.Error())
			}
			result = rawToAny(raw)
		} else {
			result = s.invoker.InvokeTool(ctx, req.Name, req.Parameters)
		}
		return resultResponse(req.ID, result)

	case "invoke_resource":
		if req.Name == "" {
			return errResponse(req.ID, "invoke_resource requires a name")
		}
		result := s.invoker.InvokeResource(ctx, req.Name, req.Parameters)
		return resultResponse(req.ID, result)

	default:
		return errResponse(req.ID, fmt.Sprintf("unknown action %q", req.Action))
	}
}

func (s *Server) describeCapabilities() map[string]any {
	tools := make([]map[string]any, 0)
	for _, t := range s.reg.Tools() {
		params := make([]map[string]any, 0, len(t.Params))
		for _, p := range t.Params {
			params = append(params, map[string]any{
				"name":     p.Name,
				"type":     p.Type,
				"required": p.Required,
			})
		}
		tools = append(tools, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  params,
		})
	}

	resources := make([]map[string]any, 0)
	for _, r := range s.reg.Resources() {
		resources = append(resources, map[string]any{
			"name":        r.Name,
			"description": r.Description,
			"uri":         r.URI,
			"parameters":  r.Params,
		})
	}

	return map[string]any{"tools": tools, "resources": resources}
}

// broadcast pushes a connection event to every active front-end client.
// Failed clients are dropped.
func (s *Server) broadcast(event string) {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	msg := response{Status: "success", Event: event}
	for _, c := range clients {
		if err := c.writeJSON(msg); err != nil {
			slog.Warn("gateway: dropping client after failed event push", "err", err)
			c.conn.Close()
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
		}
	}
}

// resultResponse maps an invoker result onto the wire response. Invoker
// results already shape failures as {"error": ...}; surface those as
// error-status responses so callers need only one check.
func resultResponse(id string, result any) response {
	if m, ok := result.(map[string]any); ok {
		if msg, ok := m["error"].(string); ok && len(m) == 1 {
			return errResponse(id, msg)
		}
	}
	return okResponse(id, result)
}

func okResponse(id string, result any) response {
	return response{ID: id, Status: "success", Result: result}
}

func errResponse(id, msg string) response {
	return response{ID: id, Status: "error", Error: msg}
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
