package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/unitybridge/unitybridge/internal/transport"
	"github.com/unitybridge/unitybridge/internal/unity"
)

// editorStub speaks the full framed protocol: handshake, get_schema, and
// tool commands. It records every request envelope it sees.
type editorStub struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	requests []unity.Request
}

const stubSchema = `{
	"tools": [
		{
			"name": "execute_code",
			"inputSchema": {
				"type": "object",
				"properties": {"code": {"type": "string"}},
				"required": ["code"]
			}
		}
	],
	"resources": [
		{"name": "info", "uri": "ns://info"}
	]
}`

func startEditorStub(t *testing.T) *editorStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &editorStub{t: t, ln: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *editorStub) serve(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)

	buf := make([]byte, 64)
	n, err := br.Read(buf)
	if err != nil || string(buf[:n]) != transport.HandshakeRequest {
		return
	}
	if _, err := conn.Write([]byte(transport.HandshakeResponse)); err != nil {
		return
	}

	for {
		payload, err := transport.DecodeFrame(br, 0)
		if err != nil {
			return
		}
		if payload == transport.PingMessage {
			frame, _ := transport.EncodeFrame([]byte(transport.PongMessage), 0)
			conn.Write(frame)
			continue
		}

		var req unity.Request
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			continue
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		var result json.RawMessage
		switch req.Command {
		case "get_schema":
			result = json.RawMessage(stubSchema)
		case "execute_code":
			result = json.RawMessage(`{"value": 2}`)
		default:
			result = json.RawMessage(`{}`)
		}
		resp, _ := json.Marshal(unity.Response{ID: req.ID, Status: "success", Result: result})
		frame, err := transport.EncodeFrame(resp, 0)
		if err != nil {
			return
		}
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

func (s *editorStub) lastRequest(command string) (unity.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Command == command {
			return s.requests[i], true
		}
	}
	return unity.Request{}, false
}

// TestEndToEnd_RegisterAndInvoke exercises the whole stack over the wire:
// connect, schema registration, and a positional tool invocation.
func TestEndToEnd_RegisterAndInvoke(t *testing.T) {
	stub := startEditorStub(t)

	client := unity.NewClient(unity.ClientOptions{
		Addr:           stub.ln.Addr().String(),
		ConnectDelay:   10 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
	})
	mgr := unity.NewManager(client, unity.ManagerOptions{
		ConnectAttempts:   1,
		ReconnectAttempts: 1,
		ReconnectDelay:    10 * time.Millisecond,
	})

	ctx := context.Background()
	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer mgr.Disconnect()

	reg := New(mgr)
	if !reg.RegisterFromSchema(ctx) {
		t.Fatal("schema registration failed")
	}
	if _, ok := reg.Tool("execute_code"); !ok {
		t.Fatal("execute_code not registered")
	}
	res, ok := reg.Resource("info")
	if !ok {
		t.Fatal("info resource not registered")
	}
	if len(res.Params) != 0 {
		t.Errorf("expected parameterless resource, got %v", res.Params)
	}

	inv := NewInvoker(reg, mgr)
	result := inv.InvokeTool(ctx, "execute_code", map[string]any{"code": "1+1"})
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected decoded map, got %T", result)
	}
	if m["value"] != float64(2) {
		t.Errorf("unexpected result: %v", m)
	}

	req, ok := stub.lastRequest("execute_code")
	if !ok {
		t.Fatal("peer never saw execute_code")
	}
	if req.Parameters["code"] != "1+1" {
		t.Errorf("unexpected request parameters: %v", req.Parameters)
	}
	if req.ID == "" || req.ClientTimestamp == 0 {
		t.Errorf("incomplete request envelope: %+v", req)
	}

	// The parameterless resource invokes through the access_resource funnel.
	if _, err := inv.CallResource(ctx, "info", map[string]any{}); err != nil {
		t.Fatalf("resource call: %v", err)
	}
	rreq, ok := stub.lastRequest("access_resource")
	if !ok {
		t.Fatal("peer never saw access_resource")
	}
	if rreq.Parameters["resource_name"] != "info" {
		t.Errorf("unexpected resource request: %v", rreq.Parameters)
	}
}
