package unity

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/unitybridge/unitybridge/internal/transport"
)

// fakePeer is a minimal Unity-side TCP server: it accepts connections,
// completes the handshake, then hands each framed stream to handle.
type fakePeer struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	accepted int
	conns    []net.Conn
}

// peerHandler processes one handshaken connection.
type peerHandler func(conn net.Conn, br *bufio.Reader)

func newFakePeer(t *testing.T, handle peerHandler) *fakePeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &fakePeer{t: t, ln: ln}
	t.Cleanup(p.close)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.mu.Lock()
			p.accepted++
			p.conns = append(p.conns, conn)
			p.mu.Unlock()

			go func(conn net.Conn) {
				br := bufio.NewReader(conn)
				buf := make([]byte, 64)
				n, err := br.Read(buf)
				if err != nil || string(buf[:n]) != transport.HandshakeRequest {
					conn.Close()
					return
				}
				if _, err := conn.Write([]byte(transport.HandshakeResponse)); err != nil {
					conn.Close()
					return
				}
				if handle != nil {
					handle(conn, br)
				}
			}(conn)
		}
	}()
	return p
}

func (p *fakePeer) addr() string { return p.ln.Addr().String() }

func (p *fakePeer) acceptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted
}

// dropConns closes every live connection without stopping the listener,
// simulating an editor-side drop.
func (p *fakePeer) dropConns() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		c.Close()
	}
	p.conns = nil
}

func (p *fakePeer) close() {
	p.ln.Close()
	p.dropConns()
}

// readRequest decodes the next non-keep-alive frame as a Request envelope.
func readRequest(br *bufio.Reader) (Request, error) {
	for {
		payload, err := transport.DecodeFrame(br, 0)
		if err != nil {
			return Request{}, err
		}
		if payload == transport.PingMessage || payload == transport.PongMessage {
			continue
		}
		var req Request
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return Request{}, err
		}
		return req, nil
	}
}

func sendResponse(conn net.Conn, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	frame, err := transport.EncodeFrame(payload, 0)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

// echoHandler answers every request with a success result echoing the
// command name.
func echoHandler(conn net.Conn, br *bufio.Reader) {
	for {
		req, err := readRequest(br)
		if err != nil {
			return
		}
		result, _ := json.Marshal(map[string]any{"echo": req.Command})
		if err := sendResponse(conn, Response{ID: req.ID, Status: "success", Result: result}); err != nil {
			return
		}
	}
}

// silentHandler reads requests and never answers.
func silentHandler(_ net.Conn, br *bufio.Reader) {
	for {
		if _, err := readRequest(br); err != nil {
			return
		}
	}
}

func newTestClient(p *fakePeer, opts ClientOptions) *Client {
	opts.Addr = p.addr()
	if opts.ConnectDelay == 0 {
		opts.ConnectDelay = 10 * time.Millisecond
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	return NewClient(opts)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
