package unity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/unitybridge/unitybridge/internal/transport"
)

// ErrDisconnected resolves pending requests when the connection drops so no
// caller waits forever across a dead socket.
var ErrDisconnected = errors.New("disconnected from Unity TCP server")

// TimeoutError reports that a command received no response before its
// deadline. The pending slot is already released when it is returned.
type TimeoutError struct {
	Command string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for response to command %s", e.Command)
}

// CommandError carries a peer-supplied error for a command that completed
// with status "error".
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("error executing command %s: %s", e.Command, e.Message)
}

// IsConnectivityError reports whether err indicates a lost or absent
// connection, the condition ExecuteWithReconnect repairs with its one-shot
// reconnect-and-retry. Substring matching on "not connected" is kept
// deliberately: it is the contract shared with the transport layer.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, transport.ErrNotConnected) || errors.Is(err, ErrDisconnected) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not connected")
}
