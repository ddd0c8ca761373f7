// Package transport implements the framed TCP wire protocol spoken by the
// Unity editor plugin: a fixed handshake, STX/ETX-delimited length-prefixed
// frames, and PING/PONG keep-alives.
package transport

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Wire protocol constants.
const (
	startMarker byte = 0x02 // STX
	endMarker   byte = 0x03 // ETX

	HandshakeRequest  = "HANDSHAKE_REQUEST"
	HandshakeResponse = "HANDSHAKE_RESPONSE"
	PingMessage       = "PING"
	PongMessage       = "PONG"

	// DefaultMaxFrameSize bounds a single frame payload.
	DefaultMaxFrameSize = 10 * 1024 * 1024

	// startScanLimit bounds the forward scan for the start marker so a
	// garbage stream cannot spin the reader forever.
	startScanLimit = 1000
)

// ErrClosed reports that the peer closed the stream. It is distinct from
// framing corruption so callers can tell a clean shutdown from a bad frame.
var ErrClosed = errors.New("connection closed by peer")

// FramingError reports a corrupt frame: bad length, missing markers, or a
// truncated payload. The connection is not usable after one.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "framing error: " + e.Reason
}

// EncodeFrame wraps payload into a wire frame:
// STX | uint32 little-endian length | payload | ETX.
func EncodeFrame(payload []byte, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	if len(payload) == 0 {
		return nil, &FramingError{Reason: "empty payload"}
	}
	if len(payload) > maxSize {
		return nil, &FramingError{Reason: fmt.Sprintf("payload of %d bytes exceeds max frame size %d", len(payload), maxSize)}
	}

	frame := make([]byte, 0, len(payload)+6)
	frame = append(frame, startMarker)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, endMarker)
	return frame, nil
}

// DecodeFrame reads one frame from r and returns its payload.
//
// Stray bytes before the start marker are skipped, up to startScanLimit.
// A frame whose end marker is wrong is rejected, with one documented
// exception: the Unity plugin occasionally emits '}' where ETX belongs.
// When the payload is itself valid JSON that tolerant path accepts the
// frame and logs a warning, matching the peer's long-standing behavior.
//
// End of stream returns ErrClosed.
func DecodeFrame(r *bufio.Reader, maxSize int) (string, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	if err := scanToStart(r); err != nil {
		return "", err
	}

	var lengthBytes [4]byte
	if _, err := io.ReadFull(r, lengthBytes[:]); err != nil {
		return "", closedOr(err, "stream ended while reading frame length")
	}
	length := binary.LittleEndian.Uint32(lengthBytes[:])
	if length == 0 || length > uint32(maxSize) {
		return "", &FramingError{Reason: fmt.Sprintf("invalid frame length %d", length)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", closedOr(err, "stream ended while reading frame payload")
	}

	end, err := r.ReadByte()
	if err != nil {
		return "", closedOr(err, "stream ended while reading end marker")
	}
	if end != endMarker {
		// The peer sometimes sends '}' instead of ETX on JSON payloads.
		// This is a peer-side framing bug; accept the frame only when the
		// payload stands alone as valid JSON, and flag it.
		if end == '}' && json.Valid(payload) {
			slog.Warn("transport: frame ended with '}' instead of ETX, accepting valid JSON payload")
			return string(payload), nil
		}
		return "", &FramingError{Reason: fmt.Sprintf("bad end marker 0x%02x", end)}
	}

	return string(payload), nil
}

// scanToStart advances r to just past the next start marker.
func scanToStart(r *bufio.Reader) error {
	skipped := 0
	for skipped < startScanLimit {
		b, err := r.ReadByte()
		if err != nil {
			return closedOr(err, "stream ended while scanning for start marker")
		}
		if b == startMarker {
			if skipped > 0 {
				slog.Debug("transport: skipped stray bytes before start marker", "count", skipped)
			}
			return nil
		}
		skipped++
	}
	return &FramingError{Reason: fmt.Sprintf("no start marker within %d bytes", startScanLimit)}
}

// closedOr maps EOF-style read errors to ErrClosed and anything else to a
// framing error with the given reason.
func closedOr(err error, reason string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrClosed
	}
	return fmt.Errorf("%s: %w", reason, err)
}
