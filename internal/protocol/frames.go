// Package protocol defines the relay wire format: multipart frame messages
// carried one-per-websocket-binary-message, a small set of message kinds, and
// the numeric status codes shared by broker and clients.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Message kinds, always the first frame of a message.
const (
	KindRequest      = "request"
	KindResponse     = "response"
	KindNotification = "notification"
	KindPing         = "ping"
	KindPong         = "pong"
)

// Broker commands (requests with an empty target domain).
const (
	CmdRegister   = "register"
	CmdUnregister = "unregister"
	CmdQuery      = "query"
	CmdTransmit   = "transmit"
)

// Decode limits. A message exceeding either is rejected and the offending
// connection is closed by the transport layer.
const (
	MaxFrameSize = 1 << 20
	MaxFrames    = 64
)

// EncodeFrames packs frames into a single buffer: each frame is preceded by a
// 4-byte big-endian length.
func EncodeFrames(frames [][]byte) ([]byte, error) {
	if len(frames) > MaxFrames {
		return nil, fmt.Errorf("protocol: %d frames exceeds limit of %d", len(frames), MaxFrames)
	}
	size := 0
	for _, f := range frames {
		if len(f) > MaxFrameSize {
			return nil, fmt.Errorf("protocol: frame of %d bytes exceeds limit of %d", len(f), MaxFrameSize)
		}
		size += 4 + len(f)
	}
	buf := make([]byte, 0, size)
	var hdr [4]byte
	for _, f := range frames {
		binary.BigEndian.PutUint32(hdr[:], uint32(len(f)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, f...)
	}
	return buf, nil
}

// DecodeFrames unpacks a buffer produced by EncodeFrames. Truncated or
// oversize input yields an error, never a partial result.
func DecodeFrames(data []byte) ([][]byte, error) {
	var frames [][]byte
	for len(data) > 0 {
		if len(frames) == MaxFrames {
			return nil, fmt.Errorf("protocol: message exceeds %d frames", MaxFrames)
		}
		if len(data) < 4 {
			return nil, fmt.Errorf("protocol: truncated frame header")
		}
		n := binary.BigEndian.Uint32(data[:4])
		if n > MaxFrameSize {
			return nil, fmt.Errorf("protocol: frame of %d bytes exceeds limit of %d", n, MaxFrameSize)
		}
		data = data[4:]
		if uint32(len(data)) < n {
			return nil, fmt.Errorf("protocol: truncated frame body (want %d, have %d)", n, len(data))
		}
		frames = append(frames, data[:n:n])
		data = data[n:]
	}
	return frames, nil
}

// Envelope is the decoded prefix common to every message.
type Envelope struct {
	Kind      string
	RequestID string
	Rest      [][]byte
}

// ParseEnvelope splits a decoded frame list into kind, request id and the
// remaining frames.
func ParseEnvelope(frames [][]byte) (Envelope, error) {
	if len(frames) < 2 {
		return Envelope{}, fmt.Errorf("protocol: message has %d frames, want at least 2", len(frames))
	}
	env := Envelope{
		Kind:      string(frames[0]),
		RequestID: string(frames[1]),
		Rest:      frames[2:],
	}
	switch env.Kind {
	case KindRequest, KindResponse, KindNotification, KindPing, KindPong:
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("protocol: unknown message kind %q", env.Kind)
	}
}

// Request builds an outbound routed request. The source domain names which of
// the session's registrations is speaking; the broker validates it and fills
// in the matching token before forwarding.
func Request(id, target, source, command string, args [][]byte) [][]byte {
	frames := [][]byte{[]byte(KindRequest), []byte(id), []byte(target), []byte(source), []byte(command)}
	return append(frames, args...)
}

// Command builds a request addressed to the broker itself (empty target).
func Command(id, command string, args [][]byte) [][]byte {
	frames := [][]byte{[]byte(KindRequest), []byte(id), []byte(""), []byte(command)}
	return append(frames, args...)
}

// DeliveredRequest builds a request as forwarded to the serving session: the
// broker fills in the caller's domain and token.
func DeliveredRequest(id, target, source, token, command string, args [][]byte) [][]byte {
	frames := [][]byte{
		[]byte(KindRequest), []byte(id),
		[]byte(target), []byte(source), []byte(token), []byte(command),
	}
	return append(frames, args...)
}

// Notification builds an outbound routed notification.
func Notification(id, target, source, typ string, args [][]byte) [][]byte {
	frames := [][]byte{[]byte(KindNotification), []byte(id), []byte(target), []byte(source), []byte(typ)}
	return append(frames, args...)
}

// DeliveredNotification builds a notification as fanned out to a target
// session.
func DeliveredNotification(id, target, source, token, typ string, args [][]byte) [][]byte {
	frames := [][]byte{
		[]byte(KindNotification), []byte(id),
		[]byte(target), []byte(source), []byte(token), []byte(typ),
	}
	return append(frames, args...)
}

// Response builds a success response carrying result frames.
func Response(id string, result [][]byte) [][]byte {
	frames := [][]byte{[]byte(KindResponse), []byte(id), []byte("200")}
	return append(frames, result...)
}

// ErrorResponse builds an error response from a status code and message.
func ErrorResponse(id string, code int, message string) [][]byte {
	return append([][]byte{[]byte(KindResponse), []byte(id)}, ErrorFrames(code, message)...)
}

// Ping and Pong build heartbeat messages.
func Ping(id string) [][]byte { return [][]byte{[]byte(KindPing), []byte(id)} }

// Pong answers a ping, echoing its request id.
func Pong(id string) [][]byte { return [][]byte{[]byte(KindPong), []byte(id)} }
