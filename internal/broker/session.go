package broker

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zaqqye/relay/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256

	// Sessions expire after this long without an inbound message. Clients
	// counter it by pinging every heartbeatInterval.
	sessionTimeout = 5 * time.Second
	sweepInterval  = time.Second

	maxMessageSize = protocol.MaxFrames * (4 + protocol.MaxFrameSize)
)

// session is one websocket connection on the broker side.
type session struct {
	id     string
	broker *Broker
	conn   *websocket.Conn
	send   chan []byte
	quit   chan struct{}
	logger zerolog.Logger

	lastSeen atomic.Int64 // unix nanos
}

func newSession(b *Broker, conn *websocket.Conn, id string) *session {
	s := &session{
		id:     id,
		broker: b,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		quit:   make(chan struct{}),
		logger: b.logger.With().Str("session", id).Logger(),
	}
	s.touch()
	return s
}

func (s *session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// enqueue hands a pre-encoded message to the write pump. Sessions that
// cannot drain their queue are disconnected rather than block the broker.
func (s *session) enqueue(msg []byte) bool {
	select {
	case s.send <- msg:
		return true
	case <-s.quit:
		return false
	default:
		s.logger.Warn().Msg("send queue full, dropping session")
		s.conn.Close()
		return false
	}
}

// sendFrames encodes and enqueues a frame list.
func (s *session) sendFrames(frames [][]byte) bool {
	msg, err := protocol.EncodeFrames(frames)
	if err != nil {
		s.logger.Error().Err(err).Msg("could not encode outbound message")
		return false
	}
	return s.enqueue(msg)
}

func (s *session) readPump() {
	defer func() {
		s.broker.unregister <- s
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.BinaryMessage {
			continue
		}
		s.touch()
		frames, err := protocol.DecodeFrames(data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("undecodable message, dropping session")
			break
		}
		env, err := protocol.ParseEnvelope(frames)
		if err != nil {
			s.logger.Debug().Err(err).Msg("ignoring malformed message")
			continue
		}
		s.broker.dispatch(s, env)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-s.quit:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
