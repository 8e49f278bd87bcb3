// Package client implements the broker client: a self-healing websocket
// connection, request correlation, and per-domain proxies that register
// themselves and serve commands.
package client

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zaqqye/relay/internal/log"
	"github.com/zaqqye/relay/internal/protocol"
)

// heartbeatInterval is how often a connected client pings the broker, well
// inside the broker's 5s liveness deadline.
const heartbeatInterval = 3 * time.Second

// ErrClosed is returned for operations on a closed client.
var ErrClosed = errors.New("client: closed")

// Client owns one broker connection and the proxies multiplexed over it.
type Client struct {
	endpoint  string
	dialer    *websocket.Dialer
	requester *requester
	logger    zerolog.Logger

	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected chan struct{} // closed while a connection is up
	writeMu   sync.Mutex

	proxyMu sync.RWMutex
	proxies map[string]*Proxy

	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New builds a client for a broker endpoint and starts its connection loop.
func New(endpoint string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		endpoint:  endpoint,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		requester: newRequester(),
		logger:    log.WithComponent("client").With().Str("endpoint", endpoint).Logger(),
		connected: make(chan struct{}),
		proxies:   make(map[string]*Proxy),
		ctx:       ctx,
		cancel:    cancel,
		closed:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Endpoint returns the broker endpoint this client dials.
func (c *Client) Endpoint() string { return c.endpoint }

// Close tears the connection down and stops the reconnect loop. Pending
// requests fail with 503.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.cancel()
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	})
	c.wg.Wait()
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// WaitConnected blocks until the client holds a live connection, the context
// ends, or the client is closed.
func (c *Client) WaitConnected(ctx context.Context) error {
	for {
		c.connMu.RLock()
		ch := c.connected
		up := c.conn != nil
		c.connMu.RUnlock()
		if up {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return ErrClosed
		}
	}
}

// run dials the broker forever, backing off between failures.
func (c *Client) run() {
	defer c.wg.Done()
	bo := newBackoff()
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		conn, _, err := c.dialer.DialContext(c.ctx, c.endpoint, nil)
		if err != nil {
			delay := bo.next()
			c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("connection failed")
			select {
			case <-time.After(delay):
			case <-c.closed:
				return
			}
			continue
		}
		bo.reset()
		c.setConn(conn)
		c.logger.Info().Msg("connected")

		stop := make(chan struct{})
		c.wg.Add(1)
		go c.heartbeat(conn, stop)
		c.readLoop(conn)
		close(stop)

		c.clearConn(conn)
		select {
		case <-c.closed:
			return
		default:
			c.logger.Warn().Msg("connection lost")
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	close(c.connected)
	c.connMu.Unlock()
}

func (c *Client) clearConn(conn *websocket.Conn) {
	conn.Close()
	c.connMu.Lock()
	c.conn = nil
	c.connected = make(chan struct{})
	c.connMu.Unlock()

	c.requester.failAll()
	for _, p := range c.snapshotProxies() {
		p.connectionLost()
	}
}

func (c *Client) heartbeat(conn *websocket.Conn, stop chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.writeFrames(protocol.Ping(c.requester.nextID())); err != nil {
				conn.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		frames, err := protocol.DecodeFrames(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("undecodable message, dropping connection")
			return
		}
		env, err := protocol.ParseEnvelope(frames)
		if err != nil {
			c.logger.Debug().Err(err).Msg("ignoring malformed message")
			continue
		}
		c.handleMessage(env)
	}
}

func (c *Client) handleMessage(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindResponse:
		if !c.requester.resolve(env.RequestID, env.Rest) {
			c.logger.Debug().Str("request_id", env.RequestID).Msg("response matched no pending request")
		}
	case protocol.KindRequest:
		go c.handleDelivered(env)
	case protocol.KindNotification:
		go c.handleNotification(env)
	case protocol.KindPing:
		c.writeFrames(protocol.Pong(env.RequestID))
	case protocol.KindPong:
	}
}

// handleDelivered serves one request forwarded by the broker and writes back
// exactly one response.
func (c *Client) handleDelivered(env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("request handler panicked")
			c.writeFrames(protocol.ErrorResponse(env.RequestID, protocol.CodeInternal, "Internal error."))
		}
	}()

	if len(env.Rest) < 4 {
		c.writeFrames(protocol.ErrorResponse(env.RequestID, protocol.CodeBadRequest, "Invalid request."))
		return
	}
	target := string(env.Rest[0])
	caller := protocol.Caller{Domain: string(env.Rest[1]), Token: string(env.Rest[2])}
	command := string(env.Rest[3])
	args := env.Rest[4:]

	proxy := c.proxy(target)
	if proxy == nil {
		c.writeFrames(protocol.ErrorResponse(env.RequestID, protocol.CodeNotFound,
			fmt.Sprintf("Unknown domain: %s.", target)))
		return
	}

	result, err := proxy.onRequest(c.ctx, caller, command, args)
	if err != nil {
		callErr := toCallError(err)
		c.writeFrames(protocol.ErrorResponse(env.RequestID, callErr.Code, callErr.Message))
		return
	}
	c.writeFrames(protocol.Response(env.RequestID, result))
}

func (c *Client) handleNotification(env protocol.Envelope) {
	if len(env.Rest) < 4 {
		return
	}
	target := string(env.Rest[0])
	caller := protocol.Caller{Domain: string(env.Rest[1]), Token: string(env.Rest[2])}
	typ := string(env.Rest[3])
	args := env.Rest[4:]

	proxy := c.proxy(target)
	if proxy == nil {
		c.logger.Debug().Str("target", target).Msg("dropping notification for unknown domain")
		return
	}
	proxy.onNotification(caller, typ, args)
}

func toCallError(err error) *protocol.CallError {
	var callErr *protocol.CallError
	if errors.As(err, &callErr) {
		return callErr
	}
	return protocol.NewCallError(protocol.CodeInternal, "Internal error.")
}

// writeFrames encodes and writes one message on the current connection.
func (c *Client) writeFrames(frames [][]byte) error {
	msg, err := protocol.EncodeFrames(frames)
	if err != nil {
		return err
	}
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return protocol.NewCallError(protocol.CodeUnavailable, "Not connected.")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.BinaryMessage, msg)
}

// roundTrip sends a request built around a fresh id and waits for its
// response frames.
func (c *Client) roundTrip(ctx context.Context, build func(id string) [][]byte) ([][]byte, error) {
	id, ch := c.requester.track()
	if err := c.writeFrames(build(id)); err != nil {
		c.requester.drop(id)
		return nil, err
	}
	select {
	case rest := <-ch:
		return protocol.ParseResponse(rest)
	case <-ctx.Done():
		c.requester.drop(id)
		return nil, ctx.Err()
	case <-c.closed:
		c.requester.drop(id)
		return nil, ErrClosed
	}
}

// register performs the broker registration command for a domain and returns
// the issued token.
func (c *Client) register(ctx context.Context, domain string, credentials [][]byte) (string, error) {
	result, err := c.roundTrip(ctx, func(id string) [][]byte {
		return protocol.Command(id, protocol.CmdRegister,
			append([][]byte{[]byte(domain)}, credentials...))
	})
	if err != nil {
		return "", err
	}
	if len(result) != 1 {
		return "", protocol.ErrInvalidReply()
	}
	return string(result[0]), nil
}

func (c *Client) unregister(ctx context.Context, domain string) error {
	_, err := c.roundTrip(ctx, func(id string) [][]byte {
		return protocol.Command(id, protocol.CmdUnregister, [][]byte{[]byte(domain)})
	})
	return err
}

// Query asks the broker whether a domain is available and how many instances
// serve it.
func (c *Client) Query(ctx context.Context, domain string) (bool, int, error) {
	result, err := c.roundTrip(ctx, func(id string) [][]byte {
		return protocol.Command(id, protocol.CmdQuery, [][]byte{[]byte(domain)})
	})
	if err != nil {
		return false, 0, err
	}
	if len(result) != 2 {
		return false, 0, protocol.ErrInvalidReply()
	}
	count, err := strconv.Atoi(string(result[1]))
	if err != nil {
		return false, 0, protocol.ErrInvalidReply()
	}
	return string(result[0]) == "1", count, nil
}

// addProxy binds a proxy to its domain on this client.
func (c *Client) addProxy(p *Proxy) error {
	c.proxyMu.Lock()
	defer c.proxyMu.Unlock()
	if _, ok := c.proxies[p.domain]; ok {
		return fmt.Errorf("client: domain %s already has a proxy", p.domain)
	}
	c.proxies[p.domain] = p
	return nil
}

func (c *Client) removeProxy(p *Proxy) {
	c.proxyMu.Lock()
	if c.proxies[p.domain] == p {
		delete(c.proxies, p.domain)
	}
	c.proxyMu.Unlock()
}

// proxy returns the proxy registered for a domain, if any.
func (c *Client) proxy(domain string) *Proxy {
	c.proxyMu.RLock()
	defer c.proxyMu.RUnlock()
	return c.proxies[domain]
}

func (c *Client) snapshotProxies() []*Proxy {
	c.proxyMu.RLock()
	defer c.proxyMu.RUnlock()
	out := make([]*Proxy, 0, len(c.proxies))
	for _, p := range c.proxies {
		out = append(out, p)
	}
	return out
}
