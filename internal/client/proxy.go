package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zaqqye/relay/internal/log"
	"github.com/zaqqye/relay/internal/protocol"
)

// registrationTimeout bounds a single registration attempt.
const registrationTimeout = 5 * time.Second

// CommandHandler serves one named command of a proxy.
type CommandHandler func(ctx context.Context, caller protocol.Caller, args [][]byte) ([][]byte, error)

// NotificationHandler consumes one named notification of a proxy.
type NotificationHandler func(caller protocol.Caller, args [][]byte)

// Proxy is the registration of one domain on a client. It keeps itself
// registered across reconnects and serves the domain's commands and
// notifications.
type Proxy struct {
	client      *Client
	domain      string
	credentials [][]byte
	logger      zerolog.Logger

	handlerMu     sync.RWMutex
	commands      map[string]CommandHandler
	notifications map[string]NotificationHandler

	stateMu      sync.Mutex
	token        string
	registered   chan struct{} // closed while registered
	unregistered chan struct{} // closed while unregistered

	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewProxy binds a domain to a client and starts its registration loop. The
// credentials are presented on every registration attempt.
func NewProxy(c *Client, domain string, credentials [][]byte) (*Proxy, error) {
	ctx, cancel := context.WithCancel(c.ctx)
	p := &Proxy{
		client:        c,
		domain:        domain,
		credentials:   credentials,
		logger:        log.WithComponent("proxy").With().Str("domain", domain).Logger(),
		commands:      make(map[string]CommandHandler),
		notifications: make(map[string]NotificationHandler),
		registered:    make(chan struct{}),
		unregistered:  make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		closed:        make(chan struct{}),
	}
	close(p.unregistered)
	if err := c.addProxy(p); err != nil {
		return nil, err
	}
	p.wg.Add(1)
	go p.registerLoop()
	return p, nil
}

// Domain returns the domain this proxy holds.
func (p *Proxy) Domain() string { return p.domain }

// Client returns the client this proxy is bound to.
func (p *Proxy) Client() *Client { return p.client }

// Close stops the registration loop and releases the domain, telling the
// broker when the connection still stands.
func (p *Proxy) Close() {
	p.once.Do(func() {
		close(p.closed)
		p.cancel()
		p.client.removeProxy(p)
		if p.Registered() {
			ctx, cancel := context.WithTimeout(context.Background(), registrationTimeout)
			defer cancel()
			if err := p.client.unregister(ctx, p.domain); err != nil {
				p.logger.Debug().Err(err).Msg("unregister on close failed")
			}
		}
		p.setToken("")
	})
	p.wg.Wait()
}

// OnCommand installs the handler for a named command.
func (p *Proxy) OnCommand(name string, handler CommandHandler) {
	p.handlerMu.Lock()
	p.commands[name] = handler
	p.handlerMu.Unlock()
}

// OnNotification installs the handler for a named notification type.
func (p *Proxy) OnNotification(name string, handler NotificationHandler) {
	p.handlerMu.Lock()
	p.notifications[name] = handler
	p.handlerMu.Unlock()
}

// Token returns the current registration token, empty when unregistered.
func (p *Proxy) Token() string {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.token
}

// Registered reports whether the proxy currently holds a token.
func (p *Proxy) Registered() bool {
	return p.Token() != ""
}

// Caller returns this proxy's identity as seen by request targets.
func (p *Proxy) Caller() protocol.Caller {
	return protocol.Caller{Domain: p.domain, Token: p.Token()}
}

// WaitRegistered blocks until the proxy holds a registration.
func (p *Proxy) WaitRegistered(ctx context.Context) error {
	for {
		p.stateMu.Lock()
		ch := p.registered
		ok := p.token != ""
		p.stateMu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closed:
			return ErrClosed
		case <-p.client.closed:
			return ErrClosed
		}
	}
}

// setToken flips the registration state and its events.
func (p *Proxy) setToken(token string) {
	p.stateMu.Lock()
	was := p.token != ""
	p.token = token
	now := token != ""
	if now && !was {
		close(p.registered)
		p.unregistered = make(chan struct{})
	} else if !now && was {
		close(p.unregistered)
		p.registered = make(chan struct{})
	}
	p.stateMu.Unlock()

	if now && !was {
		p.logger.Info().Msg("registered")
	} else if !now && was {
		p.logger.Info().Msg("no longer registered")
	}
}

// connectionLost drops the token so the registration loop starts over.
func (p *Proxy) connectionLost() {
	p.setToken("")
}

// registerLoop keeps the domain registered, retrying with backoff while the
// proxy and its client live.
func (p *Proxy) registerLoop() {
	defer p.wg.Done()
	bo := newBackoff()
	for {
		if !p.waitUnregistered() {
			return
		}
		if err := p.client.WaitConnected(p.ctx); err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), registrationTimeout)
		token, err := p.client.register(ctx, p.domain, p.credentials)
		cancel()
		if err != nil {
			delay := bo.next()
			p.logger.Warn().Err(err).Dur("retry_in", delay).Msg("registration failed")
			select {
			case <-time.After(delay):
			case <-p.closed:
				return
			case <-p.client.closed:
				return
			}
			continue
		}
		bo.reset()
		p.setToken(token)
	}
}

// waitUnregistered blocks until the proxy has no registration. It returns
// false when the proxy or client is closed.
func (p *Proxy) waitUnregistered() bool {
	for {
		p.stateMu.Lock()
		ch := p.unregistered
		ok := p.token == ""
		p.stateMu.Unlock()
		if ok {
			select {
			case <-p.closed:
				return false
			case <-p.client.closed:
				return false
			default:
				return true
			}
		}
		select {
		case <-ch:
		case <-p.closed:
			return false
		case <-p.client.closed:
			return false
		}
	}
}

// Request routes a command to a target domain. Targets registered on the
// same client are served locally without a broker round-trip.
func (p *Proxy) Request(ctx context.Context, target, command string, args [][]byte) ([][]byte, error) {
	if err := p.WaitRegistered(ctx); err != nil {
		return nil, err
	}
	if local := p.client.proxy(target); local != nil {
		return local.onRequest(ctx, p.Caller(), command, args)
	}
	return p.client.roundTrip(ctx, func(id string) [][]byte {
		return protocol.Request(id, target, p.domain, command, args)
	})
}

// Notify sends a notification to a target domain, locally when possible.
func (p *Proxy) Notify(ctx context.Context, target, typ string, args [][]byte) error {
	if err := p.WaitRegistered(ctx); err != nil {
		return err
	}
	if local := p.client.proxy(target); local != nil {
		local.onNotification(p.Caller(), typ, args)
		return nil
	}
	return p.client.writeFrames(
		protocol.Notification(p.client.requester.nextID(), target, p.domain, typ, args))
}

// Query asks the broker about a target domain's availability.
func (p *Proxy) Query(ctx context.Context, target string) (bool, int, error) {
	if err := p.WaitRegistered(ctx); err != nil {
		return false, 0, err
	}
	return p.client.Query(ctx, target)
}

// Transmit routes a request to a target domain on behalf of another caller.
func (p *Proxy) Transmit(ctx context.Context, target string, x protocol.Caller, frames [][]byte) ([][]byte, error) {
	if err := p.WaitRegistered(ctx); err != nil {
		return nil, err
	}
	args := [][]byte{[]byte(target), []byte(x.Domain), []byte(x.Token)}
	return p.client.roundTrip(ctx, func(id string) [][]byte {
		return protocol.Command(id, protocol.CmdTransmit, append(args, frames...))
	})
}

// onRequest dispatches one delivered command.
func (p *Proxy) onRequest(ctx context.Context, caller protocol.Caller, command string, args [][]byte) ([][]byte, error) {
	p.handlerMu.RLock()
	handler := p.commands[command]
	p.handlerMu.RUnlock()
	if handler == nil {
		return nil, protocol.NewCallError(protocol.CodeNotFound, "Unknown command: %s.", command)
	}
	return handler(ctx, caller, args)
}

// onNotification dispatches one delivered notification; unknown types are
// dropped.
func (p *Proxy) onNotification(caller protocol.Caller, typ string, args [][]byte) {
	p.handlerMu.RLock()
	handler := p.notifications[typ]
	p.handlerMu.RUnlock()
	if handler == nil {
		p.logger.Warn().
			Str("type", typ).
			Str("source", caller.Domain).
			Msg("ignoring unknown notification")
		return
	}
	handler(caller, args)
}
