// Package broker implements the message broker: it owns every websocket
// session, tracks domain registrations, and routes requests and
// notifications between sessions.
package broker

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zaqqye/relay/internal/log"
	"github.com/zaqqye/relay/internal/metrics"
	"github.com/zaqqye/relay/internal/store"
	"github.com/zaqqye/relay/internal/token"
)

// Options configures a Broker.
type Options struct {
	Store          store.Store
	Issuer         *token.Issuer
	Secret         []byte
	RequestTimeout time.Duration
}

// Broker routes traffic between registered domains.
type Broker struct {
	store          store.Store
	issuer         *token.Issuer
	secret         []byte
	requestTimeout time.Duration

	registry *registry
	pending  *pendingTable

	register   chan *session
	unregister chan *session

	// sessions is owned by the Run loop; index mirrors it for concurrent
	// introspection by the HTTP API.
	sessions map[*session]struct{}
	mu       sync.RWMutex
	index    map[string]*session

	done    chan struct{}
	stopped chan struct{}
	logger  zerolog.Logger
}

// New builds a Broker. Run must be called before it accepts sessions.
func New(opts Options) *Broker {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Broker{
		store:          opts.Store,
		issuer:         opts.Issuer,
		secret:         opts.Secret,
		requestTimeout: opts.RequestTimeout,
		registry:       newRegistry(),
		pending:        newPendingTable(),
		register:       make(chan *session),
		unregister:     make(chan *session),
		sessions:       make(map[*session]struct{}),
		index:          make(map[string]*session),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
		logger:         log.WithComponent("broker"),
	}
}

// Run owns the session set: registrations, disconnects and the liveness
// sweep. It returns once Close has been called and every session is gone.
func (b *Broker) Run() {
	defer close(b.stopped)
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	done := b.done
	closing := false
	for {
		select {
		case s := <-b.register:
			b.addSession(s)
			if closing {
				s.conn.Close()
			}
		case s := <-b.unregister:
			b.removeSession(s)
			if closing && len(b.sessions) == 0 {
				return
			}
		case now := <-sweep.C:
			for s := range b.sessions {
				if s.idleSince(now) > sessionTimeout {
					s.logger.Debug().Msg("session expired")
					metrics.SessionsExpiredTotal.Inc()
					s.conn.Close()
				}
			}
		case <-done:
			done = nil
			closing = true
			if len(b.sessions) == 0 {
				return
			}
			for s := range b.sessions {
				s.conn.Close()
			}
		}
	}
}

// Close shuts the broker down and waits until every session has drained.
func (b *Broker) Close() {
	close(b.done)
	<-b.stopped
}

func (b *Broker) addSession(s *session) {
	b.sessions[s] = struct{}{}
	b.mu.Lock()
	b.index[s.id] = s
	b.mu.Unlock()
	metrics.ConnectedSessions.Set(float64(len(b.sessions)))
	s.logger.Debug().Msg("session connected")
}

func (b *Broker) removeSession(s *session) {
	if _, ok := b.sessions[s]; !ok {
		return
	}
	delete(b.sessions, s)
	b.mu.Lock()
	delete(b.index, s.id)
	b.mu.Unlock()
	metrics.ConnectedSessions.Set(float64(len(b.sessions)))
	close(s.quit)

	for _, domain := range b.registry.dropSession(s) {
		b.domainUnavailable(domain)
	}
	b.pending.failSession(s)
	s.logger.Debug().Msg("session disconnected")
}

func (b *Broker) domainAvailable(domain string) {
	b.logger.Info().Str("domain", domain).Msg("domain available")
	metrics.RegisteredDomains.Inc()
}

func (b *Broker) domainUnavailable(domain string) {
	b.logger.Info().Str("domain", domain).Msg("domain unavailable")
	metrics.RegisteredDomains.Dec()
}

// Stats reports the current session and domain counts.
func (b *Broker) Stats() (sessions, domains int) {
	b.mu.RLock()
	sessions = len(b.index)
	b.mu.RUnlock()
	return sessions, len(b.registry.domainCounts())
}

// Domains snapshots every registered domain and its instance count.
func (b *Broker) Domains() map[string]int {
	return b.registry.domainCounts()
}

// SessionInfo describes one live session for the admin API.
type SessionInfo struct {
	ID       string    `json:"id"`
	Remote   string    `json:"remote"`
	Domains  []string  `json:"domains"`
	LastSeen time.Time `json:"last_seen"`
}

// Sessions snapshots every live session.
func (b *Broker) Sessions() []SessionInfo {
	b.mu.RLock()
	snapshot := make([]*session, 0, len(b.index))
	for _, s := range b.index {
		snapshot = append(snapshot, s)
	}
	b.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(snapshot))
	for _, s := range snapshot {
		domains := b.registry.sessionDomains(s)
		sort.Strings(domains)
		infos = append(infos, SessionInfo{
			ID:       s.id,
			Remote:   s.conn.RemoteAddr().String(),
			Domains:  domains,
			LastSeen: time.Unix(0, s.lastSeen.Load()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
