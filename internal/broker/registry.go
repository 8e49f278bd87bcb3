package broker

import "sync"

// registry tracks which sessions hold which domains. Lookups pick instances
// round-robin; both directions are kept so a dying session can be stripped of
// every registration in one call.
type registry struct {
	mu       sync.RWMutex
	domains  map[string]*instanceRing
	sessions map[*session]map[string]string // session -> domain -> issued token
}

type instanceRing struct {
	sessions []*session
	next     int
}

func newRegistry() *registry {
	return &registry{
		domains:  make(map[string]*instanceRing),
		sessions: make(map[*session]map[string]string),
	}
}

// register binds a domain to a session, replacing any token the session
// already held for it. It reports whether this is the domain's first live
// instance.
func (r *registry) register(s *session, domain, token string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.sessions[s]
	if held == nil {
		held = make(map[string]string)
		r.sessions[s] = held
	}
	_, rebind := held[domain]
	held[domain] = token

	ring := r.domains[domain]
	if ring == nil {
		r.domains[domain] = &instanceRing{sessions: []*session{s}}
		return true
	}
	if !rebind {
		ring.sessions = append(ring.sessions, s)
	}
	return false
}

// unregister removes one domain from a session. It reports whether the
// domain lost its last instance, and whether the session held it at all.
func (r *registry) unregister(s *session, domain string) (last, held bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(s, domain)
}

func (r *registry) unregisterLocked(s *session, domain string) (last, held bool) {
	tokens := r.sessions[s]
	if _, ok := tokens[domain]; !ok {
		return false, false
	}
	delete(tokens, domain)
	if len(tokens) == 0 {
		delete(r.sessions, s)
	}

	ring := r.domains[domain]
	for i, inst := range ring.sessions {
		if inst == s {
			ring.sessions = append(ring.sessions[:i], ring.sessions[i+1:]...)
			break
		}
	}
	if len(ring.sessions) == 0 {
		delete(r.domains, domain)
		return true, true
	}
	if ring.next >= len(ring.sessions) {
		ring.next = 0
	}
	return false, true
}

// dropSession removes every registration the session holds and returns the
// domains that became unavailable.
func (r *registry) dropSession(s *session) (gone []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for domain := range r.sessions[s] {
		if last, _ := r.unregisterLocked(s, domain); last {
			gone = append(gone, domain)
		}
	}
	return gone
}

// token returns the token issued to the session for a domain it holds.
func (r *registry) token(s *session, domain string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.sessions[s][domain]
	return tok, ok
}

// pick returns the next instance of a domain, round-robin.
func (r *registry) pick(domain string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := r.domains[domain]
	if ring == nil {
		return nil, false
	}
	s := ring.sessions[ring.next]
	ring.next = (ring.next + 1) % len(ring.sessions)
	return s, true
}

// instances returns every live instance of a domain.
func (r *registry) instances(domain string) []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ring := r.domains[domain]
	if ring == nil {
		return nil
	}
	out := make([]*session, len(ring.sessions))
	copy(out, ring.sessions)
	return out
}

// count returns the number of live instances of a domain.
func (r *registry) count(domain string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ring := r.domains[domain]
	if ring == nil {
		return 0
	}
	return len(ring.sessions)
}

// domainCounts snapshots every domain with its instance count.
func (r *registry) domainCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.domains))
	for domain, ring := range r.domains {
		out[domain] = len(ring.sessions)
	}
	return out
}

// sessionDomains returns the domains a session currently holds.
func (r *registry) sessionDomains(s *session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions[s]))
	for domain := range r.sessions[s] {
		out = append(out, domain)
	}
	return out
}
