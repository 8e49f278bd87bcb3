package broker

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zaqqye/relay/internal/metrics"
	"github.com/zaqqye/relay/internal/protocol"
)

// pendingRequest is one routed request awaiting its response. The broker
// correlates by the forward id it issued towards the serving session; the
// original requester is answered under its own request id.
type pendingRequest struct {
	serving  *session
	source   *session // nil for broker-internal requests
	sourceID string
	internal chan [][]byte // response frames for internal requests
	timer    *time.Timer
	started  time.Time
}

type pendingTable struct {
	mu      sync.Mutex
	nextID  atomic.Uint64
	entries map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingRequest)}
}

// add stores a pending request and arms its timeout. It returns the forward
// id to put on the wire. The timer is armed under the lock so the entry is
// never visible without one.
func (p *pendingTable) add(req *pendingRequest, timeout time.Duration) string {
	id := strconv.FormatUint(p.nextID.Add(1), 10)
	req.started = time.Now()
	p.mu.Lock()
	req.timer = time.AfterFunc(timeout, func() { p.expire(id) })
	p.entries[id] = req
	p.mu.Unlock()
	return id
}

// nextMessageID hands out ids for broker-originated messages that expect no
// response, such as fanned-out notifications.
func (p *pendingTable) nextMessageID() string {
	return strconv.FormatUint(p.nextID.Add(1), 10)
}

// resolve matches a response from a serving session to its pending request
// and delivers it. Responses from any other session, or for unknown ids, are
// reported as unmatched.
func (p *pendingTable) resolve(serving *session, id string, rest [][]byte) bool {
	p.mu.Lock()
	req, ok := p.entries[id]
	if !ok || req.serving != serving {
		p.mu.Unlock()
		return false
	}
	delete(p.entries, id)
	p.mu.Unlock()

	req.timer.Stop()
	metrics.RoutingSeconds.Observe(time.Since(req.started).Seconds())
	code := "0"
	if len(rest) > 0 {
		code = string(rest[0])
	}
	metrics.RoutedRequestsTotal.WithLabelValues(code).Inc()
	req.deliver(rest)
	return true
}

// expire answers a request that outlived the routing timeout.
func (p *pendingTable) expire(id string) {
	p.mu.Lock()
	req, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	metrics.RoutedRequestsTotal.WithLabelValues(strconv.Itoa(protocol.CodeTimeout)).Inc()
	req.deliver(protocol.ErrorFrames(protocol.CodeTimeout, "Request timed out."))
}

// failSession cancels every request the session was serving and forgets
// every request it was waiting on.
func (p *pendingTable) failSession(s *session) {
	var cancelled []*pendingRequest
	p.mu.Lock()
	for id, req := range p.entries {
		switch {
		case req.serving == s:
			delete(p.entries, id)
			cancelled = append(cancelled, req)
		case req.source == s:
			delete(p.entries, id)
			req.timer.Stop()
		}
	}
	p.mu.Unlock()

	for _, req := range cancelled {
		req.timer.Stop()
		metrics.RoutedRequestsTotal.WithLabelValues(strconv.Itoa(protocol.CodeUnavailable)).Inc()
		req.deliver(protocol.ErrorFrames(protocol.CodeUnavailable, "Request was cancelled."))
	}
}

// deliver routes response frames back to whoever asked.
func (req *pendingRequest) deliver(rest [][]byte) {
	if req.internal != nil {
		req.internal <- rest
		return
	}
	msg := append([][]byte{[]byte(protocol.KindResponse), []byte(req.sourceID)}, rest...)
	req.source.sendFrames(msg)
}
