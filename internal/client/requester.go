package client

import (
	"strconv"
	"sync"

	"github.com/zaqqye/relay/internal/protocol"
)

// requester hands out per-connection request ids and pairs responses with
// their waiting callers.
type requester struct {
	mu      sync.Mutex
	counter uint64
	pending map[string]chan [][]byte
}

func newRequester() *requester {
	return &requester{pending: make(map[string]chan [][]byte)}
}

// nextID returns a fresh request id without tracking it, for messages that
// expect no response.
func (r *requester) nextID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	return strconv.FormatUint(r.counter, 10)
}

// track allocates a request id and a channel its response will arrive on.
func (r *requester) track() (string, chan [][]byte) {
	ch := make(chan [][]byte, 1)
	r.mu.Lock()
	r.counter++
	id := strconv.FormatUint(r.counter, 10)
	r.pending[id] = ch
	r.mu.Unlock()
	return id, ch
}

// resolve delivers response frames to the request's waiter.
func (r *requester) resolve(id string, rest [][]byte) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- rest
	return true
}

// drop abandons a request, usually because its context was cancelled.
func (r *requester) drop(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// failAll answers every pending request with 503, used when the connection
// is lost.
func (r *requester) failAll() {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]chan [][]byte)
	r.mu.Unlock()
	for _, ch := range pending {
		ch <- protocol.ErrorFrames(protocol.CodeUnavailable, "Connection was lost.")
	}
}
