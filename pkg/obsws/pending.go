package obsws

import (
	"encoding/json"
	"sync"

	"example.com/obsws/internal/protocol"
)

// response is what the read loop hands to a waiting caller. Exactly one of
// the two shapes is filled: status/data for a single request, results for a
// batch.
type response struct {
	status  protocol.RequestStatus
	data    json.RawMessage
	results []protocol.RequestResponse
}

// pendingTable maps outstanding request ids to their one-shot slots. It is
// the only structure shared between caller goroutines and the read loop for
// request correlation, so every map access is taken under the mutex.
type pendingTable struct {
	mu         sync.Mutex
	slots      map[uint64]chan response
	terminated bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[uint64]chan response)}
}

// add registers a slot for the given id. The id comes from the client's
// monotonic counter, so it is never in the map already. Returns false once
// the table has been drained; registering against a dead connection would
// wait forever.
func (t *pendingTable) add(id uint64) (<-chan response, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminated {
		return nil, false
	}
	ch := make(chan response, 1)
	t.slots[id] = ch
	return ch, true
}

// resolve removes the slot for id and delivers the response to its waiter.
// An unknown id is a protocol anomaly (stale or duplicate reply) and is
// silently ignored.
func (t *pendingTable) resolve(id uint64, res response) {
	t.mu.Lock()
	ch, ok := t.slots[id]
	if ok {
		delete(t.slots, id)
	}
	t.mu.Unlock()
	if ok {
		ch <- res
	}
}

// remove drops a pending slot without delivering anything. Used when the
// request never made it onto the wire, or when the caller gave up waiting.
func (t *pendingTable) remove(id uint64) {
	t.mu.Lock()
	delete(t.slots, id)
	t.mu.Unlock()
}

// drain fails every pending slot and refuses further registrations. Called
// once, when the connection terminates; waiters observe the closed channel.
func (t *pendingTable) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminated = true
	for id, ch := range t.slots {
		close(ch)
		delete(t.slots, id)
	}
}

// size reports the number of outstanding requests.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
