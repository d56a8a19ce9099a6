package obsws

import (
	"sync"

	"github.com/eapache/queue"

	"example.com/obsws/internal/protocol"
)

// reidentifyWaiter is one parked Reidentify call. The protocol does not tag
// Identified confirmations with an id, so waiters are matched strictly in
// the order they were enqueued.
type reidentifyWaiter struct {
	ch        chan protocol.Identified
	cancelled bool
}

// reidentifyQueue is the FIFO wait list for Identified confirmations that
// arrive after the handshake. Waiters whose send failed (or whose caller
// gave up) are flagged cancelled and skipped when their turn comes; the
// ring buffer cannot remove from the middle and FIFO positions must hold.
type reidentifyQueue struct {
	mu         sync.Mutex
	q          *queue.Queue
	terminated bool
}

func newReidentifyQueue() *reidentifyQueue {
	return &reidentifyQueue{q: queue.New()}
}

// enqueue parks a new waiter at the back of the queue. Returns nil once the
// queue has been drained.
func (r *reidentifyQueue) enqueue() *reidentifyWaiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return nil
	}
	w := &reidentifyWaiter{ch: make(chan protocol.Identified, 1)}
	r.q.Add(w)
	return w
}

// satisfyNext delivers a confirmation to the oldest live waiter. With no
// waiter queued the confirmation is dropped; the server sent one we did not
// ask for.
func (r *reidentifyQueue) satisfyNext(id protocol.Identified) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.q.Length() > 0 {
		w := r.q.Remove().(*reidentifyWaiter)
		if w.cancelled {
			continue
		}
		w.ch <- id
		return
	}
}

// cancel flags a waiter so satisfyNext skips it.
func (r *reidentifyQueue) cancel(w *reidentifyWaiter) {
	r.mu.Lock()
	w.cancelled = true
	r.mu.Unlock()
}

// drain fails every parked waiter and refuses new ones. Called once, on
// connection termination.
func (r *reidentifyQueue) drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = true
	for r.q.Length() > 0 {
		w := r.q.Remove().(*reidentifyWaiter)
		if !w.cancelled {
			close(w.ch)
		}
	}
}
