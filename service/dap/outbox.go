package dap

import (
	"sync"

	"github.com/eapache/queue"
)

// outbox is an unbounded FIFO of messages waiting for the connection
// writer. Pushing never blocks, so engine events can be queued while the
// session lock is held.
type outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue.Queue
	closed bool
}

func newOutbox() *outbox {
	o := &outbox{q: queue.New()}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// push appends v. It returns false if the outbox is closed.
func (o *outbox) push(v interface{}) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.q.Add(v)
	o.cond.Signal()
	return true
}

// pop removes the oldest item, waiting for one if needed. ok is false once
// the outbox is closed and drained.
func (o *outbox) pop() (v interface{}, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.q.Length() == 0 {
		if o.closed {
			return nil, false
		}
		o.cond.Wait()
	}
	return o.q.Remove(), true
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.cond.Broadcast()
}
