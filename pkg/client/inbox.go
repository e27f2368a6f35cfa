package client

import "sync"

// inbox is an unbounded FIFO between the read pump and the dispatch
// goroutine. put never blocks, so replies keep flowing while a notification
// handler waits in Send.
type inbox struct {
	mu     sync.Mutex
	items  []inbound
	ready  chan struct{}
	closed bool
}

func newInbox(capacity int) *inbox {
	return &inbox{
		items: make([]inbound, 0, capacity),
		ready: make(chan struct{}, 1),
	}
}

func (q *inbox) put(in inbound) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, in)
	q.mu.Unlock()
	q.signal()
}

func (q *inbox) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *inbox) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// take returns the next item, blocking until one is queued. ok is false once
// the inbox is closed and drained.
func (q *inbox) take() (in inbound, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			in = q.items[0]
			q.items[0] = inbound{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return in, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return inbound{}, false
		}
		<-q.ready
	}
}
