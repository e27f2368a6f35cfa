// Package events fans object notifications out to listeners.
package events

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/cskr/pubsub"
)

const defaultCapacity = 64

// Event is delivered to listeners of an object topic.
type Event struct {
	Method string
	Params []any
}

// Hub routes events keyed by (object id, event name). Each listener has its
// own goroutine so a slow listener never stalls the publisher of other
// topics.
type Hub struct {
	bus    *pubsub.PubSub
	mu     sync.RWMutex
	closed bool
}

// NewHub returns a hub whose listener channels buffer capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{bus: pubsub.New(capacity)}
}

// Topic names the stream of event for object id.
func Topic(id int64, event string) string {
	return strconv.FormatInt(id, 10) + "/" + event
}

// Publish delivers ev to listeners of (id, ev.Method).
func (h *Hub) Publish(id int64, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.bus.Pub(ev, Topic(id, ev.Method))
}

// Listen calls fn for every event published for (id, event) until the
// returned cancel func runs. Cancel may be called from any goroutine,
// including from within fn.
func (h *Hub) Listen(id int64, event string, fn func(Event)) (cancel func(), err error) {
	topic := Topic(id, event)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("events: hub closed, cannot listen on %s", topic)
	}
	ch := h.bus.Sub(topic)
	h.mu.Unlock()

	stop := make(chan struct{})
	go func() {
		for msg := range ch {
			select {
			case <-stop:
				continue // drain until pubsub closes the channel
			default:
			}
			if ev, ok := msg.(Event); ok {
				fn(ev)
			}
		}
	}()

	cancel = sync.OnceFunc(func() {
		close(stop)
		h.mu.RLock()
		closed := h.closed
		h.mu.RUnlock()
		if !closed {
			go h.bus.Unsub(ch, topic)
		}
	})
	return cancel, nil
}

// Close shuts the hub down and ends every listener goroutine.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.bus.Shutdown()
}
