package client

import (
	"fmt"

	"github.com/lightforgemedia/go-jsonipc/pkg/events"
	"github.com/lightforgemedia/go-jsonipc/pkg/registry"
)

// Handler receives the params of a notification spread as arguments.
type Handler func(params ...any)

// Receive installs handler for notifications named method, replacing any
// previous one. A nil handler removes the registration.
func (c *Client) Receive(method string, handler Handler) {
	if handler == nil {
		c.receivers.Delete(method)
		return
	}
	c.receivers.Store(method, handler)
}

// HandleBinary installs the handler for binary frames. nil removes it.
func (c *Client) HandleBinary(handler func(data []byte)) {
	c.binaryMu.Lock()
	defer c.binaryMu.Unlock()
	c.onBinary = handler
}

// On calls fn for every notification named event whose first parameter is
// obj. The returned func detaches fn.
func (c *Client) On(obj registry.Object, event string, fn Handler) (cancel func(), err error) {
	h, ok := registry.HandleOf(obj)
	if !ok {
		return nil, fmt.Errorf("jsonipc: On(%q) needs a remote object", event)
	}
	return c.hub.Listen(h.ID(), event, func(ev events.Event) {
		fn(ev.Params...)
	})
}

func (c *Client) dispatchBinary(data []byte) {
	c.binaryMu.RLock()
	handler := c.onBinary
	c.binaryMu.RUnlock()
	if handler == nil {
		c.config.logger.Error(fmt.Sprintf("Jsonipc: unhandled binary message (%d bytes)", len(data)))
		return
	}
	handler(data)
}

func (c *Client) dispatchNotification(method string, params []any, raw []byte) {
	delivered := false
	if len(params) > 0 {
		if h, ok := registry.HandleOf(params[0]); ok {
			c.hub.Publish(h.ID(), events.Event{Method: method, Params: params})
			delivered = true
		}
	}
	if handler, ok := c.receivers.Load(method); ok {
		handler(params...)
		return
	}
	if !delivered {
		c.config.logger.Error(fmt.Sprintf("Jsonipc: unhandled message: %s", raw))
	}
}
