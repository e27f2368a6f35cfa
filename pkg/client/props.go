package client

import (
	"context"
	"fmt"
	"weak"

	"github.com/lightforgemedia/go-jsonipc/pkg/events"
	"github.com/lightforgemedia/go-jsonipc/pkg/reactive"
	"github.com/lightforgemedia/go-jsonipc/pkg/registry"
	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
)

// GetReactiveProp returns the cached value of owner's property name. The
// first access seeds the cache with dflt, starts fetching "get/<name>" and
// refetches on every "notify:<name>" event of owner. It never blocks.
func (c *Client) GetReactiveProp(owner registry.Object, name string, dflt any) any {
	return c.ReactiveState(owner, name, dflt).Get()
}

// ReactiveState installs the property like GetReactiveProp and returns the
// container, so callers can Watch it.
func (c *Client) ReactiveState(owner registry.Object, name string, dflt any) *reactive.State[any] {
	h := owner.RemoteHandle()
	props := h.Props()
	prop, created := props.Property(name, dflt)
	if !created {
		return prop.State
	}

	// Listener and fetches hold the owner weakly so the cache never keeps it
	// alive.
	ref := weak.Make(h)
	cancel, err := c.hub.Listen(h.ID(), wire.NotifyPrefix+name, func(events.Event) {
		c.refetch(ref, name, prop)
	})
	if err != nil {
		c.config.logger.Warn(fmt.Sprintf("Jsonipc: cannot watch %s on $id %d: %v", name, h.ID(), err))
	} else {
		props.OnDispose(cancel)
	}
	c.refetch(ref, name, prop)
	return prop.State
}

func (c *Client) refetch(ref weak.Pointer[registry.Handle], name string, prop *registry.Property) {
	h := ref.Value()
	if h == nil || h.Props().Disposed() {
		return
	}
	var gen uint64
	var call *Call
	err := prop.Fetch(func(g uint64) error {
		var err error
		gen = g
		call, err = c.SendAsync(context.Background(), wire.GetPrefix+name, h)
		return err
	})
	if err != nil {
		c.config.logger.Debug(fmt.Sprintf("Jsonipc: fetch of %s on $id %d not sent: %v", name, h.ID(), err))
		return
	}
	id := h.ID()
	go call.Then(context.Background(), func(v any, err error) {
		if err != nil {
			c.config.logger.Warn(fmt.Sprintf("Jsonipc: fetch of %s on $id %d failed: %v", name, id, err))
			return
		}
		if !prop.Commit(gen, v) {
			c.config.logger.Debug(fmt.Sprintf("Jsonipc: discarding stale %s for $id %d", name, id))
		}
	})
}
