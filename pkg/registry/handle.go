// Package registry maps remote object ids to local proxies and rebuilds them
// from Jsonipc payloads.
//
// A proxy is any type embedding *Handle. The registry only keeps weak
// references, so a proxy the application drops can be collected; its
// property cache is torn down by a runtime cleanup, or deterministically via
// Release / Dispose.
package registry

import (
	"strconv"
)

// Object is implemented by every proxy through its embedded *Handle.
type Object interface {
	RemoteHandle() *Handle
}

// Factory builds a proxy for id. The returned object must embed the handle
// made by NewHandle(id).
type Factory func(id int64) Object

// Handle carries the identity of a remote object and its property bag.
// Fields are unexported and fixed once the registry has published the proxy,
// so nothing but {"$id"} ever reaches the wire.
type Handle struct {
	id    int64
	class string
	props *Props
	self  Object
}

// NewHandle returns the identity slot for a proxy constructor.
func NewHandle(id int64) *Handle {
	return &Handle{id: id, props: newProps()}
}

func (h *Handle) RemoteHandle() *Handle { return h }

// ID is the remote object id.
func (h *Handle) ID() int64 { return h.id }

// Class is the $class tag the proxy was revived with.
func (h *Handle) Class() string { return h.class }

// Props returns the property cache bag.
func (h *Handle) Props() *Props { return h.props }

// Dispose clears the property cache and detaches its listeners. The handle
// stays usable as a call argument.
func (h *Handle) Dispose() { h.props.Dispose() }

// MarshalJSON encodes the handle as an opaque {"$id": id} reference.
func (h *Handle) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 24)
	b = append(b, `{"$id":`...)
	b = strconv.AppendInt(b, h.id, 10)
	return append(b, '}'), nil
}

func (h *Handle) String() string {
	return h.class + "#" + strconv.FormatInt(h.id, 10)
}

// HandleOf returns the handle of v if it is a proxy.
func HandleOf(v any) (*Handle, bool) {
	obj, ok := v.(Object)
	if !ok || obj == nil {
		return nil, false
	}
	h := obj.RemoteHandle()
	return h, h != nil
}
