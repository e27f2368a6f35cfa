// Package jsonipc re-exports the pieces most programs need: the client, the
// proxy building blocks, and the server side dispatcher.
package jsonipc

import (
	"log/slog"

	"github.com/lightforgemedia/go-jsonipc/pkg/client"
	"github.com/lightforgemedia/go-jsonipc/pkg/dispatcher"
	"github.com/lightforgemedia/go-jsonipc/pkg/registry"
	"github.com/lightforgemedia/go-jsonipc/pkg/server"
	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
)

// Re-export core types
type (
	Client        = client.Client
	ClientOption  = client.Option
	ClientOptions = client.Options
	Call          = client.Call
	Handler       = client.Handler
	RemoteError   = client.RemoteError
	Handle        = registry.Handle
	Object        = registry.Object
	Factory       = registry.Factory
	ClassTable    = registry.ClassTable
	Dispatcher    = dispatcher.Dispatcher
	Ref           = dispatcher.Ref
	Server        = server.Server
	ServerOption  = server.Option
	ErrorPayload  = wire.ErrorPayload
	ProtocolError = client.ProtocolMismatchError
)

// Re-export error values
var (
	ErrAlreadyOpen      = client.ErrAlreadyOpen
	ErrNotConnected     = client.ErrNotConnected
	ErrConnectionClosed = client.ErrConnectionClosed
	ErrShutdown         = server.ErrShutdown
)

const ProtocolVersion = wire.ProtocolVersion

// NewClient returns an unconnected client.
func NewClient(opts ...client.Option) *client.Client {
	return client.New(opts...)
}

// DefaultClientOptions returns the client defaults for NewClientWithOptions.
func DefaultClientOptions() client.Options {
	return client.DefaultOptions()
}

// NewClientWithOptions builds a client from an Options struct.
func NewClientWithOptions(opts client.Options, extra ...client.Option) *client.Client {
	return client.NewWithOptions(opts, extra...)
}

// NewClassTable returns an empty $class table.
func NewClassTable() *registry.ClassTable {
	return registry.NewClassTable()
}

// NewHandle is the identity slot a proxy constructor embeds.
func NewHandle(id int64) *registry.Handle {
	return registry.NewHandle(id)
}

// NewDispatcher returns a server side method table.
func NewDispatcher(logger *slog.Logger) *dispatcher.Dispatcher {
	return dispatcher.New(logger)
}

// NewServer serves d over WebSocket. The result is an http.Handler.
func NewServer(d *dispatcher.Dispatcher, opts ...server.Option) *server.Server {
	return server.New(d, opts...)
}
