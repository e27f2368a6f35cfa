// Package natsrelay bridges a Jsonipc connection onto NATS: requests arriving
// on "<prefix>.call" are sent through the client, and selected notifications
// are republished on "<prefix>.notify.<method>".
package natsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightforgemedia/go-jsonipc/pkg/client"
	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
	"github.com/nats-io/nats.go"
)

const defaultPrefix = "jsonipc"

// Peer is the Jsonipc side of the relay. *client.Client implements it.
type Peer interface {
	Send(ctx context.Context, method string, params ...any) (any, error)
	Receive(method string, handler client.Handler)
}

// Options configures a Relay.
type Options struct {
	// URL is the NATS server URL. Defaults to nats.DefaultURL.
	URL string

	// Prefix roots every subject. Defaults to "jsonipc".
	Prefix string

	// QueueName is the queue group for the call subscription, so several
	// relays can share the load. Defaults to "<prefix>-relay".
	QueueName string

	// RequestTimeout bounds each relayed call. Zero means no bound.
	RequestTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// ConnectionOptions are additional options for the NATS connection.
	ConnectionOptions []nats.Option
}

// CallMessage is the body of a "<prefix>.call" request.
type CallMessage struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Response is the body answered to a call.
type Response struct {
	Result any                `json:"result"`
	Error  *wire.ErrorPayload `json:"error,omitempty"`
}

// Relay forwards between one Peer and NATS.
type Relay struct {
	conn     *nats.Conn
	ownsConn bool
	peer     Peer
	opts     Options
	logger   *slog.Logger

	subsLock sync.Mutex
	subs     []*nats.Subscription
}

// New connects to NATS and returns an idle relay for peer.
func New(peer Peer, opts Options) (*Relay, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	conn, err := nats.Connect(opts.URL, opts.ConnectionOptions...)
	if err != nil {
		return nil, fmt.Errorf("natsrelay: failed to connect to NATS: %w", err)
	}
	r := NewWithConn(peer, conn, opts)
	r.ownsConn = true
	return r, nil
}

// NewWithConn uses an existing connection, which Close leaves open.
func NewWithConn(peer Peer, conn *nats.Conn, opts Options) *Relay {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.QueueName == "" {
		opts.QueueName = opts.Prefix + "-relay"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{conn: conn, peer: peer, opts: opts, logger: logger}
}

// CallSubject is where requests are accepted.
func (r *Relay) CallSubject() string { return r.opts.Prefix + ".call" }

// NotifySubject is where notifications named method are republished.
func (r *Relay) NotifySubject(method string) string {
	return r.opts.Prefix + ".notify." + method
}

// Start subscribes to the call subject. ctx bounds every relayed call.
func (r *Relay) Start(ctx context.Context) error {
	sub, err := r.conn.QueueSubscribe(r.CallSubject(), r.opts.QueueName, func(msg *nats.Msg) {
		r.handleCall(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("natsrelay: failed to subscribe to %s: %w", r.CallSubject(), err)
	}
	r.subsLock.Lock()
	r.subs = append(r.subs, sub)
	r.subsLock.Unlock()
	r.logger.Info(fmt.Sprintf("NATSRelay: accepting calls on %s (queue %s)", r.CallSubject(), r.opts.QueueName))
	return nil
}

func (r *Relay) handleCall(ctx context.Context, msg *nats.Msg) {
	var call CallMessage
	var resp Response
	if err := json.Unmarshal(msg.Data, &call); err != nil || call.Method == "" {
		resp.Error = &wire.ErrorPayload{Code: wire.CodeInvalidRequest, Message: "Invalid Request"}
	} else {
		if r.opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.opts.RequestTimeout)
			defer cancel()
		}
		result, err := r.peer.Send(ctx, call.Method, call.Params...)
		if err != nil {
			resp.Error = errorPayload(err)
			r.logger.Debug(fmt.Sprintf("NATSRelay: call %s failed: %v", call.Method, err))
		} else {
			resp.Result = result
		}
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(Response{Error: &wire.ErrorPayload{Code: wire.CodeInternalError, Message: err.Error()}})
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn(fmt.Sprintf("NATSRelay: failed to respond to %s: %v", msg.Reply, err))
	}
}

func errorPayload(err error) *wire.ErrorPayload {
	var remote *client.RemoteError
	if errors.As(err, &remote) {
		return remote.Payload()
	}
	return &wire.ErrorPayload{Code: wire.CodeInternalError, Message: err.Error()}
}

// Forward republishes every notification named method on NotifySubject. It
// takes over the peer's Receive registration for method.
func (r *Relay) Forward(method string) {
	subject := r.NotifySubject(method)
	r.peer.Receive(method, func(params ...any) {
		data, err := json.Marshal(wire.Notification{Method: method, Params: params})
		if err != nil {
			r.logger.Error(fmt.Sprintf("NATSRelay: failed to marshal %s: %v", method, err))
			return
		}
		if err := r.conn.Publish(subject, data); err != nil {
			r.logger.Warn(fmt.Sprintf("NATSRelay: failed to publish %s: %v", subject, err))
		}
	})
}

// Close unsubscribes, and closes the NATS connection if New opened it.
func (r *Relay) Close() error {
	r.subsLock.Lock()
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
	r.subsLock.Unlock()

	if r.ownsConn {
		r.conn.Close()
	}
	return nil
}

// Call sends one request through a relay listening under prefix and decodes
// the answer.
func Call(ctx context.Context, nc *nats.Conn, prefix, method string, params ...any) (any, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if params == nil {
		params = []any{}
	}
	data, err := json.Marshal(CallMessage{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("natsrelay: failed to marshal call %q: %w", method, err)
	}
	msg, err := nc.RequestWithContext(ctx, prefix+".call", data)
	if err != nil {
		return nil, fmt.Errorf("natsrelay: call %q: %w", method, err)
	}
	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("natsrelay: malformed response to %q: %w", method, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}
