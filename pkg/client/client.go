// Package client implements the Jsonipc client engine: one WebSocket carrying
// JSON requests, replies and notifications, with remote objects marshalled by
// identity and a notification-refreshed property cache.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-jsonipc/pkg/events"
	"github.com/lightforgemedia/go-jsonipc/pkg/registry"
	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
	"github.com/puzpuzpuz/xsync/v3"
)

// inbound is queued for the dispatch goroutine.
type inbound struct {
	isBinary bool
	binary   []byte
	method   string
	params   []any
	raw      []byte
}

// connection is the state of one open socket. It is dropped when the socket
// closes; a later Open builds a fresh one.
type connection struct {
	ws      *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	inbox   *inbox
	writeMu sync.Mutex
	counter int64 // guarded by writeMu
	pending *xsync.MapOf[int64, chan reply]
}

// Client owns at most one connection at a time.
type Client struct {
	config   clientConfig
	registry *registry.Registry
	hub      *events.Hub

	connMu     sync.RWMutex
	conn       *connection
	connecting bool

	receivers *xsync.MapOf[string, Handler]
	binaryMu  sync.RWMutex
	onBinary  func([]byte)

	handshake atomic.Value
}

// New returns an unconnected client.
func New(opts ...Option) *Client {
	c := &Client{
		config:    defaultConfig(),
		receivers: xsync.NewMapOf[string, Handler](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.config.classes == nil {
		c.config.classes = registry.NewClassTable()
	}
	if c.config.dialOptions == nil {
		c.config.dialOptions = &websocket.DialOptions{HTTPClient: http.DefaultClient}
	}
	c.registry = registry.New(c.config.classes, c.config.logger)
	c.hub = events.NewHub(c.config.eventBuffer)
	return c
}

// Classes is the $class → factory table used to revive proxies.
func (c *Client) Classes() *registry.ClassTable { return c.config.classes }

// Registry is the live proxy registry of this client.
func (c *Client) Registry() *registry.Registry { return c.registry }

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	return c.current() != nil
}

// HandshakeResult is the value the server answered to the last handshake.
func (c *Client) HandshakeResult() any {
	if hv, ok := c.handshake.Load().(handshakeValue); ok {
		return hv.v
	}
	return nil
}

func (c *Client) current() *connection {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// Open dials url and performs the Jsonipc handshake. It fails with
// ErrAlreadyOpen while a connection exists or another Open is dialing.
// Proxies from an earlier connection are released first, since ids are only
// meaningful per session. Send fails with ErrNotConnected during the dial.
//
// A handshake answering anything but wire.ProtocolVersion yields a
// *ProtocolMismatchError; the socket then stays open but should not be used.
func (c *Client) Open(ctx context.Context, url string, protocols ...string) error {
	c.connMu.Lock()
	if c.conn != nil || c.connecting {
		c.connMu.Unlock()
		return ErrAlreadyOpen
	}
	c.connecting = true
	c.connMu.Unlock()

	dialOpts := *c.config.dialOptions
	if len(protocols) > 0 {
		dialOpts.Subprotocols = protocols
	}
	ws, httpResp, err := websocket.Dial(ctx, url, &dialOpts)
	if err != nil {
		c.connMu.Lock()
		c.connecting = false
		c.connMu.Unlock()
		errMsg := fmt.Sprintf("dial to %s failed: %v", url, err)
		if httpResp != nil {
			errMsg = fmt.Sprintf("%s (status: %s)", errMsg, httpResp.Status)
		}
		return errors.New(errMsg)
	}
	ws.SetReadLimit(c.config.readLimit)

	connCtx, connCancel := context.WithCancel(context.Background())
	conn := &connection{
		ws:      ws,
		ctx:     connCtx,
		cancel:  connCancel,
		done:    make(chan struct{}),
		inbox:   newInbox(c.config.inboxSize),
		counter: wire.SeedCounter(c.config.random()),
		pending: xsync.NewMapOf[int64, chan reply](),
	}
	c.registry.Reset()
	c.connMu.Lock()
	c.conn = conn
	c.connecting = false
	c.connMu.Unlock()

	go c.readPump(conn)
	go c.dispatchLoop(conn)

	c.config.logger.Info(fmt.Sprintf("Jsonipc: connected to %s", url))

	result, err := c.Send(ctx, wire.HandshakeMethod)
	if err != nil {
		return fmt.Errorf("jsonipc: handshake failed: %w", err)
	}
	c.handshake.Store(handshakeValue{result})
	if v, ok := result.(float64); !ok || v != wire.ProtocolVersion {
		return &ProtocolMismatchError{Got: result, Want: wire.ProtocolVersion}
	}
	return nil
}

type handshakeValue struct{ v any }

// Close closes the socket and waits for the read side to stop. Calls still
// waiting for replies return ErrConnectionClosed.
func (c *Client) Close() error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	c.config.logger.Info("Jsonipc: closing connection")
	err := conn.ws.Close(websocket.StatusNormalClosure, "client initiated close")
	conn.cancel()
	<-conn.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("jsonipc: close: %w", err)
	}
	return nil
}

func (c *Client) readPump(conn *connection) {
	var readErr error
	defer func() {
		conn.cancel()
		close(conn.done)
		conn.inbox.close()

		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		_ = conn.ws.CloseNow()

		if c.config.onClose != nil {
			c.config.onClose(readErr)
		}
	}()

	for {
		typ, data, err := conn.ws.Read(conn.ctx)
		if err != nil {
			readErr = err
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				c.config.logger.Info(fmt.Sprintf("Jsonipc: connection closed (status: %d)", status))
			} else {
				c.config.logger.Warn(fmt.Sprintf("Jsonipc: read error: %v (status: %d)", err, status))
			}
			return
		}
		c.handleFrame(conn, typ, data)
	}
}

// handleFrame routes one inbound frame. Replies are resolved right here and
// the inbox never blocks, so a notification handler blocked in Send cannot
// hold up its own reply.
func (c *Client) handleFrame(conn *connection, typ websocket.MessageType, data []byte) {
	if typ == websocket.MessageBinary {
		conn.inbox.put(inbound{isBinary: true, binary: data})
		return
	}

	v, err := c.registry.Decode(data)
	if err != nil {
		c.config.logger.Error(fmt.Sprintf("Jsonipc: unhandled message: %v: %s", err, data))
		return
	}
	msg, _ := v.(map[string]any)
	switch wire.Classify(msg) {
	case wire.KindReply:
		id, _ := wire.ID(msg)
		ch, ok := conn.pending.LoadAndDelete(id)
		if !ok {
			c.config.logger.Debug(fmt.Sprintf("Jsonipc: dropping reply for unknown id %d", id))
			return
		}
		ch <- reply{msg: msg, raw: data}
	case wire.KindNotification:
		conn.inbox.put(inbound{method: msg["method"].(string), params: msg["params"].([]any), raw: data})
	default:
		c.config.logger.Error(fmt.Sprintf("Jsonipc: unhandled message: %s", data))
	}
}

// dispatchLoop delivers notifications and binary frames in arrival order.
func (c *Client) dispatchLoop(conn *connection) {
	for {
		in, ok := conn.inbox.take()
		if !ok {
			return
		}
		if in.isBinary {
			c.dispatchBinary(in.binary)
			continue
		}
		c.dispatchNotification(in.method, in.params, in.raw)
	}
}
