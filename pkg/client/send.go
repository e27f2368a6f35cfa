package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-jsonipc/pkg/registry"
	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
)

type reply struct {
	msg map[string]any
	raw []byte
}

// Call is a request that has been written to the socket and awaits its reply.
type Call struct {
	ID     int64
	Method string

	conn    *connection
	reply   chan reply
	prev    <-chan struct{}
	finish  func()
	timeout time.Duration
}

// Send issues method with params and waits for the reply. If the first
// parameter is a remote object, the call joins that object's chain: its
// result is only handed back once every earlier call on the same object has
// completed.
func (c *Client) Send(ctx context.Context, method string, params ...any) (any, error) {
	call, err := c.SendAsync(ctx, method, params...)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// SendAsync writes the request and returns without waiting for the reply.
// Frames reach the socket in the order SendAsync was called.
func (c *Client) SendAsync(ctx context.Context, method string, params ...any) (*Call, error) {
	conn := c.current()
	if conn == nil {
		return nil, ErrNotConnected
	}

	var props *registry.Props
	if len(params) > 0 {
		if h, ok := registry.HandleOf(params[0]); ok {
			props = h.Props()
		}
	}

	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()

	conn.counter++
	call := &Call{
		ID:     conn.counter,
		Method: method,
		conn:   conn,
		reply:  make(chan reply, 1),
		finish: func() {},
	}
	data, err := json.Marshal(wire.Request{ID: call.ID, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("jsonipc: failed to marshal request %q: %w", method, err)
	}

	if props != nil {
		call.prev, call.finish = props.Enqueue()
	}
	conn.pending.Store(call.ID, call.reply)

	writeCtx, cancel := context.WithTimeout(ctx, c.config.writeTimeout)
	err = conn.ws.Write(writeCtx, websocket.MessageText, data)
	cancel()
	if err != nil {
		conn.pending.Delete(call.ID)
		call.endTurn()
		return nil, fmt.Errorf("jsonipc: failed to send request %d (%s): %w", call.ID, method, err)
	}

	if c.config.requestTimeout > 0 {
		call.timeout = c.config.requestTimeout
	}
	return call, nil
}

// Wait blocks for the reply and returns its result or error.
func (call *Call) Wait(ctx context.Context) (any, error) {
	var result any
	var resErr error
	call.Then(ctx, func(v any, err error) {
		result, resErr = v, err
	})
	return result, resErr
}

// Then waits for the reply and for all earlier calls on the same object, then
// runs apply before the object's next call may complete. Then must be called
// at most once per Call.
func (call *Call) Then(ctx context.Context, apply func(any, error)) {
	defer call.endTurn()

	if call.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, call.timeout)
		defer cancel()
	}

	var rep reply
	select {
	case rep = <-call.reply:
	case <-call.conn.done:
		select {
		case rep = <-call.reply:
		default:
			call.conn.pending.Delete(call.ID)
			apply(nil, ErrConnectionClosed)
			return
		}
	case <-ctx.Done():
		call.conn.pending.Delete(call.ID)
		apply(nil, fmt.Errorf("jsonipc: request %d (%s) abandoned: %w", call.ID, call.Method, ctx.Err()))
		return
	}

	if call.prev != nil {
		select {
		case <-call.prev:
		case <-ctx.Done():
			apply(nil, fmt.Errorf("jsonipc: request %d (%s) abandoned: %w", call.ID, call.Method, ctx.Err()))
			return
		}
	}

	apply(call.decode(rep))
}

// endTurn finishes this call's turn once every earlier turn on the object has
// finished, so a failed call never lets a later one overtake an earlier one.
func (call *Call) endTurn() {
	if call.prev == nil {
		call.finish()
		return
	}
	select {
	case <-call.prev:
		call.finish()
	default:
		go func(prev <-chan struct{}, finish func()) {
			<-prev
			finish()
		}(call.prev, call.finish)
	}
}

func (call *Call) decode(rep reply) (any, error) {
	if e, ok := rep.msg["error"]; ok && e != nil {
		rerr := &RemoteError{ID: call.ID, Method: call.Method, Reply: string(rep.raw)}
		if payload, ok := e.(map[string]any); ok {
			if code, ok := payload["code"].(float64); ok {
				rerr.Code = int(code)
			}
			rerr.Message, _ = payload["message"].(string)
		}
		return nil, rerr
	}
	return rep.msg["result"], nil
}
