// Package dispatcher answers Jsonipc request frames by calling registered Go
// functions. It is the server half used by pkg/server and the tests.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
)

var (
	errType = reflect.TypeOf((*error)(nil)).Elem()
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Ref is a server side object reference. It encodes as {"$id","$class"} and
// decodes from the client's {"$id"}.
type Ref struct {
	ID    int64  `json:"$id"`
	Class string `json:"$class,omitempty"`
}

// method stores reflection info for invoking a registered handler.
type method struct {
	fn        reflect.Value
	withCtx   bool
	args      []reflect.Type
	hasResult bool
}

// newMethod inspects fn. Supported signatures, with an optional leading
// context.Context:
//
//	func(args...) (Result, error)
//	func(args...) error
func newMethod(fn any) (*method, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function, got %T", fn)
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("variadic handlers are not supported: %s", ft)
	}
	numOut := ft.NumOut()
	if numOut == 0 || numOut > 2 || !ft.Out(numOut-1).Implements(errType) {
		return nil, fmt.Errorf("handler must return (Result, error) or error, signature: %s", ft)
	}
	m := &method{fn: fv, hasResult: numOut == 2}
	for i := 0; i < ft.NumIn(); i++ {
		in := ft.In(i)
		if i == 0 && in == ctxType {
			m.withCtx = true
			continue
		}
		m.args = append(m.args, in)
	}
	return m, nil
}

// Dispatcher maps method names to handlers.
type Dispatcher struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	methods map[string]*method
}

// New returns a dispatcher that answers the handshake and nothing else.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger, methods: make(map[string]*method)}
}

// AddMethod registers fn under name, replacing an earlier registration.
func (d *Dispatcher) AddMethod(name string, fn any) error {
	m, err := newMethod(fn)
	if err != nil {
		return fmt.Errorf("dispatcher: method %q: %w", name, err)
	}
	d.mu.Lock()
	d.methods[name] = m
	d.mu.Unlock()
	return nil
}

// MustAddMethod is AddMethod for static registrations.
func (d *Dispatcher) MustAddMethod(name string, fn any) {
	if err := d.AddMethod(name, fn); err != nil {
		panic(err)
	}
}

type resultReply struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

type errorReply struct {
	ID    *int64            `json:"id"`
	Error wire.ErrorPayload `json:"error"`
}

// Dispatch decodes one request frame, runs its handler and returns the
// encoded reply.
func (d *Dispatcher) Dispatch(ctx context.Context, frame []byte) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return d.errorReply(0, wire.CodeParseError, "Parse error")
	}

	var id int64
	if raw, ok := fields["id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	var name string
	if raw, ok := fields["method"]; ok {
		_ = json.Unmarshal(raw, &name)
	}
	var params []json.RawMessage
	if raw, ok := fields["params"]; ok {
		if err := json.Unmarshal(raw, &params); err != nil {
			params = nil
		} else if params == nil {
			params = []json.RawMessage{}
		}
	}
	if id == 0 || name == "" || params == nil {
		return d.errorReply(id, wire.CodeInvalidRequest, "Invalid Request")
	}

	if name == wire.HandshakeMethod {
		return d.resultReply(id, wire.ProtocolVersion)
	}

	d.mu.RLock()
	m, ok := d.methods[name]
	d.mu.RUnlock()
	if !ok {
		return d.errorReply(id, wire.CodeMethodNotFound, "Method not found: "+name)
	}

	result, err := m.call(ctx, params)
	if err != nil {
		var payload *wire.ErrorPayload
		if errors.As(err, &payload) {
			return d.errorReply(id, payload.Code, payload.Message)
		}
		return d.errorReply(id, wire.CodeInternalError, err.Error())
	}
	return d.resultReply(id, result)
}

func (m *method) call(ctx context.Context, params []json.RawMessage) (any, error) {
	if len(params) != len(m.args) {
		return nil, &wire.ErrorPayload{
			Code:    wire.CodeInvalidParams,
			Message: fmt.Sprintf("Invalid params: expected %d arguments, got %d", len(m.args), len(params)),
		}
	}
	in := make([]reflect.Value, 0, len(m.args)+1)
	if m.withCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, t := range m.args {
		v := reflect.New(t)
		if err := json.Unmarshal(params[i], v.Interface()); err != nil {
			return nil, &wire.ErrorPayload{
				Code:    wire.CodeInvalidParams,
				Message: fmt.Sprintf("Invalid params: argument %d: %v", i, err),
			}
		}
		in = append(in, v.Elem())
	}

	out := m.fn.Call(in)
	if errVal, ok := out[len(out)-1].Interface().(error); ok && errVal != nil {
		return nil, errVal
	}
	if m.hasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}

func (d *Dispatcher) resultReply(id int64, result any) []byte {
	raw, err := json.Marshal(resultReply{ID: id, Result: result})
	if err != nil {
		d.logger.Error(fmt.Sprintf("Dispatcher: failed to marshal result for id %d: %v", id, err))
		return d.errorReply(id, wire.CodeInternalError, "Internal error: "+err.Error())
	}
	return raw
}

func (d *Dispatcher) errorReply(id int64, code int, message string) []byte {
	r := errorReply{Error: wire.ErrorPayload{Code: code, Message: message}}
	if id != 0 {
		r.ID = &id
	}
	raw, _ := json.Marshal(r)
	return raw
}

// Notification encodes a server to client notification frame.
func Notification(method string, params ...any) ([]byte, error) {
	return json.Marshal(wire.Notification{Method: method, Params: params})
}
