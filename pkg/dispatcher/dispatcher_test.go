package dispatcher_test

import (
	"context"
	"errors"
	"testing"

	"github.com/lightforgemedia/go-jsonipc/pkg/dispatcher"
	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) *dispatcher.Dispatcher {
	t.Helper()
	d := dispatcher.New(nil)
	require.NoError(t, d.AddMethod("add", func(a, b int) (int, error) { return a + b, nil }))
	require.NoError(t, d.AddMethod("fail", func(ctx context.Context) error {
		return &wire.ErrorPayload{Code: 404, Message: "not found"}
	}))
	require.NoError(t, d.AddMethod("boom", func() (string, error) { return "", errors.New("boom") }))
	require.NoError(t, d.AddMethod("get/name", func(obj dispatcher.Ref) (string, error) {
		return "track-" + string(rune('0'+obj.ID)), nil
	}))
	require.NoError(t, d.AddMethod("find", func() (dispatcher.Ref, error) {
		return dispatcher.Ref{ID: 3, Class: "Track"}, nil
	}))
	return d
}

func TestDispatch(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"handshake", `{"id":1,"method":"Jsonipc/handshake","params":[]}`, `{"id":1,"result":1}`},
		{"add", `{"id":2,"method":"add","params":[2,3]}`, `{"id":2,"result":5}`},
		{"object argument", `{"id":3,"method":"get/name","params":[{"$id":4}]}`, `{"id":3,"result":"track-4"}`},
		{"object result", `{"id":4,"method":"find","params":[]}`, `{"id":4,"result":{"$id":3,"$class":"Track"}}`},
		{"coded error", `{"id":5,"method":"fail","params":[]}`, `{"id":5,"error":{"code":404,"message":"not found"}}`},
		{"internal error", `{"id":6,"method":"boom","params":[]}`, `{"id":6,"error":{"code":-32603,"message":"boom"}}`},
		{"unknown method", `{"id":7,"method":"nope","params":[]}`, `{"id":7,"error":{"code":-32601,"message":"Method not found: nope"}}`},
		{"arity", `{"id":8,"method":"add","params":[2]}`, `{"id":8,"error":{"code":-32602,"message":"Invalid params: expected 2 arguments, got 1"}}`},
		{"missing id", `{"method":"add","params":[2,3]}`, `{"id":null,"error":{"code":-32600,"message":"Invalid Request"}}`},
		{"params not array", `{"id":9,"method":"add","params":{}}`, `{"id":9,"error":{"code":-32600,"message":"Invalid Request"}}`},
		{"parse error", `{"id":`, `{"id":null,"error":{"code":-32700,"message":"Parse error"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, string(d.Dispatch(ctx, []byte(tt.frame))))
		})
	}
}

func TestDispatchBadArgumentType(t *testing.T) {
	d := newTestDispatcher(t)
	out := d.Dispatch(context.Background(), []byte(`{"id":1,"method":"add","params":["x",3]}`))
	assert.Contains(t, string(out), `"code":-32602`)
}

func TestAddMethodRejectsBadSignatures(t *testing.T) {
	d := dispatcher.New(nil)
	assert.Error(t, d.AddMethod("x", 42))
	assert.Error(t, d.AddMethod("x", func() {}))
	assert.Error(t, d.AddMethod("x", func() (int, string) { return 0, "" }))
	assert.Error(t, d.AddMethod("x", func(...int) error { return nil }))
	assert.Panics(t, func() { d.MustAddMethod("x", func() {}) })
}

func TestNotification(t *testing.T) {
	raw, err := dispatcher.Notification("notify:name", dispatcher.Ref{ID: 3, Class: "Track"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"notify:name","params":[{"$id":3,"$class":"Track"}]}`, string(raw))

	raw, err = dispatcher.Notification("tick")
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"tick","params":[]}`, string(raw))
}
