package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-jsonipc/pkg/dispatcher"
	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
)

// Request is a request frame received by a MockServer.
type Request struct {
	ID     int64             `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	Raw    []byte            `json:"-"`
}

// Param decodes params[i] into v.
func (r Request) Param(i int, v any) error {
	return json.Unmarshal(r.Params[i], v)
}

// MockServer is a scripted Jsonipc peer. It answers the handshake on its own
// and queues every other request for the test to answer by hand.
type MockServer struct {
	T      *testing.T
	Server *httptest.Server
	WsURL  string

	connMu      sync.Mutex
	conn        *websocket.Conn
	connCancel  context.CancelFunc
	connections int

	handshakeMu     sync.Mutex
	handshakeResult any

	requests chan Request
}

// NewMockServer starts a mock server that is closed when the test ends.
func NewMockServer(t *testing.T) *MockServer {
	t.Helper()
	ms := &MockServer{
		T:               t,
		handshakeResult: wire.ProtocolVersion,
		requests:        make(chan Request, 256),
	}

	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsconn, err := websocket.Accept(w, r, nil)
		if err != nil {
			ms.T.Logf("MockServer: Accept error: %v", err)
			return
		}
		connCtx, connCancel := context.WithCancel(context.Background())

		ms.connMu.Lock()
		if ms.connCancel != nil {
			ms.connCancel()
		}
		ms.conn = wsconn
		ms.connCancel = connCancel
		ms.connections++
		ms.connMu.Unlock()

		ms.readLoop(connCtx, wsconn)
	}))
	ms.WsURL = "ws" + strings.TrimPrefix(ms.Server.URL, "http")

	t.Cleanup(ms.Close)
	return ms
}

func (ms *MockServer) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			ms.T.Logf("MockServer: undecodable frame %s: %v", data, err)
			continue
		}
		req.Raw = data
		if req.Method == wire.HandshakeMethod {
			ms.handshakeMu.Lock()
			result := ms.handshakeResult
			ms.handshakeMu.Unlock()
			_ = ms.Reply(req.ID, result)
			continue
		}
		ms.requests <- req
	}
}

// SetHandshakeResult changes the value answered to the handshake.
func (ms *MockServer) SetHandshakeResult(v any) {
	ms.handshakeMu.Lock()
	defer ms.handshakeMu.Unlock()
	ms.handshakeResult = v
}

// Connections counts accepted connections.
func (ms *MockServer) Connections() int {
	ms.connMu.Lock()
	defer ms.connMu.Unlock()
	return ms.connections
}

// Next returns the next queued request, failing the test after timeout.
func (ms *MockServer) Next(timeout time.Duration) Request {
	ms.T.Helper()
	select {
	case req := <-ms.requests:
		return req
	case <-time.After(timeout):
		ms.T.Fatalf("MockServer: no request within %v", timeout)
		return Request{}
	}
}

// Reply answers id with result.
func (ms *MockServer) Reply(id int64, result any) error {
	return ms.SendJSON(map[string]any{"id": id, "result": result})
}

// ReplyError answers id with an error object.
func (ms *MockServer) ReplyError(id int64, code int, message string) error {
	return ms.SendJSON(map[string]any{"id": id, "error": wire.ErrorPayload{Code: code, Message: message}})
}

// Notify sends a notification.
func (ms *MockServer) Notify(method string, params ...any) error {
	data, err := dispatcher.Notification(method, params...)
	if err != nil {
		return err
	}
	return ms.write(websocket.MessageText, data)
}

// SendJSON marshals v and sends it as a text frame.
func (ms *MockServer) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ms.write(websocket.MessageText, data)
}

// SendRaw sends text verbatim.
func (ms *MockServer) SendRaw(text string) error {
	return ms.write(websocket.MessageText, []byte(text))
}

// SendBinary sends a binary frame.
func (ms *MockServer) SendBinary(data []byte) error {
	return ms.write(websocket.MessageBinary, data)
}

func (ms *MockServer) write(typ websocket.MessageType, data []byte) error {
	ms.connMu.Lock()
	conn := ms.conn
	ms.connMu.Unlock()
	if conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Write(ctx, typ, data)
}

// CloseCurrentConnection closes the current WebSocket connection.
func (ms *MockServer) CloseCurrentConnection() {
	ms.connMu.Lock()
	defer ms.connMu.Unlock()

	if ms.conn != nil {
		_ = ms.conn.Close(websocket.StatusNormalClosure, "Test closing connection")
		ms.conn = nil
	}
	if ms.connCancel != nil {
		ms.connCancel()
		ms.connCancel = nil
	}
}

// Close closes the mock server.
func (ms *MockServer) Close() {
	ms.CloseCurrentConnection()
	if ms.Server != nil {
		ms.Server.Close()
	}
}
