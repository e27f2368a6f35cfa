// Package wire defines the Jsonipc frame shapes and the small helpers shared by
// the client engine and the dispatcher.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

const (
	// ProtocolVersion is the handshake result a compatible peer answers with.
	ProtocolVersion = 0x00000001
	// HandshakeMethod is sent with empty params right after the socket opens.
	HandshakeMethod = "Jsonipc/handshake"
	// NotifyPrefix prefixes property change notifications, e.g. "notify:name".
	NotifyPrefix = "notify:"
	// GetPrefix prefixes property getter methods, e.g. "get/name".
	GetPrefix = "get/"
)

// JSON-RPC error codes answered by the dispatcher.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ErrorPayload is the "error" member of a failed reply.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error lets handlers return a payload with a specific code.
func (e *ErrorPayload) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Request is a client call. Params always encodes as an array.
type Request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// MarshalJSON keeps "params" an array even when no arguments are given.
func (r Request) MarshalJSON() ([]byte, error) {
	params := r.Params
	if params == nil {
		params = []any{}
	}
	type plain Request
	return json.Marshal(plain{ID: r.ID, Method: r.Method, Params: params})
}

// Reply answers a Request with the same ID.
type Reply struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// Notification is an unsolicited message without an id.
type Notification struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// MarshalJSON keeps "params" an array even when no arguments are given.
func (n Notification) MarshalJSON() ([]byte, error) {
	params := n.Params
	if params == nil {
		params = []any{}
	}
	type plain Notification
	return json.Marshal(plain{Method: n.Method, Params: params})
}

// SeedCounter maps r in [0,1) to 1_000_000 * floor(100 + 899*r), which keeps
// request ids large and distinct between sessions.
func SeedCounter(r float64) int64 {
	return 1000000 * int64(math.Floor(100+899*r))
}

var classMarker = []byte(`"$class":"`)

// HasClassMarker reports whether a text frame may carry object references.
func HasClassMarker(frame []byte) bool {
	return bytes.Contains(frame, classMarker)
}
