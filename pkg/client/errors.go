package client

import (
	"errors"
	"fmt"

	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
)

var (
	// ErrAlreadyOpen is returned by Open while a connection is established.
	ErrAlreadyOpen = errors.New("jsonipc: connection open")
	// ErrNotConnected is returned by Send and Close without a connection.
	ErrNotConnected = errors.New("jsonipc: connection closed")
	// ErrConnectionClosed is returned to calls still waiting when the socket
	// goes away.
	ErrConnectionClosed = errors.New("jsonipc: connection lost while waiting for reply")
)

// RemoteError is a reply that carried an "error" member.
type RemoteError struct {
	Code    int
	Message string
	ID      int64
	Method  string
	Reply   string // raw reply frame
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%d: %s\nRequest: {\"id\":%d,\"method\":%q,…}\nReply: %s",
		e.Code, e.Message, e.ID, e.Method, e.Reply)
}

// Payload returns the wire form of the error.
func (e *RemoteError) Payload() *wire.ErrorPayload {
	return &wire.ErrorPayload{Code: e.Code, Message: e.Message}
}

// ProtocolMismatchError is returned by Open when the handshake answered
// something other than wire.ProtocolVersion.
type ProtocolMismatchError struct {
	Got  any
	Want int
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("invalid protocol (%v), expected: %d", e.Got, e.Want)
}
