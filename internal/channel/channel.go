// Package channel defines the bidirectional event channel between the client
// and the chat server.
package channel

import (
	"context"
	"encoding/json"
	"errors"
)

// Lifecycle events produced by the channel itself.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

// Application events.
const (
	EventMessage            = "message"
	EventTyping             = "typing"
	EventOnlineUsers        = "onlineUsers"
	EventJoin               = "join"
	EventSetUsername        = "setUsername"
	EventPing               = "ping"
	EventRequestOnlineUsers = "getOnlineUsers"
)

// ErrNotConnected is returned by Emit while no connection is live.
var ErrNotConnected = errors.New("not connected")

// Channel is a named-event connection to the server. Implementations own
// their reconnect policy and report it through the lifecycle events.
type Channel interface {
	Connect(ctx context.Context, token string) error
	Close() error
	Emit(name string, payload any) error
	// On registers l for events called name and returns a function that
	// removes it. The returned function is idempotent.
	On(name string, l Listener) (off func())
}

// Listener handles one inbound event.
type Listener func(Event)

// Event is an inbound event with its undecoded payload.
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Disconnect is the payload of EventDisconnect.
type Disconnect struct {
	Reason    string `json:"reason"`
	WillRetry bool   `json:"willRetry"`
}

// ConnectError is the payload of EventConnectError.
type ConnectError struct {
	Message string `json:"message"`
}

// Error is a transport failure on the channel.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "channel " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
