package messaging

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected  = errors.New("rabbitmq publisher not connected")
	ErrClosed        = errors.New("rabbitmq publisher closed")
	ErrNacked        = errors.New("message nacked by broker")
	ErrPublishFailed = errors.New("failed to publish message")
)

// State of a Publisher's broker session
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TeardownScope decides what a failed publish closes
type TeardownScope string

const (
	// TeardownConnection closes the channel and the connection
	TeardownConnection TeardownScope = "connection"
	// TeardownChannel closes only the channel; Reconnect reuses the connection
	TeardownChannel TeardownScope = "channel"
)

// ParseTeardownScope accepts "connection", "channel" or "" (connection)
func ParseTeardownScope(s string) (TeardownScope, error) {
	switch TeardownScope(s) {
	case "", TeardownConnection:
		return TeardownConnection, nil
	case TeardownChannel:
		return TeardownChannel, nil
	default:
		return "", fmt.Errorf("invalid teardown scope %q: want %q or %q", s, TeardownConnection, TeardownChannel)
	}
}
