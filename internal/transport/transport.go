// Package transport moves encoded events between a producer and its
// consumers. Two backends share one contract: Broadcast, an in-process named
// channel, and Socket, a WebSocket client that talks to the relay and keeps
// a bounded queue while it is disconnected.
package transport

import "github.com/pkg/errors"

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Handler receives one inbound frame.
type Handler func(frame []byte)

// Transport is a bidirectional frame channel.
type Transport interface {
	// Send delivers or queues one frame.
	Send(frame []byte) error
	// OnMessage sets the inbound handler, replacing any previous one.
	// A nil handler detaches.
	OnMessage(h Handler)
	// Close releases the channel. It is idempotent.
	Close() error
}
