// Package transport defines the messaging transport abstraction consumed by
// the binding layer. This allows swapping in-process, WebSocket, or mock
// implementations without changing the forwarding logic.
//
// A transport owns reliability, ordering, congestion control, and client
// authentication. The binding layer only pushes payloads in, pulls payloads
// out, and observes connection lifecycle events.
package transport

import (
	"fmt"
	"time"
)

// Delivery describes the guarantee a channel provides.
type Delivery int

const (
	// Unreliable messages may be dropped or reordered.
	Unreliable Delivery = iota

	// ReliableUnordered messages always arrive, in any order.
	ReliableUnordered

	// ReliableOrdered messages always arrive, in send order.
	ReliableOrdered
)

// String returns a human-readable delivery name.
func (d Delivery) String() string {
	switch d {
	case Unreliable:
		return "unreliable"
	case ReliableUnordered:
		return "reliable-unordered"
	case ReliableOrdered:
		return "reliable-ordered"
	default:
		return fmt.Sprintf("delivery(%d)", int(d))
	}
}

// ChannelConfig describes one channel to a transport.
//
// Channel ids are a single byte on the wire. Both peers must be constructed
// with identical channel lists: the id encodes the delivery semantics and
// changing either after connection establishment breaks the agreement
// between peers.
type ChannelConfig struct {
	// ID is the numeric channel id used on the wire.
	ID uint8

	// MaxMemoryBytes bounds the in-flight backlog the transport may buffer
	// for this channel before it starts refusing or dropping messages.
	MaxMemoryBytes int

	// Delivery selects the guarantee for this channel.
	Delivery Delivery

	// Resend is how long a reliable channel waits before re-transmitting an
	// unacknowledged packet. Ignored for Unreliable.
	Resend time.Duration
}

// ConnectionConfig is the full channel agreement between a server and its
// clients. ServerChannels carry server-originated messages, ClientChannels
// carry client-originated messages.
type ConnectionConfig struct {
	ServerChannels []ChannelConfig
	ClientChannels []ChannelConfig
}

// NetworkInfo is a point-in-time statistics snapshot for one connection.
type NetworkInfo struct {
	RTT         float64 // round-trip time in seconds
	PacketLoss  float64 // fraction of packets lost, 0..1
	SentBPS     float64 // sent bytes per second
	ReceivedBPS float64 // received bytes per second
}

// EventKind discriminates lifecycle events.
type EventKind int

const (
	// EventConnected reports a newly connected client.
	EventConnected EventKind = iota

	// EventDisconnected reports a lost client, with a reason.
	EventDisconnected
)

// Event is a discrete connection lifecycle notification emitted by a server
// transport. Each transition is reported exactly once.
type Event struct {
	Kind      EventKind
	NetworkID uint64
	Reason    DisconnectReason // set for EventDisconnected
}

// State is the coarse connection state reported by a client transport.
type State int

const (
	// StateDisconnected means the connection is gone and all messages
	// received before the close have been consumed.
	StateDisconnected State = iota

	// StateConnecting means the connection is being established.
	StateConnecting

	// StateConnected means messages can be sent and received.
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ServerTransport is the server side of a transport.
//
// All methods are non-blocking polls or pushes against queues maintained by
// the transport's own machinery; implementations must be safe for use from
// the tick loop while their network side runs on internal goroutines.
type ServerTransport interface {
	// PollEvents drains pending connect/disconnect notifications.
	PollEvents() []Event

	// Receive pulls the next message from a client on a channel. The second
	// return is false when no message is available or the client is unknown.
	Receive(clientID uint64, channelID uint8) ([]byte, bool)

	// Send submits a message to a client on a channel. Messages for unknown
	// clients are dropped; delivery follows the channel's guarantee.
	Send(clientID uint64, channelID uint8, payload []byte)

	// Disconnect forcibly closes one client's connection. Unknown ids are
	// a no-op, so lifecycle teardown can always call it.
	Disconnect(clientID uint64)

	// DisconnectAll closes every client connection.
	DisconnectAll()

	// NetworkInfo returns a statistics snapshot for a client. The second
	// return is false when the client vanished, which can race with event
	// processing and is expected.
	NetworkInfo(clientID uint64) (NetworkInfo, bool)

	// MaxPayload returns the largest payload a single message may carry.
	MaxPayload() int

	// Close shuts the transport down.
	Close() error
}

// ClientTransport is the client side of a transport, handling the single
// connection to a server.
//
// After the connection closes, implementations keep reporting
// StateConnected until every message received before the close has been
// consumed, then report StateDisconnected. Final messages are therefore
// always observable before the disconnect is.
type ClientTransport interface {
	// State reports the current connection state.
	State() State

	// NetworkID returns the server-assigned numeric identity. Valid only
	// once State reports StateConnected.
	NetworkID() uint64

	// Receive pulls the next message from the server on a channel.
	Receive(channelID uint8) ([]byte, bool)

	// Send submits a message to the server on a channel.
	Send(channelID uint8, payload []byte)

	// Disconnect closes the connection from this side.
	Disconnect()

	// DisconnectReason reports why the connection closed. Valid once State
	// reports StateDisconnected.
	DisconnectReason() DisconnectReason

	// NetworkInfo returns a statistics snapshot for the connection.
	NetworkInfo() NetworkInfo

	// MaxPayload returns the largest payload a single message may carry.
	MaxPayload() int

	// Close shuts the transport down.
	Close() error
}
