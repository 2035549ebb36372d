// Package replication holds the framework-facing state the binding layer
// drives: the channel registry, the server and client message queues, and
// the table of connected clients.
//
// Nothing here touches the network. All state is plain data mutated inside
// the host's tick phases; see the root package for the phase ordering that
// makes lock-free access safe.
package replication

import (
	"fmt"
	"time"
)

// Kind is the delivery guarantee of a logical channel.
type Kind int

const (
	// Unreliable channels may drop or reorder messages.
	Unreliable Kind = iota

	// Unordered channels deliver every message, in any order.
	Unordered

	// Ordered channels deliver every message, in send order.
	Ordered
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case Unreliable:
		return "unreliable"
	case Unordered:
		return "unordered"
	case Ordered:
		return "ordered"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const (
	// DefaultResend is the resend interval applied to reliable channels
	// that don't set their own.
	DefaultResend = 300 * time.Millisecond

	// DefaultMaxBytes is the per-channel in-flight memory budget applied to
	// channels that don't set their own.
	DefaultMaxBytes = 5 * 1024 * 1024
)

// Channel describes one registered logical channel.
type Channel struct {
	// Kind is the delivery guarantee. Once registered it must never change:
	// the wire encodes delivery semantics per channel id and both peers
	// must agree.
	Kind Kind

	// MaxBytes overrides the registry's default in-flight memory budget
	// when non-zero.
	MaxBytes int

	// Resend overrides DefaultResend for reliable kinds when non-zero.
	Resend time.Duration
}

// Channels is the ordered registry of server-originated and
// client-originated channels. A channel's index in its list is its numeric
// id on the wire and is stable for the lifetime of the application.
type Channels struct {
	// DefaultMaxBytes is the in-flight memory budget for channels without
	// their own MaxBytes.
	DefaultMaxBytes int

	server []Channel
	client []Channel
}

// NewChannels creates an empty registry with default limits.
func NewChannels() *Channels {
	return &Channels{DefaultMaxBytes: DefaultMaxBytes}
}

// AddServer registers a server-originated channel and returns its id.
func (c *Channels) AddServer(channel Channel) int {
	c.server = append(c.server, channel)
	return len(c.server) - 1
}

// AddClient registers a client-originated channel and returns its id.
func (c *Channels) AddClient(channel Channel) int {
	c.client = append(c.client, channel)
	return len(c.client) - 1
}

// ServerChannels returns the registered server-originated channels in id
// order.
func (c *Channels) ServerChannels() []Channel {
	return append([]Channel(nil), c.server...)
}

// ClientChannels returns the registered client-originated channels in id
// order.
func (c *Channels) ClientChannels() []Channel {
	return append([]Channel(nil), c.client...)
}

// ServerCount returns the number of server-originated channels.
func (c *Channels) ServerCount() int {
	return len(c.server)
}

// ClientCount returns the number of client-originated channels.
func (c *Channels) ClientCount() int {
	return len(c.client)
}
