package replication

import "fmt"

// Status is the framework's view of the client connection.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Message is a queued client-side message on one channel.
type Message struct {
	Channel uint8
	Payload []byte
}

// ClientStats is a running statistics snapshot for one connection.
type ClientStats struct {
	RTT         float64 // round-trip time in seconds
	PacketLoss  float64 // fraction of packets lost, 0..1
	SentBPS     float64 // sent bytes per second
	ReceivedBPS float64 // received bytes per second
}

// Client holds the framework's client-side messaging state: connection
// status, the server-assigned identity, message queues, and statistics.
type Client struct {
	status       Status
	networkID    uint64
	hasNetworkID bool
	received     []Message
	sent         []Message
	stats        ClientStats
}

// NewClient creates a disconnected client with empty queues.
func NewClient() *Client {
	return &Client{}
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	return c.status
}

// IsConnected reports whether the status is Connected.
func (c *Client) IsConnected() bool {
	return c.status == Connected
}

// IsConnecting reports whether the status is Connecting.
func (c *Client) IsConnecting() bool {
	return c.status == Connecting
}

// IsDisconnected reports whether the status is Disconnected.
func (c *Client) IsDisconnected() bool {
	return c.status == Disconnected
}

// SetStatus sets the connection status. Leaving Connected discards queued
// messages and forgets the network identity.
func (c *Client) SetStatus(status Status) {
	if c.status == Connected && status != Connected {
		c.received = nil
		c.sent = nil
		c.hasNetworkID = false
		c.networkID = 0
	}
	c.status = status
}

// SetConnected marks the client connected under the transport-assigned
// identity. The identity only becomes available at this exact transition.
// A new session starts clean: anything queued while connecting is
// discarded.
func (c *Client) SetConnected(networkID uint64) {
	if c.status != Connected {
		c.received = nil
		c.sent = nil
	}
	c.status = Connected
	c.networkID = networkID
	c.hasNetworkID = true
}

// NetworkID returns the transport-assigned identity. The second return is
// false unless the client is connected.
func (c *Client) NetworkID() (uint64, bool) {
	return c.networkID, c.hasNetworkID
}

// Send queues a message for the server.
func (c *Client) Send(channelID uint8, payload []byte) {
	c.sent = append(c.sent, Message{Channel: channelID, Payload: payload})
}

// DrainSent removes and returns all queued outgoing messages in send order.
func (c *Client) DrainSent() []Message {
	sent := c.sent
	c.sent = nil
	return sent
}

// InsertReceived queues a message that arrived from the server.
func (c *Client) InsertReceived(channelID uint8, payload []byte) {
	c.received = append(c.received, Message{Channel: channelID, Payload: payload})
}

// DrainReceived removes and returns all received messages in arrival order.
func (c *Client) DrainReceived() []Message {
	received := c.received
	c.received = nil
	return received
}

// Stats returns the latest statistics snapshot.
func (c *Client) Stats() ClientStats {
	return c.stats
}

// SetStats replaces the statistics snapshot.
func (c *Client) SetStats(stats ClientStats) {
	c.stats = stats
}
