package replibridge

import (
	"go.uber.org/zap"

	"github.com/LemmyAI/replibridge/replication"
	"github.com/LemmyAI/replibridge/transport"
)

// ClientBridge pumps messages and the connection status between a client
// transport and the framework's client-side state.
//
// While no transport is attached or the transport is still establishing the
// connection, the framework status is Connecting. The transport-assigned
// network identity is captured at the exact transition to Connected; it is
// not available earlier.
type ClientBridge struct {
	client   *replication.Client
	channels *replication.Channels
	tr       transport.ClientTransport
	log      *zap.Logger
}

// NewClientBridge creates a bridge over the given framework state. A nil
// logger disables logging.
func NewClientBridge(client *replication.Client, channels *replication.Channels, logger *zap.Logger) *ClientBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientBridge{
		client:   client,
		channels: channels,
		log:      logger,
	}
}

// SetTransport attaches a client transport.
func (b *ClientBridge) SetTransport(tr transport.ClientTransport) {
	b.tr = tr
}

// ClearTransport detaches the client transport.
func (b *ClientBridge) ClearTransport() {
	b.tr = nil
}

// Transport returns the attached transport, or nil.
func (b *ClientBridge) Transport() transport.ClientTransport {
	return b.tr
}

// PreUpdate drives the pre-update phase: the status machine first, then the
// inbound pump and statistics refresh while connected.
func (b *ClientBridge) PreUpdate() {
	if b.tr == nil {
		if !b.client.IsConnecting() {
			b.client.SetStatus(replication.Connecting)
		}
		return
	}

	switch b.tr.State() {
	case transport.StateConnecting:
		if !b.client.IsConnecting() {
			b.client.SetStatus(replication.Connecting)
		}
	case transport.StateDisconnected:
		if !b.client.IsDisconnected() {
			b.client.SetStatus(replication.Disconnected)
			b.log.Debug("disconnected from server",
				zap.Stringer("reason", b.tr.DisconnectReason()))
		}
	case transport.StateConnected:
		if !b.client.IsConnected() {
			networkID := b.tr.NetworkID()
			b.client.SetConnected(networkID)
			b.log.Debug("connected to server", zap.Uint64("network_id", networkID))
		}
		b.receivePackets()
	}
}

// PostUpdate drives the post-update phase: the outbound pump, while
// connected.
func (b *ClientBridge) PostUpdate() {
	if b.tr == nil || !b.client.IsConnected() {
		return
	}
	for _, msg := range b.client.DrainSent() {
		b.log.Debug("forwarding sent bytes",
			zap.Int("len", len(msg.Payload)),
			zap.Uint8("channel", msg.Channel))
		b.tr.Send(msg.Channel, msg.Payload)
	}
}

// receivePackets drains every server channel into the framework's inbound
// queue and refreshes the connection statistics.
func (b *ClientBridge) receivePackets() {
	serverChannels := b.channels.ServerCount()
	for id := 0; id < serverChannels; id++ {
		channelID := uint8(id)
		for {
			payload, ok := b.tr.Receive(channelID)
			if !ok {
				break
			}
			b.log.Debug("forwarding received bytes",
				zap.Int("len", len(payload)),
				zap.Uint8("channel", channelID))
			b.client.InsertReceived(channelID, payload)
		}
	}

	info := b.tr.NetworkInfo()
	b.client.SetStats(replication.ClientStats{
		RTT:         info.RTT,
		PacketLoss:  info.PacketLoss,
		SentBPS:     info.SentBPS,
		ReceivedBPS: info.ReceivedBPS,
	})
}
