package replibridge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/LemmyAI/replibridge/replication"
	"github.com/LemmyAI/replibridge/transport"
)

// ServerBridge pumps messages and lifecycle transitions between a server
// transport and the framework's server-side state.
//
// A transport is attached with SetTransport once it is listening and
// detached with ClearTransport when it is gone. The running flag follows
// the attachment: it turns on in the first PreUpdate with a transport
// attached and off in the first PostUpdate without one.
type ServerBridge struct {
	server   *replication.Server
	clients  *replication.ClientTable
	channels *replication.Channels
	tr       transport.ServerTransport
	log      *zap.Logger
}

// NewServerBridge creates a bridge over the given framework state. A nil
// logger disables logging.
func NewServerBridge(server *replication.Server, clients *replication.ClientTable, channels *replication.Channels, logger *zap.Logger) *ServerBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServerBridge{
		server:   server,
		clients:  clients,
		channels: channels,
		log:      logger,
	}
}

// SetTransport attaches an active server transport.
func (b *ServerBridge) SetTransport(tr transport.ServerTransport) {
	b.tr = tr
}

// ClearTransport detaches the server transport. Existing connection records
// are left in place: the transport can no longer notify peers, so
// disconnect clients first (DisconnectAll) if they should be torn down.
func (b *ServerBridge) ClearTransport() {
	b.tr = nil
}

// Transport returns the attached transport, or nil.
func (b *ServerBridge) Transport() transport.ServerTransport {
	return b.tr
}

// PreUpdate drives the pre-update phase: lifecycle transitions first, then
// the inbound pump and per-connection statistics refresh.
func (b *ServerBridge) PreUpdate() {
	if b.tr == nil {
		return
	}
	if !b.server.Running() {
		b.server.SetRunning(true)
		b.log.Debug("server running")
	}

	b.processEvents()
	b.receivePackets()
}

// PostUpdate drives the post-update phase: the outbound pump, then the
// disconnect request relay, then transport-level teardown for records
// destroyed this tick.
func (b *ServerBridge) PostUpdate() {
	if b.tr == nil {
		if b.server.Running() {
			b.server.SetRunning(false)
			b.log.Debug("server stopped")
		}
		// Requests still destroy records; with no transport there is
		// nothing to disconnect.
		for _, id := range b.clients.DrainDisconnectRequests() {
			b.clients.Remove(id, transport.DisconnectedByServer)
		}
		b.clients.DrainRemovals()
		return
	}

	b.sendPackets()
	b.relayDisconnects()

	for _, networkID := range b.clients.DrainRemovals() {
		b.tr.Disconnect(networkID)
	}
}

// processEvents translates transport lifecycle events into connection
// records, exactly once per transition.
func (b *ServerBridge) processEvents() {
	for _, event := range b.tr.PollEvents() {
		switch event.Kind {
		case transport.EventConnected:
			client := b.clients.Add(event.NetworkID, b.tr.MaxPayload())
			b.log.Debug("client connected",
				zap.Uint64("network_id", event.NetworkID),
				zap.String("client", string(client.ID)))
		case transport.EventDisconnected:
			// The record may already be gone if the application removed it.
			if client, ok := b.clients.ByNetworkID(event.NetworkID); ok {
				b.clients.Remove(client.ID, event.Reason)
				b.log.Debug("client disconnected",
					zap.Uint64("network_id", event.NetworkID),
					zap.String("client", string(client.ID)),
					zap.Stringer("reason", event.Reason))
			}
		}
	}
}

// receivePackets drains every channel of every connected client into the
// framework's inbound queue and refreshes connection statistics.
func (b *ServerBridge) receivePackets() {
	clientChannels := b.channels.ClientCount()
	for _, client := range b.clients.All() {
		for id := 0; id < clientChannels; id++ {
			channelID := uint8(id)
			for {
				payload, ok := b.tr.Receive(client.NetworkID, channelID)
				if !ok {
					break
				}
				b.log.Debug("forwarding received bytes",
					zap.Int("len", len(payload)),
					zap.Uint8("channel", channelID))
				b.server.InsertReceived(client.ID, channelID, payload)
			}
		}

		// The transport processes its socket in parallel, so the client may
		// have vanished mid-tick; skip the stats refresh when it did.
		if info, ok := b.tr.NetworkInfo(client.NetworkID); ok {
			client.Stats = replication.ClientStats{
				RTT:         info.RTT,
				PacketLoss:  info.PacketLoss,
				SentBPS:     info.SentBPS,
				ReceivedBPS: info.ReceivedBPS,
			}
		}
	}
}

// sendPackets drains the framework's outbound queue into the transport.
func (b *ServerBridge) sendPackets() {
	for _, msg := range b.server.DrainSent() {
		if msg.Broadcast {
			for _, client := range b.clients.All() {
				b.tr.Send(client.NetworkID, msg.Channel, msg.Payload)
			}
			continue
		}

		client, ok := b.clients.Get(msg.Client)
		if !ok {
			panic(fmt.Sprintf("message queued for client %q that is not connected", msg.Client))
		}
		b.log.Debug("forwarding sent bytes",
			zap.Int("len", len(msg.Payload)),
			zap.Uint8("channel", msg.Channel))
		b.tr.Send(client.NetworkID, msg.Channel, msg.Payload)
	}
}

// relayDisconnects applies disconnect requests queued by the application.
// Runs after sendPackets so final messages for this tick are already
// handed to the transport.
func (b *ServerBridge) relayDisconnects() {
	for _, id := range b.clients.DrainDisconnectRequests() {
		if b.clients.Remove(id, transport.DisconnectedByServer) {
			b.log.Debug("removing client by disconnect request",
				zap.String("client", string(id)))
		}
	}
}
