// Package memory provides an in-process transport backend. A server and
// its clients live in the same process and exchange messages through shared
// per-channel queues.
//
// Delivery is lossless and in order by construction, so every channel kind
// trivially keeps its guarantee; no resend logic exists here. The backend
// is meant for tests and local single-process play.
package memory

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LemmyAI/replibridge/transport"
)

// Config holds memory transport settings.
type Config struct {
	// Connection is the channel agreement clients must match.
	Connection transport.ConnectionConfig

	// MaxPayload is the largest payload one message may carry.
	MaxPayload int

	// MaxClients caps concurrent connections.
	MaxClients int
}

// DefaultConfig returns sensible defaults for the given channel agreement.
func DefaultConfig(connection transport.ConnectionConfig) Config {
	return Config{
		Connection: connection,
		MaxPayload: 1400,
		MaxClients: 64,
	}
}

// Server is the in-process server transport.
type Server struct {
	mu     sync.Mutex
	config Config
	nextID uint64
	peers  map[uint64]*peer
	events []transport.Event
	closed bool
	log    *zap.Logger
}

// peer is the state shared between the server and one client, guarded by
// the server mutex.
type peer struct {
	id       uint64
	toServer map[uint8][][]byte
	toClient map[uint8][][]byte

	closed bool // no longer reachable from either side
	reason transport.DisconnectReason

	connectedAt time.Time
	serverSent  int // bytes the server sent to this client
	serverRecv  int
	clientSent  int
	clientRecv  int
}

// NewServer creates an in-process server transport. A nil logger disables
// logging.
func NewServer(config Config, logger *zap.Logger) *Server {
	if config.MaxPayload <= 0 {
		config.MaxPayload = 1400
	}
	if config.MaxClients <= 0 {
		config.MaxClients = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config: config,
		nextID: 1,
		peers:  make(map[uint64]*peer),
		log:    logger,
	}
}

// Connect establishes a new client connection to the server. The client's
// channel agreement must match the server's: the wire encodes delivery
// semantics per channel id and both peers must agree.
func (s *Server) Connect(connection transport.ConnectionConfig) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServerClosed
	}
	if len(s.peers) >= s.config.MaxClients {
		return nil, ErrServerFull
	}
	if err := compatible(s.config.Connection, connection); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMismatch, err)
	}

	p := &peer{
		id:          s.nextID,
		toServer:    channelQueues(s.config.Connection.ClientChannels),
		toClient:    channelQueues(s.config.Connection.ServerChannels),
		connectedAt: time.Now(),
	}
	s.nextID++
	s.peers[p.id] = p
	s.events = append(s.events, transport.Event{Kind: transport.EventConnected, NetworkID: p.id})
	s.log.Debug("client connected", zap.Uint64("network_id", p.id))

	return &Client{server: s, peer: p}, nil
}

func channelQueues(channels []transport.ChannelConfig) map[uint8][][]byte {
	queues := make(map[uint8][][]byte, len(channels))
	for _, channel := range channels {
		queues[channel.ID] = nil
	}
	return queues
}

// compatible checks that both channel agreements encode the same delivery
// semantics per channel id.
func compatible(server, client transport.ConnectionConfig) error {
	if err := sameChannels(server.ServerChannels, client.ServerChannels); err != nil {
		return fmt.Errorf("server channels: %v", err)
	}
	if err := sameChannels(server.ClientChannels, client.ClientChannels); err != nil {
		return fmt.Errorf("client channels: %v", err)
	}
	return nil
}

func sameChannels(a, b []transport.ChannelConfig) error {
	if len(a) != len(b) {
		return fmt.Errorf("channel count %d != %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Delivery != b[i].Delivery {
			return fmt.Errorf("channel %d: %d/%v != %d/%v", i, a[i].ID, a[i].Delivery, b[i].ID, b[i].Delivery)
		}
	}
	return nil
}

// PollEvents drains pending connect/disconnect notifications.
func (s *Server) PollEvents() []transport.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	return events
}

// Receive pulls the next message from a client on a channel.
func (s *Server) Receive(clientID uint64, channelID uint8) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[clientID]
	if !ok {
		return nil, false
	}
	queue, ok := p.toServer[channelID]
	if !ok || len(queue) == 0 {
		return nil, false
	}
	payload := queue[0]
	p.toServer[channelID] = queue[1:]
	p.serverRecv += len(payload)
	return payload, true
}

// Send submits a message to a client. Messages for unknown clients are
// dropped; sending on an unregistered channel is a programming error.
func (s *Server) Send(clientID uint64, channelID uint8, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[clientID]
	if !ok {
		s.log.Debug("dropping message for unknown client", zap.Uint64("network_id", clientID))
		return
	}
	queue, ok := p.toClient[channelID]
	if !ok {
		panic(fmt.Sprintf("send on unregistered server channel %d", channelID))
	}
	p.toClient[channelID] = append(queue, payload)
	p.serverSent += len(payload)
}

// Disconnect forcibly closes one client's connection. Unknown ids are a
// no-op. The client observes the close only after draining the messages it
// already received.
func (s *Server) Disconnect(clientID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked(clientID, transport.DisconnectedByServer)
}

// DisconnectAll closes every client connection.
func (s *Server) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.peers {
		s.disconnectLocked(id, transport.DisconnectedByServer)
	}
}

func (s *Server) disconnectLocked(clientID uint64, reason transport.DisconnectReason) {
	p, ok := s.peers[clientID]
	if !ok {
		return
	}
	delete(s.peers, clientID)
	p.closed = true
	p.reason = reason
	s.events = append(s.events, transport.Event{Kind: transport.EventDisconnected, NetworkID: clientID, Reason: reason})
	s.log.Debug("client disconnected",
		zap.Uint64("network_id", clientID),
		zap.Stringer("reason", reason))
}

// NetworkInfo returns a statistics snapshot for a client. RTT and loss are
// zero in process.
func (s *Server) NetworkInfo(clientID uint64) (transport.NetworkInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[clientID]
	if !ok {
		return transport.NetworkInfo{}, false
	}
	return transport.NetworkInfo{
		SentBPS:     bps(p.serverSent, p.connectedAt),
		ReceivedBPS: bps(p.serverRecv, p.connectedAt),
	}, true
}

func bps(bytes int, since time.Time) float64 {
	elapsed := time.Since(since).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed
}

// MaxPayload returns the largest payload one message may carry.
func (s *Server) MaxPayload() int {
	return s.config.MaxPayload
}

// Close disconnects every client and refuses further connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id := range s.peers {
		s.disconnectLocked(id, transport.OtherReason("server closed"))
	}
	return nil
}

// Client is the in-process client transport for one connection.
type Client struct {
	server *Server
	peer   *peer

	disconnected bool // close observed with all pending messages drained
}

// State reports the connection state. After the server side closes the
// connection, the state stays connected until every already-delivered
// message has been consumed.
func (c *Client) State() transport.State {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()

	if c.peer.closed {
		if c.pendingLocked() {
			return transport.StateConnected
		}
		return transport.StateDisconnected
	}
	return transport.StateConnected
}

func (c *Client) pendingLocked() bool {
	for _, queue := range c.peer.toClient {
		if len(queue) > 0 {
			return true
		}
	}
	return false
}

// NetworkID returns the server-assigned identity.
func (c *Client) NetworkID() uint64 {
	return c.peer.id
}

// Receive pulls the next message from the server on a channel.
func (c *Client) Receive(channelID uint8) ([]byte, bool) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()

	queue, ok := c.peer.toClient[channelID]
	if !ok || len(queue) == 0 {
		return nil, false
	}
	payload := queue[0]
	c.peer.toClient[channelID] = queue[1:]
	c.peer.clientRecv += len(payload)
	return payload, true
}

// Send submits a message to the server. Messages sent after the connection
// closed are dropped.
func (c *Client) Send(channelID uint8, payload []byte) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()

	if c.peer.closed {
		return
	}
	queue, ok := c.peer.toServer[channelID]
	if !ok {
		panic(fmt.Sprintf("send on unregistered client channel %d", channelID))
	}
	c.peer.toServer[channelID] = append(queue, payload)
	c.peer.clientSent += len(payload)
}

// Disconnect closes the connection from the client side.
func (c *Client) Disconnect() {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()

	if c.peer.closed {
		return
	}
	p, ok := c.server.peers[c.peer.id]
	if !ok || p != c.peer {
		return
	}
	delete(c.server.peers, c.peer.id)
	c.peer.closed = true
	c.peer.reason = transport.DisconnectedByClient
	c.server.events = append(c.server.events, transport.Event{
		Kind:      transport.EventDisconnected,
		NetworkID: c.peer.id,
		Reason:    transport.DisconnectedByClient,
	})
}

// DisconnectReason reports why the connection closed.
func (c *Client) DisconnectReason() transport.DisconnectReason {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	return c.peer.reason
}

// NetworkInfo returns a statistics snapshot for the connection.
func (c *Client) NetworkInfo() transport.NetworkInfo {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	return transport.NetworkInfo{
		SentBPS:     bps(c.peer.clientSent, c.peer.connectedAt),
		ReceivedBPS: bps(c.peer.clientRecv, c.peer.connectedAt),
	}
}

// MaxPayload returns the largest payload one message may carry.
func (c *Client) MaxPayload() int {
	return c.server.config.MaxPayload
}

// Close disconnects from the server.
func (c *Client) Close() error {
	c.Disconnect()
	return nil
}
