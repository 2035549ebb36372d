// Package udp provides a UDP transport backend. Datagrams carry a one-byte
// packet type; data packets add a channel id and a sequence number.
// Reliable channels are acknowledged per packet and re-sent on the
// channel's resend interval, with ordered channels buffering out-of-order
// arrivals. Connections are established with a hello/welcome handshake and
// torn down explicitly or by idle timeout.
package udp

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LemmyAI/replibridge/transport"
)

// Config holds UDP transport settings.
type Config struct {
	// Connection is the channel agreement both sides are constructed with.
	Connection transport.ConnectionConfig

	// MaxPayload is the largest payload one message may carry.
	MaxPayload int

	// MaxClients caps concurrent connections (server side).
	MaxClients int

	// PingPeriod is how often connections are pinged for RTT sampling and
	// liveness.
	PingPeriod time.Duration

	// Timeout is how long a silent connection lives before it is dropped.
	Timeout time.Duration

	// HandshakeTimeout bounds connection establishment (client side).
	HandshakeTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the given channel agreement.
func DefaultConfig(connection transport.ConnectionConfig) Config {
	return Config{
		Connection:       connection,
		MaxPayload:       1400,
		MaxClients:       64,
		PingPeriod:       time.Second,
		Timeout:          5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxPayload <= 0 {
		c.MaxPayload = 1400
	}
	if c.MaxClients <= 0 {
		c.MaxClients = 64
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
}

// housekeepPeriod is how often resends, pings, and timeouts are checked.
const housekeepPeriod = 25 * time.Millisecond

// Server is the UDP server transport.
type Server struct {
	mu     sync.Mutex
	config Config
	conn   *net.UDPConn
	nextID uint64
	conns  map[uint64]*serverConn
	byAddr map[string]uint64
	events []transport.Event
	closed bool
	log    *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// serverConn is one established connection, guarded by the server mutex.
type serverConn struct {
	id   uint64
	addr *net.UDPAddr
	link *link

	lastSeen    time.Time
	lastPing    time.Time
	connectedAt time.Time
	sent        int
	recv        int
	rtt         float64
}

// NewServer creates a UDP server transport. A nil logger disables logging.
// Call Listen to start accepting connections.
func NewServer(config Config, logger *zap.Logger) *Server {
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config: config,
		nextID: 1,
		conns:  make(map[uint64]*serverConn),
		byAddr: make(map[string]uint64),
		log:    logger,
		stopCh: make(chan struct{}),
	}
}

// Listen starts receiving datagrams on the given address.
func (s *Server) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve udp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	s.conn = conn

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.receiveLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.housekeepLoop()
	}()
	return nil
}

// Addr returns the local address the server is listening on.
func (s *Server) Addr() string {
	if s.conn != nil {
		return s.conn.LocalAddr().String()
	}
	return ""
}

func (s *Server) receiveLoop() {
	buf := make([]byte, s.config.MaxPayload+dataHeaderLen)

	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				continue
			}
		}
		if n < 1 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		s.handleFrame(addr, frame)
	}
}

func (s *Server) handleFrame(addr *net.UDPAddr, frame []byte) {
	if frame[0] == ptHello {
		s.handleHello(addr)
		return
	}

	s.mu.Lock()
	id, known := s.byAddr[addr.String()]
	if !known {
		s.mu.Unlock()
		return
	}
	c := s.conns[id]
	c.lastSeen = time.Now()

	var reply []byte
	switch frame[0] {
	case ptData:
		reply = c.link.handleData(frame)
		c.recv += len(frame) - dataHeaderLen
	case ptAck:
		c.link.handleAck(frame)
	case ptPing:
		reply = append([]byte(nil), frame...)
		reply[0] = ptPong
	case ptPong:
		if sent, ok := decodeTimestamp(frame); ok {
			c.rtt = time.Since(sent).Seconds()
		}
	case ptDisconnect:
		s.removeLocked(c, decodeDisconnect(frame))
	}
	s.mu.Unlock()

	if reply != nil {
		s.write(addr, reply)
	}
}

// handleHello registers a new connection, or re-sends the welcome when the
// first one was lost.
func (s *Server) handleHello(addr *net.UDPAddr) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	id, known := s.byAddr[addr.String()]
	if !known {
		if len(s.conns) >= s.config.MaxClients {
			s.mu.Unlock()
			return
		}
		c := &serverConn{
			id:   s.nextID,
			addr: addr,
			link: newLink(s.config.Connection.ServerChannels, s.config.Connection.ClientChannels),

			lastSeen:    time.Now(),
			connectedAt: time.Now(),
		}
		s.nextID++
		s.conns[c.id] = c
		s.byAddr[addr.String()] = c.id
		s.events = append(s.events, transport.Event{Kind: transport.EventConnected, NetworkID: c.id})
		id = c.id
		s.log.Debug("client connected",
			zap.Uint64("network_id", c.id),
			zap.String("remote", addr.String()))
	}
	s.mu.Unlock()

	welcome := make([]byte, 9)
	welcome[0] = ptWelcome
	binary.LittleEndian.PutUint64(welcome[1:], id)
	s.write(addr, welcome)
}

func (s *Server) housekeepLoop() {
	ticker := time.NewTicker(housekeepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
		now := time.Now()

		type outgoing struct {
			addr   *net.UDPAddr
			frames [][]byte
		}
		var pending []outgoing

		s.mu.Lock()
		for _, c := range s.conns {
			if now.Sub(c.lastSeen) > s.config.Timeout {
				s.removeLocked(c, transport.OtherReason("timed out"))
				continue
			}
			frames := c.link.resendDue(now)
			if now.Sub(c.lastPing) >= s.config.PingPeriod {
				c.lastPing = now
				frames = append(frames, encodeTimestamp(ptPing))
			}
			if len(frames) > 0 {
				pending = append(pending, outgoing{addr: c.addr, frames: frames})
			}
		}
		s.mu.Unlock()

		for _, out := range pending {
			for _, frame := range out.frames {
				s.write(out.addr, frame)
			}
		}
	}
}

func (s *Server) removeLocked(c *serverConn, reason transport.DisconnectReason) {
	if _, ok := s.conns[c.id]; !ok {
		return
	}
	delete(s.conns, c.id)
	delete(s.byAddr, c.addr.String())
	s.events = append(s.events, transport.Event{Kind: transport.EventDisconnected, NetworkID: c.id, Reason: reason})
	s.log.Debug("client disconnected",
		zap.Uint64("network_id", c.id),
		zap.Stringer("reason", reason))
}

func (s *Server) write(addr *net.UDPAddr, frame []byte) {
	if s.conn != nil {
		_, _ = s.conn.WriteToUDP(frame, addr)
	}
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
	c, ok := s.conns[clientID]
	if !ok {
		return nil, false
	}
	return c.link.receive(channelID)
}

// Send submits a message to a client. Messages for unknown clients are
// dropped; messages past a reliable channel's in-flight budget are dropped
// too.
func (s *Server) Send(clientID uint64, channelID uint8, payload []byte) {
	s.mu.Lock()
	c, known := s.conns[clientID]
	if !known {
		s.mu.Unlock()
		s.log.Debug("dropping message for unknown client", zap.Uint64("network_id", clientID))
		return
	}
	frame, ok := c.link.queueSend(channelID, payload, time.Now())
	if ok {
		c.sent += len(payload)
	}
	addr := c.addr
	s.mu.Unlock()

	if !ok {
		s.log.Debug("dropping message",
			zap.Uint64("network_id", clientID),
			zap.Uint8("channel", channelID))
		return
	}
	s.write(addr, frame)
}

// Disconnect forcibly closes one client's connection. Unknown ids are a
// no-op.
func (s *Server) Disconnect(clientID uint64) {
	s.disconnect(clientID, transport.DisconnectedByServer)
}

// DisconnectAll closes every client connection.
func (s *Server) DisconnectAll() {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.disconnect(id, transport.DisconnectedByServer)
	}
}

func (s *Server) disconnect(clientID uint64, reason transport.DisconnectReason) {
	s.mu.Lock()
	c, ok := s.conns[clientID]
	if ok {
		s.removeLocked(c, reason)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.write(c.addr, encodeDisconnect(reason))
}

// NetworkInfo returns a statistics snapshot for a client.
func (s *Server) NetworkInfo(clientID uint64) (transport.NetworkInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[clientID]
	if !ok {
		return transport.NetworkInfo{}, false
	}
	return transport.NetworkInfo{
		RTT:         c.rtt,
		SentBPS:     bps(c.sent, c.connectedAt),
		ReceivedBPS: bps(c.recv, c.connectedAt),
	}, true
}

// MaxPayload returns the largest payload one message may carry.
func (s *Server) MaxPayload() int {
	return s.config.MaxPayload
}

// Close disconnects every client and stops the socket loops.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.disconnect(c.id, transport.OtherReason("server closed"))
	}

	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.wg.Wait()
	return nil
}

func bps(bytes int, since time.Time) float64 {
	elapsed := time.Since(since).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed
}
