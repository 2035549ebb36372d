// Package ws provides a WebSocket transport backend using gorilla/websocket.
//
// Messages travel as binary frames with a one-byte channel id prefix; the
// reserved id 0xFF is a control channel carrying the welcome (which tells
// the client its server-assigned network id) and the disconnect reason.
// TCP supplies reliability and ordering, so every channel kind keeps its
// guarantee; unreliable channels are simply delivered reliably as well. No
// resend or congestion logic exists here.
package ws

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/LemmyAI/replibridge/transport"
)

const (
	// controlChannel is the reserved channel id for transport control
	// frames; regular channels can never use it because registries are
	// capped at 256 channels (ids 0..255 with 0xFF reserved would collide
	// only with a 256th channel, which the frame layout rejects here).
	controlChannel = 0xFF

	ctrlWelcome    = 1
	ctrlDisconnect = 2
)

// Config holds WebSocket transport settings.
type Config struct {
	// Connection is the channel agreement both sides are constructed with.
	Connection transport.ConnectionConfig

	// MaxPayload is the largest payload one message may carry.
	MaxPayload int

	// MaxClients caps concurrent connections (server side).
	MaxClients int

	// PingPeriod is how often connections are pinged for RTT sampling.
	PingPeriod time.Duration

	// HandshakeTimeout bounds connection establishment (client side).
	HandshakeTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the given channel agreement.
func DefaultConfig(connection transport.ConnectionConfig) Config {
	return Config{
		Connection:       connection,
		MaxPayload:       1400,
		MaxClients:       64,
		PingPeriod:       2 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

func (c *Config) applyDefaults() error {
	for _, channel := range append(append([]transport.ChannelConfig{}, c.Connection.ServerChannels...), c.Connection.ClientChannels...) {
		if channel.ID == controlChannel {
			return fmt.Errorf("channel id %d is reserved for transport control", controlChannel)
		}
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = 1400
	}
	if c.MaxClients <= 0 {
		c.MaxClients = 64
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 2 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	return nil
}

const writeTimeout = 5 * time.Second

// Server is the WebSocket server transport.
type Server struct {
	mu       sync.Mutex
	config   Config
	upgrader websocket.Upgrader
	http     *http.Server
	listener net.Listener
	nextID   uint64
	conns    map[uint64]*serverConn
	events   []transport.Event
	closed   bool
	log      *zap.Logger
	wg       sync.WaitGroup
}

// serverConn is one accepted connection. Queues and counters are guarded
// by the server mutex; writes to the socket by writeMu.
type serverConn struct {
	id      uint64
	ws      *websocket.Conn
	writeMu sync.Mutex

	inbound     map[uint8][][]byte
	connectedAt time.Time
	sent        int
	recv        int
	rtt         float64

	stopPing chan struct{}
	pingOnce sync.Once
}

// NewServer creates a WebSocket server transport. A nil logger disables
// logging. Call Listen to start accepting connections.
func NewServer(config Config, logger *zap.Logger) (*Server, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		nextID: 1,
		conns:  make(map[uint64]*serverConn),
		log:    logger,
	}, nil
}

// Listen starts accepting connections on the given address.
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}

	s.listener = listener
	s.http = &http.Server{Handler: http.HandlerFunc(s.handleUpgrade)}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.http.Serve(listener)
	}()
	return nil
}

// Addr returns the local address the server is listening on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(int64(s.config.MaxPayload) + 16)

	s.mu.Lock()
	if s.closed || len(s.conns) >= s.config.MaxClients {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	c := &serverConn{
		id:          s.nextID,
		ws:          ws,
		inbound:     make(map[uint8][][]byte),
		connectedAt: time.Now(),
		stopPing:    make(chan struct{}),
	}
	s.nextID++
	for _, channel := range s.config.Connection.ClientChannels {
		c.inbound[channel.ID] = nil
	}
	s.conns[c.id] = c
	s.events = append(s.events, transport.Event{Kind: transport.EventConnected, NetworkID: c.id})
	s.mu.Unlock()

	ws.SetPongHandler(func(appData string) error {
		if rtt, ok := decodePing([]byte(appData)); ok {
			s.mu.Lock()
			c.rtt = rtt
			s.mu.Unlock()
		}
		return nil
	})

	// Welcome must reach the client before any channel data.
	welcome := make([]byte, 10)
	welcome[0] = controlChannel
	welcome[1] = ctrlWelcome
	binary.LittleEndian.PutUint64(welcome[2:], c.id)
	if err := c.write(welcome); err != nil {
		s.dropConn(c, transport.OtherReason("welcome failed"))
		return
	}

	s.log.Debug("client connected",
		zap.Uint64("network_id", c.id),
		zap.String("remote", ws.RemoteAddr().String()))

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
	go func() {
		defer s.wg.Done()
		s.pingLoop(c)
	}()
}

func (s *Server) readLoop(c *serverConn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			s.dropConn(c, reasonFromError(err))
			return
		}
		if len(data) < 1 || data[0] == controlChannel {
			continue
		}

		channelID := data[0]
		payload := data[1:]
		s.mu.Lock()
		if queue, ok := c.inbound[channelID]; ok {
			c.inbound[channelID] = append(queue, payload)
			c.recv += len(payload)
		}
		s.mu.Unlock()
	}
}

func (s *Server) pingLoop(c *serverConn) {
	ticker := time.NewTicker(s.config.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopPing:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, encodePing(), deadline); err != nil {
				return
			}
		}
	}
}

// dropConn unregisters a connection and emits the disconnect event, exactly
// once.
func (s *Server) dropConn(c *serverConn, reason transport.DisconnectReason) {
	s.mu.Lock()
	registered := s.conns[c.id] == c
	if registered {
		delete(s.conns, c.id)
		s.events = append(s.events, transport.Event{Kind: transport.EventDisconnected, NetworkID: c.id, Reason: reason})
	}
	s.mu.Unlock()

	if registered {
		s.log.Debug("client disconnected",
			zap.Uint64("network_id", c.id),
			zap.Stringer("reason", reason))
	}
	c.pingOnce.Do(func() { close(c.stopPing) })
	_ = c.ws.Close()
}

func (c *serverConn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
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
	queue := c.inbound[channelID]
	if len(queue) == 0 {
		return nil, false
	}
	payload := queue[0]
	c.inbound[channelID] = queue[1:]
	return payload, true
}

// Send submits a message to a client. Messages for unknown clients are
// dropped.
func (s *Server) Send(clientID uint64, channelID uint8, payload []byte) {
	s.mu.Lock()
	c, ok := s.conns[clientID]
	if ok {
		c.sent += len(payload)
	}
	s.mu.Unlock()
	if !ok {
		s.log.Debug("dropping message for unknown client", zap.Uint64("network_id", clientID))
		return
	}

	frame := make([]byte, 1+len(payload))
	frame[0] = channelID
	copy(frame[1:], payload)
	if err := c.write(frame); err != nil {
		s.dropConn(c, transport.OtherReason(fmt.Sprintf("write failed: %v", err)))
	}
}

// Disconnect forcibly closes one client's connection. Unknown ids are a
// no-op.
func (s *Server) Disconnect(clientID uint64) {
	s.mu.Lock()
	c, ok := s.conns[clientID]
	s.mu.Unlock()
	if !ok {
		return
	}

	// Reason first, in band, so it arrives after any final channel data.
	_ = c.write(encodeDisconnect(transport.DisconnectedByServer))
	s.dropConn(c, transport.DisconnectedByServer)
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
		s.Disconnect(id)
	}
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

// Close disconnects every client and stops listening.
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
		_ = c.write(encodeDisconnect(transport.OtherReason("server closed")))
		s.dropConn(c, transport.OtherReason("server closed"))
	}
	if s.http != nil {
		_ = s.http.Close()
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

// --- wire helpers ---

func encodePing() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(time.Now().UnixNano()))
	return buf
}

func decodePing(data []byte) (float64, bool) {
	if len(data) != 8 {
		return 0, false
	}
	sent := time.Unix(0, int64(binary.LittleEndian.Uint64(data)))
	rtt := time.Since(sent).Seconds()
	if rtt < 0 {
		return 0, false
	}
	return rtt, true
}

func encodeDisconnect(reason transport.DisconnectReason) []byte {
	frame := make([]byte, 3+len(reason.Detail))
	frame[0] = controlChannel
	frame[1] = ctrlDisconnect
	frame[2] = byte(reason.Code)
	copy(frame[3:], reason.Detail)
	return frame
}

func decodeDisconnect(frame []byte) transport.DisconnectReason {
	if len(frame) < 3 {
		return transport.OtherReason("connection closed")
	}
	return transport.DisconnectReason{
		Code:   transport.ReasonCode(frame[2]),
		Detail: string(frame[3:]),
	}
}

func reasonFromError(err error) transport.DisconnectReason {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return transport.DisconnectedByClient
	}
	return transport.OtherReason(err.Error())
}
