package ws

import (
	"encoding/binary"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/LemmyAI/replibridge/transport"
)

// Client is the WebSocket client transport for one connection to a server.
//
// Dialing happens in the background: the client starts in the connecting
// state and becomes connected once the server's welcome arrives with the
// assigned network id.
type Client struct {
	mu      sync.Mutex
	config  Config
	ws      *websocket.Conn
	writeMu sync.Mutex

	connected bool
	closed    bool
	networkID uint64
	reason    transport.DisconnectReason

	inbound     map[uint8][][]byte
	connectedAt time.Time
	sent        int
	recv        int
	rtt         float64

	log *zap.Logger
}

// Dial starts connecting to a WebSocket server at rawURL (ws:// or wss://).
// A nil logger disables logging. The returned client reports
// StateConnecting until the connection is established.
func Dial(rawURL string, config Config, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		config:  config,
		inbound: make(map[uint8][][]byte),
		log:     logger,
	}
	for _, channel := range config.Connection.ServerChannels {
		c.inbound[channel.ID] = nil
	}

	go c.connect(u.String())
	return c, nil
}

func (c *Client) connect(rawURL string) {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	ws, _, err := dialer.Dial(rawURL, nil)
	if err != nil {
		c.mu.Lock()
		c.closed = true
		c.reason = transport.OtherReason(fmt.Sprintf("dial failed: %v", err))
		c.mu.Unlock()
		return
	}
	ws.SetReadLimit(int64(c.config.MaxPayload) + 16)
	ws.SetPongHandler(func(appData string) error {
		if rtt, ok := decodePing([]byte(appData)); ok {
			c.mu.Lock()
			c.rtt = rtt
			c.mu.Unlock()
		}
		return nil
	})

	c.mu.Lock()
	if c.closed {
		// Disconnected while the dial was in flight.
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.mu.Unlock()

	go c.pingLoop(ws)
	c.readLoop(ws)
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.closed = true
				if c.reason == (transport.DisconnectReason{}) {
					c.reason = transport.OtherReason(err.Error())
				}
			}
			c.mu.Unlock()
			return
		}
		if len(data) < 1 {
			continue
		}

		if data[0] == controlChannel {
			c.handleControl(data)
			continue
		}

		channelID := data[0]
		payload := data[1:]
		c.mu.Lock()
		if queue, ok := c.inbound[channelID]; ok && c.connected {
			c.inbound[channelID] = append(queue, payload)
			c.recv += len(payload)
		}
		c.mu.Unlock()
	}
}

func (c *Client) handleControl(frame []byte) {
	if len(frame) < 2 {
		return
	}
	switch frame[1] {
	case ctrlWelcome:
		if len(frame) != 10 {
			return
		}
		c.mu.Lock()
		c.networkID = binary.LittleEndian.Uint64(frame[2:])
		c.connected = true
		c.connectedAt = time.Now()
		c.mu.Unlock()
		c.log.Debug("connected", zap.Uint64("network_id", c.NetworkID()))
	case ctrlDisconnect:
		reason := decodeDisconnect(frame)
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		c.log.Debug("server closed connection", zap.Stringer("reason", reason))
	}
}

func (c *Client) pingLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		deadline := time.Now().Add(writeTimeout)
		if err := ws.WriteControl(websocket.PingMessage, encodePing(), deadline); err != nil {
			return
		}
	}
}

// State reports the connection state. After the connection closes, the
// state stays connected until every already-received message has been
// consumed.
func (c *Client) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		if c.connected && c.pendingLocked() {
			return transport.StateConnected
		}
		return transport.StateDisconnected
	}
	if c.connected {
		return transport.StateConnected
	}
	return transport.StateConnecting
}

func (c *Client) pendingLocked() bool {
	for _, queue := range c.inbound {
		if len(queue) > 0 {
			return true
		}
	}
	return false
}

// NetworkID returns the server-assigned identity, valid once connected.
func (c *Client) NetworkID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.networkID
}

// Receive pulls the next message from the server on a channel.
func (c *Client) Receive(channelID uint8) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.inbound[channelID]
	if len(queue) == 0 {
		return nil, false
	}
	payload := queue[0]
	c.inbound[channelID] = queue[1:]
	return payload, true
}

// Send submits a message to the server. Messages sent before the
// connection is established or after it closed are dropped.
func (c *Client) Send(channelID uint8, payload []byte) {
	c.mu.Lock()
	ready := c.connected && !c.closed
	ws := c.ws
	if ready {
		c.sent += len(payload)
	}
	c.mu.Unlock()
	if !ready {
		return
	}

	frame := make([]byte, 1+len(payload))
	frame[0] = channelID
	copy(frame[1:], payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
			c.reason = transport.OtherReason(fmt.Sprintf("write failed: %v", err))
		}
		c.mu.Unlock()
	}
}

// Disconnect closes the connection from this side.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.reason = transport.DisconnectedByClient
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		deadline := time.Now().Add(writeTimeout)
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.WriteControl(websocket.CloseMessage, message, deadline)
		_ = ws.Close()
	}
}

// DisconnectReason reports why the connection closed.
func (c *Client) DisconnectReason() transport.DisconnectReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// NetworkInfo returns a statistics snapshot for the connection.
func (c *Client) NetworkInfo() transport.NetworkInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return transport.NetworkInfo{
		RTT:         c.rtt,
		SentBPS:     bps(c.sent, c.connectedAt),
		ReceivedBPS: bps(c.recv, c.connectedAt),
	}
}

// MaxPayload returns the largest payload one message may carry.
func (c *Client) MaxPayload() int {
	return c.config.MaxPayload
}

// Close disconnects from the server.
func (c *Client) Close() error {
	c.Disconnect()
	return nil
}
