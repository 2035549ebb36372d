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

// Client is the UDP client transport for one connection to a server.
//
// Connecting happens in the background: the client repeats the hello until
// the server's welcome arrives with the assigned network id, then switches
// to connected.
type Client struct {
	mu     sync.Mutex
	config Config
	conn   *net.UDPConn
	link   *link

	connected bool
	closed    bool
	networkID uint64
	reason    transport.DisconnectReason

	lastSeen    time.Time
	connectedAt time.Time
	sent        int
	recv        int
	rtt         float64

	log      *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Dial starts connecting to a UDP server at addr ("host:port"). A nil
// logger disables logging. The returned client reports StateConnecting
// until the handshake completes.
func Dial(addr string, config Config, logger *zap.Logger) (*Client, error) {
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	c := &Client{
		config:   config,
		conn:     conn,
		link:     newLink(config.Connection.ClientChannels, config.Connection.ServerChannels),
		lastSeen: time.Now(),
		log:      logger,
		stopCh:   make(chan struct{}),
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.receiveLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.housekeepLoop()
	}()
	return c, nil
}

func (c *Client) receiveLoop() {
	buf := make([]byte, c.config.MaxPayload+dataHeaderLen)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case <-c.stopCh:
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
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame []byte) {
	c.mu.Lock()
	c.lastSeen = time.Now()

	var reply []byte
	switch frame[0] {
	case ptWelcome:
		if len(frame) == 9 && !c.connected && !c.closed {
			c.networkID = binary.LittleEndian.Uint64(frame[1:])
			c.connected = true
			c.connectedAt = time.Now()
			c.log.Debug("connected", zap.Uint64("network_id", c.networkID))
		}
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
		if !c.closed {
			c.closed = true
			c.reason = decodeDisconnect(frame)
			c.log.Debug("server closed connection", zap.Stringer("reason", c.reason))
		}
	}
	c.mu.Unlock()

	if reply != nil {
		c.write(reply)
	}
}

func (c *Client) housekeepLoop() {
	ticker := time.NewTicker(housekeepPeriod)
	defer ticker.Stop()

	started := time.Now()
	lastHello := time.Time{}
	lastPing := time.Now()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}
		now := time.Now()

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}

		var frames [][]byte
		if !c.connected {
			if now.Sub(started) > c.config.HandshakeTimeout {
				c.closed = true
				c.reason = transport.OtherReason("handshake timed out")
				c.mu.Unlock()
				return
			}
			// Repeat the hello until the welcome arrives.
			if now.Sub(lastHello) >= 100*time.Millisecond {
				lastHello = now
				frames = append(frames, []byte{ptHello})
			}
		} else {
			if now.Sub(c.lastSeen) > c.config.Timeout {
				c.closed = true
				c.reason = transport.OtherReason("timed out")
				c.mu.Unlock()
				return
			}
			frames = append(frames, c.link.resendDue(now)...)
			if now.Sub(lastPing) >= c.config.PingPeriod {
				lastPing = now
				frames = append(frames, encodeTimestamp(ptPing))
			}
		}
		c.mu.Unlock()

		for _, frame := range frames {
			c.write(frame)
		}
	}
}

func (c *Client) write(frame []byte) {
	_, _ = c.conn.Write(frame)
}

// State reports the connection state. After the connection closes, the
// state stays connected until every already-received message has been
// consumed.
func (c *Client) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		if c.connected && c.link.pendingRecv() {
			return transport.StateConnected
		}
		return transport.StateDisconnected
	}
	if c.connected {
		return transport.StateConnected
	}
	return transport.StateConnecting
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
	return c.link.receive(channelID)
}

// Send submits a message to the server. Messages sent before the
// connection is established or after it closed are dropped, as are
// messages past a reliable channel's in-flight budget.
func (c *Client) Send(channelID uint8, payload []byte) {
	c.mu.Lock()
	if !c.connected || c.closed {
		c.mu.Unlock()
		return
	}
	frame, ok := c.link.queueSend(channelID, payload, time.Now())
	if ok {
		c.sent += len(payload)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("dropping message", zap.Uint8("channel", channelID))
		return
	}
	c.write(frame)
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
	c.mu.Unlock()

	c.write(encodeDisconnect(transport.DisconnectedByClient))
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

// Close disconnects from the server and stops the socket loops.
func (c *Client) Close() error {
	c.Disconnect()
	c.stopOnce.Do(func() {
		close(c.stopCh)
		_ = c.conn.Close()
	})
	c.wg.Wait()
	return nil
}
