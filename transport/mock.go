package transport

import (
	"sync"
)

// MockMessage records a sent or simulated message.
type MockMessage struct {
	ClientID uint64
	Channel  uint8
	Payload  []byte
}

// MockServer is a scripted ServerTransport for testing. Tests inject
// lifecycle events and inbound messages with the Simulate helpers and
// inspect what the binding layer submitted with SentMessages.
type MockServer struct {
	mu           sync.Mutex
	events       []Event
	inbound      map[uint64]map[uint8][][]byte
	info         map[uint64]NetworkInfo
	sent         []MockMessage
	disconnected []uint64
	maxPayload   int
}

// NewMockServer creates a mock server transport.
func NewMockServer() *MockServer {
	return &MockServer{
		inbound:    make(map[uint64]map[uint8][][]byte),
		info:       make(map[uint64]NetworkInfo),
		maxPayload: 1400,
	}
}

// PollEvents drains the simulated event queue.
func (m *MockServer) PollEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events
	m.events = nil
	return events
}

// Receive pops the next simulated message for (client, channel).
func (m *MockServer) Receive(clientID uint64, channelID uint8) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channels, ok := m.inbound[clientID]
	if !ok {
		return nil, false
	}
	queue := channels[channelID]
	if len(queue) == 0 {
		return nil, false
	}
	payload := queue[0]
	channels[channelID] = queue[1:]
	return payload, true
}

// Send records the message as submitted.
func (m *MockServer) Send(clientID uint64, channelID uint8, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, MockMessage{ClientID: clientID, Channel: channelID, Payload: payload})
}

// Disconnect records the disconnect call.
func (m *MockServer) Disconnect(clientID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = append(m.disconnected, clientID)
	delete(m.inbound, clientID)
	delete(m.info, clientID)
}

// DisconnectAll records a disconnect for every known client.
func (m *MockServer) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.inbound {
		m.disconnected = append(m.disconnected, id)
		delete(m.inbound, id)
		delete(m.info, id)
	}
}

// NetworkInfo returns the snapshot set with SetNetworkInfo.
func (m *MockServer) NetworkInfo(clientID uint64) (NetworkInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.info[clientID]
	return info, ok
}

// MaxPayload returns the mock payload limit.
func (m *MockServer) MaxPayload() int {
	return m.maxPayload
}

// Close does nothing in mock.
func (m *MockServer) Close() error {
	return nil
}

// --- Test helpers ---

// SimulateConnect queues a connect event for a client.
func (m *MockServer) SimulateConnect(clientID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Kind: EventConnected, NetworkID: clientID})
	m.inbound[clientID] = make(map[uint8][][]byte)
	m.info[clientID] = NetworkInfo{}
}

// SimulateDisconnect queues a disconnect event for a client.
func (m *MockServer) SimulateDisconnect(clientID uint64, reason DisconnectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Kind: EventDisconnected, NetworkID: clientID, Reason: reason})
	delete(m.inbound, clientID)
	delete(m.info, clientID)
}

// SimulateMessage queues an inbound message from a client.
func (m *MockServer) SimulateMessage(clientID uint64, channelID uint8, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channels, ok := m.inbound[clientID]
	if !ok {
		channels = make(map[uint8][][]byte)
		m.inbound[clientID] = channels
	}
	channels[channelID] = append(channels[channelID], payload)
}

// SetNetworkInfo sets the snapshot returned for a client.
func (m *MockServer) SetNetworkInfo(clientID uint64, info NetworkInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info[clientID] = info
}

// SentMessages returns all messages submitted so far.
func (m *MockServer) SentMessages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage{}, m.sent...)
}

// Disconnected returns the ids Disconnect was called with.
func (m *MockServer) Disconnected() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64{}, m.disconnected...)
}

// Clear clears all recorded calls.
func (m *MockServer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = m.sent[:0]
	m.disconnected = m.disconnected[:0]
}

// MockClient is a scripted ClientTransport for testing.
type MockClient struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	networkID  uint64
	reason     DisconnectReason
	inbound    map[uint8][][]byte
	sent       []MockMessage
	info       NetworkInfo
	maxPayload int
}

// NewMockClient creates a mock client transport in the connecting state.
func NewMockClient() *MockClient {
	return &MockClient{
		inbound:    make(map[uint8][][]byte),
		maxPayload: 1400,
	}
}

// State reports the scripted state. Messages received before a simulated
// disconnect keep the state at StateConnected until they are drained.
func (m *MockClient) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		if m.pendingLocked() {
			return StateConnected
		}
		return StateDisconnected
	}
	if m.connected {
		return StateConnected
	}
	return StateConnecting
}

func (m *MockClient) pendingLocked() bool {
	for _, queue := range m.inbound {
		if len(queue) > 0 {
			return true
		}
	}
	return false
}

// NetworkID returns the simulated server-assigned identity.
func (m *MockClient) NetworkID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.networkID
}

// Receive pops the next simulated message on a channel.
func (m *MockClient) Receive(channelID uint8) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.inbound[channelID]
	if len(queue) == 0 {
		return nil, false
	}
	payload := queue[0]
	m.inbound[channelID] = queue[1:]
	return payload, true
}

// Send records the message as submitted.
func (m *MockClient) Send(channelID uint8, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, MockMessage{Channel: channelID, Payload: payload})
}

// Disconnect closes the simulated connection from this side.
func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.reason = DisconnectedByClient
	}
}

// DisconnectReason returns the simulated close reason.
func (m *MockClient) DisconnectReason() DisconnectReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// NetworkInfo returns the snapshot set with SetNetworkInfo.
func (m *MockClient) NetworkInfo() NetworkInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// MaxPayload returns the mock payload limit.
func (m *MockClient) MaxPayload() int {
	return m.maxPayload
}

// Close does nothing in mock.
func (m *MockClient) Close() error {
	return nil
}

// --- Test helpers ---

// SimulateConnect marks the connection established with the given identity.
func (m *MockClient) SimulateConnect(networkID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.closed = false
	m.networkID = networkID
}

// SimulateDisconnect closes the simulated connection with a reason.
func (m *MockClient) SimulateDisconnect(reason DisconnectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.reason = reason
}

// SimulateMessage queues an inbound message from the server.
func (m *MockClient) SimulateMessage(channelID uint8, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound[channelID] = append(m.inbound[channelID], payload)
}

// SetNetworkInfo sets the snapshot returned by NetworkInfo.
func (m *MockClient) SetNetworkInfo(info NetworkInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = info
}

// SentMessages returns all messages submitted so far.
func (m *MockClient) SentMessages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage{}, m.sent...)
}
