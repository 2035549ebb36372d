package replication

// ClientMessage is a received message tagged with its sender.
type ClientMessage struct {
	Client  ClientID
	Channel uint8
	Payload []byte
}

// Outgoing is a queued server-to-client message. Broadcast entries are
// expanded over the connected clients when the queue is drained.
type Outgoing struct {
	Client    ClientID
	Broadcast bool
	Channel   uint8
	Payload   []byte
}

// Server holds the framework's server-side messaging state: the running
// flag and the inbound/outbound message queues the binding layer pumps.
type Server struct {
	running  bool
	received []ClientMessage
	sent     []Outgoing
}

// NewServer creates a stopped server with empty queues.
func NewServer() *Server {
	return &Server{}
}

// Running reports whether a server-side transport is currently active.
func (s *Server) Running() bool {
	return s.running
}

// SetRunning sets the running flag. Stopping discards all queued messages.
func (s *Server) SetRunning(running bool) {
	s.running = running
	if !running {
		s.received = nil
		s.sent = nil
	}
}

// Send queues a message for one client.
func (s *Server) Send(client ClientID, channelID uint8, payload []byte) {
	s.sent = append(s.sent, Outgoing{Client: client, Channel: channelID, Payload: payload})
}

// Broadcast queues a message for every connected client.
func (s *Server) Broadcast(channelID uint8, payload []byte) {
	s.sent = append(s.sent, Outgoing{Broadcast: true, Channel: channelID, Payload: payload})
}

// DrainSent removes and returns all queued outgoing messages in send order.
func (s *Server) DrainSent() []Outgoing {
	sent := s.sent
	s.sent = nil
	return sent
}

// InsertReceived queues a message that arrived from a client.
func (s *Server) InsertReceived(client ClientID, channelID uint8, payload []byte) {
	s.received = append(s.received, ClientMessage{Client: client, Channel: channelID, Payload: payload})
}

// DrainReceived removes and returns all received messages in arrival order.
func (s *Server) DrainReceived() []ClientMessage {
	received := s.received
	s.received = nil
	return received
}
