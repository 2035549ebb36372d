package replication

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LemmyAI/replibridge/transport"
)

// ClientID is the framework-side opaque handle for one connection.
type ClientID string

func newClientID() ClientID {
	return ClientID(uuid.NewString())
}

// ConnectedClient is the connection record for one peer. Created exactly
// once per connect transition and destroyed exactly once per disconnect
// transition.
type ConnectedClient struct {
	ID          ClientID
	NetworkID   uint64
	MaxPayload  int // largest payload one message may carry
	Stats       ClientStats
	ConnectedAt time.Time
}

// Event is a connection lifecycle notification for the application, emitted
// exactly once per transition.
type Event struct {
	Client    ClientID
	NetworkID uint64
	Connected bool
	Reason    transport.DisconnectReason // set on disconnect
}

// ClientTable associates framework-side client handles with transport-side
// network ids for the exact lifetime of each connection, with O(1) lookup
// in both directions.
//
// The table carries three queues for the binding layer and the application:
// lifecycle notifications (DrainEvents, application-facing), disconnect
// requests (RequestDisconnect, drained by the binding layer's relay), and
// removal records (drained by the binding layer to issue transport-level
// disconnects).
//
// Written only by the lifecycle monitor and relay, read by the pumps; the
// tick phase ordering makes this safe without locks.
type ClientTable struct {
	clients   map[ClientID]*ConnectedClient
	byNetwork map[uint64]ClientID
	order     []ClientID

	events   []Event
	removals []uint64
	requests []ClientID
}

// NewClientTable creates an empty table.
func NewClientTable() *ClientTable {
	return &ClientTable{
		clients:   make(map[ClientID]*ConnectedClient),
		byNetwork: make(map[uint64]ClientID),
	}
}

// Add registers a newly connected peer under a fresh handle and emits the
// connected notification. The network id must not already be registered.
func (t *ClientTable) Add(networkID uint64, maxPayload int) *ConnectedClient {
	if _, ok := t.byNetwork[networkID]; ok {
		panic(fmt.Sprintf("network id %d is already registered", networkID))
	}

	client := &ConnectedClient{
		ID:          newClientID(),
		NetworkID:   networkID,
		MaxPayload:  maxPayload,
		ConnectedAt: time.Now(),
	}
	t.clients[client.ID] = client
	t.byNetwork[networkID] = client.ID
	t.order = append(t.order, client.ID)
	t.events = append(t.events, Event{Client: client.ID, NetworkID: networkID, Connected: true})
	return client
}

// Get returns the record for a client handle.
func (t *ClientTable) Get(id ClientID) (*ConnectedClient, bool) {
	client, ok := t.clients[id]
	return client, ok
}

// ByNetworkID returns the record for a transport-side network id.
func (t *ClientTable) ByNetworkID(networkID uint64) (*ConnectedClient, bool) {
	id, ok := t.byNetwork[networkID]
	if !ok {
		return nil, false
	}
	return t.clients[id], true
}

// All returns the connected clients in connection order.
func (t *ClientTable) All() []*ConnectedClient {
	clients := make([]*ConnectedClient, 0, len(t.order))
	for _, id := range t.order {
		clients = append(clients, t.clients[id])
	}
	return clients
}

// Len returns the number of connected clients.
func (t *ClientTable) Len() int {
	return len(t.clients)
}

// Remove destroys a connection record, unregisters the identity pair, emits
// the disconnected notification, and queues a removal record so the binding
// layer can issue the transport-level disconnect. Removing an unknown
// handle is a no-op and returns false.
func (t *ClientTable) Remove(id ClientID, reason transport.DisconnectReason) bool {
	client, ok := t.clients[id]
	if !ok {
		return false
	}

	delete(t.clients, id)
	delete(t.byNetwork, client.NetworkID)
	for i, ordered := range t.order {
		if ordered == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.events = append(t.events, Event{Client: id, NetworkID: client.NetworkID, Reason: reason})
	t.removals = append(t.removals, client.NetworkID)
	return true
}

// RequestDisconnect queues a request to forcibly disconnect a client. The
// record is destroyed by the binding layer at the end of the tick, after
// this tick's outgoing messages have been handed to the transport.
func (t *ClientTable) RequestDisconnect(id ClientID) {
	t.requests = append(t.requests, id)
}

// DrainEvents removes and returns all pending lifecycle notifications in
// transition order.
func (t *ClientTable) DrainEvents() []Event {
	events := t.events
	t.events = nil
	return events
}

// DrainDisconnectRequests removes and returns all pending disconnect
// requests. Used by the binding layer's relay.
func (t *ClientTable) DrainDisconnectRequests() []ClientID {
	requests := t.requests
	t.requests = nil
	return requests
}

// DrainRemovals removes and returns the network ids of records destroyed
// since the last drain. Used by the binding layer for transport teardown.
func (t *ClientTable) DrainRemovals() []uint64 {
	removals := t.removals
	t.removals = nil
	return removals
}
