package replication

import (
	"testing"

	"github.com/LemmyAI/replibridge/transport"
)

func TestClientTable_AddAndLookup(t *testing.T) {
	table := NewClientTable()

	first := table.Add(10, 1400)
	second := table.Add(11, 1400)
	if first.ID == second.ID {
		t.Fatal("handles must be unique")
	}

	byHandle, ok := table.Get(first.ID)
	if !ok || byHandle.NetworkID != 10 {
		t.Fatalf("lookup by handle failed: %+v (ok=%v)", byHandle, ok)
	}
	byNetwork, ok := table.ByNetworkID(11)
	if !ok || byNetwork.ID != second.ID {
		t.Fatalf("lookup by network id failed: %+v (ok=%v)", byNetwork, ok)
	}
	if table.Len() != 2 {
		t.Errorf("expected 2 clients, got %d", table.Len())
	}
}

func TestClientTable_DuplicateNetworkIDPanics(t *testing.T) {
	table := NewClientTable()
	table.Add(1, 1400)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for duplicate network id")
		}
	}()
	table.Add(1, 1400)
}

func TestClientTable_ConnectionOrder(t *testing.T) {
	table := NewClientTable()
	a := table.Add(1, 1400)
	b := table.Add(2, 1400)
	c := table.Add(3, 1400)

	table.Remove(b.ID, transport.DisconnectedByClient)

	all := table.All()
	if len(all) != 2 || all[0].ID != a.ID || all[1].ID != c.ID {
		t.Fatalf("expected [a c] in connection order, got %v", all)
	}
}

func TestClientTable_RemoveEmitsEventAndRemoval(t *testing.T) {
	table := NewClientTable()
	client := table.Add(5, 1400)
	table.DrainEvents()

	if !table.Remove(client.ID, transport.DisconnectedByServer) {
		t.Fatal("expected removal of a known handle to succeed")
	}
	if table.Remove(client.ID, transport.DisconnectedByServer) {
		t.Fatal("removing twice must be a no-op")
	}

	events := table.DrainEvents()
	if len(events) != 1 || events[0].Connected {
		t.Fatalf("expected one disconnected event, got %+v", events)
	}
	if events[0].Reason != transport.DisconnectedByServer {
		t.Errorf("expected by-server reason, got %v", events[0].Reason)
	}

	removals := table.DrainRemovals()
	if len(removals) != 1 || removals[0] != 5 {
		t.Fatalf("expected removal record for network id 5, got %v", removals)
	}
	if _, ok := table.ByNetworkID(5); ok {
		t.Error("identity pair must be unregistered")
	}
}

func TestClientTable_DisconnectRequests(t *testing.T) {
	table := NewClientTable()
	client := table.Add(1, 1400)

	table.RequestDisconnect(client.ID)

	requests := table.DrainDisconnectRequests()
	if len(requests) != 1 || requests[0] != client.ID {
		t.Fatalf("expected one request for the client, got %v", requests)
	}
	if len(table.DrainDisconnectRequests()) != 0 {
		t.Error("drain must empty the queue")
	}
	// The request itself does not destroy the record.
	if table.Len() != 1 {
		t.Error("record must survive until the relay removes it")
	}
}
