package memory

import (
	"errors"
	"testing"

	"github.com/LemmyAI/replibridge/transport"
)

func testConnection() transport.ConnectionConfig {
	return transport.ConnectionConfig{
		ServerChannels: []transport.ChannelConfig{
			{ID: 0, Delivery: transport.ReliableOrdered},
		},
		ClientChannels: []transport.ChannelConfig{
			{ID: 0, Delivery: transport.ReliableOrdered},
			{ID: 1, Delivery: transport.Unreliable},
		},
	}
}

func TestServer_ConnectAssignsSequentialIDs(t *testing.T) {
	server := NewServer(DefaultConfig(testConnection()), nil)

	first, err := server.Connect(testConnection())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	second, err := server.Connect(testConnection())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if first.NetworkID() != 1 || second.NetworkID() != 2 {
		t.Errorf("expected ids 1 and 2, got %d and %d", first.NetworkID(), second.NetworkID())
	}

	events := server.PollEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 connect events, got %d", len(events))
	}
	for i, event := range events {
		if event.Kind != transport.EventConnected || event.NetworkID != uint64(i+1) {
			t.Errorf("unexpected event %d: %+v", i, event)
		}
	}
}

func TestServer_ConnectRejectsMismatchedChannels(t *testing.T) {
	server := NewServer(DefaultConfig(testConnection()), nil)

	mismatched := testConnection()
	mismatched.ClientChannels[1].Delivery = transport.ReliableOrdered

	if _, err := server.Connect(mismatched); !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("expected ErrConfigMismatch, got %v", err)
	}
}

func TestServer_ConnectRejectsWhenFull(t *testing.T) {
	config := DefaultConfig(testConnection())
	config.MaxClients = 1
	server := NewServer(config, nil)

	if _, err := server.Connect(testConnection()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := server.Connect(testConnection()); !errors.Is(err, ErrServerFull) {
		t.Fatalf("expected ErrServerFull, got %v", err)
	}
}

func TestServer_ConnectRejectsWhenClosed(t *testing.T) {
	server := NewServer(DefaultConfig(testConnection()), nil)
	_ = server.Close()

	if _, err := server.Connect(testConnection()); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("expected ErrServerClosed, got %v", err)
	}
}

func TestTransfer_BothDirections(t *testing.T) {
	server := NewServer(DefaultConfig(testConnection()), nil)
	client, err := server.Connect(testConnection())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.Send(0, []byte("up"))
	payload, ok := server.Receive(client.NetworkID(), 0)
	if !ok || string(payload) != "up" {
		t.Fatalf("expected 'up', got %q (ok=%v)", payload, ok)
	}
	if _, ok := server.Receive(client.NetworkID(), 0); ok {
		t.Error("queue should be empty after receive")
	}

	server.Send(client.NetworkID(), 0, []byte("down"))
	payload, ok = client.Receive(0)
	if !ok || string(payload) != "down" {
		t.Fatalf("expected 'down', got %q (ok=%v)", payload, ok)
	}
}

func TestTransfer_PreservesOrder(t *testing.T) {
	server := NewServer(DefaultConfig(testConnection()), nil)
	client, _ := server.Connect(testConnection())

	for _, payload := range []string{"a", "b", "c"} {
		client.Send(0, []byte(payload))
	}
	for _, want := range []string{"a", "b", "c"} {
		payload, ok := server.Receive(client.NetworkID(), 0)
		if !ok || string(payload) != want {
			t.Fatalf("expected %q, got %q (ok=%v)", want, payload, ok)
		}
	}
}

func TestSend_UnregisteredChannelPanics(t *testing.T) {
	server := NewServer(DefaultConfig(testConnection()), nil)
	client, _ := server.Connect(testConnection())

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for an unregistered channel")
		}
	}()
	server.Send(client.NetworkID(), 9, []byte("nope"))
}

func TestSend_UnknownClientIsDropped(t *testing.T) {
	server := NewServer(DefaultConfig(testConnection()), nil)

	// Must not panic; there is no client 99.
	server.Send(99, 0, []byte("void"))
}

func TestDisconnect_ClientDrainsBeforeStateFlips(t *testing.T) {
	server := NewServer(DefaultConfig(testConnection()), nil)
	client, _ := server.Connect(testConnection())
	server.PollEvents()

	server.Send(client.NetworkID(), 0, []byte("final"))
	server.Disconnect(client.NetworkID())

	if client.State() != transport.StateConnected {
		t.Fatalf("expected connected while messages are pending, got %v", client.State())
	}
	payload, ok := client.Receive(0)
	if !ok || string(payload) != "final" {
		t.Fatalf("expected the final message, got %q (ok=%v)", payload, ok)
	}
	if client.State() != transport.StateDisconnected {
		t.Fatalf("expected disconnected after the drain, got %v", client.State())
	}
	if client.DisconnectReason() != transport.DisconnectedByServer {
		t.Errorf("expected by-server reason, got %v", client.DisconnectReason())
	}

	events := server.PollEvents()
	if len(events) != 1 || events[0].Kind != transport.EventDisconnected {
		t.Fatalf("expected one disconnect event, got %+v", events)
	}
}

func TestDisconnect_FromClientSide(t *testing.T) {
	server := NewServer(DefaultConfig(testConnection()), nil)
	client, _ := server.Connect(testConnection())
	server.PollEvents()

	client.Disconnect()

	if client.State() != transport.StateDisconnected {
		t.Fatalf("expected disconnected, got %v", client.State())
	}
	if client.DisconnectReason() != transport.DisconnectedByClient {
		t.Errorf("expected by-client reason, got %v", client.DisconnectReason())
	}
	events := server.PollEvents()
	if len(events) != 1 || events[0].Reason != transport.DisconnectedByClient {
		t.Fatalf("expected by-client disconnect event, got %+v", events)
	}
	// Sends after the close are dropped.
	client.Send(0, []byte("late"))
	if _, ok := server.Receive(1, 0); ok {
		t.Error("messages after disconnect must be dropped")
	}
}

func TestClose_DisconnectsEveryone(t *testing.T) {
	server := NewServer(DefaultConfig(testConnection()), nil)
	first, _ := server.Connect(testConnection())
	second, _ := server.Connect(testConnection())
	server.PollEvents()

	if err := server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, client := range []*Client{first, second} {
		if client.State() != transport.StateDisconnected {
			t.Errorf("expected disconnected, got %v", client.State())
		}
		if client.DisconnectReason().Code != transport.ReasonOther {
			t.Errorf("expected other(...) reason, got %v", client.DisconnectReason())
		}
	}
	if len(server.PollEvents()) != 2 {
		t.Error("expected a disconnect event per client")
	}
}

func TestNetworkInfo_UnknownClient(t *testing.T) {
	server := NewServer(DefaultConfig(testConnection()), nil)

	if _, ok := server.NetworkInfo(42); ok {
		t.Error("expected no info for an unknown client")
	}
}
