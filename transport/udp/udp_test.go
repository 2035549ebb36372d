package udp

import (
	"net"
	"testing"
	"time"

	"github.com/LemmyAI/replibridge/transport"
)

func testConnection() transport.ConnectionConfig {
	return transport.ConnectionConfig{
		ServerChannels: []transport.ChannelConfig{
			{ID: 0, Delivery: transport.ReliableOrdered, Resend: 50 * time.Millisecond},
		},
		ClientChannels: []transport.ChannelConfig{
			{ID: 0, Delivery: transport.ReliableOrdered, Resend: 50 * time.Millisecond},
			{ID: 1, Delivery: transport.Unreliable},
		},
	}
}

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(DefaultConfig(testConnection()), nil)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })
	return server
}

func dial(t *testing.T, server *Server) *Client {
	t.Helper()
	client, err := Dial(server.Addr(), DefaultConfig(testConnection()), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitConnected(t *testing.T, client *Client) {
	t.Helper()
	waitFor(t, "client connected", func() bool {
		return client.State() == transport.StateConnected
	})
}

func TestHandshake_AssignsNetworkID(t *testing.T) {
	server := startServer(t)
	client := dial(t, server)

	waitConnected(t, client)
	if client.NetworkID() == 0 {
		t.Error("expected a non-zero assigned network id")
	}

	var events []transport.Event
	waitFor(t, "connect event", func() bool {
		events = append(events, server.PollEvents()...)
		return len(events) > 0
	})
	if events[0].Kind != transport.EventConnected || events[0].NetworkID != client.NetworkID() {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestTransfer_OrderedBothDirections(t *testing.T) {
	server := startServer(t)
	client := dial(t, server)
	waitConnected(t, client)
	id := client.NetworkID()

	for _, payload := range []string{"a", "b", "c"} {
		client.Send(0, []byte(payload))
	}
	var got []string
	waitFor(t, "client messages", func() bool {
		for {
			payload, ok := server.Receive(id, 0)
			if !ok {
				break
			}
			got = append(got, string(payload))
		}
		return len(got) >= 3
	})
	for i, want := range []string{"a", "b", "c"} {
		if got[i] != want {
			t.Errorf("message %d is %q, want %q", i, got[i], want)
		}
	}

	server.Send(id, 0, []byte("down"))
	var payload []byte
	waitFor(t, "server message", func() bool {
		var ok bool
		payload, ok = client.Receive(0)
		return ok
	})
	if string(payload) != "down" {
		t.Errorf("expected 'down', got %q", payload)
	}
}

func TestTransfer_UnreliableChannel(t *testing.T) {
	server := startServer(t)
	client := dial(t, server)
	waitConnected(t, client)
	id := client.NetworkID()

	// Loopback does not drop datagrams, so the message arrives.
	client.Send(1, []byte("ping"))
	waitFor(t, "unreliable message", func() bool {
		payload, ok := server.Receive(id, 1)
		return ok && string(payload) == "ping"
	})
}

func TestDisconnect_ReasonReachesClient(t *testing.T) {
	server := startServer(t)
	client := dial(t, server)
	waitConnected(t, client)
	server.PollEvents()

	server.Disconnect(client.NetworkID())

	waitFor(t, "client disconnected", func() bool {
		return client.State() == transport.StateDisconnected
	})
	if client.DisconnectReason() != transport.DisconnectedByServer {
		t.Errorf("expected by-server reason, got %v", client.DisconnectReason())
	}
}

func TestDisconnect_FromClientSide(t *testing.T) {
	server := startServer(t)
	client := dial(t, server)
	waitConnected(t, client)
	server.PollEvents()

	client.Disconnect()

	var events []transport.Event
	waitFor(t, "disconnect event", func() bool {
		events = append(events, server.PollEvents()...)
		return len(events) > 0
	})
	if events[0].Kind != transport.EventDisconnected || events[0].Reason != transport.DisconnectedByClient {
		t.Fatalf("expected by-client disconnect event, got %+v", events[0])
	}
}

func TestTimeout_SilentClientIsDropped(t *testing.T) {
	config := DefaultConfig(testConnection())
	config.Timeout = 300 * time.Millisecond
	config.PingPeriod = 100 * time.Millisecond
	server := NewServer(config, nil)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })

	// A raw socket that says hello and then goes silent.
	addr, err := net.ResolveUDPAddr("udp", server.Addr())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte{ptHello}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var events []transport.Event
	waitFor(t, "timeout disconnect", func() bool {
		events = append(events, server.PollEvents()...)
		for _, event := range events {
			if event.Kind == transport.EventDisconnected {
				return true
			}
		}
		return false
	})
	for _, event := range events {
		if event.Kind == transport.EventDisconnected && event.Reason.Code != transport.ReasonOther {
			t.Errorf("expected other(...) reason for a timeout, got %v", event.Reason)
		}
	}
}

func TestDial_HandshakeTimeout(t *testing.T) {
	config := DefaultConfig(testConnection())
	config.HandshakeTimeout = 300 * time.Millisecond

	// Nothing answers on this socket.
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer silent.Close()

	client, err := Dial(silent.LocalAddr().String(), config, nil)
	if err != nil {
		t.Fatalf("Dial must not fail synchronously: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	waitFor(t, "handshake timeout", func() bool {
		return client.State() == transport.StateDisconnected
	})
	if client.DisconnectReason().Code != transport.ReasonOther {
		t.Errorf("expected other(...) reason, got %v", client.DisconnectReason())
	}
}
