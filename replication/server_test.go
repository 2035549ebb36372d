package replication

import (
	"testing"
)

func TestServer_QueuesDrainInOrder(t *testing.T) {
	server := NewServer()
	server.SetRunning(true)

	server.Send(ClientID("a"), 0, []byte("one"))
	server.Broadcast(1, []byte("two"))

	sent := server.DrainSent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 outgoing, got %d", len(sent))
	}
	if sent[0].Broadcast || string(sent[0].Payload) != "one" {
		t.Errorf("unexpected first outgoing: %+v", sent[0])
	}
	if !sent[1].Broadcast || string(sent[1].Payload) != "two" {
		t.Errorf("unexpected second outgoing: %+v", sent[1])
	}
	if len(server.DrainSent()) != 0 {
		t.Error("drain must empty the queue")
	}

	server.InsertReceived(ClientID("a"), 0, []byte("in"))
	received := server.DrainReceived()
	if len(received) != 1 || string(received[0].Payload) != "in" {
		t.Fatalf("unexpected received: %v", received)
	}
}

func TestServer_StopDiscardsQueues(t *testing.T) {
	server := NewServer()
	server.SetRunning(true)
	server.Broadcast(0, []byte("pending"))
	server.InsertReceived(ClientID("a"), 0, []byte("pending"))

	server.SetRunning(false)

	if server.Running() {
		t.Error("expected stopped")
	}
	if len(server.DrainSent()) != 0 || len(server.DrainReceived()) != 0 {
		t.Error("stopping must discard both queues")
	}
}
