package udp

import (
	"testing"
	"time"

	"github.com/LemmyAI/replibridge/transport"
)

func testChannels() []transport.ChannelConfig {
	return []transport.ChannelConfig{
		{ID: 0, Delivery: transport.ReliableOrdered, Resend: 50 * time.Millisecond, MaxMemoryBytes: 1 << 20},
		{ID: 1, Delivery: transport.ReliableUnordered, Resend: 50 * time.Millisecond, MaxMemoryBytes: 1 << 20},
		{ID: 2, Delivery: transport.Unreliable},
	}
}

// pair returns two links wired as opposite endpoints of one connection.
func pair() (a, b *link) {
	channels := testChannels()
	return newLink(channels, channels), newLink(channels, channels)
}

func deliver(t *testing.T, from, to *link, channelID uint8, payload string) {
	t.Helper()
	frame, ok := from.queueSend(channelID, []byte(payload), time.Now())
	if !ok {
		t.Fatalf("queueSend refused %q", payload)
	}
	to.handleData(frame)
}

func TestLink_OrderedDelivery(t *testing.T) {
	sender, receiver := pair()

	for _, payload := range []string{"a", "b", "c"} {
		deliver(t, sender, receiver, 0, payload)
	}
	for _, want := range []string{"a", "b", "c"} {
		payload, ok := receiver.receive(0)
		if !ok || string(payload) != want {
			t.Fatalf("expected %q, got %q (ok=%v)", want, payload, ok)
		}
	}
}

func TestLink_OrderedHoldsOutOfOrder(t *testing.T) {
	sender, receiver := pair()

	first, _ := sender.queueSend(0, []byte("first"), time.Now())
	second, _ := sender.queueSend(0, []byte("second"), time.Now())

	receiver.handleData(second)
	if _, ok := receiver.receive(0); ok {
		t.Fatal("second message must be held until the first arrives")
	}

	receiver.handleData(first)
	for _, want := range []string{"first", "second"} {
		payload, ok := receiver.receive(0)
		if !ok || string(payload) != want {
			t.Fatalf("expected %q, got %q (ok=%v)", want, payload, ok)
		}
	}
}

func TestLink_ReliableDuplicatesAckedNotRedelivered(t *testing.T) {
	sender, receiver := pair()

	frame, _ := sender.queueSend(1, []byte("once"), time.Now())
	if ack := receiver.handleData(frame); ack == nil {
		t.Fatal("reliable data must be acked")
	}
	if ack := receiver.handleData(frame); ack == nil {
		t.Fatal("duplicates must be acked again")
	}

	if payload, ok := receiver.receive(1); !ok || string(payload) != "once" {
		t.Fatalf("expected 'once', got %q (ok=%v)", payload, ok)
	}
	if _, ok := receiver.receive(1); ok {
		t.Fatal("duplicate must not be re-delivered")
	}
}

func TestLink_UnreliableIsNotAcked(t *testing.T) {
	sender, receiver := pair()

	frame, _ := sender.queueSend(2, []byte("ping"), time.Now())
	if ack := receiver.handleData(frame); ack != nil {
		t.Fatal("unreliable data must not be acked")
	}
	if len(sender.send[2].pending) != 0 {
		t.Fatal("unreliable frames must not be tracked for resend")
	}
}

func TestLink_AckStopsResend(t *testing.T) {
	sender, receiver := pair()
	start := time.Now()

	frame, _ := sender.queueSend(0, []byte("x"), start)

	due := sender.resendDue(start.Add(100 * time.Millisecond))
	if len(due) != 1 {
		t.Fatalf("expected 1 frame due for resend, got %d", len(due))
	}

	ack := receiver.handleData(frame)
	sender.handleAck(ack)

	if due := sender.resendDue(start.Add(time.Hour)); len(due) != 0 {
		t.Fatalf("expected nothing due after ack, got %d", len(due))
	}
}

func TestLink_ResendRespectsInterval(t *testing.T) {
	sender, _ := pair()
	start := time.Now()

	sender.queueSend(0, []byte("x"), start)

	if due := sender.resendDue(start.Add(10 * time.Millisecond)); len(due) != 0 {
		t.Fatalf("nothing should be due before the resend interval, got %d", len(due))
	}
	if due := sender.resendDue(start.Add(60 * time.Millisecond)); len(due) != 1 {
		t.Fatalf("expected 1 frame due after the interval, got %d", len(due))
	}
}

func TestLink_InFlightBudget(t *testing.T) {
	channels := []transport.ChannelConfig{
		{ID: 0, Delivery: transport.ReliableOrdered, MaxMemoryBytes: 32},
	}
	sender := newLink(channels, nil)

	if _, ok := sender.queueSend(0, make([]byte, 16), time.Now()); !ok {
		t.Fatal("first message fits the budget")
	}
	if _, ok := sender.queueSend(0, make([]byte, 16), time.Now()); ok {
		t.Fatal("second message exceeds the budget and must be dropped")
	}
}

func TestLink_UnknownChannel(t *testing.T) {
	sender, receiver := pair()

	if _, ok := sender.queueSend(9, []byte("x"), time.Now()); ok {
		t.Fatal("unknown channel must be refused")
	}

	bogus := []byte{ptData, 9, 0, 0, 0, 1, 'x'}
	if ack := receiver.handleData(bogus); ack != nil {
		t.Fatal("data on an unknown channel must be ignored")
	}
}
