package udp

import (
	"encoding/binary"
	"time"

	"github.com/LemmyAI/replibridge/transport"
)

// Packet types on the wire. Every datagram starts with one of these.
const (
	ptData byte = iota
	ptAck
	ptHello
	ptWelcome
	ptPing
	ptPong
	ptDisconnect
)

const dataHeaderLen = 6 // type + channel id + 4-byte sequence

// link holds the per-connection channel state shared by both endpoints:
// outgoing reliable windows with resend bookkeeping, and incoming
// ordering/dedup state feeding the ready queues. All methods are called
// under the owning endpoint's mutex.
type link struct {
	send map[uint8]*sendChannel
	recv map[uint8]*recvChannel
}

type sendChannel struct {
	config       transport.ChannelConfig
	nextSeq      uint32
	pending      map[uint32]*pendingPacket
	pendingBytes int
}

type pendingPacket struct {
	frame  []byte
	sentAt time.Time
}

type recvChannel struct {
	config  transport.ChannelConfig
	nextSeq uint32            // next expected, ordered channels
	held    map[uint32][]byte // out-of-order backlog, ordered channels
	seen    map[uint32]bool   // delivered sequences, unordered channels
	ready   [][]byte
}

// newLink builds channel state for one connection. outgoing lists the
// channels this endpoint sends on, incoming the channels it receives on.
func newLink(outgoing, incoming []transport.ChannelConfig) *link {
	l := &link{
		send: make(map[uint8]*sendChannel, len(outgoing)),
		recv: make(map[uint8]*recvChannel, len(incoming)),
	}
	for _, channel := range outgoing {
		l.send[channel.ID] = &sendChannel{
			config:  channel,
			pending: make(map[uint32]*pendingPacket),
		}
	}
	for _, channel := range incoming {
		rc := &recvChannel{config: channel}
		switch channel.Delivery {
		case transport.ReliableOrdered:
			rc.held = make(map[uint32][]byte)
		case transport.ReliableUnordered:
			rc.seen = make(map[uint32]bool)
		}
		l.recv[channel.ID] = rc
	}
	return l
}

// queueSend builds the data frame for a payload. Reliable frames are
// tracked for resend until acked; when the channel's in-flight budget is
// exhausted the message is dropped and ok is false. Unknown channels
// return ok false with a nil frame.
func (l *link) queueSend(channelID uint8, payload []byte, now time.Time) (frame []byte, ok bool) {
	sc, known := l.send[channelID]
	if !known {
		return nil, false
	}

	reliable := sc.config.Delivery != transport.Unreliable
	var seq uint32
	if reliable {
		sc.nextSeq++
		seq = sc.nextSeq
	}

	frame = make([]byte, dataHeaderLen+len(payload))
	frame[0] = ptData
	frame[1] = channelID
	binary.LittleEndian.PutUint32(frame[2:], seq)
	copy(frame[dataHeaderLen:], payload)

	if reliable {
		budget := sc.config.MaxMemoryBytes
		if budget > 0 && sc.pendingBytes+len(frame) > budget {
			return nil, false
		}
		sc.pending[seq] = &pendingPacket{frame: frame, sentAt: now}
		sc.pendingBytes += len(frame)
	}
	return frame, true
}

// handleData processes an incoming data frame, moving ready payloads into
// the channel queue. For reliable channels it returns the ack frame to send
// back; duplicates are acked again but not re-delivered.
func (l *link) handleData(frame []byte) (ack []byte) {
	if len(frame) < dataHeaderLen {
		return nil
	}
	channelID := frame[1]
	rc, known := l.recv[channelID]
	if !known {
		return nil
	}
	seq := binary.LittleEndian.Uint32(frame[2:])
	payload := frame[dataHeaderLen:]

	switch rc.config.Delivery {
	case transport.Unreliable:
		rc.ready = append(rc.ready, payload)
		return nil

	case transport.ReliableUnordered:
		if !rc.seen[seq] {
			rc.seen[seq] = true
			rc.ready = append(rc.ready, payload)
		}

	case transport.ReliableOrdered:
		switch {
		case seq == rc.nextSeq+1:
			rc.nextSeq = seq
			rc.ready = append(rc.ready, payload)
			for {
				next, held := rc.held[rc.nextSeq+1]
				if !held {
					break
				}
				delete(rc.held, rc.nextSeq+1)
				rc.nextSeq++
				rc.ready = append(rc.ready, next)
			}
		case seq > rc.nextSeq+1:
			rc.held[seq] = payload
		}
		// seq <= nextSeq is a duplicate; ack it again below.
	}

	ack = make([]byte, dataHeaderLen)
	ack[0] = ptAck
	ack[1] = channelID
	binary.LittleEndian.PutUint32(ack[2:], seq)
	return ack
}

// handleAck drops the acked frame from the resend window.
func (l *link) handleAck(frame []byte) {
	if len(frame) < dataHeaderLen {
		return
	}
	sc, known := l.send[frame[1]]
	if !known {
		return
	}
	seq := binary.LittleEndian.Uint32(frame[2:])
	if p, pending := sc.pending[seq]; pending {
		sc.pendingBytes -= len(p.frame)
		delete(sc.pending, seq)
	}
}

// resendDue returns the frames whose resend interval elapsed, refreshing
// their timestamps.
func (l *link) resendDue(now time.Time) [][]byte {
	var due [][]byte
	for _, sc := range l.send {
		resend := sc.config.Resend
		if resend <= 0 {
			resend = 300 * time.Millisecond
		}
		for _, p := range sc.pending {
			if now.Sub(p.sentAt) >= resend {
				p.sentAt = now
				due = append(due, p.frame)
			}
		}
	}
	return due
}

// receive pops the next ready payload on a channel.
func (l *link) receive(channelID uint8) ([]byte, bool) {
	rc, known := l.recv[channelID]
	if !known || len(rc.ready) == 0 {
		return nil, false
	}
	payload := rc.ready[0]
	rc.ready = rc.ready[1:]
	return payload, true
}

// pendingRecv reports whether any channel still holds undelivered ready
// payloads.
func (l *link) pendingRecv() bool {
	for _, rc := range l.recv {
		if len(rc.ready) > 0 {
			return true
		}
	}
	return false
}

func encodeTimestamp(pt byte) []byte {
	frame := make([]byte, 9)
	frame[0] = pt
	binary.LittleEndian.PutUint64(frame[1:], uint64(time.Now().UnixNano()))
	return frame
}

func decodeTimestamp(frame []byte) (time.Time, bool) {
	if len(frame) != 9 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(binary.LittleEndian.Uint64(frame[1:]))), true
}

func encodeDisconnect(reason transport.DisconnectReason) []byte {
	frame := make([]byte, 2+len(reason.Detail))
	frame[0] = ptDisconnect
	frame[1] = byte(reason.Code)
	copy(frame[2:], reason.Detail)
	return frame
}

func decodeDisconnect(frame []byte) transport.DisconnectReason {
	if len(frame) < 2 {
		return transport.OtherReason("connection closed")
	}
	return transport.DisconnectReason{
		Code:   transport.ReasonCode(frame[1]),
		Detail: string(frame[2:]),
	}
}
